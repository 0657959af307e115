package skud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/tool"
	"github.com/campusgate/gatepad/server/pkg/validator"
	"github.com/campusgate/gatepad/server/service"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	RequestTimeout       = 10 * time.Second
	cacheExpiration      = time.Minute     // Время жизни списка проходных в кэше
	cacheCleanupInterval = 5 * time.Minute // Интервал очистки мёртвых записей (сборщик мусора)
	gatesCacheKey        = "gates"
)

// Skud клиент REST API СКУД кампуса. Имплементирует интерфейс SkudSvc.
// Инициируется конструктором NewSkud
type Skud struct {
	ctx            context.Context
	log            *logrus.Entry
	url            string
	client         *http.Client
	requestTimeout time.Duration
	validator      *validator.Validator
	cache          *cache.Cache

	// Токен активной сессии. Пустой токен означает, что сессии нет
	tokenMu sync.RWMutex
	token   string
}

// ConfigSkud конфигурация конструктора NewSkud
type ConfigSkud struct {
	Log            *logrus.Logger
	URL            string `conform:"trim" validate:"required,url"`
	RequestTimeout time.Duration
}

// NewSkud конструктор Skud
func NewSkud(ctx context.Context, config *ConfigSkud) (service.SkudSvc, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	} else if err := validator.Get().ValidateWithConform(config); err != nil {
		return nil, errors.Annotate(err, "ошибка в конфигурации")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	skud := &Skud{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module":  "skud",
			"scope":   "service",
			"address": config.URL,
		}),
		url:            strings.TrimSuffix(config.URL, "/"),
		requestTimeout: RequestTimeout,
		validator:      validator.Get(),
		cache:          cache.New(cacheExpiration, cacheCleanupInterval),
	}
	if config.RequestTimeout != 0 {
		skud.requestTimeout = config.RequestTimeout
	}
	skud.client = &http.Client{
		Timeout: skud.requestTimeout,
	}

	return skud, nil
}

// SetToken задаёт токен восстановленной из локальной БД сессии
func (m *Skud) SetToken(token string) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	m.token = token
}

// Logout сбрасывает токен текущей сессии
func (m *Skud) Logout() {
	m.SetToken("")
}

// Токен текущей сессии
func (m *Skud) currentToken() string {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.token
}

// Один запрос к REST API СКУД. Тело body кодируется в JSON (nil - без тела),
// успешный ответ распаковывается в out (nil - тело ответа не нужно).
// Ответ 401 возвращается как ошибка errors.IsUnauthorized, остальные
// неуспешные ответы несут текст из поля detail, если СКУД его прислал
func (m *Skud) request(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Annotate(err, "ошибка кодирования запроса в JSON")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(m.ctx, method, m.url+path, reader)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := m.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warnf("СКУД недоступен (%s %s): %v", method, path, err)
		return errors.Annotatef(err, "СКУД недоступен (%s %s)", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, "ошибка чтения ответа СКУД")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Unauthorizedf("СКУД отверг токен сессии")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var fail struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(data, &fail)
		if fail.Detail != "" {
			return errors.New(fail.Detail)
		}
		return errors.Errorf("запрос %s %s завершился с кодом %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err = json.Unmarshal(data, out); err != nil {
			return errors.Annotate(err, "не удалось распаковать JSON от СКУД")
		}
	}
	return nil
}

// Login вход по идентификатору в институте и паролю
func (m *Skud) Login(credentials model.Credentials) (*model.Session, error) {
	if err := m.validator.ValidateWithConform(&credentials); err != nil {
		return nil, errors.Annotate(err, "некорректные данные для входа")
	}
	session := model.Session{}
	if err := m.request(http.MethodPost, "/auth/login", credentials, &session); err != nil {
		return nil, errors.Trace(err)
	}
	m.SetToken(session.Token)
	m.log.Infof("выполнен вход для %s", session.User.Name)
	return &session, nil
}

// Register регистрация нового члена кампуса
func (m *Skud) Register(registration model.Registration) (*model.Session, error) {
	if err := m.validator.ValidateWithConform(&registration); err != nil {
		return nil, errors.Annotate(err, "некорректная анкета")
	}
	if err := registration.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	m.log.Debugf("регистрация %s с Aadhaar %s", registration.Name, tool.MaskAadhaar(registration.AadhaarNumber))
	session := model.Session{}
	if err := m.request(http.MethodPost, "/auth/register", registration, &session); err != nil {
		return nil, errors.Trace(err)
	}
	m.SetToken(session.Token)
	m.log.Infof("зарегистрирован %s (%s)", session.User.Name, session.User.Role)
	return &session, nil
}

// Me профиль владельца сессии
func (m *Skud) Me() (*model.User, error) {
	user := model.User{}
	if err := m.request(http.MethodGet, "/users/me", nil, &user); err != nil {
		return nil, errors.Trace(err)
	}
	return &user, nil
}

// UpdateMe обновление собственного профиля
func (m *Skud) UpdateMe(update model.UserUpdate) (*model.User, error) {
	user := model.User{}
	if err := m.request(http.MethodPut, "/users/me", update, &user); err != nil {
		return nil, errors.Trace(err)
	}
	return &user, nil
}

// MyStatus текущий статус присутствия владельца сессии
func (m *Skud) MyStatus() (*model.PresenceStatus, error) {
	status := model.PresenceStatus{}
	if err := m.request(http.MethodGet, "/status/me", nil, &status); err != nil {
		return nil, errors.Trace(err)
	}
	return &status, nil
}

// Analytics сводная аналитика за день
func (m *Skud) Analytics() (*model.Analytics, error) {
	analytics := model.Analytics{}
	if err := m.request(http.MethodGet, "/analytics", nil, &analytics); err != nil {
		return nil, errors.Trace(err)
	}
	return &analytics, nil
}

// Logs журнал проходов, не более limit записей
func (m *Skud) Logs(limit uint) ([]model.LogEntry, error) {
	logs := make([]model.LogEntry, 0)
	if err := m.request(http.MethodGet, fmt.Sprintf("/logs?limit=%d", limit), nil, &logs); err != nil {
		return nil, errors.Trace(err)
	}
	return logs, nil
}

// Gates список проходных. Список недолго живёт в кэше, чтобы не дёргать
// СКУД на каждое обновление страницы
func (m *Skud) Gates() ([]model.Gate, error) {
	if value, found := m.cache.Get(gatesCacheKey); found {
		return value.([]model.Gate), nil
	}
	gates := make([]model.Gate, 0)
	if err := m.request(http.MethodGet, "/gates", nil, &gates); err != nil {
		return nil, errors.Trace(err)
	}
	m.cache.Set(gatesCacheKey, gates, cache.DefaultExpiration)
	return gates, nil
}

// CreateGate регистрация новой проходной
func (m *Skud) CreateGate(gate model.Gate) (*model.Gate, error) {
	if err := m.validator.ValidateWithConform(&gate); err != nil {
		return nil, errors.Annotate(err, "некорректное описание проходной")
	}
	created := model.Gate{}
	if err := m.request(http.MethodPost, "/gates", gate, &created); err != nil {
		return nil, errors.Trace(err)
	}
	m.cache.Delete(gatesCacheKey)
	return &created, nil
}

// UpdateGate включение или отключение проходной
func (m *Skud) UpdateGate(gateID string, isActive bool) error {
	if gateID == "" {
		return errors.New("не передан идентификатор проходной")
	}
	body := map[string]bool{"is_active": isActive}
	if err := m.request(http.MethodPut, "/gates/"+gateID, body, nil); err != nil {
		return errors.Trace(err)
	}
	m.cache.Delete(gatesCacheKey)
	return nil
}

// DeleteGate удаление проходной
func (m *Skud) DeleteGate(gateID string) error {
	if gateID == "" {
		return errors.New("не передан идентификатор проходной")
	}
	if err := m.request(http.MethodDelete, "/gates/"+gateID, nil, nil); err != nil {
		return errors.Trace(err)
	}
	m.cache.Delete(gatesCacheKey)
	return nil
}

// GateStats статистика проходов через проходную
func (m *Skud) GateStats(gateID string) (*model.GateStats, error) {
	if gateID == "" {
		return nil, errors.New("не передан идентификатор проходной")
	}
	stats := model.GateStats{}
	if err := m.request(http.MethodGet, "/gates/"+gateID+"/stats", nil, &stats); err != nil {
		return nil, errors.Trace(err)
	}
	return &stats, nil
}

// Users список членов кампуса
func (m *Skud) Users() ([]model.User, error) {
	users := make([]model.User, 0)
	if err := m.request(http.MethodGet, "/users", nil, &users); err != nil {
		return nil, errors.Trace(err)
	}
	return users, nil
}

// Vehicles список транспорта
func (m *Skud) Vehicles() ([]model.Vehicle, error) {
	vehicles := make([]model.Vehicle, 0)
	if err := m.request(http.MethodGet, "/vehicles", nil, &vehicles); err != nil {
		return nil, errors.Trace(err)
	}
	return vehicles, nil
}

// Scan регистрация прохода. Запрос без идентификатора проходной считается
// ошибкой вызывающего и в сеть не уходит. Статус вход/выход определяет
// только СКУД, клиент лишь возвращает его ответ
func (m *Skud) Scan(request model.ScanRequest) (*model.ScanResult, error) {
	if err := m.validator.ValidateWithConform(&request); err != nil {
		return nil, errors.Annotate(err, "некорректный запрос прохода")
	}
	result := model.ScanResult{}
	if err := m.request(http.MethodPost, "/scan", request, &result); err != nil {
		return nil, errors.Trace(err)
	}
	if err := m.validator.ValidateWithConform(&result); err != nil {
		return nil, errors.Annotate(err, "некорректный ответ СКУД на проход")
	}
	m.log.Debugf("проход через %s: %s", result.GateID, result.Status)
	return &result, nil
}

// Photo скачивание фотографии персоны по ссылке из оповещения
func (m *Skud) Photo(url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("не передана ссылка на фотографию")
	}
	req, err := http.NewRequestWithContext(m.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if token := m.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warnf("фотография %s не скачана: %v", url, err)
		return nil, errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("для скачивания %s возвращён статус %d", url, resp.StatusCode)
	}
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		m.log.Warnf("ошибка получения тела фотографии %s: %s", url, err)
		return nil, errors.Trace(err)
	}

	m.log.Debugf("фотография %s (%d байт) скачана", url, len(data))
	return data, nil
}
