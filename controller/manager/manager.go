package manager

import (
	"context"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/campusgate/gatepad/server/controller"
	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/tool"
	"github.com/campusgate/gatepad/server/pkg/validator"
	"github.com/campusgate/gatepad/server/service"
	"github.com/campusgate/gatepad/server/store"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Повторный скан того же кода на том же киоске в течение этого времени
	// считается дребезгом камеры и не отправляется в СКУД
	debounceTTL = 5 * time.Second
	// Интервал обновления сводной аналитики
	analyticsInterval = 30 * time.Second
	cleanBasePeriod   = time.Hour * 24 * 30
	cleanBaseInterval = time.Minute * 30
	// Длина показываемого в логе сырого текста QR-кода
	rawLogLimit = 48
)

// ConfigManager конфигурация Manager
type ConfigManager struct {
	Log *logrus.Logger

	ScannerCtl controller.ScannerCtl

	WebSvc   service.WebSvc
	SkudSvc  service.SkudSvc
	AlertSvc service.AlertSvc
	DbStore  store.DbStore

	DebounceTTL       time.Duration
	AnalyticsInterval time.Duration
	CleanBasePeriod   time.Duration
	CleanBaseInterval time.Duration
}

// Manager основной менеджер работы со всеми сервисами. Инициируется через
// NewManager. Сводит воедино киоски-сканеры, канал оповещений СКУД,
// локальную БД и браузерную ленту
type Manager struct {
	ctx       context.Context
	log       *logrus.Entry
	validator *validator.Validator

	scannerCtl controller.ScannerCtl

	webSvc   service.WebSvc
	skudSvc  service.SkudSvc
	alertSvc service.AlertSvc
	dbStore  store.DbStore

	debounce *cache.Cache

	debounceTTL       time.Duration
	analyticsInterval time.Duration
	cleanBasePeriod   time.Duration
	cleanBaseInterval time.Duration
}

// NewManager конструктор Manager
func NewManager(ctx context.Context, config *ConfigManager) (*Manager, error) {
	if config == nil {
		return nil, errors.New("не передана конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if config.ScannerCtl == nil {
		return nil, errors.New("не передан контроллер киосков")
	}
	if config.SkudSvc == nil {
		return nil, errors.New("не передан клиент СКУД")
	}
	if config.AlertSvc == nil {
		return nil, errors.New("не передан сервис оповещений")
	}
	if config.WebSvc == nil {
		return nil, errors.New("не передан сервис WEB")
	}
	if config.DbStore == nil {
		return nil, errors.New("не передан сервис базы данных")
	}

	manager := Manager{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "manager",
			"scope":  "controller",
		}),
		validator:  validator.Get(),
		scannerCtl: config.ScannerCtl,

		webSvc:   config.WebSvc,
		skudSvc:  config.SkudSvc,
		alertSvc: config.AlertSvc,
		dbStore:  config.DbStore,

		debounceTTL:       debounceTTL,
		analyticsInterval: analyticsInterval,
		cleanBasePeriod:   cleanBasePeriod,
		cleanBaseInterval: cleanBaseInterval,
	}
	if config.DebounceTTL != 0 {
		manager.debounceTTL = config.DebounceTTL
	}
	if config.AnalyticsInterval != 0 {
		manager.analyticsInterval = config.AnalyticsInterval
	}
	if config.CleanBasePeriod != 0 {
		manager.cleanBasePeriod = config.CleanBasePeriod
	}
	if config.CleanBaseInterval != 0 {
		manager.cleanBaseInterval = config.CleanBaseInterval
	}
	manager.debounce = cache.New(manager.debounceTTL, 2*manager.debounceTTL)

	manager.configToLog()

	return &manager, nil
}

// Вывести значения конфигурации в лог
func (m *Manager) configToLog() {
	m.log.Debugf("debounceTTL: %s", m.debounceTTL)
	m.log.Debugf("analyticsInterval: %s", m.analyticsInterval)
	m.log.Debugf("cleanBasePeriod: %s", m.cleanBasePeriod)
	m.log.Debugf("cleanBaseInterval: %s", m.cleanBaseInterval)
}

// Serve начало процесса обработки поступающих данных
func (m *Manager) Serve() error {
	m.restoreSession()

	done := make(chan error)
	decodes := make(chan *model.DecodeEvent, 10)
	alerts := make(chan *model.AlertEvent, 10)

	g := new(errgroup.Group)

	// Запуск контроллера обмена данными с киосками
	g.Go(func() error {
		for {
			event, err := m.scannerCtl.EmitDecode()
			if err != nil {
				return err
			}
			select {
			case <-m.ctx.Done():
				return nil
			case decodes <- event:
			default:
				m.log.Warn("очередь decodes переполнена")
			}
		}
	})

	// Запуск подписки на канал оповещений СКУД
	g.Go(func() error {
		for {
			event, err := m.alertSvc.EmitEvent()
			if err != nil {
				return err
			}
			select {
			case <-m.ctx.Done():
				return nil
			case alerts <- event:
			default:
				m.log.Warn("очередь alerts переполнена")
			}
		}
	})

	// Периодическое обновление сводной аналитики для браузерной ленты
	g.Go(func() error {
		ticker := time.NewTicker(m.analyticsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return nil
			case <-ticker.C:
				m.refreshAnalytics()
			}
		}
	})

	// Запуск хаускипера для очистки журнала от старых записей
	g.Go(func() error {
		for {
			days := int(m.cleanBasePeriod.Hours() / 24)
			err := m.dbStore.Clean(days)
			if err != nil {
				return errors.Trace(err)
			}
			select {
			case <-m.ctx.Done():
				return nil
			case <-time.After(m.cleanBaseInterval):
			}
		}
	})

	go func() {
		err := g.Wait()
		done <- errors.Trace(err)
	}()

	// Обработка полученных событий. На каждом киоске в один момент времени
	// обрабатывается не более одного скана: пока запрос в СКУД не завершён,
	// новые коды с этого киоска отбрасываются
	busy := make(map[uint]bool)
	scanDone := make(chan uint, 10)
	for {
		select {
		case err := <-done:
			return errors.Trace(err)
		case <-m.ctx.Done():
			return nil
		case id := <-scanDone:
			busy[id] = false
		case event := <-alerts:
			m.alertInWorker(event)
		case event := <-decodes:
			if busy[event.Info.ID] {
				m.log.Debugf("киоск %d занят, код пропущен", event.Info.ID)
				continue
			}
			payload, ok := m.acceptDecode(event)
			if !ok {
				continue
			}
			busy[event.Info.ID] = true
			go func(event *model.DecodeEvent, payload model.GatePayload) {
				m.scanInWorker(event, payload)
				scanDone <- event.Info.ID
			}(event, payload)
		}
	}
}

// Восстановление сессии СКУД из локальной БД. Протухший токен стирается
func (m *Manager) restoreSession() {
	session, err := m.dbStore.Session()
	if err != nil {
		if m.dbStore.IsNotFound(err) {
			m.log.Info("сохранённой сессии СКУД нет")
		} else {
			m.log.Error(err)
		}
		return
	}
	m.skudSvc.SetToken(session.Token)
	if _, err = m.skudSvc.Me(); err != nil {
		if errors.IsUnauthorized(err) {
			m.log.Warn("сохранённая сессия СКУД недействительна")
			m.dropSession()
			return
		}
		m.log.Warn(err)
		return
	}
	m.log.Infof("восстановлена сессия СКУД для %s", session.User.Name)
}

// Сброс недействительной сессии СКУД
func (m *Manager) dropSession() {
	m.skudSvc.Logout()
	if err := m.dbStore.ClearSession(); err != nil {
		m.log.Warnf("ошибка очистки сессии: %v", err)
	}
	m.webSvc.ConnectionChanged(model.ConnectionChange{
		CreateAt:   time.Now(),
		Connected:  true,
		Authorized: false,
	})
}

// Проверка пришедшего с киоска кода: парсинг и отсев дребезга. Повторный
// код с того же киоска в пределах debounceTTL не отправляется
func (m *Manager) acceptDecode(event *model.DecodeEvent) (model.GatePayload, bool) {
	var payload model.GatePayload
	if err := payload.Parse(event.Raw); err != nil {
		m.log.Warnf("киоск %d прислал нераспознаваемый код \"%s\": %v",
			event.Info.ID, tool.TruncateLine(event.Raw, rawLogLimit), err)
		return payload, false
	}

	key := fmt.Sprintf("%d|%s", event.Info.ID, event.Raw)
	if _, found := m.debounce.Get(key); found {
		m.log.Debugf("код с киоска %d отсеян как дребезг", event.Info.ID)
		return payload, false
	}
	m.debounce.Set(key, struct{}{}, cache.DefaultExpiration)
	return payload, true
}

// Обработчик пришедшего с киоска кода: регистрация прохода в СКУД и запись
// в локальный журнал
func (m *Manager) scanInWorker(event *model.DecodeEvent, payload model.GatePayload) {
	result, err := m.skudSvc.Scan(model.NewScanRequest(payload, "", ""))
	if err != nil {
		if errors.IsUnauthorized(err) {
			m.log.Warn("СКУД отверг токен сессии, сессия сброшена")
			m.dropSession()
			return
		}
		m.log.Warnf("ошибка регистрации прохода через %s с киоска %d: %v",
			payload.GateID, event.Info.ID, err)
		return
	}
	m.log.Infof("проход через %s с киоска %d: %s", result.GateID, event.Info.ID, result.Status)

	// Запись в журнал не критична для основного процесса, ошибка уходит в лог
	entry := model.JournalEntry{
		CreateAt:  event.CreateAt,
		ScannerID: event.Info.ID,
		GateID:    result.GateID,
		Location:  result.Location,
		Status:    result.Status,
		Raw:       event.Raw,
	}
	if err = m.dbStore.AddJournal(entry); err != nil {
		m.log.Error(err)
	}
}

// Обработчик события канала оповещений: оповещение о проходе или смена
// состояния подключения
func (m *Manager) alertInWorker(event *model.AlertEvent) {
	if event.Alert == nil {
		m.webSvc.ConnectionChanged(model.ConnectionChange{
			CreateAt:   *event.CreateAt,
			Connected:  event.Connected,
			Authorized: true,
		})
		return
	}
	m.webSvc.AlertChanged(model.AlertChange{
		CreateAt: *event.CreateAt,
		Alert:    *event.Alert,
	})
}

// Запрос свежей аналитики у СКУД и отправка её в браузерную ленту
func (m *Manager) refreshAnalytics() {
	analytics, err := m.skudSvc.Analytics()
	if err != nil {
		if errors.IsUnauthorized(err) {
			m.log.Warn("СКУД отверг токен сессии при запросе аналитики")
			m.dropSession()
			return
		}
		m.log.Warnf("ошибка обновления аналитики: %v", err)
		return
	}
	m.webSvc.AnalyticsChanged(model.AnalyticsChange{
		CreateAt:  time.Now(),
		Analytics: *analytics,
	})
}
