package web

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/validator"
	"github.com/campusgate/gatepad/server/service"
	"github.com/campusgate/gatepad/server/store"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/sirupsen/logrus"
)

const (
	waitRestartStartServer = 10 * time.Second
	webPort                = 8080
	assetsDir              = "./assets/main"

	// Количество последних оповещений, хранимых для показа в ленте
	alertBufferSize = 50
	// Интервал ping-сообщений в ленту, иначе браузер закроет канал
	keepAliveInterval = 10 * time.Second
	// Количество записей журнала по умолчанию
	defaultLogsLimit = 100
)

// ConfigWeb конфигурация структуры Web
type ConfigWeb struct {
	Log *logrus.Logger

	WebPort   uint
	AssetsDir string

	AlertBufferSize uint
}

// Web служба WEB-сервисов рабочего стола охраны. Инициализируется через NewWeb
type Web struct {
	ctx       context.Context
	log       *logrus.Entry
	validator *validator.Validator
	e         *echo.Echo
	upgrader  websocket.Upgrader

	skudSvc service.SkudSvc
	dbStore store.DbStore

	webPort   uint
	assetsDir string

	// Буфер последних оповещений, свежие первыми. Очищается при потере
	// подключения к каналу оповещений СКУД
	alertsMu        sync.Mutex
	alerts          []model.ScanAlert
	alertBufferSize uint

	// Подключённые к ленте браузеры
	clientsMu sync.Mutex
	clients   map[string]*feedClient

	// Состояние формы ручного сканирования. Занятость не даёт отправить
	// второй запрос, пока не завершился первый
	scanMu   sync.Mutex
	scanBusy bool
	lastScan lastScanState
}

// Последний результат ручного сканирования для формы рабочего стола
type lastScanState struct {
	Payload       *model.GatePayload `json:"payload,omitempty"`
	Purpose       string             `json:"purpose,omitempty"`
	VehicleNumber string             `json:"vehicle_number,omitempty"`
	Result        *model.ScanResult  `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Подключённый к ленте браузер. В WebSocket-канал должен писать только
// один писатель, поэтому ping и рассылка делят один замок записи
type feedClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (m *feedClient) writeJSON(v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteJSON(v)
}

func (m *feedClient) ping() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.PingMessage, nil)
}

// Послание браузерной ленты
type feedMessage struct {
	Type      string           `json:"type"`
	Alert     *model.ScanAlert `json:"alert,omitempty"`
	Analytics *model.Analytics `json:"analytics,omitempty"`
	Connected *bool            `json:"connected,omitempty"`
}

// NewWeb конструктор структуры Web
func NewWeb(ctx context.Context, skudSvc service.SkudSvc, dbStore store.DbStore, config *ConfigWeb) (service.WebSvc, error) {
	if config == nil {
		return nil, errors.New("не установлена конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if skudSvc == nil {
		return nil, errors.New("не указана служба skudSvc")
	}
	if dbStore == nil {
		return nil, errors.New("не указана служба dbStore")
	}

	web := Web{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "web",
			"scope":  "service",
		}),
		validator: validator.Get(),
		e:         echo.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},

		skudSvc: skudSvc,
		dbStore: dbStore,

		webPort:   webPort,
		assetsDir: assetsDir,

		alerts:          make([]model.ScanAlert, 0, alertBufferSize),
		alertBufferSize: alertBufferSize,

		clients: make(map[string]*feedClient),
	}

	if config.WebPort != 0 {
		web.webPort = config.WebPort
	}
	if config.AssetsDir != "" {
		web.assetsDir = config.AssetsDir
	}
	if config.AlertBufferSize != 0 {
		web.alertBufferSize = config.AlertBufferSize
	}

	// Настройка WEB-сервера
	web.e.HideBanner = true
	web.e.HidePort = true
	web.e.Use(middleware.Recover())
	web.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	go web.serve()

	return &web, nil
}

func (m *Web) serve() {
	for {
		m.log.Infof("старт HTTP-сервера на порту :%d", m.webPort)
		err := m.e.Start(fmt.Sprintf(":%d", m.webPort))
		m.log.Errorf("сервер неожиданно завершил работу: %s", err.Error())
		time.Sleep(waitRestartStartServer)
	}
}

// Static хэндлер показа основной страницы рабочего стола
func (m *Web) Static(path string) {
	m.e.Static(path, m.assetsDir)
}

// Api хэндлер JSON API для браузера. Все маршруты монтируются в группу path
func (m *Web) Api(path string) {
	g := m.e.Group(path)

	g.POST("/login", m.handleLogin)
	g.POST("/register", m.handleRegister)
	g.POST("/logout", m.handleLogout)

	g.GET("/me", m.handleMe)
	g.PUT("/me", m.handleUpdateMe)
	g.GET("/status/me", m.handleMyStatus)

	g.GET("/analytics", m.handleAnalytics)
	g.GET("/logs", m.handleLogs)
	g.GET("/journal", m.handleJournal)

	g.GET("/gates", m.handleGates)
	g.POST("/gates", m.handleCreateGate)
	g.PUT("/gates/:id", m.handleUpdateGate)
	g.DELETE("/gates/:id", m.handleDeleteGate)
	g.GET("/gates/:id/stats", m.handleGateStats)
	g.GET("/gates/:id/qr", m.handleGateQR)

	g.GET("/users", m.handleUsers)
	g.GET("/vehicles", m.handleVehicles)

	g.POST("/scan", m.handleScan)
	g.GET("/scan/last", m.handleLastScan)
	g.GET("/alerts", m.handleAlerts)
}

func (m *Web) handleLogin(c echo.Context) error {
	var credentials model.Credentials
	if err := c.Bind(&credentials); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}
	session, err := m.skudSvc.Login(credentials)
	if err != nil {
		if errors.IsUnauthorized(err) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "неверный идентификатор или пароль"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"message": err.Error()})
	}
	if err = m.dbStore.SetSession(*session); err != nil {
		m.log.Warnf("ошибка сохранения сессии: %v", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (m *Web) handleRegister(c echo.Context) error {
	var registration model.Registration
	if err := c.Bind(&registration); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}
	session, err := m.skudSvc.Register(registration)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	if err = m.dbStore.SetSession(*session); err != nil {
		m.log.Warnf("ошибка сохранения сессии: %v", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (m *Web) handleLogout(c echo.Context) error {
	m.skudSvc.Logout()
	if err := m.dbStore.ClearSession(); err != nil {
		m.log.Warnf("ошибка очистки сессии: %v", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (m *Web) handleMe(c echo.Context) error {
	user, err := m.skudSvc.Me()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (m *Web) handleUpdateMe(c echo.Context) error {
	var update model.UserUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}
	user, err := m.skudSvc.UpdateMe(update)
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (m *Web) handleMyStatus(c echo.Context) error {
	status, err := m.skudSvc.MyStatus()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (m *Web) handleAnalytics(c echo.Context) error {
	analytics, err := m.skudSvc.Analytics()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, analytics)
}

func (m *Web) handleLogs(c echo.Context) error {
	limit := uint(defaultLogsLimit)
	if v := c.QueryParam("limit"); v != "" {
		var parsed uint
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed != 0 {
			limit = parsed
		}
	}
	logs, err := m.skudSvc.Logs(limit)
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (m *Web) handleJournal(c echo.Context) error {
	limit := uint(defaultLogsLimit)
	if v := c.QueryParam("limit"); v != "" {
		var parsed uint
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed != 0 {
			limit = parsed
		}
	}
	journal, err := m.dbStore.Journal(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": err.Error()})
	}
	return c.JSON(http.StatusOK, journal)
}

func (m *Web) handleGates(c echo.Context) error {
	gates, err := m.skudSvc.Gates()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, gates)
}

func (m *Web) handleCreateGate(c echo.Context) error {
	var gate model.Gate
	if err := c.Bind(&gate); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}
	created, err := m.skudSvc.CreateGate(gate)
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, created)
}

func (m *Web) handleUpdateGate(c echo.Context) error {
	gateID := c.Param("id")
	if gateID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передан идентификатор проходной"})
	}
	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}
	if err := m.skudSvc.UpdateGate(gateID, body.IsActive); err != nil {
		return m.skudError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (m *Web) handleDeleteGate(c echo.Context) error {
	gateID := c.Param("id")
	if gateID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передан идентификатор проходной"})
	}
	if err := m.skudSvc.DeleteGate(gateID); err != nil {
		return m.skudError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (m *Web) handleGateStats(c echo.Context) error {
	gateID := c.Param("id")
	if gateID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передан идентификатор проходной"})
	}
	stats, err := m.skudSvc.GateStats(gateID)
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (m *Web) handleGateQR(c echo.Context) error {
	gateID := c.Param("id")
	if gateID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передан идентификатор проходной"})
	}
	gates, err := m.skudSvc.Gates()
	if err != nil {
		return m.skudError(c, err)
	}
	for _, gate := range gates {
		if gate.GateID == gateID {
			return c.JSON(http.StatusOK, map[string]string{"qr": gate.QR()})
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"message": fmt.Sprintf("проходная %s не найдена", gateID)})
}

func (m *Web) handleUsers(c echo.Context) error {
	users, err := m.skudSvc.Users()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

func (m *Web) handleVehicles(c echo.Context) error {
	vehicles, err := m.skudSvc.Vehicles()
	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, vehicles)
}

// Ручное сканирование с формы рабочего стола. Пока не завершился
// предыдущий запрос, новый отвергается. Цель визита и номер транспорта
// после удачного прохода сбрасываются, сам код остаётся на форме
func (m *Web) handleScan(c echo.Context) error {
	var body struct {
		Raw           string `json:"raw"`
		Purpose       string `json:"purpose"`
		VehicleNumber string `json:"vehicle_number"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "некорректное тело запроса"})
	}

	var payload model.GatePayload
	if err := payload.Parse(body.Raw); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	m.scanMu.Lock()
	if m.scanBusy {
		m.scanMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{"message": "предыдущее сканирование ещё не завершено"})
	}
	m.scanBusy = true
	m.lastScan = lastScanState{
		Payload:       &payload,
		Purpose:       body.Purpose,
		VehicleNumber: body.VehicleNumber,
	}
	m.scanMu.Unlock()

	result, err := m.skudSvc.Scan(model.NewScanRequest(payload, body.Purpose, body.VehicleNumber))

	m.scanMu.Lock()
	m.scanBusy = false
	if err != nil {
		m.lastScan.Error = err.Error()
	} else {
		m.lastScan.Result = result
		m.lastScan.Error = ""
		m.lastScan.Purpose = ""
		m.lastScan.VehicleNumber = ""
	}
	m.scanMu.Unlock()

	if err != nil {
		return m.skudError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (m *Web) handleLastScan(c echo.Context) error {
	m.scanMu.Lock()
	last := m.lastScan
	busy := m.scanBusy
	m.scanMu.Unlock()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"busy": busy,
		"last": last,
	})
}

func (m *Web) handleAlerts(c echo.Context) error {
	m.alertsMu.Lock()
	alerts := make([]model.ScanAlert, len(m.alerts))
	copy(alerts, m.alerts)
	m.alertsMu.Unlock()
	return c.JSON(http.StatusOK, alerts)
}

// Преобразование ошибки обращения к СКУД в HTTP-ответ
func (m *Web) skudError(c echo.Context, err error) error {
	if errors.IsUnauthorized(err) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "сессия недействительна"})
	}
	return c.JSON(http.StatusBadGateway, map[string]string{"message": err.Error()})
}

// Feed хэндлер WebSocket ленты живых событий для браузера
func (m *Web) Feed(path string) {
	m.e.GET(path, func(c echo.Context) error {
		conn, err := m.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return errors.Trace(err)
		}
		id := uuid.New().String()
		client := &feedClient{conn: conn}

		m.clientsMu.Lock()
		m.clients[id] = client
		m.clientsMu.Unlock()
		m.log.Infof("браузер %s подключился к ленте", id)

		go m.keepAlive(id, client)

		// Входящие послания ленты не интересуют, читаем только для
		// отслеживания закрытия канала браузером
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		m.dropClient(id)
		return nil
	})
}

func (m *Web) keepAlive(id string, client *feedClient) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.clientsMu.Lock()
			_, ok := m.clients[id]
			m.clientsMu.Unlock()
			if !ok {
				return
			}
			if err := client.ping(); err != nil {
				m.dropClient(id)
				return
			}
		}
	}
}

func (m *Web) dropClient(id string) {
	m.clientsMu.Lock()
	if client, ok := m.clients[id]; ok {
		_ = client.conn.Close()
		delete(m.clients, id)
		m.log.Infof("браузер %s отключился от ленты", id)
	}
	m.clientsMu.Unlock()
}

// Рассылка послания всем подключённым браузерам
func (m *Web) broadcast(message feedMessage) {
	m.clientsMu.Lock()
	clients := make(map[string]*feedClient, len(m.clients))
	for id, client := range m.clients {
		clients[id] = client
	}
	m.clientsMu.Unlock()

	for id, client := range clients {
		if err := client.writeJSON(message); err != nil {
			m.log.Warnf("ошибка отсылки в ленту браузера %s: %v", id, err)
			m.dropClient(id)
		}
	}
}

// PersonPhoto хэндлер возвращения фотографии персоны. Идентификатор персоны
// ищется в параметре :id, исходный адрес фотографии в СКУД может быть передан
// в параметре src. Скачанная фотография оседает в локальном файловом кэше
func (m *Web) PersonPhoto(path string) {
	m.e.GET(path, func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передан идентификатор персоны"})
		}

		content, err := m.dbStore.UserPhoto(id)
		if err != nil {
			if !m.dbStore.IsNotFound(err) {
				return c.JSON(http.StatusInternalServerError, map[string]string{"message": err.Error()})
			}
			src := c.QueryParam("src")
			if src == "" {
				return c.JSON(http.StatusNotFound, map[string]string{"message": fmt.Sprintf("фотография персоны %s не найдена", id)})
			}
			content, err = m.skudSvc.Photo(src)
			if err != nil {
				return m.skudError(c, err)
			}
			if err = m.dbStore.SetUserPhoto(id, content); err != nil {
				m.log.Warnf("ошибка сохранения фотографии персоны %s: %v", id, err)
			}
		}

		mime := mimetype.Detect(content).String()
		return c.Blob(http.StatusOK, mime, content)
	})
}

// AlertChanged отсылка оповещения о проходе в браузерную ленту. Оповещение
// также добавляется в буфер последних оповещений
func (m *Web) AlertChanged(change model.AlertChange) {
	m.log.Debugf("отсылка оповещения на WEB")

	m.alertsMu.Lock()
	m.alerts = append([]model.ScanAlert{change.Alert}, m.alerts...)
	if uint(len(m.alerts)) > m.alertBufferSize {
		m.alerts = m.alerts[:m.alertBufferSize]
	}
	m.alertsMu.Unlock()

	m.broadcast(feedMessage{Type: "alert", Alert: &change.Alert})
}

// AnalyticsChanged отсылка обновлённой аналитики в браузерную ленту
func (m *Web) AnalyticsChanged(change model.AnalyticsChange) {
	m.log.Debugf("отсылка аналитики на WEB")
	m.broadcast(feedMessage{Type: "analytics", Analytics: &change.Analytics})
}

// ConnectionChanged отсылка смены состояния подключения в браузерную ленту.
// При потере подключения буфер последних оповещений очищается: лента не
// должна показывать устаревшие проходы как живые
func (m *Web) ConnectionChanged(change model.ConnectionChange) {
	if !change.Connected {
		m.alertsMu.Lock()
		m.alerts = make([]model.ScanAlert, 0, m.alertBufferSize)
		m.alertsMu.Unlock()
	}
	connected := change.Connected
	m.broadcast(feedMessage{Type: "connection", Connected: &connected})
}
