package scanner

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"strings"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/validator"
	"github.com/campusgate/gatepad/server/service"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	MaximumResultChan = 20
	ReconnectTimeout  = 5 * time.Second
)

// Тип текущего состояния подключения к киоску
type connectType int

const (
	connectUnknown = iota
	connectSuccess
	connectFailed
)

// Websocket имплементация подключения к киоску-сканеру по WebSocket.
// Инициируется через NewWebsocket. Постоянно держит соединение, пока
// существует класс: киоск работает непрерывно и сам не останавливается
type Websocket struct {
	scannerInfo      model.ScannerInfo
	ctx              context.Context
	log              *logrus.Entry
	reconnectTimeout time.Duration
	// Канал передачи результата
	resultChan    chan model.DecodeEvent
	connectedFlag connectType
}

// ConfigWebsocket конфигурация Websocket
type ConfigWebsocket struct {
	Log              *logrus.Logger
	ScannerInfo      model.ScannerInfo
	ReconnectTimeout time.Duration
}

// NewWebsocket конструктор структуры Websocket
func NewWebsocket(ctx context.Context, config *ConfigWebsocket) (service.ScannerSvc, error) {
	var err error
	valid := validator.Get()
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	}
	if err = valid.Validate(&config.ScannerInfo); err != nil {
		return nil, errors.Annotate(err, "некорректное описание киоска")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	res := &Websocket{
		scannerInfo: config.ScannerInfo,
		ctx:         ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module":  "scanner",
			"scope":   "service",
			"id":      config.ScannerInfo.ID,
			"address": config.ScannerInfo.URL,
		}),
		reconnectTimeout: ReconnectTimeout,
		resultChan:       make(chan model.DecodeEvent, MaximumResultChan),
		connectedFlag:    connectUnknown,
	}
	if config.ReconnectTimeout != 0 {
		res.reconnectTimeout = config.ReconnectTimeout
	}

	// Запускаем бесконечный цикл переподключения к киоску
	go res.loop()

	return res, nil
}

// Бесконечный цикл обращения к WebSocket киоска. При завершении работы
// через context.Cancel просто завершаем его обработку
func (m *Websocket) loop() {
	m.log.Info("старт работы модуля")

	for {
		select {
		case <-m.ctx.Done():
			m.log.Info("завершение работы модуля")
			return
		default:
		}

		err := m.connect()

		if err != nil && err.Error() != context.Canceled.Error() {
			time.Sleep(m.reconnectTimeout)
		}
	}
}

// Подключение по WebSocket к киоску
func (m *Websocket) connect() error {
	read := make(chan []byte, 10)
	done := make(chan error)

	conn, _, err := websocket.DefaultDialer.Dial(m.scannerInfo.URL, nil)
	if err != nil {
		if m.connectedFlag == connectUnknown || m.connectedFlag == connectSuccess {
			m.log.Warnf("ошибка подключения: %v", err)
		}
		m.connectedFlag = connectFailed
		return errors.Trace(err)
	}
	defer func() { _ = conn.Close() }()
	if m.connectedFlag == connectUnknown || m.connectedFlag == connectFailed {
		m.log.Infof("подключение установлено")
		m.connectedFlag = connectSuccess
	}

	// Бесконечно читаем из канала WebSocket
	go func() {
		for {
			tpe, message, err := conn.ReadMessage()
			if err != nil {
				if !strings.Contains(err.Error(), "use of closed network connection") {
					m.log.Warnf("ошибка чтения из WebSocket: %v", err)
					done <- errors.Trace(err)
				} else {
					done <- nil
				}
				return
			}
			if tpe != websocket.TextMessage {
				m.log.Warnf("пропущено нетиповое послание типа %d, размера %d", tpe, len(message))
				continue
			}

			select {
			case <-m.ctx.Done():
				return
			case read <- message:
			default:
				m.log.Warnf("очередь read переполнена")
			}
		}
	}()

	// Текст предыдущего распознанного QR-кода. Камера киоска распознаёт
	// один и тот же кадр по несколько раз в секунду, подряд идущие
	// одинаковые тексты отсеиваются прямо здесь
	var previousText string
	// Обрабатываем результат чтения
	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case err := <-done:
			return err
		case message := <-read:
			msg := model.ScannerAction{}
			if err = json.Unmarshal(message, &msg); err != nil {
				m.log.Warnf("пришёл некорректный json \"%s\" с ошибкой: %s", string(message), err.Error())
				continue
			}
			if err = msg.Validate(); err != nil {
				m.log.Warnf("ошибка валидации полученного json: %v", err)
				continue
			}

			if msg.Action == "decode" && msg.Text != previousText {
				previousText = msg.Text

				t := time.Now()
				res := model.DecodeEvent{
					CreateAt: &t,
					Info:     m.scannerInfo,
					Raw:      msg.Text,
				}

				select {
				case m.resultChan <- res:
				default:
					m.log.Warnf("канал resultChan переполнен")
					continue
				}
			}
		}
	}
}

// EmitDecode ожидает очередной распознанный киоском QR-код и возвращает
// его в своём результате. В случае штатного завершения работы
// возвращается ошибка context.Canceled
func (m *Websocket) EmitDecode() (*model.DecodeEvent, error) {
	select {
	case result := <-m.resultChan:
		return &result, nil
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	}
}
