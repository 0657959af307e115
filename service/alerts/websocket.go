package alerts

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
	MaximumEventChan  = 20
	ReconnectAttempts = 5
	ReconnectTimeout  = time.Second
	readChanCapacity  = 10
)

// Тип текущего состояния подключения к каналу оповещений
type connectType int

const (
	connectUnknown = iota
	connectSuccess
	connectFailed
)

// Websocket подписка на канал scan_alert СКУД. Инициируется через
// NewWebsocket. Держит соединение, пока не исчерпает попытки
// переподключения или не завершится контекст
type Websocket struct {
	ctx               context.Context
	log               *logrus.Entry
	alertsURL         string
	reconnectAttempts uint
	reconnectTimeout  time.Duration
	validator         *validator.Validator
	// Канал передачи событий
	eventChan     chan model.AlertEvent
	connectedFlag connectType
}

// ConfigWebsocket конфигурация Websocket
type ConfigWebsocket struct {
	Log               *logrus.Logger
	AlertsURL         string `conform:"trim" validate:"required,websocket"`
	ReconnectAttempts uint
	ReconnectTimeout  time.Duration
}

// NewWebsocket конструктор структуры Websocket
func NewWebsocket(ctx context.Context, config *ConfigWebsocket) (service.AlertSvc, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	} else if err := validator.Get().ValidateWithConform(config); err != nil {
		return nil, errors.Annotate(err, "ошибка в конфигурации")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	res := &Websocket{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module":  "alerts",
			"scope":   "service",
			"address": config.AlertsURL,
		}),
		alertsURL:         config.AlertsURL,
		reconnectAttempts: ReconnectAttempts,
		reconnectTimeout:  ReconnectTimeout,
		validator:         validator.Get(),
		eventChan:         make(chan model.AlertEvent, MaximumEventChan),
		connectedFlag:     connectUnknown,
	}
	if config.ReconnectAttempts != 0 {
		res.reconnectAttempts = config.ReconnectAttempts
	}
	if config.ReconnectTimeout != 0 {
		res.reconnectTimeout = config.ReconnectTimeout
	}

	// Запускаем цикл подключения к каналу оповещений
	go res.loop()

	return res, nil
}

// Цикл подключения к каналу оповещений. Количество последовательных
// неудачных попыток ограничено, пауза между попытками фиксированная;
// удачное подключение обнуляет счётчик попыток
func (m *Websocket) loop() {
	m.log.Info("старт работы модуля")
	defer close(m.eventChan)

	attempts := uint(0)
	for {
		select {
		case <-m.ctx.Done():
			m.log.Info("завершение работы модуля")
			return
		default:
		}

		established, err := m.connect()
		if err != nil && err.Error() == context.Canceled.Error() {
			continue
		}
		if established {
			attempts = 0
		}
		attempts++
		if attempts > m.reconnectAttempts {
			m.log.Errorf("исчерпаны %d попыток переподключения к каналу оповещений", m.reconnectAttempts)
			return
		}
		time.Sleep(m.reconnectTimeout)
	}
}

// Подключение по WebSocket к каналу оповещений. Возвращает признак того,
// что соединение было установлено (пусть даже потом оборвалось)
func (m *Websocket) connect() (bool, error) {
	read := make(chan []byte, readChanCapacity)
	done := make(chan error)

	conn, _, err := websocket.DefaultDialer.Dial(m.alertsURL, nil)
	if err != nil {
		if m.connectedFlag == connectUnknown || m.connectedFlag == connectSuccess {
			m.log.Warnf("ошибка подключения: %v", err)
			m.emitState(false)
		}
		m.connectedFlag = connectFailed
		return false, errors.Trace(err)
	}
	defer func() { _ = conn.Close() }()
	if m.connectedFlag == connectUnknown || m.connectedFlag == connectFailed {
		m.log.Infof("подключение установлено")
	}
	m.connectedFlag = connectSuccess
	m.emitState(true)

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

	// Обрабатываем результат чтения
	for {
		select {
		case <-m.ctx.Done():
			return true, m.ctx.Err()
		case err := <-done:
			m.connectedFlag = connectFailed
			m.emitState(false)
			return true, err
		case message := <-read:
			alert := model.ScanAlert{}
			if err = json.Unmarshal(message, &alert); err != nil {
				m.log.Warnf("пришёл некорректный json \"%s\" с ошибкой: %s", string(message), err.Error())
				continue
			}
			if err = m.validator.ValidateWithConform(&alert); err != nil {
				m.log.Warnf("ошибка валидации полученного оповещения: %v", err)
				continue
			}
			if err = alert.Validate(); err != nil {
				m.log.Warnf("неполное оповещение о проходе: %v", err)
				continue
			}

			t := time.Now()
			event := model.AlertEvent{
				CreateAt:  &t,
				Alert:     &alert,
				Connected: true,
			}
			select {
			case m.eventChan <- event:
			default:
				m.log.Warnf("канал eventChan переполнен")
				continue
			}
		}
	}
}

// Отправка события смены состояния подключения
func (m *Websocket) emitState(connected bool) {
	t := time.Now()
	event := model.AlertEvent{
		CreateAt:  &t,
		Connected: connected,
	}
	select {
	case m.eventChan <- event:
	default:
		m.log.Warnf("канал eventChan переполнен, событие состояния потеряно")
	}
}

// EmitEvent ожидает очередное событие канала оповещений. При штатном
// завершении работы возвращается ошибка context.Canceled, при исчерпании
// попыток переподключения - ошибка закрытого канала
func (m *Websocket) EmitEvent() (*model.AlertEvent, error) {
	select {
	case event, ok := <-m.eventChan:
		if !ok {
			return nil, errors.New("канал оповещений СКУД закрыт")
		}
		return &event, nil
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	}
}
