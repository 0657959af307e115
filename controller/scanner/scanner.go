package scanner

import (
	"context"
	"io/ioutil"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/service"
	"github.com/campusgate/gatepad/server/store"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Величина канала информации от киосков
	eventCapacity = 10
)

// Scanner контроллер управления группой киосков-сканеров. Инициализируется
// через NewScanner. Держит постоянное подключение ко всем киоскам и собирает
// распознанные ими QR-коды в единый канал
type Scanner struct {
	ctx context.Context
	log *logrus.Entry

	scannersSvc []service.ScannerSvc
	dbStore     store.DbStore

	event chan *model.DecodeEvent

	// Величина канала информации от киосков
	eventCapacity uint
}

// ConfigScanner конфигурация Scanner
type ConfigScanner struct {
	Log *logrus.Logger
	// Величина канала информации от киосков
	EventCapacity uint
}

// NewScanner конструктор Scanner
func NewScanner(ctx context.Context, scannersSvc []service.ScannerSvc, dbStore store.DbStore, config *ConfigScanner) (*Scanner, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if scannersSvc == nil {
		return nil, errors.New("не указан список scannersSvc")
	}
	if dbStore == nil {
		return nil, errors.New("не указана служба dbStore")
	}

	scanner := Scanner{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "scanner",
			"scope":  "controller",
		}),
		scannersSvc: scannersSvc,
		dbStore:     dbStore,

		event: make(chan *model.DecodeEvent, eventCapacity),

		eventCapacity: eventCapacity,
	}
	if config.EventCapacity != 0 {
		scanner.eventCapacity = config.EventCapacity
	}
	go scanner.loop()

	return &scanner, nil
}

// Бесконечное получение данных со всех киосков
func (m Scanner) loop() {
	m.log.Info("старт работы модуля")
	for {
		g := new(errgroup.Group)

		for _, v := range m.scannersSvc {
			v := v
			g.Go(func() error {
				for {
					event, err := v.EmitDecode()
					if err != nil {
						return errors.Trace(err)
					}
					m.event <- event
				}
			})
		}

		err := g.Wait()
		if err != nil && err.Error() != context.Canceled.Error() {
			m.log.Error(err)
		}
		select {
		case <-m.ctx.Done():
			m.log.Info("завершение работы модуля")
			return
		}
	}
}

// EmitDecode ожидает поступления распознанного QR-кода с любого из киосков.
// Возвращает context.Canceled при принудительном завершении работы
func (m Scanner) EmitDecode() (*model.DecodeEvent, error) {
	select {
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	case event := <-m.event:
		return event, nil
	}
}
