package model

import (
	"time"

	"github.com/juju/errors"
)

// ScannerInfo описывает технические данные киоска-сканера на проходной
type ScannerInfo struct {
	ID          uint   `validate:"required"`
	URL         string `conform:"trim" validate:"required,websocket"`
	Name        string `conform:"trim" validate:"required"`
	Description string `conform:"trim"`
}

// ScannerAction событие в WebSocket канале киоска-сканера
type ScannerAction struct {
	// Тип события:
	//    decode - камера распознала очередной QR-код
	Action string `json:"action"`
	// Дата события в формате "2020-11-27T12:37:54.838079"
	Timestamp string `json:"timestamp"`
	// Сырой текст, извлечённый из QR-кода
	Text string `json:"text"`
}

// Validate валидация
func (m ScannerAction) Validate() error {
	if m.Action == "" {
		return errors.New("не задан параметр Action")
	}
	if m.Timestamp == "" {
		return errors.New("не задан параметр Timestamp")
	}
	return nil
}

// DecodeEvent распознанный киоском QR-код
type DecodeEvent struct {
	CreateAt *time.Time
	Info     ScannerInfo
	// Сырой текст QR-кода до всякой интерпретации
	Raw string
}
