package model

import (
	"time"

	"github.com/juju/errors"
)

// Статусы прохода, которые возвращает СКУД. Клиент никогда не вычисляет
// переключение вход/выход сам, он только показывает ответ сервера
const (
	StatusIn      = "IN"
	StatusOut     = "OUT"
	StatusBlocked = "BLOCKED"
)

// ScanRequest запрос на регистрацию прохода в СКУД. Создаётся заново на
// каждую попытку отправки и нигде не сохраняется
type ScanRequest struct {
	GateID        string  `json:"gate_id" conform:"trim" validate:"required"`
	Location      *string `json:"location"`
	Purpose       *string `json:"purpose"`
	VehicleNumber *string `json:"vehicle_number"`
}

// NewScanRequest собирает запрос из распарсенного QR-кода и необязательных
// полей формы. Пустые необязательные поля уходят в СКУД как null
func NewScanRequest(payload GatePayload, purpose, vehicleNumber string) ScanRequest {
	return ScanRequest{
		GateID:        payload.GateID,
		Location:      optional(payload.Location),
		Purpose:       optional(purpose),
		VehicleNumber: optional(vehicleNumber),
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// ScanResult ответ СКУД на зарегистрированный проход
type ScanResult struct {
	Status    string `json:"status" conform:"trim" validate:"required"`
	GateID    string `json:"gate_id" conform:"trim" validate:"required"`
	LogID     string `json:"log_id" conform:"trim"`
	Location  string `json:"location" conform:"trim"`
	Timestamp string `json:"timestamp" conform:"trim"`
}

// AlertUser данные персоны в оповещении о проходе
type AlertUser struct {
	Name       string `json:"name" conform:"trim"`
	Role       string `json:"role" conform:"trim"`
	Department string `json:"department" conform:"trim"`
	PhotoURL   string `json:"photo_url" conform:"trim"`
}

// ScanAlert оповещение о проходе, разосланное СКУД всем подключённым
// сессиям по каналу scan_alert
type ScanAlert struct {
	LogID         string    `json:"log_id" conform:"trim"`
	User          AlertUser `json:"user"`
	Status        string    `json:"status" conform:"trim"`
	Timestamp     string    `json:"timestamp" conform:"trim"`
	GateID        string    `json:"gate_id" conform:"trim"`
	VehicleNumber string    `json:"vehicle_number" conform:"trim"`
	Purpose       string    `json:"purpose" conform:"trim"`
}

// Validate валидация
func (m ScanAlert) Validate() error {
	if m.GateID == "" {
		return errors.New("не задан параметр GateID")
	}
	if m.Status == "" {
		return errors.New("не задан параметр Status")
	}
	return nil
}

// AlertEvent событие от сервиса оповещений: либо очередное оповещение,
// либо смена состояния подключения к каналу (Alert == nil)
type AlertEvent struct {
	CreateAt  *time.Time
	Alert     *ScanAlert
	Connected bool
}

// JournalEntry запись локального журнала о проходе, отправленном этим
// сервером (ручная отправка с пульта или скан с киоска)
type JournalEntry struct {
	CreateAt  *time.Time
	ScannerID uint
	GateID    string
	Location  string
	Status    string
	Raw       string
}
