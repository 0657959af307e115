package db

import (
	"time"
)

type (
	// GormModelUnscoped модель эквивалент gorm.Model без сохранения удалений
	GormModelUnscoped struct {
		ID        int `gorm:"primaryKey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Session сохранённая сессия СКУД. В таблице живёт не более одной записи
	Session struct {
		GormModelUnscoped
		Token  string
		UserID string
		Name   string
		Role   string
	}
)

// TableName имя таблицы
func (Session) TableName() string {
	return "session"
}

type (
	// Journal локальный журнал сканирований
	Journal struct {
		GormModelUnscoped
		ScannerID int
		GateID    string
		Location  string
		Status    string
		Raw       string
	}
)

// TableName имя таблицы
func (Journal) TableName() string {
	return "journal"
}
