package model

import (
	"time"
)

// AlertChange событие нового оповещения о проходе для браузерной ленты
type AlertChange struct {
	CreateAt time.Time
	Alert    ScanAlert
}

// AnalyticsChange событие обновления сводной аналитики
type AnalyticsChange struct {
	CreateAt  time.Time
	Analytics Analytics
}

// ConnectionChange событие смены состояния подключения к каналу
// оповещений СКУД или потери авторизации
type ConnectionChange struct {
	CreateAt   time.Time
	Connected  bool
	Authorized bool
}
