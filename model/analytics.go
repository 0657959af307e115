package model

// HourlyStat проходы за один час для графиков на рабочем столе
type HourlyStat struct {
	Hour    uint `json:"hour"`
	Entries uint `json:"entries"`
	Exits   uint `json:"exits"`
}

// Analytics сводная аналитика за текущий день. Считается целиком на стороне
// СКУД, здесь только отображается
type Analytics struct {
	TotalEntriesToday  uint         `json:"total_entries_today"`
	TotalExitsToday    uint         `json:"total_exits_today"`
	CurrentInside      uint         `json:"current_inside"`
	TotalVisitorsToday uint         `json:"total_visitors_today"`
	PeakHour           string       `json:"peak_hour"`
	HourlyData         []HourlyStat `json:"hourly_data"`
}

// LogEntry запись серверного журнала проходов
type LogEntry struct {
	LogID         string `json:"log_id" conform:"trim"`
	GateID        string `json:"gate_id" conform:"trim"`
	Status        string `json:"status" conform:"trim"`
	UserID        string `json:"user_id" conform:"trim"`
	VehicleNumber string `json:"vehicle_number" conform:"trim"`
	Purpose       string `json:"purpose" conform:"trim"`
	Timestamp     string `json:"timestamp" conform:"trim"`
}
