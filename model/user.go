package model

import (
	"strings"

	"github.com/juju/errors"
)

// User описание зарегистрированного в СКУД члена кампуса
type User struct {
	ID          string `json:"id" conform:"trim"`
	Name        string `json:"name" conform:"trim" validate:"required"`
	Role        string `json:"role" conform:"trim"`
	InstituteID string `json:"institute_id" conform:"trim"`
	Phone       string `json:"phone" conform:"trim"`
	Department  string `json:"department" conform:"trim"`
	PhotoURL    string `json:"photo_url" conform:"trim"`
	IsBlocked   bool   `json:"is_blocked"`
}

// Credentials данные для входа в СКУД
type Credentials struct {
	InstituteID string `json:"institute_id" conform:"trim" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

// Registration анкета регистрации нового члена кампуса. Обязательность
// части полей зависит от роли и проверяется в Validate до похода в сеть
type Registration struct {
	Name             string  `json:"name" conform:"trim" validate:"required"`
	Role             string  `json:"role" conform:"trim" validate:"required"`
	InstituteID      *string `json:"institute_id"`
	Phone            *string `json:"phone"`
	Password         string  `json:"password" validate:"required"`
	AadhaarNumber    string  `json:"aadhaar_number" conform:"trim" validate:"required,aadhaar"`
	Department       *string `json:"department"`
	RollNo           *string `json:"roll_no"`
	EmployeeID       *string `json:"employee_id"`
	Designation      *string `json:"designation"`
	Program          *string `json:"program"`
	Year             *string `json:"year"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
	VehicleNumber    *string `json:"vehicle_number"`
	VehicleType      *string `json:"vehicle_type"`
	VehicleModel     *string `json:"vehicle_model"`
	VisitorPurpose   *string `json:"visitor_purpose"`
	HostName         *string `json:"host_name"`
	HostDepartment   *string `json:"host_department"`
	HostContact      *string `json:"host_contact"`
}

// Роли членов кампуса
const (
	RoleStudent   = "Student"
	RoleProfessor = "Professor"
	RoleEmployee  = "Employee"
	RoleWorker    = "Worker"
	RoleVisitor   = "Visitor"
)

// Validate проверяет зависящие от роли обязательные поля анкеты. Проверка
// выполняется до обращения к СКУД: невалидная анкета в сеть не уходит
func (m Registration) Validate() error {
	filled := func(v *string) bool {
		return v != nil && strings.TrimSpace(*v) != ""
	}
	if m.Role == RoleVisitor {
		if !filled(m.Phone) {
			return errors.New("для посетителя обязателен телефон")
		}
		if !filled(m.VisitorPurpose) {
			return errors.New("для посетителя обязательна цель визита")
		}
		if !filled(m.HostName) || !filled(m.HostDepartment) {
			return errors.New("для посетителя обязательны принимающий и его подразделение")
		}
	} else if !filled(m.InstituteID) && !filled(m.Phone) {
		return errors.New("нужен идентификатор в институте или телефон")
	}
	if m.Role == RoleStudent && !filled(m.RollNo) {
		return errors.New("для студента обязателен номер зачётки")
	}
	if m.Role != RoleStudent && m.Role != RoleVisitor && !filled(m.EmployeeID) {
		return errors.New("для сотрудника обязателен табельный номер")
	}
	if m.Role == RoleProfessor && !filled(m.Designation) {
		return errors.New("для преподавателя обязательна должность")
	}
	return nil
}

// UserUpdate редактируемые поля собственного профиля
type UserUpdate struct {
	Name             *string `json:"name"`
	Phone            *string `json:"phone"`
	Department       *string `json:"department"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
}

// Session активная сессия работы со СКУД: токен и владелец токена.
// Токен хранится в локальной БД и очищается при выходе или ответе 401
type Session struct {
	Token string `json:"token" conform:"trim" validate:"required"`
	User  User   `json:"user"`
}

// PresenceStatus текущий статус присутствия владельца сессии
type PresenceStatus struct {
	Inside    bool   `json:"inside"`
	Location  string `json:"location" conform:"trim"`
	Timestamp string `json:"timestamp" conform:"trim"`
}

// Vehicle транспорт, привязанный к члену кампуса
type Vehicle struct {
	ID            string `json:"id" conform:"trim"`
	VehicleNumber string `json:"vehicle_number" conform:"trim" validate:"required"`
	VehicleType   string `json:"vehicle_type" conform:"trim"`
	Model         string `json:"model" conform:"trim"`
	UserID        string `json:"user_id" conform:"trim"`
}
