package service

import (
	"github.com/campusgate/gatepad/server/model"
)

// SkudSvc клиент REST API СКУД кампуса. Все обращения идут с bearer-токеном
// активной сессии, кроме входа и регистрации
//go:generate mockery --dir . --name SkudSvc --output ./mocks
type SkudSvc interface {
	// Вход по идентификатору в институте и паролю. Возвращённая сессия
	// запоминается клиентом для последующих запросов
	Login(model.Credentials) (*model.Session, error)
	// Регистрация нового члена кампуса. Анкета проверяется локально
	// до похода в сеть
	Register(model.Registration) (*model.Session, error)
	// Задаёт токен восстановленной из локальной БД сессии
	SetToken(token string)
	// Сбрасывает токен текущей сессии
	Logout()

	// Профиль владельца сессии
	Me() (*model.User, error)
	// Обновление собственного профиля
	UpdateMe(model.UserUpdate) (*model.User, error)
	// Текущий статус присутствия владельца сессии
	MyStatus() (*model.PresenceStatus, error)

	// Сводная аналитика за день
	Analytics() (*model.Analytics, error)
	// Журнал проходов, не более limit записей
	Logs(limit uint) ([]model.LogEntry, error)

	// Список проходных
	Gates() ([]model.Gate, error)
	// Регистрация новой проходной
	CreateGate(model.Gate) (*model.Gate, error)
	// Включение или отключение проходной
	UpdateGate(gateID string, isActive bool) error
	// Удаление проходной
	DeleteGate(gateID string) error
	// Статистика проходов через проходную
	GateStats(gateID string) (*model.GateStats, error)

	// Список членов кампуса
	Users() ([]model.User, error)
	// Список транспорта
	Vehicles() ([]model.Vehicle, error)

	// Регистрация прохода. Ровно один сетевой запрос на вызов, без
	// повторов; запрос без идентификатора проходной в сеть не уходит
	Scan(model.ScanRequest) (*model.ScanResult, error)

	// Скачивание фотографии персоны по ссылке из оповещения
	Photo(url string) ([]byte, error)
}

// AlertSvc подписка на канал оповещений СКУД о проходах. Держит подключение
// с ограниченным числом попыток восстановления
//go:generate mockery --dir . --name AlertSvc --output ./mocks
type AlertSvc interface {
	// Ожидает очередное событие канала: оповещение о проходе либо смену
	// состояния подключения. При исчерпании попыток переподключения или
	// завершении работы возвращается ошибка
	EmitEvent() (*model.AlertEvent, error)
}

// ScannerSvc работа с киоском-сканером на проходной. Держит постоянное
// подключение к киоску
//go:generate mockery --dir . --name ScannerSvc --output ./mocks
type ScannerSvc interface {
	// Ожидает очередной распознанный киоском QR-код
	EmitDecode() (*model.DecodeEvent, error)
}

// WebSvc сервис WEB-интерфейса рабочего стола охраны
//go:generate mockery --dir . --name WebSvc --output ./mocks
type WebSvc interface {
	// Хэндлер показа основной страницы рабочего стола
	Static(string)
	// Хэндлер JSON API для браузера
	Api(string)
	// Хэндлер WebSocket ленты живых событий
	Feed(string)
	// Хэндлер возвращения фотографии персоны. Идентификатор персоны
	// ищется в параметре :id
	PersonPhoto(string)

	// Отсылка оповещения о проходе в браузерную ленту
	AlertChanged(model.AlertChange)
	// Отсылка обновлённой аналитики в браузерную ленту
	AnalyticsChanged(model.AnalyticsChange)
	// Отсылка смены состояния подключения в браузерную ленту
	ConnectionChanged(model.ConnectionChange)
}
