package store

import (
	"time"

	"github.com/campusgate/gatepad/server/model"
)

// DbStore репозиторий общения с локальной БД рабочего стола
//go:generate mockery --dir . --name DbStore --output ./mocks
type DbStore interface {
	// Проверяет, что ошибка err обозначает, что записи не найдены
	IsNotFound(err error) bool

	// Возвращает сохранённую сессию СКУД. Отсутствие сессии проверяется
	// через IsNotFound
	Session() (*model.Session, error)
	// Сохраняет сессию СКУД. Предыдущая сессия затирается
	SetSession(model.Session) error
	// Удаляет сохранённую сессию СКУД
	ClearSession() error

	// Добавляет запись в локальный журнал сканирований
	AddJournal(model.JournalEntry) error
	// Возвращает последние записи локального журнала сканирований,
	// не более limit штук, свежие первыми
	Journal(limit uint) ([]JournalRecord, error)

	// Возвращает фотографию персоны из файлового кэша. Отсутствие
	// фотографии проверяется через IsNotFound
	UserPhoto(userID string) ([]byte, error)
	// Сохраняет фотографию персоны в файловый кэш
	SetUserPhoto(userID string, content []byte) error

	// Очищает записи журнала старше days дней
	Clean(days int) error
}

// JournalRecord запись локального журнала сканирований
type JournalRecord struct {
	// Идентификатор записи в БД
	ID        int
	CreatedAt *time.Time
	ScannerID uint
	GateID    string
	Location  string
	Status    string
	Raw       string
}
