package db

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/pkg/tool"
	"github.com/campusgate/gatepad/server/pkg/validator"
	"github.com/campusgate/gatepad/server/store"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Db обращение к локальной базе данных. Инициируется через NewDb
type Db struct {
	ctx          context.Context
	log          *logrus.Entry
	db           *gorm.DB
	validator    *validator.Validator
	RootPhotoDir string
}

// ConfigDb конфигурация класса Db
type ConfigDb struct {
	Log          *logrus.Logger
	DbFile       string
	RootPhotoDir string
}

// NewDb конструктор класса Db
func NewDb(ctx context.Context, config *ConfigDb) (store.DbStore, error) {
	if config == nil {
		return nil, errors.New("не указана конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if config.DbFile == "" {
		return nil, errors.New("в конфигурации не указан файл БД")
	}
	if config.RootPhotoDir == "" {
		return nil, errors.New("в конфигурации не указана директория фотографий")
	}

	// Подключаемся к БД и запускаем миграции
	conn, err := gorm.Open(sqlite.Open(config.DbFile), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, errors.Annotate(err, "ошибка подключения к файлу БД")
	}
	err = conn.AutoMigrate(Session{}, Journal{})
	if err != nil {
		return nil, errors.Annotate(err, "ошибка миграции БД")
	}

	db := Db{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "db",
			"scope":  "store",
		}),
		validator:    validator.Get(),
		db:           conn,
		RootPhotoDir: config.RootPhotoDir,
	}

	return &db, nil
}

// IsNotFound проверяет, что ошибка err обозначает, что записи не найдены
func (m Db) IsNotFound(err error) bool {
	return err.Error() == gorm.ErrRecordNotFound.Error()
}

// Session возвращает сохранённую сессию СКУД. Отсутствие сессии
// проверяется через IsNotFound
func (m Db) Session() (*model.Session, error) {
	var session Session
	err := m.db.Last(&session).Error
	if err != nil {
		if err.Error() == gorm.ErrRecordNotFound.Error() {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Trace(err)
	}

	res := model.Session{
		Token: session.Token,
		User: model.User{
			ID:   session.UserID,
			Name: session.Name,
			Role: session.Role,
		},
	}
	return &res, nil
}

// SetSession сохраняет сессию СКУД. Предыдущая сессия затирается
func (m Db) SetSession(session model.Session) error {
	if err := m.validator.Validate(&session); err != nil {
		return errors.Annotate(err, "ошибка валидации")
	}

	if err := m.db.Where("1 = 1").Delete(&Session{}).Error; err != nil {
		return errors.Trace(err)
	}
	row := Session{
		Token:  session.Token,
		UserID: session.User.ID,
		Name:   session.User.Name,
		Role:   session.User.Role,
	}
	if err := m.db.Create(&row).Error; err != nil {
		return errors.Annotate(err, "ошибка добавления в БД")
	}
	return nil
}

// ClearSession удаляет сохранённую сессию СКУД
func (m Db) ClearSession() error {
	if err := m.db.Where("1 = 1").Delete(&Session{}).Error; err != nil {
		return errors.Trace(err)
	}
	return nil
}

// AddJournal добавляет запись в локальный журнал сканирований
func (m Db) AddJournal(entry model.JournalEntry) error {
	row := Journal{
		ScannerID: int(entry.ScannerID),
		GateID:    entry.GateID,
		Location:  entry.Location,
		Status:    entry.Status,
		Raw:       entry.Raw,
	}
	if err := m.db.Create(&row).Error; err != nil {
		m.log.Error(err)
		return errors.Trace(err)
	}
	return nil
}

// Journal возвращает последние записи локального журнала сканирований,
// не более limit штук, свежие первыми
func (m Db) Journal(limit uint) ([]store.JournalRecord, error) {
	if limit == 0 {
		return nil, errors.New("передан некорректный размер выборки limit=0")
	}

	rows := make([]Journal, 0)
	if err := m.db.Order("id desc").Limit(int(limit)).Find(&rows).Error; err != nil {
		m.log.Error(err)
		return nil, errors.Trace(err)
	}

	result := make([]store.JournalRecord, 0)
	for _, v := range rows {
		v := v
		result = append(result, store.JournalRecord{
			ID:        v.ID,
			CreatedAt: &v.CreatedAt,
			ScannerID: uint(v.ScannerID),
			GateID:    v.GateID,
			Location:  v.Location,
			Status:    v.Status,
			Raw:       v.Raw,
		})
	}
	return result, nil
}

// UserPhoto возвращает фотографию персоны из файлового кэша
func (m Db) UserPhoto(userID string) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("передан пустой идентификатор персоны")
	}
	file := filepath.Join(m.RootPhotoDir, fmt.Sprintf("%s.jpeg", userID))
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Trace(err)
	}
	content, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return content, nil
}

// SetUserPhoto сохраняет фотографию персоны в файловый кэш
func (m Db) SetUserPhoto(userID string, content []byte) error {
	if userID == "" {
		return errors.New("передан пустой идентификатор персоны")
	}
	fPath := m.RootPhotoDir
	fName := fmt.Sprintf("%s.jpeg", userID)
	// Создаём директорию, если её нет
	if _, err := os.Stat(fPath); err != nil {
		if os.IsNotExist(err) {
			if err = os.MkdirAll(fPath, os.ModePerm); err != nil {
				m.log.Errorf("ошибка создания отсутствующей директории %s: %s", fPath, err)
				return errors.Trace(err)
			}
		} else {
			m.log.Errorf("ошибка создания директории %s: %s", fPath, err)
			return errors.Trace(err)
		}
	}
	// Сохраняем файл, если его ещё нет
	if _, err := os.Stat(filepath.Join(fPath, fName)); err != nil && os.IsNotExist(err) {
		if err := ioutil.WriteFile(filepath.Join(fPath, fName), content, os.ModePerm); err != nil {
			m.log.Errorf("ошибка сохранения файла %s: %s", filepath.Join(fPath, fName), err)
			return errors.Trace(err)
		}
	}
	return nil
}

// Clean очищает записи журнала старше days дней
func (m Db) Clean(days int) error {
	m.log.Info("запуск процесса очистки старых записей журнала")

	lastDate := tool.RoundToDate(time.Now().Add(-(time.Duration(days) * time.Hour * 24)))
	if err := m.db.Where("created_at < ?", lastDate).Delete(&Journal{}).Error; err != nil {
		m.log.Warn(err)
		return errors.Trace(err)
	}
	return nil
}
