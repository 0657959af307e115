package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/store"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"gorm.io/gorm"
)

// Заглушка клиента СКУД для проверки хэндлеров
type fakeSkud struct {
	scanRelease chan struct{}
	scanStarted chan struct{}
	scanCount   int
}

func (m *fakeSkud) Login(model.Credentials) (*model.Session, error) {
	return &model.Session{Token: "token-1", User: model.User{ID: "u1", Name: "Охрана"}}, nil
}
func (m *fakeSkud) Register(model.Registration) (*model.Session, error) {
	return &model.Session{Token: "token-1", User: model.User{ID: "u1", Name: "Охрана"}}, nil
}
func (m *fakeSkud) SetToken(string) {}
func (m *fakeSkud) Logout()         {}
func (m *fakeSkud) Me() (*model.User, error) {
	return &model.User{ID: "u1", Name: "Охрана"}, nil
}
func (m *fakeSkud) UpdateMe(model.UserUpdate) (*model.User, error) {
	return &model.User{ID: "u1", Name: "Охрана"}, nil
}
func (m *fakeSkud) MyStatus() (*model.PresenceStatus, error) {
	return &model.PresenceStatus{Inside: true}, nil
}
func (m *fakeSkud) Analytics() (*model.Analytics, error) {
	return &model.Analytics{}, nil
}
func (m *fakeSkud) Logs(uint) ([]model.LogEntry, error) {
	return []model.LogEntry{}, nil
}
func (m *fakeSkud) Gates() ([]model.Gate, error) {
	return []model.Gate{{GateID: "GATE-1", Name: "Главная проходная", IsActive: true}}, nil
}
func (m *fakeSkud) CreateGate(gate model.Gate) (*model.Gate, error) {
	return &gate, nil
}
func (m *fakeSkud) UpdateGate(string, bool) error { return nil }
func (m *fakeSkud) DeleteGate(string) error       { return nil }
func (m *fakeSkud) GateStats(gateID string) (*model.GateStats, error) {
	return &model.GateStats{GateID: gateID}, nil
}
func (m *fakeSkud) Users() ([]model.User, error)       { return []model.User{}, nil }
func (m *fakeSkud) Vehicles() ([]model.Vehicle, error) { return []model.Vehicle{}, nil }
func (m *fakeSkud) Scan(request model.ScanRequest) (*model.ScanResult, error) {
	m.scanCount++
	if m.scanStarted != nil {
		m.scanStarted <- struct{}{}
	}
	if m.scanRelease != nil {
		<-m.scanRelease
	}
	return &model.ScanResult{Status: model.StatusIn, GateID: request.GateID}, nil
}
func (m *fakeSkud) Photo(string) ([]byte, error) {
	return nil, errors.New("нет фотографии")
}

// Заглушка локальной БД
type fakeStore struct{}

func (m *fakeStore) IsNotFound(err error) bool {
	return err.Error() == gorm.ErrRecordNotFound.Error()
}
func (m *fakeStore) Session() (*model.Session, error)    { return nil, gorm.ErrRecordNotFound }
func (m *fakeStore) SetSession(model.Session) error      { return nil }
func (m *fakeStore) ClearSession() error                 { return nil }
func (m *fakeStore) AddJournal(model.JournalEntry) error { return nil }
func (m *fakeStore) Journal(uint) ([]store.JournalRecord, error) {
	return []store.JournalRecord{}, nil
}
func (m *fakeStore) UserPhoto(string) ([]byte, error)  { return nil, gorm.ErrRecordNotFound }
func (m *fakeStore) SetUserPhoto(string, []byte) error { return nil }
func (m *fakeStore) Clean(int) error                   { return nil }

func newTestWeb(t *testing.T, skud *fakeSkud, port uint) *Web {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	webSvc, err := NewWeb(ctx, skud, &fakeStore{}, &ConfigWeb{WebPort: port})
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	return webSvc.(*Web)
}

// Подключение к ленте тестовым браузером. Сервер стартует асинхронно,
// поэтому подключаемся с повторами
func dialFeed(t *testing.T, port uint) *websocket.Conn {
	t.Helper()
	address := fmt.Sprintf("ws://127.0.0.1:%d/feed", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(address, nil)
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("лента на %s не поднялась: %v", address, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestWeb_Feed(t *testing.T) {
	web := newTestWeb(t, &fakeSkud{}, 18733)
	web.Feed("/feed")
	conn := dialFeed(t, 18733)

	t.Run("оповещение доходит до браузера", func(t *testing.T) {
		web.AlertChanged(model.AlertChange{
			CreateAt: time.Now(),
			Alert:    model.ScanAlert{LogID: "log-1", GateID: "GATE-1", Status: model.StatusIn},
		})

		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var message feedMessage
		if err := conn.ReadJSON(&message); err != nil {
			t.Fatal(err)
		}
		if message.Type != "alert" || message.Alert == nil || message.Alert.LogID != "log-1" {
			t.Errorf("неожиданное послание ленты: %+v", message)
		}
	})

	t.Run("ping и рассылка не мешают друг другу", func(t *testing.T) {
		web.clientsMu.Lock()
		if len(web.clients) != 1 {
			web.clientsMu.Unlock()
			t.Fatalf("подключённых браузеров = %d, ожидался 1", len(web.clients))
		}
		var client *feedClient
		for _, c := range web.clients {
			client = c
		}
		web.clientsMu.Unlock()

		// Браузер читает всё, что насыпят обе стороны
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Одновременная рассылка и keep-alive в один и тот же канал.
		// Без общего замка записи gorilla/websocket здесь паникует
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			for i := 0; i < 200; i++ {
				if err := client.ping(); err != nil {
					return
				}
			}
		}()
		for i := 0; i < 200; i++ {
			web.broadcast(feedMessage{Type: "connection"})
		}
		<-pingDone

		web.clientsMu.Lock()
		alive := len(web.clients)
		web.clientsMu.Unlock()
		if alive != 1 {
			t.Errorf("после параллельной записи подключённых браузеров = %d, ожидался 1", alive)
		}

		_ = conn.Close()
		<-readDone
	})

	t.Run("мёртвый браузер выбывает при рассылке", func(t *testing.T) {
		// Канал уже закрыт предыдущим шагом, запись обязана провалиться
		deadline := time.Now().Add(3 * time.Second)
		for {
			web.broadcast(feedMessage{Type: "connection"})
			web.clientsMu.Lock()
			alive := len(web.clients)
			web.clientsMu.Unlock()
			if alive == 0 {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("мёртвый браузер не выбыл из ленты, осталось %d", alive)
			}
			time.Sleep(20 * time.Millisecond)
		}
	})
}

func TestWeb_AlertBuffer(t *testing.T) {
	web := newTestWeb(t, &fakeSkud{}, 18731)

	// Заполняем буфер с запасом
	for i := 1; i <= alertBufferSize+1; i++ {
		web.AlertChanged(model.AlertChange{
			CreateAt: time.Now(),
			Alert: model.ScanAlert{
				LogID:  fmt.Sprintf("log-%d", i),
				GateID: "GATE-1",
				Status: model.StatusIn,
			},
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()
	if err := web.handleAlerts(web.e.NewContext(req, rec)); err != nil {
		t.Fatal(errors.ErrorStack(err))
	}

	alerts := make([]model.ScanAlert, 0)
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != alertBufferSize {
		t.Fatalf("размер буфера = %d, ожидался %d", len(alerts), alertBufferSize)
	}
	// Свежие первыми, самое старое оповещение вытеснено
	if alerts[0].LogID != fmt.Sprintf("log-%d", alertBufferSize+1) {
		t.Errorf("первым лежит %s, ожидался log-%d", alerts[0].LogID, alertBufferSize+1)
	}
	for _, alert := range alerts {
		if alert.LogID == "log-1" {
			t.Error("самое старое оповещение не вытеснено из буфера")
		}
	}

	// Потеря подключения очищает буфер
	web.ConnectionChanged(model.ConnectionChange{CreateAt: time.Now(), Connected: false})

	rec = httptest.NewRecorder()
	if err := web.handleAlerts(web.e.NewContext(httptest.NewRequest(http.MethodGet, "/api/alerts", nil), rec)); err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	alerts = alerts[:0]
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("после потери подключения в буфере %d оповещений, ожидалось 0", len(alerts))
	}
}

func TestWeb_Scan(t *testing.T) {
	skud := &fakeSkud{
		scanRelease: make(chan struct{}),
		scanStarted: make(chan struct{}, 1),
	}
	web := newTestWeb(t, skud, 18732)

	doScan := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		if err := web.handleScan(web.e.NewContext(req, rec)); err != nil {
			t.Fatal(errors.ErrorStack(err))
		}
		return rec
	}

	t.Run("нераспознаваемый код не уходит в СКУД", func(t *testing.T) {
		rec := doScan(`{"raw":"a"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("код ответа = %d, ожидался %d", rec.Code, http.StatusBadRequest)
		}
		if skud.scanCount != 0 {
			t.Error("запрос с нераспознаваемым кодом ушёл в СКУД")
		}
	})

	t.Run("пока идёт запрос, второй отвергается", func(t *testing.T) {
		first := make(chan *httptest.ResponseRecorder, 1)
		go func() {
			first <- doScan(`{"raw":"GATE-1","purpose":"Delivery","vehicle_number":"KA01AB1234"}`)
		}()
		<-skud.scanStarted

		rec := doScan(`{"raw":"GATE-1"}`)
		if rec.Code != http.StatusConflict {
			t.Errorf("код ответа занятой формы = %d, ожидался %d", rec.Code, http.StatusConflict)
		}

		close(skud.scanRelease)
		rec = <-first
		if rec.Code != http.StatusOK {
			t.Errorf("код ответа первого запроса = %d, ожидался %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("после удачного прохода форма хранит код, но не цель и транспорт", func(t *testing.T) {
		web.scanMu.Lock()
		last := web.lastScan
		web.scanMu.Unlock()

		if last.Payload == nil || last.Payload.GateID != "GATE-1" {
			t.Errorf("на форме не сохранился код: %+v", last.Payload)
		}
		if last.Purpose != "" || last.VehicleNumber != "" {
			t.Errorf("цель и транспорт не сброшены: %q, %q", last.Purpose, last.VehicleNumber)
		}
		if last.Result == nil || last.Result.Status != model.StatusIn {
			t.Errorf("не сохранился результат прохода: %+v", last.Result)
		}
	})
}
