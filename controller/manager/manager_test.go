package manager

import (
	"context"
	"testing"
	"time"

	"github.com/campusgate/gatepad/server/model"
	"github.com/campusgate/gatepad/server/store"

	"github.com/juju/errors"
	"gorm.io/gorm"
)

// Заглушка контроллера киосков: отдаёт события из канала
type fakeScannerCtl struct {
	ctx    context.Context
	events chan *model.DecodeEvent
}

func (m *fakeScannerCtl) EmitDecode() (*model.DecodeEvent, error) {
	select {
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	case event := <-m.events:
		return event, nil
	}
}

// Заглушка сервиса оповещений
type fakeAlertSvc struct {
	ctx    context.Context
	events chan *model.AlertEvent
}

func (m *fakeAlertSvc) EmitEvent() (*model.AlertEvent, error) {
	select {
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	case event := <-m.events:
		return event, nil
	}
}

// Заглушка клиента СКУД: фиксирует зарегистрированные проходы
type fakeSkud struct {
	scans   chan model.ScanRequest
	scanErr error
}

func (m *fakeSkud) Login(model.Credentials) (*model.Session, error)     { return nil, nil }
func (m *fakeSkud) Register(model.Registration) (*model.Session, error) { return nil, nil }
func (m *fakeSkud) SetToken(string)                                     {}
func (m *fakeSkud) Logout()                                             {}
func (m *fakeSkud) Me() (*model.User, error)                            { return &model.User{Name: "Охрана"}, nil }
func (m *fakeSkud) UpdateMe(model.UserUpdate) (*model.User, error)      { return nil, nil }
func (m *fakeSkud) MyStatus() (*model.PresenceStatus, error)            { return nil, nil }
func (m *fakeSkud) Analytics() (*model.Analytics, error)                { return &model.Analytics{}, nil }
func (m *fakeSkud) Logs(uint) ([]model.LogEntry, error)                 { return nil, nil }
func (m *fakeSkud) Gates() ([]model.Gate, error)                        { return nil, nil }
func (m *fakeSkud) CreateGate(gate model.Gate) (*model.Gate, error)     { return &gate, nil }
func (m *fakeSkud) UpdateGate(string, bool) error                       { return nil }
func (m *fakeSkud) DeleteGate(string) error                             { return nil }
func (m *fakeSkud) GateStats(string) (*model.GateStats, error)          { return nil, nil }
func (m *fakeSkud) Users() ([]model.User, error)                        { return nil, nil }
func (m *fakeSkud) Vehicles() ([]model.Vehicle, error)                  { return nil, nil }
func (m *fakeSkud) Photo(string) ([]byte, error)                        { return nil, nil }
func (m *fakeSkud) Scan(request model.ScanRequest) (*model.ScanResult, error) {
	if m.scans != nil {
		m.scans <- request
	}
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return &model.ScanResult{Status: model.StatusIn, GateID: request.GateID, Location: "Main"}, nil
}

// Заглушка сервиса WEB: фиксирует отосланные в ленту события
type fakeWebSvc struct {
	alerts      chan model.AlertChange
	connections chan model.ConnectionChange
}

func (m *fakeWebSvc) Static(string)      {}
func (m *fakeWebSvc) Api(string)         {}
func (m *fakeWebSvc) Feed(string)        {}
func (m *fakeWebSvc) PersonPhoto(string) {}
func (m *fakeWebSvc) AlertChanged(change model.AlertChange) {
	if m.alerts != nil {
		m.alerts <- change
	}
}
func (m *fakeWebSvc) AnalyticsChanged(model.AnalyticsChange) {}
func (m *fakeWebSvc) ConnectionChanged(change model.ConnectionChange) {
	if m.connections != nil {
		m.connections <- change
	}
}

// Заглушка локальной БД: фиксирует записи журнала
type fakeStore struct {
	journal chan model.JournalEntry
}

func (m *fakeStore) IsNotFound(err error) bool {
	return err.Error() == gorm.ErrRecordNotFound.Error()
}
func (m *fakeStore) Session() (*model.Session, error) { return nil, gorm.ErrRecordNotFound }
func (m *fakeStore) SetSession(model.Session) error   { return nil }
func (m *fakeStore) ClearSession() error              { return nil }
func (m *fakeStore) AddJournal(entry model.JournalEntry) error {
	if m.journal != nil {
		m.journal <- entry
	}
	return nil
}
func (m *fakeStore) Journal(uint) ([]store.JournalRecord, error) { return nil, nil }
func (m *fakeStore) UserPhoto(string) ([]byte, error)            { return nil, gorm.ErrRecordNotFound }
func (m *fakeStore) SetUserPhoto(string, []byte) error           { return nil }
func (m *fakeStore) Clean(int) error                             { return nil }

func newTestManager(t *testing.T, ctx context.Context, scannerCtl *fakeScannerCtl, alertSvc *fakeAlertSvc,
	skudSvc *fakeSkud, webSvc *fakeWebSvc, dbStore *fakeStore) *Manager {
	t.Helper()
	managerCtl, err := NewManager(ctx, &ConfigManager{
		ScannerCtl:  scannerCtl,
		AlertSvc:    alertSvc,
		SkudSvc:     skudSvc,
		WebSvc:      webSvc,
		DbStore:     dbStore,
		DebounceTTL: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	return managerCtl
}

func TestNewManager(t *testing.T) {
	ctx := context.Background()
	scannerCtl := &fakeScannerCtl{ctx: ctx}
	alertSvc := &fakeAlertSvc{ctx: ctx}

	tests := []struct {
		name    string
		config  *ConfigManager
		wantErr bool
	}{
		{
			name: "корректный",
			config: &ConfigManager{
				ScannerCtl: scannerCtl,
				AlertSvc:   alertSvc,
				SkudSvc:    &fakeSkud{},
				WebSvc:     &fakeWebSvc{},
				DbStore:    &fakeStore{},
			},
			wantErr: false,
		},
		{
			name:    "без конфигурации",
			config:  nil,
			wantErr: true,
		},
		{
			name: "без клиента СКУД",
			config: &ConfigManager{
				ScannerCtl: scannerCtl,
				AlertSvc:   alertSvc,
				WebSvc:     &fakeWebSvc{},
				DbStore:    &fakeStore{},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(ctx, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_acceptDecode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	managerCtl := newTestManager(t, ctx,
		&fakeScannerCtl{ctx: ctx}, &fakeAlertSvc{ctx: ctx}, &fakeSkud{}, &fakeWebSvc{}, &fakeStore{})

	now := time.Now()
	event := &model.DecodeEvent{
		CreateAt: &now,
		Info:     model.ScannerInfo{ID: 1, URL: "ws://127.0.0.1:1/feed", Name: "K1"},
		Raw:      "GATE-1",
	}

	if _, ok := managerCtl.acceptDecode(event); !ok {
		t.Fatal("первый код должен быть принят")
	}
	if _, ok := managerCtl.acceptDecode(event); ok {
		t.Error("повторный код в пределах TTL должен быть отсеян как дребезг")
	}

	// Тот же код с другого киоска дребезгом не считается
	other := *event
	other.Info.ID = 2
	if _, ok := managerCtl.acceptDecode(&other); !ok {
		t.Error("код с другого киоска должен быть принят")
	}

	// Нераспознаваемый код отклоняется до похода в СКУД
	bad := *event
	bad.Raw = "a"
	if _, ok := managerCtl.acceptDecode(&bad); ok {
		t.Error("нераспознаваемый код должен быть отклонён")
	}

	// После истечения TTL код проходит снова
	time.Sleep(150 * time.Millisecond)
	if _, ok := managerCtl.acceptDecode(event); !ok {
		t.Error("после истечения TTL код должен быть принят")
	}
}

func TestManager_Serve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scannerCtl := &fakeScannerCtl{ctx: ctx, events: make(chan *model.DecodeEvent, 1)}
	alertSvc := &fakeAlertSvc{ctx: ctx, events: make(chan *model.AlertEvent, 1)}
	skudSvc := &fakeSkud{scans: make(chan model.ScanRequest, 1)}
	webSvc := &fakeWebSvc{
		alerts:      make(chan model.AlertChange, 1),
		connections: make(chan model.ConnectionChange, 1),
	}
	dbStore := &fakeStore{journal: make(chan model.JournalEntry, 1)}

	managerCtl := newTestManager(t, ctx, scannerCtl, alertSvc, skudSvc, webSvc, dbStore)
	go func() { _ = managerCtl.Serve() }()

	t.Run("код с киоска уходит в СКУД и в журнал", func(t *testing.T) {
		now := time.Now()
		scannerCtl.events <- &model.DecodeEvent{
			CreateAt: &now,
			Info:     model.ScannerInfo{ID: 1, URL: "ws://127.0.0.1:1/feed", Name: "K1"},
			Raw:      `{"gate_id":"GATE-7","location":"North"}`,
		}

		select {
		case request := <-skudSvc.scans:
			if request.GateID != "GATE-7" {
				t.Errorf("GateID = %v, ожидался GATE-7", request.GateID)
			}
			if request.Location == nil || *request.Location != "North" {
				t.Errorf("Location = %v, ожидался North", request.Location)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("проход не зарегистрирован в СКУД")
		}

		select {
		case entry := <-dbStore.journal:
			if entry.GateID != "GATE-7" || entry.ScannerID != 1 {
				t.Errorf("неожиданная запись журнала: %+v", entry)
			}
			if entry.Status != model.StatusIn {
				t.Errorf("Status = %v, ожидался %v", entry.Status, model.StatusIn)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("проход не записан в журнал")
		}
	})

	t.Run("оповещение уходит в браузерную ленту", func(t *testing.T) {
		now := time.Now()
		alertSvc.events <- &model.AlertEvent{
			CreateAt:  &now,
			Alert:     &model.ScanAlert{LogID: "log-1", GateID: "GATE-1", Status: model.StatusOut},
			Connected: true,
		}

		select {
		case change := <-webSvc.alerts:
			if change.Alert.LogID != "log-1" || change.Alert.Status != model.StatusOut {
				t.Errorf("неожиданное оповещение: %+v", change.Alert)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("оповещение не дошло до ленты")
		}
	})

	t.Run("смена состояния подключения уходит в ленту", func(t *testing.T) {
		now := time.Now()
		alertSvc.events <- &model.AlertEvent{CreateAt: &now, Connected: false}

		select {
		case change := <-webSvc.connections:
			if change.Connected {
				t.Error("ожидалось событие потери подключения")
			}
			if !change.Authorized {
				t.Error("потеря подключения не должна трогать признак авторизации")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("событие состояния не дошло до ленты")
		}
	})
}
