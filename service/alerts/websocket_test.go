package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusgate/gatepad/server/model"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

func TestNewWebsocket(t *testing.T) {
	type args struct {
		ctx    context.Context
		config *ConfigWebsocket
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "корректный",
			args: args{
				ctx: context.Background(),
				config: &ConfigWebsocket{
					AlertsURL: "ws://192.168.10.10:8000/ws",
				},
			},
			wantErr: false,
		},
		{
			name: "не корректный по URL",
			args: args{
				ctx: context.Background(),
				config: &ConfigWebsocket{
					AlertsURL: "http://192.168.10.10:8000/ws",
				},
			},
			wantErr: true,
		},
		{
			name: "без конфигурации",
			args: args{
				ctx:    context.Background(),
				config: nil,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(tt.args.ctx)
			defer cancel()
			got, err := NewWebsocket(ctx, tt.args.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWebsocket() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			_ = got
		})
	}
}

func TestWebsocket_EmitEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		message := `{
			"log_id": "log-7",
			"user": {"name": "Priya Sharma", "role": "Student", "department": "CSE"},
			"status": "IN",
			"timestamp": "2024-03-01T09:15:00",
			"gate_id": "GATE-1"
		}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
			return
		}
		// Нечитаемое послание лента должна молча пропустить
		_ = conn.WriteMessage(websocket.TextMessage, []byte("не json"))
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alertSvc, err := NewWebsocket(ctx, &ConfigWebsocket{
		AlertsURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	})
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}

	// Первым приходит событие установки подключения
	event, err := alertSvc.EmitEvent()
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	if event.Alert != nil || !event.Connected {
		t.Fatalf("ожидалось событие установки подключения, получено: %+v", event)
	}

	// Затем само оповещение
	event, err = alertSvc.EmitEvent()
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	if event.Alert == nil {
		t.Fatal("ожидалось оповещение о проходе")
	}
	if event.Alert.GateID != "GATE-1" {
		t.Errorf("GateID = %v, ожидался GATE-1", event.Alert.GateID)
	}
	if event.Alert.Status != model.StatusIn {
		t.Errorf("Status = %v, ожидался %v", event.Alert.Status, model.StatusIn)
	}
	if event.Alert.User.Name != "Priya Sharma" {
		t.Errorf("User.Name = %v, ожидался Priya Sharma", event.Alert.User.Name)
	}
}

func TestWebsocket_Reconnect(t *testing.T) {
	// Адрес без слушателя: все попытки подключения проваливаются
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alertSvc, err := NewWebsocket(ctx, &ConfigWebsocket{
		AlertsURL:         "ws://127.0.0.1:1/ws",
		ReconnectAttempts: 2,
		ReconnectTimeout:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}

	deadline := time.After(5 * time.Second)
	for {
		type result struct {
			event *model.AlertEvent
			err   error
		}
		res := make(chan result, 1)
		go func() {
			event, err := alertSvc.EmitEvent()
			res <- result{event, err}
		}()

		select {
		case <-deadline:
			t.Fatal("канал оповещений не закрылся после исчерпания попыток")
		case r := <-res:
			if r.err != nil {
				// Попытки исчерпаны, канал закрыт
				return
			}
			if r.event.Alert != nil || r.event.Connected {
				t.Fatalf("при недоступном СКУД ожидалось только событие потери подключения, получено: %+v", r.event)
			}
		}
	}
}
