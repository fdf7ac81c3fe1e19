package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// fakeGateway is an httptest stand-in for the provider gateway.
type fakeGateway struct {
	mu        sync.Mutex
	connects  []connectRequest
	sends     []sendRequest
	deletes   []string
	sendAck   int
	omitAck   bool
	failSends bool
}

func (g *fakeGateway) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.connects = append(g.connects, req)
		g.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.sends = append(g.sends, req)
		fail, omit, ack := g.failSends, g.omitAck, g.sendAck
		g.mu.Unlock()

		if fail {
			http.Error(w, "session gone", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		if omit {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"ack": ack})
	})

	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.deletes = append(g.deletes, r.PathValue("id"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// eventSpy records the callbacks a routed provider event fires.
type eventSpy struct {
	mu           sync.Mutex
	codes        []string
	authed       bool
	ready        bool
	messages     [][2]string
	disconnected []string
}

func (s *eventSpy) events() Events {
	return Events{
		OnLinkCode: func(code string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.codes = append(s.codes, code)
		},
		OnAuthenticated: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.authed = true
		},
		OnReady: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.ready = true
		},
		OnMessage: func(from, body string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.messages = append(s.messages, [2]string{from, body})
		},
		OnDisconnected: func(reason string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.disconnected = append(s.disconnected, reason)
		},
	}
}

func TestGatewayClient_Connect(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/v1/transport/events")

	sess, err := client.Connect(context.Background(), "user-1", Events{})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if sess == nil {
		t.Fatalf("Connect() returned nil session")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.connects) != 1 {
		t.Fatalf("expected 1 connect request, got %d", len(gw.connects))
	}
	if got := gw.connects[0]; got.SessionID != "user-1" || got.CallbackURL != "http://dispatcher/v1/transport/events" {
		t.Fatalf("unexpected connect request: %+v", got)
	}
}

func TestGatewayClient_ConnectFailsOnBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")
	if _, err := client.Connect(context.Background(), "user-1", Events{}); err == nil {
		t.Fatalf("expected error on non-202 status")
	}
}

func TestGatewaySession_SendMessage(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{sendAck: int(model.AckDevice)}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")

	sess, err := client.Connect(context.Background(), "user-1", Events{})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	ack, err := sess.SendMessage(context.Background(), "911111111111", "Hi Ana")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if ack != model.AckDevice {
		t.Fatalf("expected ack %d, got %d", model.AckDevice, ack)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(gw.sends))
	}
	if got := gw.sends[0]; got.PhoneNumber != "911111111111" || got.Message != "Hi Ana" {
		t.Fatalf("unexpected send request: %+v", got)
	}
}

func TestGatewaySession_SendMessageErrors(t *testing.T) {
	t.Parallel()

	t.Run("gateway rejects", func(t *testing.T) {
		t.Parallel()
		gw := &fakeGateway{failSends: true}
		srv := gw.server(t)
		client := NewGatewayClient(srv.URL, "http://dispatcher/cb")
		sess, err := client.Connect(context.Background(), "user-1", Events{})
		if err != nil {
			t.Fatalf("Connect() error: %v", err)
		}

		ack, err := sess.SendMessage(context.Background(), "911111111111", "Hi")
		if err == nil {
			t.Fatalf("expected error on rejected send")
		}
		if ack != model.AckError {
			t.Fatalf("expected AckError, got %d", ack)
		}
	})

	t.Run("missing ack", func(t *testing.T) {
		t.Parallel()
		gw := &fakeGateway{omitAck: true}
		srv := gw.server(t)
		client := NewGatewayClient(srv.URL, "http://dispatcher/cb")
		sess, err := client.Connect(context.Background(), "user-1", Events{})
		if err != nil {
			t.Fatalf("Connect() error: %v", err)
		}

		if _, err := sess.SendMessage(context.Background(), "911111111111", "Hi"); err == nil {
			t.Fatalf("expected error when response omits ack")
		}
	})
}

func TestGatewaySession_Close(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")

	sess, err := client.Connect(context.Background(), "user-1", Events{})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	gw.mu.Lock()
	deletes := append([]string(nil), gw.deletes...)
	gw.mu.Unlock()
	if len(deletes) != 1 || deletes[0] != "user-1" {
		t.Fatalf("expected DELETE for user-1, got %v", deletes)
	}

	// Closed sessions no longer receive events.
	if err := client.HandleEvent(ProviderEvent{SessionID: "user-1", Type: "ready"}); err == nil {
		t.Fatalf("expected error for events after close")
	}
}

func TestGatewayClient_HandleEventRouting(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")

	spy := &eventSpy{}
	if _, err := client.Connect(context.Background(), "user-1", spy.events()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	steps := []ProviderEvent{
		{SessionID: "user-1", Type: "qr", Code: "code-1"},
		{SessionID: "user-1", Type: "authenticated"},
		{SessionID: "user-1", Type: "ready"},
		{SessionID: "user-1", Type: "message", From: "911111111111", Body: "yes please"},
		{SessionID: "user-1", Type: "disconnected", Reason: "logged out"},
	}
	for _, ev := range steps {
		if err := client.HandleEvent(ev); err != nil {
			t.Fatalf("HandleEvent(%s) error: %v", ev.Type, err)
		}
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.codes) != 1 || spy.codes[0] != "code-1" {
		t.Fatalf("unexpected link codes %v", spy.codes)
	}
	if !spy.authed || !spy.ready {
		t.Fatalf("expected authenticated+ready, got authed=%v ready=%v", spy.authed, spy.ready)
	}
	if len(spy.messages) != 1 || spy.messages[0] != [2]string{"911111111111", "yes please"} {
		t.Fatalf("unexpected messages %v", spy.messages)
	}
	if len(spy.disconnected) != 1 || spy.disconnected[0] != "logged out" {
		t.Fatalf("unexpected disconnects %v", spy.disconnected)
	}
}

func TestGatewayClient_HandleEventUnknowns(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")

	if err := client.HandleEvent(ProviderEvent{SessionID: "ghost", Type: "ready"}); err == nil {
		t.Fatalf("expected error for unknown session")
	}

	if _, err := client.Connect(context.Background(), "user-1", Events{}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := client.HandleEvent(ProviderEvent{SessionID: "user-1", Type: "teleport"}); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}

func TestGatewayClient_DisconnectedEventForgetsSession(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := gw.server(t)
	client := NewGatewayClient(srv.URL, "http://dispatcher/cb")

	spy := &eventSpy{}
	if _, err := client.Connect(context.Background(), "user-1", spy.events()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := client.HandleEvent(ProviderEvent{SessionID: "user-1", Type: "disconnected", Reason: "conflict"}); err != nil {
		t.Fatalf("HandleEvent(disconnected) error: %v", err)
	}
	if err := client.HandleEvent(ProviderEvent{SessionID: "user-1", Type: "ready"}); err == nil {
		t.Fatalf("expected error after disconnect removed the handler")
	}
}
