package room

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	roomservice "github.com/zhouzirui/z-switchboard/backend/internal/service/room"
)

func setupServer(t *testing.T, available func() bool, origins []string) (*httptest.Server, *roomservice.Hub) {
	t.Helper()
	hub := roomservice.NewHub(nil)
	r := chi.NewRouter()
	NewWebSocketHandler(hub, available, origins).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWebSocketJoinsRoom(t *testing.T) {
	srv, hub := setupServer(t, nil, nil)
	created := make(chan *roomservice.Room, 1)
	hub.OnRoomCreated(func(r *roomservice.Room) { created <- r })

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/rooms/call-_+15551234567/ws?identity=caller&kind=sip"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	select {
	case r := <-created:
		if r.Name() != "call-_+15551234567" {
			t.Fatalf("unexpected room %s", r.Name())
		}
		participants := r.Participants()
		if len(participants) != 1 || participants[0].Kind != "sip" {
			t.Fatalf("expected one sip participant, got %+v", participants)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room was not created")
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	srv, _ := setupServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/rooms/lobby/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketUnavailableEngine(t *testing.T) {
	srv, _ := setupServer(t, func() bool { return false }, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/rooms/lobby/ws?identity=james"), nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

func TestWebSocketRejectsDuplicateIdentity(t *testing.T) {
	srv, hub := setupServer(t, nil, nil)
	joined := make(chan struct{}, 1)
	hub.OnRoomCreated(func(*roomservice.Room) { joined <- struct{}{} })

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/rooms/lobby/ws?identity=james"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer first.Close()
	<-joined

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/rooms/lobby/ws?identity=james"), nil)
	if err == nil {
		t.Fatal("expected duplicate identity to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %+v", resp)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if !check(req) {
		t.Fatal("requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://dash.example")
	if !check(req) {
		t.Fatal("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("unknown origin accepted")
	}
}
