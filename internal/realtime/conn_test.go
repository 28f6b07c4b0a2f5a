package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/propcount/internal/models"
)

type chanHandler struct {
	events    chan models.Envelope
	connected chan struct{}
	failed    chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		events:    make(chan models.Envelope, 16),
		connected: make(chan struct{}, 16),
		failed:    make(chan error, 16),
	}
}

func (h *chanHandler) Deliver(env models.Envelope) { h.events <- env }
func (h *chanHandler) Connected()                  { h.connected <- struct{}{} }
func (h *chanHandler) ConnectionFailed(err error)  { h.failed <- err }

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnRejoinsRoomAfterReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 4)
	auth := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	defer srv.Close()

	h := newChanHandler()
	c := Dial(context.Background(), Options{URL: wsURL(srv), Token: "tok", MinBackoff: 10 * time.Millisecond}, h, nil)
	defer c.Close()

	if got := wait(t, auth, "handshake"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	server := wait(t, conns, "server conn")
	wait(t, h.connected, "connected")

	if err := c.Emit(models.Envelope{Type: models.EventJoinRoom, Room: "office:Treasury"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	var join models.Envelope
	if err := server.ReadJSON(&join); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if join.Type != models.EventJoinRoom || join.Room != "office:Treasury" {
		t.Fatalf("join frame = %+v", join)
	}

	a := models.Asset{ID: "a1", Office: "Treasury"}
	if err := server.WriteJSON(models.Envelope{Type: models.EventAssetVerified, Room: "office:Treasury", Asset: &a}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if env := wait(t, h.events, "event"); env.Asset == nil || env.Asset.ID != "a1" {
		t.Errorf("event = %+v", env)
	}

	// Drop the connection; the client must reconnect and rejoin on its own.
	server.Close()
	wait(t, h.failed, "connection failure")
	server2 := wait(t, conns, "second server conn")
	defer server2.Close()
	wait(t, h.connected, "reconnected")

	server2.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := server2.ReadMessage()
	if err != nil {
		t.Fatalf("server2 read: %v", err)
	}
	var rejoin models.Envelope
	json.Unmarshal(data, &rejoin)
	if rejoin.Type != models.EventJoinRoom || rejoin.Room != "office:Treasury" {
		t.Errorf("rejoin frame = %+v", rejoin)
	}
}

func TestConnReportsDialFailure(t *testing.T) {
	h := newChanHandler()
	c := Dial(context.Background(), Options{URL: "ws://127.0.0.1:1/ws", MinBackoff: 10 * time.Millisecond}, h, nil)
	defer c.Close()

	if err := wait(t, h.failed, "dial failure"); err == nil {
		t.Error("expected a dial error")
	}
	if err := c.Emit(models.Envelope{Type: models.EventJoinRoom, Room: "office:X"}); err != ErrDisconnected {
		t.Errorf("Emit while down = %v, want ErrDisconnected", err)
	}
}
