package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/xelth-com/propcount/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil, nil)
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, "tester", w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	ws, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *gws.Conn) models.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env models.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func join(t *testing.T, ws *gws.Conn, room string) {
	t.Helper()
	if err := ws.WriteJSON(models.Envelope{Type: models.EventJoinRoom, Room: room}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := read(t, ws); ack.Type != models.EventRoomJoined || ack.Room != room {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	hub, srv := startHub(t)

	treasury := dial(t, srv)
	assessor := dial(t, srv)
	join(t, treasury, "office:Treasury")
	join(t, assessor, "office:Assessor")

	a := &models.Asset{ID: "a1", Office: "Treasury"}
	if err := hub.PublishAsset(context.Background(), models.EventAssetVerified, a, nil); err != nil {
		t.Fatalf("PublishAsset: %v", err)
	}
	b := &models.Asset{ID: "b1", Office: "Assessor"}
	hub.PublishAsset(context.Background(), models.EventAssetVerified, b, nil)

	if env := read(t, treasury); env.Asset == nil || env.Asset.ID != "a1" || env.Room != "office:Treasury" {
		t.Errorf("treasury got %+v", env)
	}
	if env := read(t, assessor); env.Asset == nil || env.Asset.ID != "b1" {
		t.Errorf("assessor got %+v", env)
	}
}

func TestJoinMovesClientBetweenRooms(t *testing.T) {
	hub, srv := startHub(t)

	ws := dial(t, srv)
	join(t, ws, "office:Treasury")
	join(t, ws, "office:Assessor")

	hub.PublishAsset(context.Background(), models.EventAssetVerified, &models.Asset{ID: "t1", Office: "Treasury"}, nil)
	hub.PublishAsset(context.Background(), models.EventAssetVerified, &models.Asset{ID: "a1", Office: "Assessor"}, nil)

	if env := read(t, ws); env.Asset == nil || env.Asset.ID != "a1" {
		t.Errorf("got %+v, want only the Assessor event", env)
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub, srv := startHub(t)

	ws := dial(t, srv)
	join(t, ws, "office:Treasury")
	ws.WriteJSON(models.Envelope{Type: models.EventLeaveRoom, Room: "office:Treasury"})
	// A join to another room after the leave acts as a barrier.
	join(t, ws, "office:Assessor")

	hub.PublishAsset(context.Background(), models.EventAssetVerified, &models.Asset{ID: "t1", Office: "Treasury"}, nil)
	hub.PublishAsset(context.Background(), models.EventAssetUpdated, &models.Asset{ID: "a1", Office: "Assessor"}, nil)

	if env := read(t, ws); env.Type != models.EventAssetUpdated {
		t.Errorf("got %+v", env)
	}
}
