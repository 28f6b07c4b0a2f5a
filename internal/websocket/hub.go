package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

type membership struct {
	client *Client
	room   string
}

type roomMessage struct {
	room    string
	payload []byte
}

// Hub maintains the active clients, their office room, and fans out room
// messages. A client is in at most one room.
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Room key -> members
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan roomMessage

	broker Broker
	log    *logrus.Entry
	done   chan struct{}
}

// NewHub creates a hub publishing through broker. A nil broker fans out in-process only.
func NewHub(broker Broker, log *logrus.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan roomMessage, 256),
		done:       make(chan struct{}),
		log:        logging.Or(log).WithField("component", "hub"),
	}
	if broker == nil {
		broker = NewLocalBroker()
	}
	h.broker = broker
	return h
}

// Start subscribes to the broker and runs the hub's main loop until ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	err := h.broker.Subscribe(ctx, func(room string, payload []byte) {
		select {
		case h.broadcast <- roomMessage{room: room, payload: payload}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to room broker: %w", err)
	}
	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			return

		case client := <-h.register:
			if old, ok := h.clients[client.ID]; ok {
				h.drop(old)
			}
			h.clients[client.ID] = client
			h.log.WithFields(logrus.Fields{"client": client.ID, "operator": client.Operator}).Info("📱 Client connected")

		case client := <-h.unregister:
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				h.drop(client)
				h.log.WithField("client", client.ID).Info("📴 Client disconnected")
			}

		case m := <-h.join:
			if _, ok := h.clients[m.client.ID]; !ok {
				continue
			}
			h.removeFromRoom(m.client)
			members := h.rooms[m.room]
			if members == nil {
				members = make(map[*Client]bool)
				h.rooms[m.room] = members
			}
			members[m.client] = true
			m.client.room = m.room
			h.trySend(m.client, mustMarshal(models.Envelope{Type: models.EventRoomJoined, Room: m.room}))
			h.log.WithFields(logrus.Fields{"client": m.client.ID, "room": m.room}).Debug("Joined room")

		case m := <-h.leave:
			if m.client.room == m.room {
				h.removeFromRoom(m.client)
			}

		case msg := <-h.broadcast:
			for c := range h.rooms[msg.room] {
				h.trySend(c, msg.payload)
			}
		}
	}
}

// Publish sends env to every member of room on every instance sharing the broker.
func (h *Hub) Publish(ctx context.Context, room string, env models.Envelope) error {
	env.Room = room
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, room, data)
}

// PublishAsset publishes an asset event to the asset's office room.
func (h *Hub) PublishAsset(ctx context.Context, eventType string, asset, previous *models.Asset) error {
	return h.Publish(ctx, models.RoomFor(asset.Office), models.Envelope{Type: eventType, Asset: asset, Previous: previous})
}

func (h *Hub) doRegister(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) doUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) doJoin(c *Client, room string) {
	select {
	case h.join <- membership{client: c, room: room}:
	case <-h.done:
	}
}

func (h *Hub) doLeave(c *Client, room string) {
	select {
	case h.leave <- membership{client: c, room: room}:
	case <-h.done:
	}
}

func (h *Hub) drop(c *Client) {
	h.removeFromRoom(c)
	delete(h.clients, c.ID)
	close(c.send)
}

func (h *Hub) removeFromRoom(c *Client) {
	if c.room == "" {
		return
	}
	if members := h.rooms[c.room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

// trySend drops slow clients instead of blocking the hub.
func (h *Hub) trySend(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.WithField("client", c.ID).Warn("Send buffer full, dropping client")
		h.drop(c)
	}
}

func mustMarshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
