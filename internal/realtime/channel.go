// Package realtime is the client side of the office-room pub/sub channel.
// Channel holds room membership and dispatches events on the owning loop;
// Conn is the websocket transport underneath it.
package realtime

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

// Transport sends frames to the server.
type Transport interface {
	Emit(env models.Envelope) error
}

// Poster schedules a task on the owning loop.
type Poster interface {
	Post(fn func()) bool
}

// ErrNoTransport is returned by room operations before Attach.
var ErrNoTransport = errors.New("realtime transport not attached")

// Channel is room-scoped: at most one office room is joined, and events
// for any other room are dropped. Membership methods and handlers run on
// the loop; Deliver, ConnectionFailed and Connected may be called from the
// transport goroutine.
type Channel struct {
	post Poster
	log  *logrus.Entry
	t    Transport

	room   string
	warned bool

	verified []func(models.Envelope)
	updated  []func(models.Envelope)
	connErr  []func(error)
}

// NewChannel creates a channel with no transport.
func NewChannel(post Poster, log *logrus.Logger) *Channel {
	return &Channel{post: post, log: logging.Or(log).WithField("component", "realtime")}
}

// Attach sets the transport.
func (c *Channel) Attach(t Transport) { c.t = t }

// Room returns the joined room key, or "".
func (c *Channel) Room() string { return c.room }

// OnVerified registers an asset-verified handler.
func (c *Channel) OnVerified(h func(models.Envelope)) { c.verified = append(c.verified, h) }

// OnStatusUpdated registers an asset-updated handler.
func (c *Channel) OnStatusUpdated(h func(models.Envelope)) { c.updated = append(c.updated, h) }

// OnConnectionError registers a handler fired once per connection outage.
func (c *Channel) OnConnectionError(h func(error)) { c.connErr = append(c.connErr, h) }

// JoinRoom joins the office room, leaving the current one first.
func (c *Channel) JoinRoom(office string) error {
	room := models.RoomFor(office)
	if c.room == room {
		return nil
	}
	if c.room != "" {
		if prev, ok := models.OfficeOf(c.room); ok {
			if err := c.LeaveRoom(prev); err != nil {
				return err
			}
		}
	}
	if c.t == nil {
		return ErrNoTransport
	}
	// Membership is recorded before the send so events racing the join
	// acknowledgement are attributed to the new room, not dropped.
	c.room = room
	if err := c.t.Emit(models.Envelope{Type: models.EventJoinRoom, Room: room}); err != nil {
		c.log.WithError(err).WithField("room", room).Warn("Join not sent; transport will rejoin on reconnect")
	}
	c.log.WithField("room", room).Info("Joined office room")
	return nil
}

// LeaveRoom leaves the office room if it is the joined one.
func (c *Channel) LeaveRoom(office string) error {
	room := models.RoomFor(office)
	if c.room != room {
		return nil
	}
	if c.t == nil {
		return ErrNoTransport
	}
	c.room = ""
	if err := c.t.Emit(models.Envelope{Type: models.EventLeaveRoom, Room: room}); err != nil {
		c.log.WithError(err).WithField("room", room).Warn("Leave not sent")
	}
	return nil
}

// SwitchOffice leaves the current room and joins office's in the same task.
// An empty office only leaves.
func (c *Channel) SwitchOffice(office string) error {
	if office == "" {
		if prev, ok := models.OfficeOf(c.room); ok {
			return c.LeaveRoom(prev)
		}
		return nil
	}
	return c.JoinRoom(office)
}

// Deliver hands an incoming frame to the loop.
func (c *Channel) Deliver(env models.Envelope) {
	c.post.Post(func() { c.dispatch(env) })
}

// Connected resets the one-shot outage warning.
func (c *Channel) Connected() {
	c.post.Post(func() {
		if c.warned {
			c.log.Info("Realtime connection restored")
		}
		c.warned = false
	})
}

// ConnectionFailed reports a connect/read error from the transport.
func (c *Channel) ConnectionFailed(err error) {
	c.post.Post(func() {
		if c.warned {
			return
		}
		c.warned = true
		c.log.WithError(err).Warn("Realtime connection error")
		for _, h := range c.connErr {
			h(err)
		}
	})
}

func (c *Channel) dispatch(env models.Envelope) {
	if env.Asset == nil {
		if env.Type != models.EventRoomJoined {
			c.log.WithField("type", env.Type).Debug("Frame without asset ignored")
		}
		return
	}
	room := env.Room
	if room == "" {
		room = models.RoomFor(env.Asset.Office)
	}
	if room != c.room || models.RoomFor(env.Asset.Office) != c.room {
		c.log.WithFields(logrus.Fields{"room": room, "joined": c.room, "assetId": env.Asset.ID}).Debug("Event for another room dropped")
		return
	}

	var handlers []func(models.Envelope)
	switch env.Type {
	case models.EventAssetVerified:
		handlers = c.verified
	case models.EventAssetUpdated:
		handlers = c.updated
	default:
		c.log.WithField("type", env.Type).Debug("Unknown event type")
		return
	}
	for _, h := range handlers {
		h(env)
	}
}
