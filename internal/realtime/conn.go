package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next ping from the server.
	pingWait = 90 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	sendBuffer = 64
)

var (
	// ErrDisconnected is returned by Emit while no connection is up.
	ErrDisconnected = errors.New("realtime connection down")
	// ErrSendBufferFull is returned by Emit when the writer is not keeping up.
	ErrSendBufferFull = errors.New("realtime send buffer full")
)

// Handler receives what the transport reads. Methods are called from the
// transport goroutine.
type Handler interface {
	Deliver(env models.Envelope)
	Connected()
	ConnectionFailed(err error)
}

// Options configure Dial.
type Options struct {
	URL   string
	Token string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Conn keeps one websocket to the server alive, reconnecting with
// exponential backoff and rejoining the last joined room.
type Conn struct {
	opts Options
	h    Handler
	log  *logrus.Entry

	mu   sync.Mutex
	room string
	send chan []byte

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts the connection loop and returns immediately.
func Dial(ctx context.Context, opts Options, h Handler, log *logrus.Logger) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		opts:   opts,
		h:      h,
		log:    logging.Or(log).WithFields(logrus.Fields{"component": "realtime", "url": opts.URL}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Emit queues a frame. Join/leave frames also update the room that is
// rejoined after a reconnect, even when the send itself fails.
func (c *Conn) Emit(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch env.Type {
	case models.EventJoinRoom:
		c.room = env.Room
	case models.EventLeaveRoom:
		if c.room == env.Room {
			c.room = ""
		}
	}
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return ErrDisconnected
	}
	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops reconnecting and closes the socket.
func (c *Conn) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	backoff := c.opts.MinBackoff
	for {
		ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.h.ConnectionFailed(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}

		backoff = c.opts.MinBackoff
		c.serve(ctx, ws)
		if ctx.Err() != nil {
			return
		}
	}
}

// serve pumps one connection until it drops.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	send := make(chan []byte, sendBuffer)
	stop := make(chan struct{})

	c.mu.Lock()
	c.send = send
	room := c.room
	c.mu.Unlock()

	c.log.Info("🔌 Realtime connected")
	c.h.Connected()
	if room != "" {
		if data, err := json.Marshal(models.Envelope{Type: models.EventJoinRoom, Room: room}); err == nil {
			send <- data
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()
	go c.writePump(ws, send, stop)

	err := c.readPump(ws)

	close(stop)
	c.mu.Lock()
	if c.send == send {
		c.send = nil
	}
	c.mu.Unlock()
	ws.Close()

	if ctx.Err() == nil {
		c.log.WithError(err).Warn("Realtime connection lost")
		c.h.ConnectionFailed(err)
	}
}

func (c *Conn) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pingWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(pingWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(pingWait))

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.WithError(err).Debug("Malformed frame ignored")
			continue
		}
		c.h.Deliver(env)
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case message := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				ws.Close()
				return
			}
		}
	}
}
