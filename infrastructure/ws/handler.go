// Package ws serves client connections over WebSocket.
package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Config struct {
	BufferSize     int
	MaxFrameBytes  int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Handler upgrades GET /ws/{room} requests and runs one session per
// connection until the client goes away.
type Handler struct {
	log      *slog.Logger
	chat     *services.ChatService
	config   Config
	upgrader websocket.Upgrader
}

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

func NewHandler(log *slog.Logger, chat *services.ChatService, config Config) *Handler {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	h := &Handler{log: log, chat: chat, config: config}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.config.AllowedOrigins, "*") || lo.Contains(h.config.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room, err := domain.NewRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "room", room.Name(), "error", err)
		return
	}

	// The connection outlives the HTTP handler bookkeeping of the request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	h.serve(ctx, conn, room)
}

func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, room domain.RoomID) {
	out := sink.NewConnectionSink(h.config.BufferSize)
	session := h.chat.NewSession(room, out)
	c := &connection{
		ws:     ws,
		sink:   out,
		config: h.config,
		log:    h.log.With("conn_id", session.ID(), "room", room.Name()),
	}

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	if err := session.Open(ctx); err != nil {
		c.log.Error("Failed to open session", "error", err)
		_ = out.Consume(ctx, event.NewError(errors.PublicMessage(err)))
	} else {
		c.readLoop(func(data []byte) {
			_ = session.Handle(ctx, data)
		})
	}

	session.Close()
	out.Close()
	<-writerDone
}

type connection struct {
	ws     *websocket.Conn
	sink   *sink.ConnectionSink
	config Config
	log    *slog.Logger
}

// readLoop hands every inbound frame to onFrame, one at a time, until the
// client disconnects or stops answering pings.
func (c *connection) readLoop(onFrame func([]byte)) {
	pongWait := 2 * c.config.PingInterval
	if c.config.MaxFrameBytes > 0 {
		c.ws.SetReadLimit(c.config.MaxFrameBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}
		if len(data) > 0 {
			onFrame(data)
		}
	}
}

// writeLoop is the only writer of the socket. It stops when the sink is
// closed, flushing what is already queued, or on the first write failure.
func (c *connection) writeLoop(done chan<- struct{}) {
	defer close(done)
	defer c.ws.Close()
	defer c.sink.Close()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-c.sink.Events():
			if err := c.write(e); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}
		case <-c.sink.Done():
			c.flush()
			deadline := time.Now().Add(c.config.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

func (c *connection) flush() {
	for {
		select {
		case e := <-c.sink.Events():
			if err := c.write(e); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(e event.Event) error {
	frame, err := event.Encode(e)
	if err != nil {
		c.log.Error("Failed to encode event", "type", e.Type(), "error", err)
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
