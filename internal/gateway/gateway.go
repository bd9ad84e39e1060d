package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/pubsub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 1024
)

// clientMessage is what a websocket client sends to manage room membership.
type clientMessage struct {
	Event string `json:"event"`
	JobID string `json:"jobId"`
}

// serverMessage wraps a relayed progress event.
type serverMessage struct {
	Event   string          `json:"event"`
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// Gateway owns the hub and the single broker subscription feeding it.
type Gateway struct {
	hub      *Hub
	bus      pubsub.Subscriber
	upgrader websocket.Upgrader
}

// New creates a gateway. The origin check is left open; the HTTP layer in
// front applies CORS policy.
func New(bus pubsub.Subscriber) *Gateway {
	return &Gateway{
		hub: NewHub(),
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Hub exposes the room registry, primarily for tests and diagnostics.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Run consumes the progress pattern subscription until ctx is canceled,
// fanning each event out to its job's room.
func (g *Gateway) Run(ctx context.Context) error {
	events, stop, err := g.bus.SubscribePattern(ctx, model.ProgressTopicPattern)
	if err != nil {
		return err
	}
	defer stop()

	zap.L().Info("gateway relay started",
		zap.String("pattern", model.ProgressTopicPattern))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			g.relay(msg)
		}
	}
}

// relay extracts the job ID from the channel name and broadcasts the event.
func (g *Gateway) relay(msg pubsub.Message) {
	jobID := strings.TrimPrefix(msg.Channel, model.ProgressTopic(""))
	if jobID == "" || jobID == msg.Channel {
		zap.L().Warn("unroutable progress channel", zap.String("channel", msg.Channel))
		return
	}
	if g.hub.RoomSize(jobID) == 0 {
		return
	}

	out, err := json.Marshal(serverMessage{
		Event:   "progress",
		JobID:   jobID,
		Payload: json.RawMessage(msg.Payload),
	})
	if err != nil {
		zap.L().Warn("progress event marshal failed",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	g.hub.Broadcast(jobID, out)
}

// ServeWS upgrades the request and runs the connection's pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession()
	go g.writePump(conn, s)
	g.readPump(conn, s)
}

func (g *Gateway) readPump(conn *websocket.Conn, s *session) {
	defer func() {
		g.hub.LeaveAll(s)
		close(s.send)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.JobID == "" {
			continue
		}
		switch msg.Event {
		case "subscribe":
			g.hub.Join(msg.JobID, s)
		case "unsubscribe":
			g.hub.Leave(msg.JobID, s)
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
