package ws

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/launcher"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	subscriberCap = 64
)

var upgrader = websocket.Upgrader{
	// Browser origins are filtered by the CORS middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handler streams events to WebSocket clients.
type Handler struct {
	events *launcher.Events
	logger *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(events *launcher.Events, logger *logging.Logger) *Handler {
	return &Handler{events: events, logger: logger.Component("ws")}
}

// HandleConnection upgrades the request and forwards events until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.events.Subscribe(subscriberCap)
	defer unsubscribe()

	replies := make(chan serverMessage, 4)
	closed := make(chan struct{})
	go h.read(conn, replies, closed)

	if err := h.send(conn, serverMessage{Type: "system", Message: "connected to netlaunch", Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case msg := <-replies:
			if err := h.send(conn, msg); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// read handles client messages. Replies go through the writer loop since a
// connection allows one writer at a time.
func (h *Handler) read(conn *websocket.Conn, replies chan<- serverMessage, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		reply := serverMessage{Type: "pong", Timestamp: time.Now().Unix()}
		if msg.Type != "ping" {
			reply = serverMessage{Type: "error", Message: "unknown message type", Timestamp: reply.Timestamp}
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(data)
}
