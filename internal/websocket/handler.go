package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"livepoll/internal/coordinator"
	"livepoll/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // classroom clients are served from a different origin in development
	},
	HandshakeTimeout: 10 * time.Second,
}

// Dispatcher accepts decoded commands. The coordinator implements it.
type Dispatcher interface {
	Submit(cmd coordinator.Command) error
}

// inbound mirrors types.Envelope but keeps data raw for per-event decoding.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler upgrades HTTP requests, registers the connection and pumps
// inbound envelopes into the dispatcher.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	settings   Settings
	logger     *zap.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, dispatcher Dispatcher, settings Settings, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		settings:   settings,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the request. Connections start unjoined; the
// client sends teacher:join or student:join to enter the roster.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(uuid.New().String(), conn, h.settings)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = wsConn.Close()
		return
	}

	h.logger.Debug("connection opened",
		zap.String("connection_id", wsConn.ID()),
		zap.String("remote_addr", r.RemoteAddr))

	go h.handleConnection(wsConn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		if err := h.dispatcher.Submit(coordinator.Leave{ConnectionID: conn.ID()}); err != nil {
			h.logger.Warn("failed to submit leave",
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
		}
		h.logger.Debug("connection closed", zap.String("connection_id", conn.ID()))
	}()

	if h.settings.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.settings.MaxMessageSize)
	}
	if h.settings.PongTimeout > 0 {
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.settings.PongTimeout)); err != nil {
			return
		}
		conn.conn.SetPongHandler(func(string) error {
			return conn.conn.SetReadDeadline(time.Now().Add(h.settings.PongTimeout))
		})
	}

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error",
					zap.String("connection_id", conn.ID()),
					zap.Error(err))
			}
			return
		}
		if h.settings.PongTimeout > 0 {
			_ = conn.conn.SetReadDeadline(time.Now().Add(h.settings.PongTimeout))
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

func (h *Handler) dispatch(conn *Connection, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reject(conn, "", ErrInvalidJSON)
		return
	}

	cmd, err := coordinator.DecodeCommand(conn.ID(), msg.Event, msg.Data)
	if err != nil {
		h.reject(conn, msg.Event, err)
		return
	}

	if err := h.dispatcher.Submit(cmd); err != nil {
		h.logger.Warn("command not accepted",
			zap.String("connection_id", conn.ID()),
			zap.String("event", msg.Event),
			zap.Error(err))
		h.reject(conn, msg.Event, err)
	}
}

func (h *Handler) reject(conn *Connection, event string, err error) {
	if sendErr := conn.Send(types.EventCommandRejected, types.Rejection{Event: event, Error: err.Error()}); sendErr != nil {
		h.logger.Debug("failed to send rejection",
			zap.String("connection_id", conn.ID()),
			zap.Error(sendErr))
	}
}
