// Package ws serves the event stream: one duplex websocket per session.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/router"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 4096
	commandTimeout = 10 * time.Second
)

// Registry registers sessions with the subscription router.
type Registry interface {
	Register(userID uuid.UUID) *router.Session
	Unregister(s *router.Session, reason string) bool
}

// Presence is driven by session lifecycle and inbound frames.
type Presence interface {
	Connected(userID uuid.UUID) models.PresenceRecord
	Disconnected(userID uuid.UUID) models.PresenceRecord
	Heartbeat(ctx context.Context, userID uuid.UUID) models.PresenceRecord
	SetStatus(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) (models.PresenceRecord, error)
}

// Typing handles typing frames after checking membership.
type Typing interface {
	SetTyping(ctx context.Context, chatID, userID uuid.UUID, typing bool) error
}

// TypingCleaner force-expires a user's typing keys.
type TypingCleaner interface {
	ExpireUser(userID uuid.UUID) int
}

// Handler upgrades authenticated requests to event stream sessions.
type Handler struct {
	registry  Registry
	identity  identity.Provider
	presence  Presence
	typing    Typing
	cleaner   TypingCleaner
	heartbeat time.Duration
	pongWait  time.Duration
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler builds a Handler. heartbeat is the interval advertised to clients; the
// server drops a connection that stays silent for two and a half intervals.
func NewHandler(registry Registry, provider identity.Provider, presence Presence, typing Typing, cleaner TypingCleaner,
	heartbeat time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Handler{
		registry:  registry,
		identity:  provider,
		presence:  presence,
		typing:    typing,
		cleaner:   cleaner,
		heartbeat: heartbeat,
		pongWait:  heartbeat * 5 / 2,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// AllowOrigins restricts upgrades to the given browser origins. "*" allows any.
func (h *Handler) AllowOrigins(origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
			return h
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
	return h
}

// Handle authenticates the request, upgrades it and starts the session.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, err := tokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthorized"})
		return
	}
	userID, err := h.identity.ValidateToken(ctx, token)
	if err != nil {
		status := apperrors.HTTPStatus(err)
		c.JSON(status, gin.H{"error": "invalid token", "code": apperrors.Code(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := h.registry.Register(userID)
	meta := observability.ClientMetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		SessionID:   sess.ID,
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: sess.ConnectedAt,
	}
	base := observability.WithHeaders(context.Background(), info.headers())

	h.presence.Connected(userID)
	observability.IncWSActive()
	publishLifecycle(base, info, "ws_connect", "")
	h.log.Debug("session connected", zap.String("user_id", userID.String()), zap.String("session_id", sess.ID.String()))

	go h.serve(base, conn, sess, info)
}

func (h *Handler) serve(base context.Context, conn *websocket.Conn, sess *router.Session, info ConnInfo) {
	ctx, cancel := context.WithCancel(base)
	replies := make(chan any, 8)
	writerDone := make(chan string, 1)
	go func() {
		writerDone <- h.writePump(ctx, conn, sess, replies)
	}()

	readErr := h.readPump(ctx, conn, sess, replies)
	cancel()
	writerReason := <-writerDone
	conn.Close()

	reason := sess.Reason()
	switch {
	case reason != "":
	case writerReason != "":
		reason = writerReason
	default:
		reason = router.ReasonClientClosed
	}

	if readErr != nil && reason == router.ReasonClientClosed &&
		!websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		publishLifecycle(base, info, "ws_error", readErr.Error())
	}

	if h.registry.Unregister(sess, reason) {
		h.cleaner.ExpireUser(info.UserID)
		h.presence.Disconnected(info.UserID)
	}
	observability.DecWSActive()
	publishLifecycle(base, info, "ws_disconnect", reason)
	h.log.Debug("session disconnected",
		zap.String("user_id", info.UserID.String()),
		zap.String("session_id", info.SessionID.String()),
		zap.String("reason", reason))
}

// readPump handles inbound frames until the connection fails.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess *router.Session, replies chan<- any) error {
	conn.SetReadLimit(maxFrameSize)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(h.pongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		if kind != websocket.TextMessage {
			continue
		}
		if err := h.handleFrame(ctx, sess.UserID, data); err != nil {
			frame := errorFrame{Type: "error", Error: err.Error(), Code: apperrors.Code(err)}
			var in inboundFrame
			if json.Unmarshal(data, &in) == nil {
				frame.Frame = in.Type
			}
			select {
			case replies <- frame:
			default:
			}
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, userID uuid.UUID, data []byte) error {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("malformed frame: %w", apperrors.ErrInvalid)
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch in.Type {
	case frameTyping:
		observability.IncWSEvent("frame_typing")
		if in.ChatID == uuid.Nil {
			return fmt.Errorf("chat_id is required: %w", apperrors.ErrInvalid)
		}
		return h.typing.SetTyping(ctx, in.ChatID, userID, in.IsTyping)
	case frameHeartbeat:
		observability.IncWSEvent("frame_heartbeat")
		h.presence.Heartbeat(ctx, userID)
		return nil
	case framePresence:
		observability.IncWSEvent("frame_presence")
		_, err := h.presence.SetStatus(ctx, userID, in.Status)
		return err
	default:
		return fmt.Errorf("unknown frame type %q: %w", in.Type, apperrors.ErrInvalid)
	}
}

// writePump sends the hello frame, then queued events and replies, and pings. It
// returns a disconnect reason when it ends the session itself.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sess *router.Session, replies <-chan any) string {
	events := make(chan models.Event)
	go func() {
		defer close(events)
		for {
			ev, err := sess.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingPeriod := h.pongWait * 9 / 20
	if pingPeriod <= 0 {
		pingPeriod = time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	fail := func(err error) string {
		h.log.Debug("websocket write failed", zap.String("session_id", sess.ID.String()), zap.Error(err))
		conn.Close()
		return router.ReasonWriteError
	}

	hello := helloFrame{Type: "session_started", SessionID: sess.ID, UserID: sess.UserID, HeartbeatIntervalMS: h.heartbeat.Milliseconds()}
	if err := write(hello); err != nil {
		return fail(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ""
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ""
				}
				h.closeWith(conn, sess.Reason())
				return ""
			}
			if err := write(ev); err != nil {
				return fail(err)
			}
		case reply := <-replies:
			if err := write(reply); err != nil {
				return fail(err)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fail(err)
			}
		}
	}
}

// closeWith tells the client why the server ended the session and closes the socket.
func (h *Handler) closeWith(conn *websocket.Conn, reason string) {
	code := websocket.CloseGoingAway
	if reason == router.ReasonBackpressure {
		code = websocket.CloseTryAgainLater
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		h.log.Debug("websocket close failed", zap.Error(err))
	}
	conn.Close()
}
