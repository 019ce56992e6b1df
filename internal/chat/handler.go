// Package chat adapts WebSocket connections to the session orchestrator.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/identity"
	"github.com/luiscore200/cotizador/internal/prompt"
	"github.com/luiscore200/cotizador/internal/session"
)

const writeTimeout = 10 * time.Second

// Orchestrator is the session lifecycle the transport drives.
type Orchestrator interface {
	OnConnect(ctx context.Context, id string, conn session.Conn) error
	OnMessage(ctx context.Context, id, text string) error
	OnDisconnect(id, reason string)
	Messages() prompt.Messages
}

// Limits bounds what one connection may send.
type Limits struct {
	MessagesPerMinute int
	Burst             int
	MaxMessageBytes   int64
	QueueSize         int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MessagesPerMinute: 20,
		Burst:             5,
		MaxMessageBytes:   8 << 10,
		QueueSize:         8,
	}
}

// Handler upgrades requests to WebSocket chat sessions.
type Handler struct {
	orch          Orchestrator
	limits        Limits
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a chat handler.
func NewHandler(orch Orchestrator, limits Limits, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	defaults := DefaultLimits()
	if limits.MaxMessageBytes <= 0 {
		limits.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if limits.QueueSize <= 0 {
		limits.QueueSize = defaults.QueueSize
	}
	if limits.Burst <= 0 {
		limits.Burst = defaults.Burst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:          orch,
		limits:        limits,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// inbound is a client frame. Type defaults to "message".
type inbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsConn implements session.Conn over a websocket.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, reply domain.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	ws.SetReadLimit(h.limits.MaxMessageBytes)
	defer func() {
		if closeErr := ws.CloseNow(); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	id := uuid.NewString()
	conn := &wsConn{ws: ws}
	logger := h.logger.With("session_id", id, "client_id", clientID)
	logger.Info("Chat connection accepted", "ip", identity.IPFromRequest(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queue := make(chan string, h.limits.QueueSize)
	done := make(chan struct{})

	// Dispatcher: turns for this connection run in arrival order.
	go func() {
		defer close(done)
		defer h.orch.OnDisconnect(id, session.ReasonClientClosed)

		if err := h.orch.OnConnect(ctx, id, conn); err != nil {
			logger.Error("Failed to open session", "error", err)
			cancel()
			return
		}
		for text := range queue {
			if ctx.Err() != nil {
				return
			}
			if err := h.orch.OnMessage(ctx, id, text); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return
				}
				logger.Warn("Failed to handle message", "error", err)
			}
		}
	}()

	h.readLoop(ctx, ws, conn, queue, logger)

	h.orch.OnDisconnect(id, session.ReasonClientClosed)
	close(queue)
	cancel()
	<-done
	logger.Info("Chat connection ended")
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn, queue chan<- string, logger *slog.Logger) {
	limiter := h.newLimiter()
	msgs := h.orch.Messages()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("WebSocket closed", "error", err)
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		if typ != websocket.MessageText {
			h.reply(ctx, conn, domain.Notice(domain.ReplyTypeError, msgs.BadRequest), logger)
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are treated as messages.
			msg = inbound{Type: "message", Message: string(data)}
		}

		switch msg.Type {
		case "", "message":
			text := strings.TrimSpace(msg.Message)
			if text == "" {
				continue
			}
			if !limiter.Allow() {
				logger.Debug("Message rate limited")
				h.reply(ctx, conn, domain.Notice(domain.ReplyTypeRateLimited, msgs.RateLimited), logger)
				continue
			}
			select {
			case queue <- text:
			default:
				h.reply(ctx, conn, domain.Notice(domain.ReplyTypeRateLimited, msgs.RateLimited), logger)
			}
		case "ping":
			h.reply(ctx, conn, domain.Notice(domain.ReplyTypePong, ""), logger)
		default:
			h.reply(ctx, conn, domain.Notice(domain.ReplyTypeError, msgs.BadRequest), logger)
		}
	}
}

func (h *Handler) reply(ctx context.Context, conn *wsConn, r domain.Reply, logger *slog.Logger) {
	if err := conn.Send(ctx, r); err != nil {
		logger.Debug("Failed to send notice", "type", r.Type, "error", err)
	}
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.limits.MessagesPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, h.limits.Burst)
	}
	return rate.NewLimiter(rate.Limit(float64(h.limits.MessagesPerMinute)/60), h.limits.Burst)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
