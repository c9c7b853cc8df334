package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ndelin/aide/internal/auth"
	"github.com/ndelin/aide/internal/metrics"
	"github.com/ndelin/aide/internal/store"
)

// Handler upgrades HTTP requests to conversation WebSocket sessions.
type Handler struct {
	authn         *auth.Authenticator
	registry      *Registry
	relay         Relayer
	runner        OperationRunner
	limiter       *Limiter
	transcript    TranscriptLogger
	repo          store.Repository
	pingInterval  time.Duration
	allowedOrigin string
	isDev         bool
}

// HandlerParams carries the dependencies for a Handler.
type HandlerParams struct {
	Authenticator *auth.Authenticator
	Registry      *Registry
	Relay         Relayer
	Runner        OperationRunner
	Limiter       *Limiter
	Transcript    TranscriptLogger
	Repo          store.Repository
	PingInterval  time.Duration
	AllowedOrigin string
	IsDev         bool
}

// NewHandler creates a WebSocket session handler.
func NewHandler(p HandlerParams) *Handler {
	if p.PingInterval <= 0 {
		p.PingInterval = 30 * time.Second
	}
	return &Handler{
		authn:         p.Authenticator,
		registry:      p.Registry,
		relay:         p.Relay,
		runner:        p.Runner,
		limiter:       p.Limiter,
		transcript:    p.Transcript,
		repo:          p.Repo,
		pingInterval:  p.PingInterval,
		allowedOrigin: p.AllowedOrigin,
		isDev:         p.IsDev,
	}
}

// wsConn adapts *websocket.Conn to the session Conn interface. Outbound
// frames are text; inbound frame types are not distinguished.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// ServeHTTP accepts the WebSocket, authenticates the credential and runs
// the session until disconnect. Authentication failures close the socket
// with the failure as the close reason; no events are exchanged first.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("WebSocket connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	credential := auth.CredentialFromRequest(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"bearer"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}

	user, err := h.authn.Authenticate(r.Context(), credential)
	if err != nil {
		h.rejectConnection(ws, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{ws: ws}
	sess := NewSession(ctx, Params{
		UserID:     user.UserID,
		Conn:       conn,
		Relay:      h.relay,
		Runner:     h.runner,
		Limiter:    h.limiter,
		Transcript: h.transcript,
		Repo:       h.repo,
	})
	defer sess.Terminate(websocket.StatusNormalClosure, "session ended")

	h.registry.Register(user.UserID, sess)
	metrics.SessionOpened()
	defer func() {
		h.registry.Unregister(user.UserID, sess)
		metrics.SessionClosed()
	}()

	sess.SendEvent(newEvent(EventConnected, "connected", false))

	go WatchLiveness(ctx, conn, h.pingInterval, func() {
		metrics.RecordLivenessTimeout()
		slog.Info("Liveness timeout, terminating session", "user_id", user.UserID, "conn_id", sess.ConnectionID())
		sess.Terminate(websocket.StatusGoingAway, "ping timeout")
	})

	sess.Run()
	slog.Info("Session ended", "user_id", user.UserID, "conn_id", sess.ConnectionID())
}

// rejectConnection closes a just-accepted socket with the authentication
// failure as the close reason. Infrastructure failures are not forwarded to
// the client verbatim.
func (h *Handler) rejectConnection(ws *websocket.Conn, err error) {
	code := websocket.StatusPolicyViolation
	reason := err.Error()

	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		metrics.RecordAuthFailure("missing")
	case errors.Is(err, auth.ErrExpiredCredential):
		metrics.RecordAuthFailure("expired")
	case errors.Is(err, auth.ErrInvalidCredential):
		metrics.RecordAuthFailure("invalid")
	default:
		metrics.RecordAuthFailure("internal")
		code = websocket.StatusInternalError
		reason = "internal error"
		slog.Error("Authentication backend failure", "error", err)
	}

	slog.Info("WebSocket connection rejected", "reason", reason)
	if closeErr := ws.Close(code, reason); closeErr != nil {
		slog.Debug("Failed to close rejected connection", "error", closeErr)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
