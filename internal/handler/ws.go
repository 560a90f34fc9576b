package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/adoptly/chat-service/internal/auth"
	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/repository"
	"github.com/adoptly/chat-service/internal/ws"
	"github.com/gorilla/websocket"
)

// UserLookup resolves an authenticated subject to a full user record.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// WSHandler is the connection gate: it authenticates the bearer credential,
// resolves the principal and hands admitted connections to the hub.
type WSHandler struct {
	hub            *ws.Hub
	verifier       *auth.Verifier
	users          UserLookup
	allowedOrigins string
}

// NewWSHandler builds the gate. allowedOrigins follows the CORS config:
// comma-separated list or "*".
func NewWSHandler(hub *ws.Hub, verifier *auth.Verifier, users UserLookup, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		verifier:       verifier,
		users:          users,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// credential extracts the bearer token. Browsers cannot set headers on
// WebSocket dials, so the token query parameter is checked first, with the
// Authorization header as a fallback for non-browser clients.
func credential(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if hdr := r.Header.Get("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
		return strings.TrimPrefix(hdr, "Bearer ")
	}
	return ""
}

// ServeWS authenticates and upgrades a chat connection.
// The credential is validated before the protocol upgrade; a rejected client
// gets a plain HTTP status, never a half-open socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(credential(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			logger.Infof("ws reject: no credential from %s", r.RemoteAddr)
		case errors.Is(err, auth.ErrTokenExpired):
			logger.Infof("ws reject: expired credential from %s", r.RemoteAddr)
		default:
			logger.Infof("ws reject: malformed credential from %s", r.RemoteAddr)
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Infof("ws reject: unknown principal %s", claims.Subject)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger.Errorf("ws gate: lookup user=%s: %v", claims.Subject, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if user.Status == model.UserStatusDisabled {
		logger.Infof("ws reject: disabled account %s", user.ID)
		writeError(w, http.StatusForbidden, "account disabled")
		return
	}

	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
