package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"palaver/internal/models"
)

type sessionResolver interface {
	GetIdentity(token string) (models.Identity, error)
}

type arbiter interface {
	coordinator
	RegisterPresence(ctx context.Context, identity models.Identity, connID, deviceInfo, ipAddress string) error
}

// Server is the connection gateway: it authenticates the socket, resolves
// the duplicate-session race, and hands the connection to its event loop.
type Server struct {
	auth     sessionResolver
	svc      arbiter
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth sessionResolver, svc arbiter, hub *Hub) *Server {
	return &Server{
		auth: auth,
		svc:  svc,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("token")
	}
	identity, err := s.auth.GetIdentity(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "error", err)
		return
	}

	connID := uuid.NewString()
	c := NewConnection(s.hub, s.svc, conn, connID, identity)

	// Resolve any existing session before serving: the old connection gets
	// its warning and grace period, then this one takes over.
	if err := s.svc.RegisterPresence(r.Context(), identity, connID, r.UserAgent(), r.RemoteAddr); err != nil {
		slog.Error("presence registration failed", "identity", identity.ID, "error", err)
		s.hub.Unregister(connID)
		_ = conn.Close()
		return
	}

	slog.Info("connection established", "identity", identity.ID, "conn_id", connID)
	if err := c.Handle(r.Context()); err != nil {
		slog.Warn("connection closed with error", "conn_id", connID, "error", err)
	}
}
