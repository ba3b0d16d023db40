package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tversen/spectrechat/internal/config"
)

// Gateway owns the HTTP surface of the relay: the WebSocket upgrade
// endpoint, origin enforcement, and the health check.
type Gateway struct {
	hub      *Hub
	cfg      config.Config
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	allowAll bool
	log      zerolog.Logger
}

// NewGateway builds a Gateway over a running hub with the configured
// security controls.
func NewGateway(cfg config.Config, hub *Hub, log zerolog.Logger) *Gateway {
	g := &Gateway{
		hub: hub,
		cfg: cfg,
		log: log,
	}
	g.origins, g.allowAll = normalizeOrigins(cfg.AllowedOrigins, log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Routes returns the gateway's HTTP mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	return mux
}

// WebSocketHandler upgrades the request, mints a connection id, and hands
// the socket to the hub. Registration fires the connect event, which is
// where the client learns its id.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	limiter := newRateLimiter(g.cfg.RateLimit.Burst, g.cfg.RateLimit.RefillInterval())
	client := newClient(id, conn, g.hub, r.RemoteAddr, g.cfg.MaxMessageSize, limiter, g.log)

	// The hub launches the pump goroutines on registration.
	g.hub.register <- client
}

// HealthHandler reports that the relay is up.
func (g *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "spectrechat relay is running")
}
