// The HTTP edge: WebSocket upgrades on /api/v1/ws plus read-only debug
// endpoints over the registries and an operator notice endpoint. Keep
// CheckOrigin permissive only behind a trusted proxy; in production lock
// it down.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"session-relay/internal/config"
	"session-relay/internal/registry"
	"session-relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the registries, the router, and the HTTP surface.
type Server struct {
	cfg      config.Config
	clients  *registry.Clients
	sessions *registry.Sessions
	router   *relay.Router
	log      zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	clients := registry.NewClients()
	sessions := registry.NewSessions(clients)
	router := relay.NewRouter(clients, sessions, relay.Options{
		Echo:       cfg.BroadcastEcho,
		SendBuffer: cfg.SendBuffer,
	}, log)

	return &Server{
		cfg:      cfg,
		clients:  clients,
		sessions: sessions,
		router:   router,
		log:      log.With().Str("component", "server").Logger(),
	}
}

// Handler returns the full HTTP handler, CORS-wrapped.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/ws", s.serveWS)
	r.HandleFunc("/api/v1/clients", s.getClients).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions", s.getSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/notice", s.postNotice).Methods(http.MethodPost)
	return handlers.CORS()(r)
}

func (s *Server) getClients(w http.ResponseWriter, _ *http.Request) {
	writeIndented(w, s.clients.All())
}

func (s *Server) getSessions(w http.ResponseWriter, _ *http.Request) {
	writeIndented(w, s.sessions.All())
}

func (s *Server) postNotice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad notice body", http.StatusBadRequest)
		return
	}
	s.router.Notice(body.Message)
	w.WriteHeader(http.StatusNoContent)
}

func writeIndented(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	res, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(res)
}
