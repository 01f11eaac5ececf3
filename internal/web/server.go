package web

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"espnow-lamp/internal/automation"
	"espnow-lamp/internal/node"
	"espnow-lamp/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string shown in the UI.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Lamp is the node surface the web interface reads and drives.
type Lamp interface {
	State() node.State
	SetLevel(level int, source string) int
	HandleGesture(g node.Gesture)
	Events() *node.EventBus
}

// Server is the HTTP server for the web interface.
type Server struct {
	lamp           Lamp
	peers          store.Store
	templates      *template.Template
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server. peers may be nil, in which case the
// peer endpoints report an empty table.
func NewServer(lamp Lamp, peers store.Store, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		lamp:      lamp,
		peers:     peers,
		templates: tmpl,
		logger:    logger.With("component", "web"),
		mux:       http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Every node event goes out on the WebSocket stream.
	s.unsubEvents = lamp.Events().OnAll(func(event node.Event) {
		s.wsHub.Broadcast(newWSMessage(event))
	})

	s.routes()
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// HTML
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	// REST API
	s.mux.HandleFunc("GET /api/state", s.handleAPIState)
	s.mux.HandleFunc("POST /api/gesture", s.handleAPIGesture)
	s.mux.HandleFunc("POST /api/level", s.handleAPISetLevel)
	s.mux.HandleFunc("GET /api/peers", s.handleAPIListPeers)
	s.mux.HandleFunc("DELETE /api/peers/{mac}", s.handleAPIDeletePeer)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP applies the origin check and API key auth, then routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// checkOrigin answers CORS preflights and rejects mutating cross-origin
// requests from origins outside allowedOrigins. It reports whether the
// request should continue.
func (s *Server) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.allowedOrigins) == 0 || origin == "" || r.Method == http.MethodGet {
		return true
	}
	if !s.isOriginAllowed(origin) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if r.Method != http.MethodOptions {
		return true
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
	return false
}

// authorized checks X-API-Key on /api/ only: browsers cannot send custom
// headers on page navigation or the WebSocket upgrade.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	key := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	peers, err := s.listPeers()
	if err != nil {
		s.logger.Error("list peers for index", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var scripts int
	if s.autoEngine != nil {
		scripts = s.autoEngine.Running()
	}

	s.renderTemplate(w, "index.html", map[string]any{
		"PageTitle": s.lamp.State().Name,
		"State":     s.lamp.State(),
		"Peers":     peers,
		"Scripts":   scripts,
	})
}

// renderTemplate renders to a buffer first, so partial write failures don't corrupt the response.
func (s *Server) renderTemplate(w http.ResponseWriter, name string, data map[string]any) {
	data["Version"] = s.version
	data["APIKey"] = s.apiKey
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template", "name", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write template response", "name", name, "err", err)
	}
}
