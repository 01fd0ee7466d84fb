/*

Read-only HTTP surface: health, live pool snapshots, registry status and
completed-round history, plus the websocket event feed. Trading itself is
not exposed here; trade submission belongs to the excluded front-end glue.

*/

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/thisispalash/tits-dot-fun/internal/events"
	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/registry"
	"github.com/thisispalash/tits-dot-fun/internal/state"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for pool protocol data.
type WebServer struct {
	router   *mux.Router
	port     string
	registry *registry.Registry
	hub      *events.Hub
}

// NewWebServer creates a web server over the given registry and event hub.
func NewWebServer(port string, reg *registry.Registry, hub *events.Hub) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		registry: reg,
		hub:      hub,
	}

	server.setupRoutes()
	return server
}

func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pools", ws.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{id:[0-9]+}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/registry/status", ws.handleRegistryStatus).Methods("GET")
	api.HandleFunc("/outcomes", ws.handleRecentOutcomes).Methods("GET")

	if ws.hub != nil {
		ws.router.HandleFunc("/ws", ws.hub.HandleWS)
	}

	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	handler := cors.Default().Handler(ws.router)
	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"active_pools": len(ws.registry.ActivePools()),
		"timestamp":    time.Now().UTC(),
	}
	if err := state.TestDBConnection(); err != nil {
		status["database"] = "unavailable"
	} else {
		status["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

func (ws *WebServer) handleListPools(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	ids := ws.registry.ActivePools()

	snapshots := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		p, err := ws.registry.Pool(id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, p.Snapshot(now))
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	p, err := ws.registry.Pool(types.PoolID(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot(time.Now().UTC()))
}

func (ws *WebServer) handleRegistryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_pools":       ws.registry.ActivePools(),
		"pending_randomness": ws.registry.PendingRandomness(),
		"current_height":     ws.registry.CurrentHeight().String(),
	})
}

func (ws *WebServer) handleRecentOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	outcomes, err := state.GetRecentOutcomes(limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "outcome history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
