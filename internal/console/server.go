package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

// StatusFunc returns the latest status snapshot the agent heartbeat
// collected, and false when no heartbeat has completed yet.
type StatusFunc func() (invigil.Status, bool)

// Handler serves the console API endpoints.
type Handler struct {
	store  *Store
	hub    *Hub
	status StatusFunc
}

func NewHandler(store *Store, hub *Hub, status StatusFunc) *Handler {
	return &Handler{store: store, hub: hub, status: status}
}

// RegisterRoutes attaches the console endpoints to r.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/api/status", h.GetStatus).Methods("GET")
	r.HandleFunc("/api/alerts", h.GetAlerts).Methods("GET")
	r.HandleFunc("/ws", h.hub.ServeWS)
}

// statusResponse decorates the snapshot with history totals.
type statusResponse struct {
	invigil.Status
	AlertCount int64 `json:"alert_count"`
}

// GetStatus serves the latest heartbeat snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.status()
	if !ok {
		http.Error(w, "no heartbeat completed yet", http.StatusServiceUnavailable)
		return
	}
	count, err := h.store.Count()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		http.Error(w, "alert history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statusResponse{Status: st, AlertCount: count})
}

// GetAlerts serves the alert history, newest first. An optional
// ?limit=N caps the page.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	alerts, err := h.store.Recent(limit)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		http.Error(w, "alert history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, alerts)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] console: encode response: %v", err)
	}
}

// Server hosts the console on a loopback address.
type Server struct {
	listen string
	h      *Handler
}

func NewServer(listen string, h *Handler) *Server {
	return &Server{listen: listen, h: h}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	RegisterRoutes(r, s.h)

	srv := &http.Server{
		Addr:              s.listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("[INFO] console: listening on http://%s", s.listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("console: shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console: serve: %w", err)
		}
		return nil
	}
}
