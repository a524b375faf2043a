package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/eventbus"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/planner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
)

// WorkerStatusFunc supplies the live worker snapshots
type WorkerStatusFunc func() []domain.WorkerStatus

// Server is the HTTP API server
type Server struct {
	store   *taskstore.Store
	planner *planner.Planner
	bus     *eventbus.Bus
	tracker *observer.Tracker
	workers WorkerStatusFunc
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, store *taskstore.Store, p *planner.Planner, bus *eventbus.Bus, tracker *observer.Tracker, workers WorkerStatusFunc) *Server {
	s := &Server{
		store:   store,
		planner: p,
		bus:     bus,
		tracker: tracker,
		workers: workers,
		mux:     http.NewServeMux(),
	}
	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/tasks", s.tasksHandler())
	s.mux.HandleFunc("/api/tasks/", s.taskHandler())
	s.mux.HandleFunc("/api/workers", s.workersHandler())
	s.mux.HandleFunc("/ws", s.wsHandler())
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
