package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/quadlo/internal/logging"
)

// WebServer exposes run events over HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
	log logging.Logger
}

// NewWebServer builds a server with /api/events, /api/status and the
// /api/live event stream.
func NewWebServer(addr string, hub *Hub, log logging.Logger) *WebServer {
	if log == nil {
		log = logging.Default()
	}
	return &WebServer{
		hub: hub,
		log: log,
		srv: &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/live", h.handleLive)
	return mux
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	w.log.Info("web telemetry listening", logging.Field{Key: "addr", Value: w.srv.Addr})
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.log.Error("web telemetry server error", logging.Err(err))
	}
}
