// Package ingest implements the IngestAPI boundary of spec.md §4.1: an
// HTTP frontend accepting structured or raw events, gated by a
// blocklist check and a rate limit before the body is even parsed.
package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"sentrywire/internal/event"
	"sentrywire/internal/metrics"
	"sentrywire/internal/queue"
	"sentrywire/internal/statestore"
)

const rateLimitWindow = 60 * time.Second

// wireEvent is the JSON wire shape for POST /ingest/logs, matching
// spec.md §6's event schema: required source/message, optional
// level/timestamp/metadata, passthrough ip/user for already-structured
// producers.
type wireEvent struct {
	Source    string         `json:"source" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	Level     string         `json:"level,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IP        string         `json:"ip,omitempty"`
	User      string         `json:"user,omitempty"`
}

// Server wires chi routing, CORS, and the two ingest handlers together.
type Server struct {
	store     statestore.Store
	queue     queue.Queue
	validate  *validator.Validate
	threshold int64
	router    chi.Router
}

// NewServer builds a Server bound to store and q. threshold is the
// per-minute rate limit (spec.md §4.1 default 1000).
func NewServer(store statestore.Store, q queue.Queue, threshold int64) *Server {
	if threshold <= 0 {
		threshold = 1000
	}
	s := &Server{store: store, queue: q, validate: validator.New(), threshold: threshold}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST"},
		AllowedHeaders: []string{"Content-Type", "X-Source-Host", "X-App-Name"},
	}))
	r.Post("/ingest/logs", s.handleLogs)
	r.Post("/ingest/raw", s.handleRaw)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// gate runs the two ordered gates spec.md §4.1/invariant #6 requires:
// blocklist check strictly before the rate-limit counter is touched,
// both before the request body is parsed.
func (s *Server) gate(w http.ResponseWriter, r *http.Request) (clientIP string, ok bool) {
	clientIP = clientIPFromRequest(r)

	ctx := r.Context()
	if _, blocked, err := s.store.IsBlocked(ctx, clientIP); err != nil {
		slog.Error("blocklist check failed", "ip", clientIP, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return clientIP, false
	} else if blocked {
		metrics.IngestRequestsTotal.WithLabelValues(r.URL.Path, "blocked").Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return clientIP, false
	}

	count, err := s.store.IncrementRate(ctx, "rate_limit:"+clientIP, rateLimitWindow)
	if err != nil {
		slog.Error("rate limit increment failed", "ip", clientIP, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return clientIP, false
	}
	if count > s.threshold {
		metrics.IngestRequestsTotal.WithLabelValues(r.URL.Path, "rate_limited").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return clientIP, false
	}

	return clientIP, true
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.gate(w, r); !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var items []wireEvent
	if err := json.Unmarshal(body, &items); err != nil {
		var single wireEvent
		if err := json.Unmarshal(body, &single); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		items = []wireEvent{single}
	}

	requestID := uuid.NewString()
	sourceHost := r.Header.Get("X-Source-Host")
	appName := r.Header.Get("X-App-Name")

	var queued int
	for _, item := range items {
		if err := s.validate.Struct(item); err != nil {
			slog.Warn("rejecting invalid event", "request_id", requestID, "error", err)
			continue
		}
		e := toEvent(item)
		// Header-provided infra tags land only in metadata, never at
		// top level (original_source/backend/app/api/v1/endpoints/ingest.py).
		if sourceHost != "" {
			e.Metadata["source_host"] = sourceHost
		}
		if appName != "" {
			e.Metadata["app_name"] = appName
		}

		data, err := queue.Encode(e)
		if err != nil {
			slog.Error("failed to encode event", "request_id", requestID, "error", err)
			continue
		}
		if err := s.queue.Push(r.Context(), data); err != nil {
			slog.Error("failed to queue event", "request_id", requestID, "error", err)
			continue
		}
		queued++
	}

	metrics.IngestRequestsTotal.WithLabelValues("/ingest/logs", "queued").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "count": queued})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	clientIP, ok := s.gate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	e := event.New("raw_ingest", string(body))
	e.Metadata["source_ip"] = clientIP
	e.Metadata["raw_format"] = "text"

	data, err := queue.Encode(e)
	if err != nil {
		slog.Error("failed to encode raw event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Push(r.Context(), data); err != nil {
		slog.Error("failed to queue raw event", "error", err)
		metrics.IngestRequestsTotal.WithLabelValues("/ingest/raw", "queue_failed").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.IngestRequestsTotal.WithLabelValues("/ingest/raw", "queued").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func toEvent(w wireEvent) *event.Event {
	e := event.New(w.Source, w.Message)
	if w.Level != "" {
		e.Level = w.Level
	}
	if w.Timestamp != nil {
		e.Timestamp = *w.Timestamp
	}
	if w.Metadata != nil {
		for k, v := range w.Metadata {
			e.Metadata[k] = v
		}
	}
	e.IP = w.IP
	e.User = w.User
	return e
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
