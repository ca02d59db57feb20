// Package api exposes the conversational intake and form-fill surface over
// HTTP. Handlers translate between JSON requests and the session machine and
// fill engine; all domain decisions live below this layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arji-ai/arji/internal/formfill"
	"github.com/arji-ai/arji/internal/health"
	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/internal/session"
)

// defaultMaxAudioBytes caps audio uploads at 15 MiB, enough for several
// minutes of uncompressed speech.
const defaultMaxAudioBytes = 15 << 20

// Option customises a [Server].
type Option func(*Server)

// WithMaxAudioBytes overrides the audio upload size limit.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Server) { s.maxAudioBytes = n }
}

// WithMetrics overrides the metrics sink used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server wires the session machine and fill engine to HTTP routes.
type Server struct {
	machine *session.Machine
	engine  *formfill.Engine
	health  *health.Handler

	metrics       *observe.Metrics
	maxAudioBytes int64
}

// New creates a Server. healthHandler may be nil when no readiness probes are
// wanted.
func New(machine *session.Machine, engine *formfill.Engine, healthHandler *health.Handler, opts ...Option) *Server {
	s := &Server{
		machine:       machine,
		engine:        engine,
		health:        healthHandler,
		maxAudioBytes: defaultMaxAudioBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router builds the full route tree, including health and metrics endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Route("/session", func(r chi.Router) {
		r.Post("/start", s.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Get("/questions", s.Questions)
			r.Post("/text", s.SubmitText)
			r.Post("/audio", s.SubmitAudio)
			r.Post("/skip", s.Skip)
			r.Get("/data", s.Data)
		})
	})

	r.Route("/form/{id}", func(r chi.Router) {
		r.Get("/preview", s.Preview)
		r.Post("/fill", s.Fill)
		r.Get("/status", s.FillStatus)
		r.Get("/screenshot", s.Screenshot)
	})

	if s.health != nil {
		s.health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// errorBody is the JSON shape of every error response. Retryable marks
// transient upstream failures where the client should resubmit the same turn.
type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}
