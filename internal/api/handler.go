package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// maxBodyBytes bounds request bodies; inline timelines can be large.
const maxBodyBytes = 8 << 20

// Deps are the collaborators behind the API. Cache, Bus and Metrics may be nil.
type Deps struct {
	Store      domain.TimelineStore
	Cache      domain.Cache
	Bus        domain.EventBus
	Engine     *rules.Engine
	Typologies *rules.TypologyEngine
	Scorer     domain.Scorer
	Pipeline   *worker.Pipeline
	Registry   *patterns.Registry
	Metrics    *metrics.Metrics

	// Generation is the base configuration POST /corpus overrides.
	Generation domain.GenerationConfig
	// MaxPopulation caps POST /corpus; zero means DefaultMaxPopulation.
	MaxPopulation int
	Version       string
}

// DefaultMaxPopulation caps corpora generated over HTTP.
const DefaultMaxPopulation = 50000

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Registry == nil {
		d.Registry = patterns.Default()
	}
	if d.MaxPopulation <= 0 {
		d.MaxPopulation = DefaultMaxPopulation
	}
	return &Handler{Deps: d}
}

// Health reports dependency health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.Store != nil {
		checks["store"] = "ok"
		if err := h.Store.Ping(r.Context()); err != nil {
			status, checks["store"] = "degraded", err.Error()
		}
	}
	if h.Cache != nil {
		checks["cache"] = "ok"
		if err := h.Cache.Ping(r.Context()); err != nil {
			status, checks["cache"] = "degraded", err.Error()
		}
	}
	if h.Bus != nil {
		checks["bus"] = "ok"
		if err := h.Bus.Ping(r.Context()); err != nil {
			status, checks["bus"] = "degraded", err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.Version,
		"checks":  checks,
	})
}

// Ready reports whether rules are loaded and the store answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Store.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
		"rules": h.Engine.RulesCount(),
	})
}

// ServeMetrics serves the Prometheus exposition.
func (h *Handler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	h.Metrics.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var violation *domain.InvariantViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     err.Error(),
			"violation": violationBody(violation),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrImpossibleSequence):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return false
	}
	return true
}

// asOf reads the optional asOf query parameter (RFC 3339).
func asOf(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("asOf")
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
