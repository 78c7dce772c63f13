package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/validate"
)

// TimelineRequest carries an inline timeline.
type TimelineRequest struct {
	Timeline domain.Timeline `json:"timeline"`
	// AsOf is the extraction reference time; zero means now.
	AsOf time.Time `json:"asOf,omitzero"`
	// Connections and Groups predate the timeline.
	Connections []string `json:"connections,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// ViolationBody is the JSON form of an invariant violation.
type ViolationBody struct {
	Invariant string `json:"invariant"`
	Number    int    `json:"number,omitempty"`
	Index     int    `json:"index"`
	EventID   string `json:"eventId,omitempty"`
	Type      string `json:"type"`
	Detail    string `json:"detail"`
}

func violationBody(v *domain.InvariantViolation) ViolationBody {
	return ViolationBody{
		Invariant: string(v.Invariant),
		Number:    v.Invariant.Number(),
		Index:     v.Index,
		EventID:   v.EventID,
		Type:      string(v.Type),
		Detail:    v.Detail,
	}
}

func (h *Handler) readTimeline(w http.ResponseWriter, r *http.Request) (*TimelineRequest, bool) {
	var req TimelineRequest
	if !decode(w, r, &req) {
		return nil, false
	}
	tl := &req.Timeline
	if tl.User.ID == "" {
		writeError(w, http.StatusBadRequest, "timeline.user.id is required")
		return nil, false
	}
	for i, e := range tl.Events {
		if e.UserID != tl.User.ID {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d belongs to %q, not %q", i, e.UserID, tl.User.ID))
			return nil, false
		}
	}
	domain.SortEvents(tl.Events)
	return &req, true
}

// ValidateTimeline checks an inline timeline against the temporal invariants.
func (h *Handler) ValidateTimeline(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readTimeline(w, r)
	if !ok {
		return
	}

	constraints := validate.Global(h.Generation.RequireJobView)
	extra, _, err := validate.Exprs(h.Generation.Constraints)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	constraints = append(constraints, extra...)

	err = validate.Check(req.Timeline, validate.Options{
		SessionGap:  h.Generation.SessionGap,
		Constraints: constraints,
		Connections: req.Connections,
		Groups:      req.Groups,
	})
	var violation *domain.InvariantViolation
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "events": req.Timeline.Len()})
	case errors.As(err, &violation):
		h.Metrics.ObserveViolation(string(violation.Invariant))
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":     false,
			"events":    req.Timeline.Len(),
			"violation": violationBody(violation),
		})
	default:
		writeDomainError(w, err)
	}
}

func (h *Handler) extractInline(r *http.Request, req *TimelineRequest) (features.Vector, error) {
	at := req.AsOf
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var shared features.SharedIPs = features.NewEmptySharedIPIndex(h.bucket())
	if h.Pipeline != nil && h.Pipeline.Velocity != nil {
		idx, err := h.Pipeline.Velocity.SharedIPs(r.Context(), req.Timeline, h.bucket())
		if err != nil {
			return features.Vector{}, err
		}
		shared = idx
	}

	vec := features.Extract(req.Timeline, shared, at)
	h.Metrics.ObserveVectors(1)
	return vec, nil
}

func (h *Handler) bucket() time.Duration {
	if h.Pipeline != nil && h.Pipeline.SharedIPBucket > 0 {
		return h.Pipeline.SharedIPBucket
	}
	return features.DefaultBucket
}

// ExtractFeatures turns an inline timeline into a feature vector with the
// same function generation uses.
func (h *Handler) ExtractFeatures(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readTimeline(w, r)
	if !ok {
		return
	}
	vec, err := h.extractInline(r, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   req.Timeline.User.ID,
		"features": vec,
	})
}

// AssessTimeline extracts and scores an inline timeline.
func (h *Handler) AssessTimeline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := h.readTimeline(w, r)
	if !ok {
		return
	}
	vec, err := h.extractInline(r, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	featuresMs := time.Since(start).Milliseconds()

	a, err := h.Scorer.Score(r.Context(), req.Timeline.User.ID, vec.Map())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	a.Metadata.TraceID = GetTraceID(r.Context())
	a.Metadata.FeaturesMs = featuresMs
	a.Metadata.TotalMs = time.Since(start).Milliseconds()
	h.Metrics.ObserveAssessment(a.Status, time.Since(start))

	if h.Store != nil {
		if err := h.Store.SaveAssessment(r.Context(), a); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.response(a, vec.Map()))
}
