package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// ingestWindow is the counter window for per-user ingest rates.
const ingestWindow = time.Minute

// Pipeline loads a stored timeline, extracts its vector and scores it.
// Cache, Velocity and Metrics may be nil.
type Pipeline struct {
	Store    domain.TimelineStore
	Cache    domain.Cache
	Velocity *velocity.Service
	Scorer   domain.Scorer
	Metrics  *metrics.Metrics

	VectorTTL      time.Duration
	SharedIPBucket time.Duration
}

// Result is one scored timeline.
type Result struct {
	Vector     features.Vector
	Assessment *domain.Assessment
}

// Vector returns the feature vector of userID as of asOf, extracting and
// caching it on a miss.
func (p *Pipeline) Vector(ctx context.Context, userID string, asOf time.Time) (features.Vector, error) {
	if p.Cache != nil {
		sv, err := p.Cache.GetVector(ctx, userID)
		if err != nil {
			slog.Warn("vector cache read failed", "user_id", userID, "error", err)
		}
		if sv != nil && !sv.ExtractedAt.Before(asOf) {
			if v, err := fromStored(sv); err == nil {
				return v, nil
			}
		}
	}
	v, _, err := p.extract(ctx, userID, asOf)
	return v, err
}

// Assess extracts and scores the stored timeline of userID, persists the
// vector and the assessment, and returns both.
func (p *Pipeline) Assess(ctx context.Context, userID string, asOf time.Time, traceID string) (*Result, error) {
	if p.Scorer == nil {
		return nil, fmt.Errorf("%w: no scorer configured", domain.ErrConfiguration)
	}
	start := time.Now()

	vec, took, err := p.extract(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}

	a, err := p.Scorer.Score(ctx, userID, vec.Map())
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", userID, err)
	}
	a.Metadata.FeaturesMs = took.Milliseconds()
	a.Metadata.TotalMs = time.Since(start).Milliseconds()
	if traceID != "" {
		a.Metadata.TraceID = traceID
	}
	p.Metrics.ObserveAssessment(a.Status, time.Since(start)-took)

	if err := p.Store.SaveAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	return &Result{Vector: vec, Assessment: a}, nil
}

func (p *Pipeline) extract(ctx context.Context, userID string, asOf time.Time) (features.Vector, time.Duration, error) {
	start := time.Now()

	tl, err := p.Store.GetTimeline(ctx, userID)
	if err != nil {
		return features.Vector{}, 0, err
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var shared features.SharedIPs
	if p.Velocity != nil {
		idx, err := p.Velocity.SharedIPs(ctx, *tl, p.bucket())
		if err != nil {
			return features.Vector{}, 0, fmt.Errorf("shared ip index: %w", err)
		}
		shared = idx
	} else {
		shared = features.NewEmptySharedIPIndex(p.bucket())
	}

	vec := features.Extract(*tl, shared, asOf)
	took := time.Since(start)
	p.Metrics.ObserveVectors(1)

	sv := Stored(userID, vec, asOf)
	if err := p.Store.SaveFeatureVector(ctx, userID, sv); err != nil {
		return features.Vector{}, 0, fmt.Errorf("save feature vector: %w", err)
	}
	if p.Cache != nil {
		if err := p.Cache.SetVector(ctx, userID, sv, p.VectorTTL); err != nil {
			slog.Warn("vector cache write failed", "user_id", userID, "error", err)
		}
	}
	return vec, took, nil
}

func (p *Pipeline) bucket() time.Duration {
	if p.SharedIPBucket > 0 {
		return p.SharedIPBucket
	}
	return features.DefaultBucket
}

// Stored converts a vector into its persisted form.
func Stored(userID string, v features.Vector, at time.Time) *domain.StoredVector {
	return &domain.StoredVector{
		UserID:      userID,
		Names:       features.Names[:],
		Values:      v.Values(),
		ExtractedAt: at,
	}
}

func fromStored(sv *domain.StoredVector) (features.Vector, error) {
	if len(sv.Names) != len(sv.Values) {
		return features.Vector{}, errors.New("stored vector names and values differ in length")
	}
	m := make(map[string]float64, len(sv.Names))
	for i, name := range sv.Names {
		m[name] = sv.Values[i]
	}
	return features.FromMap(m)
}
