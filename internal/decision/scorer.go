package decision

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var tracer = otel.Tracer("kestrel/decision")

// DefaultVelocityWindow is the window passed to rules reading velocity_count.
const DefaultVelocityWindow = 24 * time.Hour

// Scorer is the rule-based domain.Scorer: rules, then typologies, then a decision.
type Scorer struct {
	Rules          *rules.Engine
	Typologies     *rules.TypologyEngine
	Processor      *Processor
	VelocityWindow time.Duration
}

var _ domain.Scorer = (*Scorer)(nil)

// NewScorer wires the engines and processor together. typologies may be nil.
func NewScorer(engine *rules.Engine, typologies *rules.TypologyEngine, processor *Processor) *Scorer {
	if processor == nil {
		processor = NewProcessor()
	}
	return &Scorer{
		Rules:          engine,
		Typologies:     typologies,
		Processor:      processor,
		VelocityWindow: DefaultVelocityWindow,
	}
}

// Score evaluates every loaded rule over features and decides.
func (s *Scorer) Score(ctx context.Context, userID string, features map[string]float64) (*domain.Assessment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "decision.Score",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	results, err := s.Rules.EvaluateAll(ctx, &rules.EvaluateInput{
		UserID:         userID,
		Features:       features,
		VelocityWindow: s.VelocityWindow,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule evaluation failed")
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}
	rulesMs := time.Since(start).Milliseconds()

	var typologies []domain.TypologyResult
	if s.Typologies != nil && s.Processor.UseTypologies {
		typologies = s.Typologies.EvaluateTypologies(results)
	}

	a := s.Processor.Process(ctx, &DecisionInput{
		UserID:          userID,
		TraceID:         span.SpanContext().TraceID().String(),
		RuleResults:     results,
		TypologyResults: typologies,
		StartTime:       start,
	})
	a.Metadata.RulesMs = rulesMs
	if !span.SpanContext().TraceID().IsValid() {
		a.Metadata.TraceID = ""
	}

	span.SetAttributes(
		attribute.String("assessment.status", a.Status),
		attribute.Float64("assessment.score", a.Score),
		attribute.Int("rules.evaluated", len(results)),
	)
	return a, nil
}
