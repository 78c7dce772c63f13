// Package decision aggregates rule and typology results into an assessment.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "kestrel-1.0"

// AggregateTypologyID names the synthetic typology built when scoring by rules alone.
const AggregateTypologyID = "typology-rule-aggregate"

// Processor turns rule results into an ALRT/NALT decision.
type Processor struct {
	// AlertThreshold is the aggregate score at or above which a timeline alerts.
	AlertThreshold float64

	UseWeightedScoring bool

	// UseTypologies decides on typology results when any are supplied.
	UseTypologies bool
}

// NewProcessor returns a processor scoring by weighted rules with the default threshold.
func NewProcessor() *Processor {
	return &Processor{
		AlertThreshold:     0.7,
		UseWeightedScoring: true,
	}
}

// NewTypologyProcessor returns a processor that decides on typology results.
func NewTypologyProcessor() *Processor {
	p := NewProcessor()
	p.UseTypologies = true
	return p
}

// FromConfig builds a processor from scoring settings.
func FromConfig(cfg domain.ScoringConfig) *Processor {
	p := NewProcessor()
	if cfg.AlertThreshold > 0 {
		p.AlertThreshold = cfg.AlertThreshold
	}
	p.UseTypologies = cfg.UseTypologies
	return p
}

// DecisionInput is everything a decision needs.
type DecisionInput struct {
	UserID          string
	TraceID         string
	RuleResults     []domain.RuleResult
	TypologyResults []domain.TypologyResult
	StartTime       time.Time
}

// Process decides on input. A rule in the fail band always alerts.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Assessment {
	start := time.Now()

	a := &domain.Assessment{
		ID:          uuid.New().String(),
		UserID:      input.UserID,
		Timestamp:   start.UTC(),
		RuleResults: input.RuleResults,
	}

	agg := p.aggregate(input.RuleResults)

	if p.UseTypologies && len(input.TypologyResults) > 0 {
		a.TypologyResults = input.TypologyResults
		triggered := false
		for _, t := range input.TypologyResults {
			triggered = triggered || t.Triggered
			a.Score = max(a.Score, t.Score)
		}
		a.Status = status(triggered || agg.HasCriticalFailure)
	} else {
		a.Score = agg.AggregateScore
		a.Status = status(agg.HasCriticalFailure || agg.AggregateScore >= p.AlertThreshold)
		a.TypologyResults = p.aggregateTypology(input.RuleResults, agg)
	}

	started := input.StartTime
	if started.IsZero() {
		started = start
	}
	a.Metadata = domain.AssessmentMetadata{
		TraceID:             input.TraceID,
		RulesEvaluated:      len(input.RuleResults),
		TypologiesEvaluated: len(a.TypologyResults),
		DecisionMs:          time.Since(start).Milliseconds(),
		TotalMs:             time.Since(started).Milliseconds(),
		EngineVersion:       EngineVersion,
	}
	return a
}

func status(alert bool) string {
	if alert {
		return domain.StatusAlert
	}
	return domain.StatusNoAlert
}

// AggregateResult is the weighted rule score.
type AggregateResult struct {
	AggregateScore     float64
	TotalWeight        float64
	RulesTriggered     int
	HasCriticalFailure bool
}

func (p *Processor) aggregate(results []domain.RuleResult) AggregateResult {
	var agg AggregateResult
	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeError:
			// no signal
			continue
		case domain.RuleOutcomeFail:
			agg.HasCriticalFailure = true
			agg.RulesTriggered++
		case domain.RuleOutcomeReview:
			agg.RulesTriggered++
		}

		weight := 1.0
		if p.UseWeightedScoring && r.Weight > 0 {
			weight = r.Weight
		}
		agg.AggregateScore += r.Score * weight
		agg.TotalWeight += weight
	}
	if agg.TotalWeight > 0 {
		agg.AggregateScore /= agg.TotalWeight
	}
	return agg
}

func (p *Processor) aggregateTypology(rules []domain.RuleResult, agg AggregateResult) []domain.TypologyResult {
	if len(rules) == 0 {
		return nil
	}
	return []domain.TypologyResult{{
		TypologyID:   AggregateTypologyID,
		TypologyName: "Weighted rule aggregate",
		Score:        agg.AggregateScore,
		Threshold:    p.AlertThreshold,
		Triggered:    agg.HasCriticalFailure || agg.AggregateScore >= p.AlertThreshold,
		Rules:        rules,
	}}
}

// ShouldAlert reports whether a is an alert.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Status == domain.StatusAlert
}

// Reasons lists the reasons of rules in the review or fail band.
func Reasons(a *domain.Assessment) []string {
	var reasons []string
	for _, r := range a.RuleResults {
		if r.SubRuleRef != domain.RuleOutcomeFail && r.SubRuleRef != domain.RuleOutcomeReview {
			continue
		}
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}
