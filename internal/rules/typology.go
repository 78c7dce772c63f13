package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TypologyEngine turns rule results into weighted typology scores.
type TypologyEngine struct {
	mu         sync.RWMutex
	typologies map[string]*domain.Typology
}

// NewTypologyEngine creates an engine with no typologies.
func NewTypologyEngine() *TypologyEngine {
	return &TypologyEngine{typologies: make(map[string]*domain.Typology)}
}

// LoadTypologies replaces the loaded set with the enabled typologies given.
func (e *TypologyEngine) LoadTypologies(typologies []*domain.Typology) {
	next := make(map[string]*domain.Typology, len(typologies))
	for _, t := range typologies {
		if t.Enabled {
			next[t.ID] = t
		}
	}
	e.mu.Lock()
	e.typologies = next
	e.mu.Unlock()
}

// ReloadTypologies is LoadTypologies under its hot-reload name.
func (e *TypologyEngine) ReloadTypologies(typologies []*domain.Typology) {
	e.LoadTypologies(typologies)
}

// GetLoadedTypologies returns the loaded typologies ordered by ID.
func (e *TypologyEngine) GetLoadedTypologies() []*domain.Typology {
	e.mu.RLock()
	out := make([]*domain.Typology, 0, len(e.typologies))
	for _, t := range e.typologies {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TypologyCount returns the number of loaded typologies.
func (e *TypologyEngine) TypologyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.typologies)
}

// EvaluateTypologies scores every loaded typology as the weighted sum of its
// rules' scores. Rules without a result contribute nothing. Results are
// ordered by typology ID.
func (e *TypologyEngine) EvaluateTypologies(ruleResults []domain.RuleResult) []domain.TypologyResult {
	start := time.Now()
	typologies := e.GetLoadedTypologies()
	if len(typologies) == 0 {
		return nil
	}

	scores := ruleScores(ruleResults)
	results := make([]domain.TypologyResult, 0, len(typologies))
	for _, t := range typologies {
		r := evaluateTypology(t, scores, ruleResults)
		r.ProcessMs = time.Since(start).Milliseconds()
		results = append(results, r)
	}
	return results
}

// EvaluateTypology scores one typology by ID.
func (e *TypologyEngine) EvaluateTypology(typologyID string, ruleResults []domain.RuleResult) (*domain.TypologyResult, bool) {
	e.mu.RLock()
	t, ok := e.typologies[typologyID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r := evaluateTypology(t, ruleScores(ruleResults), ruleResults)
	return &r, true
}

// GetTriggeredTypologies returns only typologies at or above their threshold.
func (e *TypologyEngine) GetTriggeredTypologies(ruleResults []domain.RuleResult) []domain.TypologyResult {
	var triggered []domain.TypologyResult
	for _, t := range e.EvaluateTypologies(ruleResults) {
		if t.Triggered {
			triggered = append(triggered, t)
		}
	}
	return triggered
}

// Close unloads every typology.
func (e *TypologyEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typologies = make(map[string]*domain.Typology)
	return nil
}

func ruleScores(results []domain.RuleResult) map[string]float64 {
	m := make(map[string]float64, len(results))
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			continue
		}
		m[r.RuleID] = r.Score
	}
	return m
}

func evaluateTypology(t *domain.Typology, scores map[string]float64, all []domain.RuleResult) domain.TypologyResult {
	result := domain.TypologyResult{
		TypologyID:    t.ID,
		TypologyName:  t.Name,
		Threshold:     t.AlertThreshold,
		Contributions: make([]domain.RuleContribution, 0, len(t.Rules)),
	}

	members := make(map[string]bool, len(t.Rules))
	for _, rw := range t.Rules {
		members[rw.RuleID] = true
		score, ok := scores[rw.RuleID]
		if !ok {
			continue
		}
		contribution := score * rw.Weight
		result.Score += contribution
		result.Contributions = append(result.Contributions, domain.RuleContribution{
			RuleID:       rw.RuleID,
			RuleScore:    score,
			Weight:       rw.Weight,
			Contribution: contribution,
		})
	}
	for _, r := range all {
		if members[r.RuleID] {
			result.Rules = append(result.Rules, r)
		}
	}
	result.Triggered = result.Score >= t.AlertThreshold
	return result
}
