package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func TestProcessor(t *testing.T) {
	proc := NewProcessor()
	ctx := context.Background()

	t.Run("AllPass", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID:    "u-000001",
			TraceID:   "trace-001",
			StartTime: time.Now(),
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-1", Score: 0.1, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
				{RuleID: "rule-2", Score: 0.2, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
			},
		})
		if a.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", a.Status)
		}
		if a.UserID != "u-000001" || a.Metadata.TraceID != "trace-001" {
			t.Errorf("identity not carried: %+v", a)
		}
		if a.Metadata.EngineVersion != EngineVersion || a.Metadata.RulesEvaluated != 2 {
			t.Errorf("unexpected metadata %+v", a.Metadata)
		}
		if a.ID == "" {
			t.Error("expected an assessment id")
		}
	})

	t.Run("CriticalFailure", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID: "u-000002",
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-1", Score: 0.1, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
				{RuleID: "rule-2", Score: 1.0, SubRuleRef: domain.RuleOutcomeFail, Weight: 1.0},
				{RuleID: "rule-3", Score: 0.1, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
			},
		})
		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT for a fail band, got %s", a.Status)
		}
	})

	t.Run("HighAggregateScore", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID: "u-000003",
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-1", Score: 0.8, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0},
				{RuleID: "rule-2", Score: 0.9, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0},
				{RuleID: "rule-3", Score: 0.7, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0},
			},
		})
		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT for average 0.8, got %s", a.Status)
		}
		if len(a.TypologyResults) != 1 || a.TypologyResults[0].TypologyID != AggregateTypologyID {
			t.Errorf("expected the aggregate typology, got %+v", a.TypologyResults)
		}
	})

	t.Run("WeightedScore", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID: "u-000004",
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-1", Score: 1.0, SubRuleRef: domain.RuleOutcomeReview, Weight: 3.0},
				{RuleID: "rule-2", Score: 0.0, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
			},
		})
		if a.Score != 0.75 {
			t.Errorf("expected weighted score 0.75, got %v", a.Score)
		}
	})

	t.Run("ErroredRulesIgnored", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID: "u-000005",
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-1", Score: 0, SubRuleRef: domain.RuleOutcomeError, Weight: 5.0},
				{RuleID: "rule-2", Score: 0.8, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0},
			},
		})
		if a.Score != 0.8 {
			t.Errorf("expected errored rule to be skipped, got score %v", a.Score)
		}
	})

	t.Run("NoRules", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{UserID: "u-000006"})
		if a.Status != domain.StatusNoAlert || a.Score != 0 || a.TypologyResults != nil {
			t.Errorf("expected empty NALT, got %+v", a)
		}
	})
}

func TestShouldAlert(t *testing.T) {
	if !ShouldAlert(&domain.Assessment{Status: domain.StatusAlert}) {
		t.Error("expected true for ALRT")
	}
	if ShouldAlert(&domain.Assessment{Status: domain.StatusNoAlert}) {
		t.Error("expected false for NALT")
	}
}

func TestReasons(t *testing.T) {
	a := &domain.Assessment{
		RuleResults: []domain.RuleResult{
			{SubRuleRef: domain.RuleOutcomePass, Reason: "within normal range"},
			{SubRuleRef: domain.RuleOutcomeFail, Reason: "address book harvested"},
			{SubRuleRef: domain.RuleOutcomeReview, Reason: "message burst"},
			{SubRuleRef: domain.RuleOutcomeReview},
		},
	}
	reasons := Reasons(a)
	if len(reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(reasons))
	}
	if reasons[0] != "address book harvested" || reasons[1] != "message burst" {
		t.Errorf("unexpected reasons %v", reasons)
	}
}

func TestCustomThreshold(t *testing.T) {
	proc := &Processor{AlertThreshold: 0.5, UseWeightedScoring: true}
	a := proc.Process(context.Background(), &DecisionInput{
		UserID:      "u-000001",
		RuleResults: []domain.RuleResult{{RuleID: "rule-1", Score: 0.6, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0}},
	})
	if a.Status != domain.StatusAlert {
		t.Errorf("expected ALRT with 0.5 threshold, got %s", a.Status)
	}
}

func TestUnweightedScoring(t *testing.T) {
	proc := &Processor{AlertThreshold: 0.7}
	a := proc.Process(context.Background(), &DecisionInput{
		UserID: "u-000001",
		RuleResults: []domain.RuleResult{
			{RuleID: "rule-1", Score: 0.4, SubRuleRef: domain.RuleOutcomeReview, Weight: 10.0},
			{RuleID: "rule-2", Score: 0.2, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
		},
	})
	if a.Score < 0.3-1e-9 || a.Score > 0.3+1e-9 {
		t.Errorf("expected unweighted score 0.3, got %v", a.Score)
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(domain.ScoringConfig{AlertThreshold: 0.55, UseTypologies: true})
	if p.AlertThreshold != 0.55 || !p.UseTypologies || !p.UseWeightedScoring {
		t.Errorf("unexpected processor %+v", p)
	}
	if d := FromConfig(domain.ScoringConfig{}); d.AlertThreshold != 0.7 {
		t.Errorf("expected default threshold, got %v", d.AlertThreshold)
	}
}

func TestTypologyMode(t *testing.T) {
	proc := NewTypologyProcessor()
	ctx := context.Background()

	t.Run("Triggered", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID:      "u-000001",
			RuleResults: []domain.RuleResult{{RuleID: "rule-1", Score: 0.8, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0}},
			TypologyResults: []domain.TypologyResult{
				{TypologyID: domain.TypologySpamBurst, Score: 0.85, Threshold: 0.6, Triggered: true},
				{TypologyID: domain.TypologyAccountTakeover, Score: 0.2, Threshold: 0.6},
			},
		})
		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT when a typology triggers, got %s", a.Status)
		}
		if a.Score != 0.85 {
			t.Errorf("expected max typology score 0.85, got %v", a.Score)
		}
		if a.Metadata.TypologiesEvaluated != 2 {
			t.Errorf("expected 2 typologies evaluated, got %d", a.Metadata.TypologiesEvaluated)
		}
	})

	t.Run("NotTriggered", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID:          "u-000002",
			RuleResults:     []domain.RuleResult{{RuleID: "rule-1", Score: 0.9, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0}},
			TypologyResults: []domain.TypologyResult{{TypologyID: "t", Score: 0.4, Threshold: 0.6}},
		})
		if a.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", a.Status)
		}
	})

	t.Run("FailBandOverrides", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			UserID:          "u-000003",
			RuleResults:     []domain.RuleResult{{RuleID: "rule-1", Score: 1.0, SubRuleRef: domain.RuleOutcomeFail, Weight: 1.0}},
			TypologyResults: []domain.TypologyResult{{TypologyID: "t", Score: 0.3, Threshold: 0.6}},
		})
		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT on a fail band, got %s", a.Status)
		}
	})
}

func TestRuleModeIgnoresTypologyResults(t *testing.T) {
	a := NewProcessor().Process(context.Background(), &DecisionInput{
		UserID:          "u-000001",
		RuleResults:     []domain.RuleResult{{RuleID: "rule-1", Score: 0.3, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0}},
		TypologyResults: []domain.TypologyResult{{TypologyID: "t", Score: 0.9, Threshold: 0.6, Triggered: true}},
	})
	if a.Score > 0.5 || a.Status != domain.StatusNoAlert {
		t.Errorf("rule mode should use the rule score; got %v %s", a.Score, a.Status)
	}
}

func newScorer(t *testing.T, useTypologies bool) *Scorer {
	t.Helper()
	engine, err := rules.NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	typologies := rules.NewTypologyEngine()
	typologies.LoadTypologies(rules.DefaultTypologies())

	proc := NewProcessor()
	proc.UseTypologies = useTypologies
	return NewScorer(engine, typologies, proc)
}

func TestScorer(t *testing.T) {
	ctx := context.Background()
	takeover := map[string]float64{
		features.IPCountryMismatch:             1,
		features.DownloadAddressBookCount:      1,
		features.LoginToDownloadMinutes:        2,
		features.MessagesLast24h:               120,
		features.UniqueTargetsMessagedLast24h:  60,
		features.DownloadToFirstMessageMinutes: 5,
	}
	quiet := map[string]float64{
		features.AccountAgeDays:         400,
		features.ConnectionsCount:       150,
		features.ProfileCompleteness:    0.9,
		features.MessagesLast24h:        3,
		features.LoginToDownloadMinutes: -1,
	}

	for _, mode := range []bool{false, true} {
		s := newScorer(t, mode)

		a, err := s.Score(ctx, "u-attacked", takeover)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if a.Status != domain.StatusAlert {
			t.Errorf("typologies=%v: expected ALRT for takeover vector, got %s (score %v)", mode, a.Status, a.Score)
		}
		if len(a.RuleResults) != len(rules.DefaultRules()) {
			t.Errorf("expected every default rule evaluated, got %d", len(a.RuleResults))
		}
		if len(Reasons(a)) == 0 {
			t.Error("expected reasons for an alert")
		}

		a, err = s.Score(ctx, "u-quiet", quiet)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if a.Status != domain.StatusNoAlert {
			t.Errorf("typologies=%v: expected NALT for quiet vector, got %s (reasons %v)", mode, a.Status, Reasons(a))
		}
	}
}

func TestScorerErrors(t *testing.T) {
	s := newScorer(t, false)
	if _, err := s.Score(context.Background(), "", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty user, got %v", err)
	}
	if _, err := s.Score(context.Background(), "u-1", map[string]float64{"amount": 1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown feature, got %v", err)
	}
}
