package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestTypologyEngine_EvaluateTypologies(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies(DefaultTypologies())

	if engine.TypologyCount() != 4 {
		t.Errorf("expected 4 typologies, got %d", engine.TypologyCount())
	}

	tests := []struct {
		name         string
		ruleResults  []domain.RuleResult
		wantTakeover bool
		wantSpam     bool
	}{
		{
			name: "takeover - every signal fires",
			ruleResults: []domain.RuleResult{
				{RuleID: RuleNewCountryLogin, Score: 1},  // 0.3
				{RuleID: RuleFastAddressBook, Score: 1},  // 0.35
				{RuleID: RuleDownloadThenSpam, Score: 1}, // 0.35
			},
			wantTakeover: true,
		},
		{
			name: "takeover - harvest and outreach without a new country",
			ruleResults: []domain.RuleResult{
				{RuleID: RuleFastAddressBook, Score: 1},
				{RuleID: RuleDownloadThenSpam, Score: 1},
			},
			wantTakeover: true, // 0.7
		},
		{
			name: "takeover - below threshold",
			ruleResults: []domain.RuleResult{
				{RuleID: RuleNewCountryLogin, Score: 1},
				{RuleID: RuleFastAddressBook, Score: 0.5},
			},
			wantTakeover: false, // 0.475
		},
		{
			name: "spam burst",
			ruleResults: []domain.RuleResult{
				{RuleID: RuleMessageBurst, Score: 1},    // 0.4
				{RuleID: RuleMessageFanout, Score: 0.6}, // 0.24
			},
			wantSpam: true,
		},
		{
			name:        "no results",
			ruleResults: []domain.RuleResult{},
		},
		{
			name:        "unknown rules have no impact",
			ruleResults: []domain.RuleResult{{RuleID: "rule-unknown", Score: 1}},
		},
		{
			name: "errored rules have no impact",
			ruleResults: []domain.RuleResult{
				{RuleID: RuleFastAddressBook, Score: 1, SubRuleRef: domain.RuleOutcomeError},
				{RuleID: RuleDownloadThenSpam, Score: 1},
			},
			wantTakeover: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var takeover, spam bool
			for _, r := range engine.EvaluateTypologies(tt.ruleResults) {
				switch r.TypologyID {
				case domain.TypologyAccountTakeover:
					takeover = r.Triggered
				case domain.TypologySpamBurst:
					spam = r.Triggered
				}
			}
			if takeover != tt.wantTakeover {
				t.Errorf("account takeover: got triggered=%v, want %v", takeover, tt.wantTakeover)
			}
			if spam != tt.wantSpam {
				t.Errorf("spam burst: got triggered=%v, want %v", spam, tt.wantSpam)
			}
		})
	}
}

func TestTypologyEngine_ResultsOrderedByID(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies(DefaultTypologies())

	results := engine.EvaluateTypologies([]domain.RuleResult{{RuleID: RuleScriptAgent, Score: 1}})
	for i := 1; i < len(results); i++ {
		if results[i-1].TypologyID >= results[i].TypologyID {
			t.Fatalf("results not ordered: %s before %s", results[i-1].TypologyID, results[i].TypologyID)
		}
	}
}

func TestTypologyEngine_GetTriggeredTypologies(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies([]*domain.Typology{
		{ID: "typology-a", AlertThreshold: 0.5, Enabled: true, Rules: []domain.TypologyRuleWeight{{RuleID: "rule-1", Weight: 1}}},
		{ID: "typology-b", AlertThreshold: 0.8, Enabled: true, Rules: []domain.TypologyRuleWeight{{RuleID: "rule-1", Weight: 1}}},
	})

	triggered := engine.GetTriggeredTypologies([]domain.RuleResult{{RuleID: "rule-1", Score: 0.6}})
	if len(triggered) != 1 {
		t.Fatalf("expected 1 triggered typology, got %d", len(triggered))
	}
	if triggered[0].TypologyID != "typology-a" {
		t.Errorf("expected typology-a to trigger, got %s", triggered[0].TypologyID)
	}
}

func TestTypologyEngine_RuleContributions(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies([]*domain.Typology{{
		ID: "test-typology", AlertThreshold: 0.5, Enabled: true,
		Rules: []domain.TypologyRuleWeight{
			{RuleID: "rule-1", Weight: 0.5},
			{RuleID: "rule-2", Weight: 0.3},
			{RuleID: "rule-3", Weight: 0.2},
		},
	}})

	results := engine.EvaluateTypologies([]domain.RuleResult{
		{RuleID: "rule-1", Score: 0.8},
		{RuleID: "rule-2", Score: 1.0},
		{RuleID: "rule-3", Score: 0.5},
		{RuleID: "rule-other", Score: 1.0},
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]

	// 0.8*0.5 + 1.0*0.3 + 0.5*0.2
	if math.Abs(r.Score-0.8) > 1e-9 {
		t.Errorf("expected score 0.8, got %v", r.Score)
	}
	if len(r.Contributions) != 3 {
		t.Fatalf("expected 3 contributions, got %d", len(r.Contributions))
	}
	if len(r.Rules) != 3 {
		t.Errorf("expected only member rule results, got %d", len(r.Rules))
	}
	want := map[string]float64{"rule-1": 0.4, "rule-2": 0.3, "rule-3": 0.1}
	for _, c := range r.Contributions {
		if math.Abs(c.Contribution-want[c.RuleID]) > 1e-9 {
			t.Errorf("%s contribution: expected %v, got %v", c.RuleID, want[c.RuleID], c.Contribution)
		}
	}
}

func TestTypologyEngine_DisabledTypologies(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies([]*domain.Typology{
		{ID: "enabled-typology", Enabled: true},
		{ID: "disabled-typology", Enabled: false},
	})

	loaded := engine.GetLoadedTypologies()
	if len(loaded) != 1 || loaded[0].ID != "enabled-typology" {
		t.Error("only enabled typologies should be loaded")
	}
}

func TestTypologyEngine_ReloadTypologies(t *testing.T) {
	engine := NewTypologyEngine()
	engine.LoadTypologies([]*domain.Typology{{ID: "typology-1", Enabled: true}})

	engine.ReloadTypologies([]*domain.Typology{
		{ID: "typology-2", Enabled: true},
		{ID: "typology-3", Enabled: true},
	})
	if engine.TypologyCount() != 2 {
		t.Errorf("expected 2 typologies after reload, got %d", engine.TypologyCount())
	}
	if _, ok := engine.EvaluateTypology("typology-1", nil); ok {
		t.Error("typology-1 should not exist after reload")
	}
	if _, ok := engine.EvaluateTypology("typology-2", nil); !ok {
		t.Error("typology-2 should exist after reload")
	}
}
