package rules

import "testing"

func TestDefaultRulesCompile(t *testing.T) {
	engine, err := NewEngine(nil, 2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range DefaultRules() {
		if seen[r.ID] {
			t.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
		if err := engine.ValidateRule(r); err != nil {
			t.Errorf("default rule %s does not compile: %v", r.ID, err)
		}
		if len(r.Bands) == 0 {
			t.Errorf("default rule %s has no bands", r.ID)
		}
	}
}

func TestDefaultTypologiesReferenceDefaultRules(t *testing.T) {
	known := make(map[string]bool)
	for _, r := range DefaultRules() {
		known[r.ID] = true
	}
	for _, typ := range DefaultTypologies() {
		total := 0.0
		for _, rw := range typ.Rules {
			if !known[rw.RuleID] {
				t.Errorf("typology %s references unknown rule %s", typ.ID, rw.RuleID)
			}
			total += rw.Weight
		}
		if total < typ.AlertThreshold {
			t.Errorf("typology %s can never trigger: weights sum to %v, threshold %v", typ.ID, total, typ.AlertThreshold)
		}
	}
}
