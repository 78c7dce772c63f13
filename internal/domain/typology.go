package domain

import "time"

// Typology groups rules with weights into a composite abuse score.
// Example: "Account Takeover" combines new-country login (0.35) + address book
// download (0.35) + message burst (0.3).
type Typology struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Rules contains the list of rules with their weights
	Rules []TypologyRuleWeight `json:"rules"`

	// AlertThreshold is the minimum score to trigger an alert (0.0-1.0)
	AlertThreshold float64 `json:"alertThreshold"`

	// Whether typology is active
	Enabled bool `json:"enabled"`

	// Audit timestamps
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TypologyRuleWeight defines a rule and its weight within a typology.
type TypologyRuleWeight struct {
	RuleID string  `json:"ruleId"`
	Weight float64 `json:"weight"` // 0.0 to 1.0
}

// RuleContribution shows how a single rule contributed to a typology score.
type RuleContribution struct {
	RuleID       string  `json:"ruleId"`
	RuleScore    float64 `json:"ruleScore"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // ruleScore * weight
}

// TypologyResult is the aggregated result of rules for a typology.
type TypologyResult struct {
	TypologyID    string             `json:"typologyId"`
	TypologyName  string             `json:"typologyName"`
	Score         float64            `json:"score"`
	Threshold     float64            `json:"threshold"`
	Triggered     bool               `json:"triggered"`
	Rules         []RuleResult       `json:"rules"`
	Contributions []RuleContribution `json:"contributions,omitempty"`
	ProcessMs     int64              `json:"processMs,omitempty"`
}

// Predefined typology IDs for default typologies
const (
	TypologyAccountTakeover  = "typology-account-takeover"
	TypologySpamBurst        = "typology-spam-burst"
	TypologyCoordinatedRing  = "typology-coordinated-ring"
	TypologyCredentialAttack = "typology-credential-attack"
)
