package domain

import (
	"context"
	"time"
)

// Scorer turns a feature vector into an assessment. It stands in for the
// trained classifier.
type Scorer interface {
	Score(ctx context.Context, userID string, features map[string]float64) (*Assessment, error)
}

// Assessment is the scoring result for one user's timeline.
type Assessment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"` // "ALRT" or "NALT"
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`

	RuleResults     []RuleResult     `json:"ruleResults"`
	TypologyResults []TypologyResult `json:"typologyResults,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID             string `json:"traceId"`
	FeaturesMs          int64  `json:"featuresMs"`
	RulesMs             int64  `json:"rulesMs"`
	DecisionMs          int64  `json:"decisionMs"`
	TotalMs             int64  `json:"totalMs"`
	RulesEvaluated      int    `json:"rulesEvaluated"`
	TypologiesEvaluated int    `json:"typologiesEvaluated"`
	EngineVersion       string `json:"engineVersion"`
}

// AssessmentResponse is the API view of an assessment.
type AssessmentResponse struct {
	AssessmentID string             `json:"assessmentId"`
	UserID       string             `json:"userId"`
	Status       string             `json:"status"` // "PASS" or "ALERT"
	Score        float64            `json:"score"`
	Reasons      []string           `json:"reasons,omitempty"`
	Features     map[string]float64 `json:"features,omitempty"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // suspicious timeline
	StatusNoAlert = "NALT" // timeline passed
)

// API-friendly status
const (
	StatusPass = "PASS"
	StatusFail = "ALERT"
)

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	status := StatusPass
	if a.Status == StatusAlert {
		status = StatusFail
	}

	var reasons []string
	for _, r := range a.RuleResults {
		if r.SubRuleRef == RuleOutcomeFail || r.SubRuleRef == RuleOutcomeReview {
			reasons = append(reasons, r.Reason)
		}
	}

	return &AssessmentResponse{
		AssessmentID: a.ID,
		UserID:       a.UserID,
		Status:       status,
		Score:        a.Score,
		Reasons:      reasons,
		Metadata:     a.Metadata,
	}
}
