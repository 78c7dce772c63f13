package domain

import (
	"fmt"
	"sort"
	"time"
)

// GenerationConfig is the immutable input of one corpus run. It is built
// once and passed by value to the orchestrator, generators and feature pipeline.
type GenerationConfig struct {
	Seed       int64   `json:"seed" yaml:"seed"`
	Population int     `json:"population" yaml:"population"`
	FraudRatio float64 `json:"fraudRatio" yaml:"fraudRatio"`

	// Now is the end of the activity window. Zero means the start of the current UTC day.
	Now time.Time `json:"now" yaml:"now"`
	// WindowDays is the length of the activity window that ends at Now.
	WindowDays int `json:"windowDays" yaml:"windowDays"`
	// HistoryDays bounds how long before the window accounts may have been created.
	HistoryDays int `json:"historyDays" yaml:"historyDays"`

	SessionGap        time.Duration `json:"sessionGap" yaml:"sessionGap"`
	LoginFailureRatio float64       `json:"loginFailureRatio" yaml:"loginFailureRatio"`
	RequireJobView    bool          `json:"requireJobView" yaml:"requireJobView"`
	MaxRetries        int           `json:"maxRetries" yaml:"maxRetries"`
	Workers           int           `json:"workers" yaml:"workers"`

	Mix PopulationConfig `json:"populationMix" yaml:"populationMix"`

	FraudWeights  map[string]float64       `json:"fraudWeights" yaml:"fraudWeights"`
	BenignWeights map[string]float64       `json:"benignWeights" yaml:"benignWeights"`
	Patterns      map[string]PatternParams `json:"patterns,omitempty" yaml:"patterns"`

	// Constraints are operator-declared CEL expressions checked on every timeline.
	Constraints []ExpressionConstraint `json:"constraints,omitempty" yaml:"constraints"`
}

// PopulationConfig sets the mix of account attributes in a synthetic population.
type PopulationConfig struct {
	EmailVerified    float64 `json:"emailVerified" yaml:"emailVerified"`
	TwoFactor        float64 `json:"twoFactor" yaml:"twoFactor"`
	PhoneVerified    float64 `json:"phoneVerified" yaml:"phoneVerified"`
	TierPremium      float64 `json:"tierPremium" yaml:"tierPremium"`
	TierEnterprise   float64 `json:"tierEnterprise" yaml:"tierEnterprise"`
	ProfilePhoto     float64 `json:"profilePhoto" yaml:"profilePhoto"`
	ZeroConnections  float64 `json:"zeroConnections" yaml:"zeroConnections"`
	HostingIP        float64 `json:"hostingIp" yaml:"hostingIp"`
	NonBrowserAgent  float64 `json:"nonBrowserAgent" yaml:"nonBrowserAgent"`
	MaxConnections   int     `json:"maxConnections" yaml:"maxConnections"`
	GroupsPerAccount Range   `json:"groupsPerAccount" yaml:"groupsPerAccount"`
}

// ExpressionConstraint is a named CEL boolean expression; false means violation.
type ExpressionConstraint struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
	// Patterns limits the constraint to accounts with these labels. Empty applies to all.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns"`
}

// Range is an inclusive integer bound.
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// DurationRange is an inclusive duration bound.
type DurationRange struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// PatternParams are the tunable bounds of one generator. Generators read
// each bound by name and fall back to their own default.
type PatternParams struct {
	Counts    map[string]Range         `json:"counts,omitempty" yaml:"counts"`
	Durations map[string]DurationRange `json:"durations,omitempty" yaml:"durations"`
	Ratios    map[string]float64       `json:"ratios,omitempty" yaml:"ratios"`
	Flags     map[string]bool          `json:"flags,omitempty" yaml:"flags"`
}

// Count returns the named count bound or def.
func (p PatternParams) Count(name string, def Range) Range {
	if r, ok := p.Counts[name]; ok {
		return r
	}
	return def
}

// Duration returns the named duration bound or def.
func (p PatternParams) Duration(name string, def DurationRange) DurationRange {
	if r, ok := p.Durations[name]; ok {
		return r
	}
	return def
}

// Ratio returns the named probability or def.
func (p PatternParams) Ratio(name string, def float64) float64 {
	if r, ok := p.Ratios[name]; ok {
		return r
	}
	return def
}

// Flag returns the named switch or def.
func (p PatternParams) Flag(name string, def bool) bool {
	if f, ok := p.Flags[name]; ok {
		return f
	}
	return def
}

// Validate checks every bound of p. pattern prefixes the reported field.
func (p PatternParams) Validate(pattern string) error {
	for _, name := range sortedKeys(p.Counts) {
		r := p.Counts[name]
		if r.Min < 0 || r.Max < 0 {
			return &ConfigurationError{Field: pattern + ".counts." + name, Reason: fmt.Sprintf("negative count [%d,%d]", r.Min, r.Max)}
		}
		if r.Min > r.Max {
			return &ConfigurationError{Field: pattern + ".counts." + name, Reason: fmt.Sprintf("min %d > max %d", r.Min, r.Max)}
		}
	}
	for _, name := range sortedKeys(p.Durations) {
		r := p.Durations[name]
		if r.Min < 0 || r.Max < 0 {
			return &ConfigurationError{Field: pattern + ".durations." + name, Reason: "negative duration"}
		}
		if r.Min > r.Max {
			return &ConfigurationError{Field: pattern + ".durations." + name, Reason: fmt.Sprintf("min %s > max %s", r.Min, r.Max)}
		}
	}
	for _, name := range sortedKeys(p.Ratios) {
		if v := p.Ratios[name]; v < 0 || v > 1 {
			return &ConfigurationError{Field: pattern + ".ratios." + name, Reason: fmt.Sprintf("%v is outside [0,1]", v)}
		}
	}
	return nil
}

// Params returns the configured bounds for pattern, or empty params.
func (c GenerationConfig) Params(pattern string) PatternParams {
	return c.Patterns[pattern]
}

// Window returns the start and end of the activity window.
func (c GenerationConfig) Window() (time.Time, time.Time) {
	end := c.Now
	if end.IsZero() {
		end = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return end.AddDate(0, 0, -c.WindowDays), end
}

// Validate reports the first malformed setting as a *ConfigurationError.
func (c GenerationConfig) Validate() error {
	switch {
	case c.Population < 0:
		return &ConfigurationError{Field: "population", Reason: fmt.Sprintf("must not be negative, got %d", c.Population)}
	case c.Population == 0:
		return &ConfigurationError{Field: "population", Reason: "fraud ratio cannot be computed for an empty population"}
	case c.FraudRatio < 0 || c.FraudRatio > 1:
		return &ConfigurationError{Field: "fraudRatio", Reason: fmt.Sprintf("%v is outside [0,1]", c.FraudRatio)}
	case c.LoginFailureRatio < 0 || c.LoginFailureRatio > 1:
		return &ConfigurationError{Field: "loginFailureRatio", Reason: fmt.Sprintf("%v is outside [0,1]", c.LoginFailureRatio)}
	case c.WindowDays <= 0:
		return &ConfigurationError{Field: "windowDays", Reason: "must be positive"}
	case c.HistoryDays < 0:
		return &ConfigurationError{Field: "historyDays", Reason: "must not be negative"}
	case c.SessionGap <= 0:
		return &ConfigurationError{Field: "sessionGap", Reason: "must be positive"}
	case c.MaxRetries < 0:
		return &ConfigurationError{Field: "maxRetries", Reason: "must not be negative"}
	case c.Workers < 0:
		return &ConfigurationError{Field: "workers", Reason: "must not be negative"}
	}

	if err := c.Mix.validate(); err != nil {
		return err
	}
	if err := validateWeights("fraudWeights", c.FraudWeights, c.FraudRatio > 0); err != nil {
		return err
	}
	if err := validateWeights("benignWeights", c.BenignWeights, c.FraudRatio < 1); err != nil {
		return err
	}
	for _, name := range sortedKeys(c.Patterns) {
		if err := c.Patterns[name].Validate("patterns." + name); err != nil {
			return err
		}
	}
	for i, ec := range c.Constraints {
		if ec.Name == "" || ec.Expression == "" {
			return &ConfigurationError{Field: fmt.Sprintf("constraints[%d]", i), Reason: "name and expression are required"}
		}
	}
	return nil
}

func (p PopulationConfig) validate() error {
	ratios := []struct {
		name string
		v    float64
	}{
		{"emailVerified", p.EmailVerified},
		{"twoFactor", p.TwoFactor},
		{"phoneVerified", p.PhoneVerified},
		{"tierPremium", p.TierPremium},
		{"tierEnterprise", p.TierEnterprise},
		{"profilePhoto", p.ProfilePhoto},
		{"zeroConnections", p.ZeroConnections},
		{"hostingIp", p.HostingIP},
		{"nonBrowserAgent", p.NonBrowserAgent},
	}
	for _, r := range ratios {
		if r.v < 0 || r.v > 1 {
			return &ConfigurationError{Field: "populationMix." + r.name, Reason: fmt.Sprintf("%v is outside [0,1]", r.v)}
		}
	}
	if p.TierPremium+p.TierEnterprise > 1 {
		return &ConfigurationError{Field: "populationMix.tierPremium", Reason: "premium and enterprise shares exceed 1"}
	}
	if p.MaxConnections < 0 {
		return &ConfigurationError{Field: "populationMix.maxConnections", Reason: "must not be negative"}
	}
	if p.GroupsPerAccount.Min < 0 || p.GroupsPerAccount.Min > p.GroupsPerAccount.Max {
		return &ConfigurationError{Field: "populationMix.groupsPerAccount", Reason: "min must be non-negative and not exceed max"}
	}
	return nil
}

func validateWeights(field string, weights map[string]float64, needed bool) error {
	total := 0.0
	for _, name := range sortedKeys(weights) {
		w := weights[name]
		if w < 0 {
			return &ConfigurationError{Field: field + "." + name, Reason: fmt.Sprintf("weight must not be negative, got %v", w)}
		}
		total += w
	}
	if needed && total == 0 {
		return &ConfigurationError{Field: field, Reason: "all weights are zero"}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultGenerationConfig returns the default corpus settings.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Seed:              42,
		Population:        1000,
		FraudRatio:        0.005,
		WindowDays:        30,
		HistoryDays:       365,
		SessionGap:        30 * time.Minute,
		LoginFailureRatio: 0.03,
		MaxRetries:        3,
		Workers:           8,
		Mix: PopulationConfig{
			EmailVerified:    0.95,
			TwoFactor:        0.25,
			PhoneVerified:    0.60,
			TierPremium:      0.25,
			TierEnterprise:   0.05,
			ProfilePhoto:     0.75,
			ZeroConnections:  0.08,
			HostingIP:        0.10,
			NonBrowserAgent:  0.12,
			MaxConnections:   1500,
			GroupsPerAccount: Range{Min: 0, Max: 4},
		},
		FraudWeights: map[string]float64{
			"smash_grab":                 0.073,
			"low_slow":                   0.073,
			"country_hopper":             0.073,
			"data_thief":                 0.073,
			"credential_stuffer":         0.171,
			"login_storm":                0.049,
			"stealth_takeover":           0.049,
			"scraper_cluster":            0.098,
			"spear_phisher":              0.073,
			"credential_tester":          0.122,
			"connection_harvester":       0.049,
			"sleeper_agent":              0.049,
			"profile_defacement":         0.049,
			"executive_hunter":           0.03,
			"fake_account":               0.04,
			"account_farming":            0.03,
			"coordinated_harassment":     0.03,
			"coordinated_like_inflation": 0.03,
			"profile_cloning":            0.03,
			"endorsement_inflation":      0.03,
			"recommendation_fraud":       0.03,
			"job_posting_scam":           0.02,
			"invitation_spam":            0.03,
			"group_spam":                 0.03,
			"credential_phishing":        0.03,
			"session_hijacking":          0.03,
			"romance_scam":               0.02,
			"ad_engagement_fraud":        0.03,
		},
		BenignWeights: map[string]float64{
			"casual_browser":      0.26,
			"active_job_seeker":   0.11,
			"regular_networker":   0.26,
			"weekly_check_in":     0.16,
			"content_consumer":    0.21,
			"recruiter":           0.06,
			"new_user_onboarding": 0.04,
			"returning_user":      0.05,
			"career_update":       0.03,
			"exec_delegation":     0.02,
			"dormant_account":     0.06,
		},
	}
}
