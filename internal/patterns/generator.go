// Package patterns holds the behavioral archetypes that emit user timelines.
//
// Every generator builds its timelines through a Track, which runs the
// validator state machine as events are emitted. Global invariants hold by
// construction: a track opens a session before any event that needs one and
// refuses to emit after close_account.
package patterns

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validate"
)

// Family separates benign archetypes from adversarial ones.
type Family string

const (
	Benign      Family = "benign"
	Adversarial Family = "adversarial"
)

// Role says which accounts a pattern acts through.
type Role string

const (
	// RoleBenign generates a legitimate account's own activity.
	RoleBenign Role = "benign"
	// RoleTakeover acts through legitimate accounts that already have history.
	RoleTakeover Role = "takeover"
	// RoleFishy acts through accounts created for the pattern.
	RoleFishy Role = "fishy"
)

// Generator is one behavioral archetype.
type Generator interface {
	Name() string
	Family() Family
	Role() Role
	// Participants bounds the number of acting accounts in one unit.
	Participants() (min, max int)
	// Span bounds how long after Subject.Start the pattern keeps emitting.
	Span() time.Duration
	// Generate returns one timeline per account in sub.Accounts followed by
	// one per account in sub.Victims, in that order.
	Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error)
}

// Constrained generators declare extra constraints their timelines must satisfy.
type Constrained interface {
	Constraints() []validate.Constraint
}

// Targeted generators act on a shared set of other users chosen by the planner.
type Targeted interface {
	Targets(p domain.PatternParams) domain.Range
}

// ExecutiveTargeted generators want their shared targets drawn from
// accounts with executive headlines.
type ExecutiveTargeted interface {
	Targeted
	TargetsExecutives() bool
}

// VictimWriter generators also write into the timelines of legitimate
// accounts that keep their own label (the scam's victims).
type VictimWriter interface {
	Victims(p domain.PatternParams) domain.Range
}

// Account is an account a unit writes to, with any history it already has.
type Account struct {
	User    domain.User
	History []domain.Interaction
}

// Subject is everything a generation unit may read.
type Subject struct {
	Accounts []Account
	Victims  []Account
	Targets  []string
	Cluster  IPCluster

	// Start is when the pattern begins; End is the end of the activity window.
	Start time.Time
	End   time.Time

	Dir               *Directory
	SessionGap        time.Duration
	LoginFailureRatio float64
	RequireJobView    bool
}

// Coordinated reports whether g spans more than one acting account.
func Coordinated(g Generator) bool {
	_, max := g.Participants()
	return max > 1
}

type spec struct {
	name     string
	family   Family
	role     Role
	min, max int
	span     time.Duration
}

func (s spec) Name() string             { return s.name }
func (s spec) Family() Family           { return s.family }
func (s spec) Role() Role               { return s.role }
func (s spec) Participants() (int, int) { return s.min, s.max }
func (s spec) Span() time.Duration      { return s.span }
func (s spec) String() string           { return s.name }

func (s spec) impossible(reason string) error {
	return &domain.ImpossibleSequenceError{Pattern: s.name, Reason: reason}
}

// prepare validates params and the participant count before generation.
func (s spec) prepare(sub Subject, p domain.PatternParams) error {
	if err := p.Validate(s.name); err != nil {
		return err
	}
	n := len(sub.Accounts)
	if n < s.min {
		return s.impossible(fmt.Sprintf("needs at least %d participants, got %d", s.min, n))
	}
	if n > s.max {
		return s.impossible(fmt.Sprintf("accepts at most %d participants, got %d", s.max, n))
	}
	if sub.Dir == nil || sub.Dir.Len() < 2 {
		return s.impossible("population directory has fewer than two users")
	}
	if p.Ratio("close", 0) == 1 && p.Flag("keep_open", false) {
		return s.impossible("close ratio 1 contradicts keep_open")
	}
	return nil
}

// collect gathers the timelines of tracks in order, stopping at the first error.
func collect(tracks ...*Track) ([]domain.Timeline, error) {
	out := make([]domain.Timeline, 0, len(tracks))
	for _, t := range tracks {
		tl, err := t.Timeline()
		if err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, nil
}

// closeChance decides whether an attack that may close the account does so.
// keep_open forces the account to stay open.
func closeChance(p domain.PatternParams, rng *rand.Rand, def float64) bool {
	if p.Flag("keep_open", false) {
		return false
	}
	return chance(rng, p.Ratio("close", def))
}
