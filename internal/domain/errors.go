package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Structured errors below unwrap to one of these.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrImpossibleSequence = errors.New("impossible sequence")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// Invariant names a timeline or construction rule.
type Invariant string

const (
	// Global timeline invariants.
	InvCreationFirst     Invariant = "creation_first"
	InvLoginBeforeAction Invariant = "login_before_activity"
	InvCloseTerminal     Invariant = "close_terminal"
	InvTargetPresence    Invariant = "target_presence"
	InvChronological     Invariant = "chronological"

	// Construction and pattern-declared rules.
	InvMetadataKind            Invariant = "metadata_kind"
	InvOwnership               Invariant = "ownership"
	InvClonedFromSelf          Invariant = "cloned_from_self"
	InvGroupMembership         Invariant = "group_membership"
	InvJobViewedBeforeApply    Invariant = "job_viewed_before_apply"
	InvRecommendationConnected Invariant = "recommendation_connection"
	InvNoAddressBookDownload   Invariant = "no_address_book_download"
	InvViewBeforeReachOut      Invariant = "view_before_reach_out"
)

// Number returns the 1-based number of a global invariant, or 0 for others.
func (i Invariant) Number() int {
	switch i {
	case InvCreationFirst:
		return 1
	case InvLoginBeforeAction:
		return 2
	case InvCloseTerminal:
		return 3
	case InvTargetPresence:
		return 4
	case InvChronological:
		return 5
	default:
		return 0
	}
}

// Global reports whether i is one of the five timeline invariants every user must satisfy.
func (i Invariant) Global() bool { return i.Number() > 0 }

// ValidationError is returned by constructors when a value breaks a rule.
type ValidationError struct {
	Invariant Invariant
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s (%s): %s", e.Field, e.Invariant, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigurationError reports malformed configuration. It is always fatal.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// InvariantViolation identifies the first event of a timeline that breaks an invariant.
type InvariantViolation struct {
	UserID    string
	Index     int
	EventID   string
	Type      InteractionType
	Invariant Invariant
	Detail    string
}

func (e *InvariantViolation) Error() string {
	if n := e.Invariant.Number(); n > 0 {
		return fmt.Sprintf("invariant %d (%s) violated by user %s at event %d (%s): %s",
			n, e.Invariant, e.UserID, e.Index, e.Type, e.Detail)
	}
	return fmt.Sprintf("constraint %s violated by user %s at event %d (%s): %s",
		e.Invariant, e.UserID, e.Index, e.Type, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return ErrInvariantViolation }

// ImpossibleSequenceError reports a pattern request that cannot be satisfied,
// such as too few participants for a coordinated unit.
type ImpossibleSequenceError struct {
	Pattern string
	Reason  string
}

func (e *ImpossibleSequenceError) Error() string {
	return fmt.Sprintf("impossible sequence for %s: %s", e.Pattern, e.Reason)
}

func (e *ImpossibleSequenceError) Unwrap() error { return ErrImpossibleSequence }
