// Package validate checks user timelines against the temporal invariants
// every account must satisfy, plus optional per-pattern constraints.
//
// Validation is a single forward scan: Machine keeps the minimal state
// needed to judge the next event (session, closed flag, joined groups,
// confirmed connections, viewed profiles and jobs) so each event costs O(1).
package validate

import (
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultSessionGap is the idle time after which a session ends.
const DefaultSessionGap = 30 * time.Minute

// State is the lifecycle state of an account during a scan.
type State int

const (
	PreCreation State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case PreCreation:
		return "PRE_CREATION"
	case Active:
		return "ACTIVE"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options tune a scan.
type Options struct {
	// SessionGap is the idle threshold; zero means DefaultSessionGap.
	SessionGap time.Duration
	// Constraints are checked, in order, after the global invariants.
	Constraints []Constraint
	// Connections are confirmed connections that predate the timeline.
	Connections []string
	// Groups are memberships that predate the timeline.
	Groups []string
}

// Machine is the incremental validator for one user's timeline.
type Machine struct {
	userID      string
	gap         time.Duration
	constraints []Constraint

	state       State
	index       int
	last        time.Time
	sessionOpen bool

	logins      int
	failures    int
	viewed      map[string]bool
	groups      map[string]bool
	connections map[string]bool
	jobs        map[string]bool
}

// NewMachine returns a machine in PreCreation for userID.
func NewMachine(userID string, opts Options) *Machine {
	gap := opts.SessionGap
	if gap <= 0 {
		gap = DefaultSessionGap
	}
	m := &Machine{
		userID:      userID,
		gap:         gap,
		constraints: opts.Constraints,
		viewed:      make(map[string]bool),
		groups:      make(map[string]bool),
		connections: make(map[string]bool),
		jobs:        make(map[string]bool),
	}
	for _, c := range opts.Connections {
		m.connections[c] = true
	}
	for _, g := range opts.Groups {
		m.groups[g] = true
	}
	return m
}

// Step checks evt against the current state and, if it is valid, applies it.
// A rejected event leaves the machine unchanged. The error is always a
// *domain.InvariantViolation.
func (m *Machine) Step(evt domain.Interaction) error {
	if inv, detail := m.check(evt); inv != "" {
		return &domain.InvariantViolation{
			UserID:    m.userID,
			Index:     m.index,
			EventID:   evt.ID,
			Type:      evt.Type,
			Invariant: inv,
			Detail:    detail,
		}
	}
	m.apply(evt)
	return nil
}

func (m *Machine) check(evt domain.Interaction) (domain.Invariant, string) {
	if m.state == Closed {
		return domain.InvCloseTerminal, "event after close_account"
	}
	if evt.UserID != m.userID {
		return domain.InvOwnership, fmt.Sprintf("event belongs to %s", evt.UserID)
	}
	if m.index > 0 && evt.Timestamp.Before(m.last) {
		return domain.InvChronological, fmt.Sprintf("timestamp %s precedes %s",
			evt.Timestamp.Format(time.RFC3339), m.last.Format(time.RFC3339))
	}
	switch {
	case m.state == PreCreation && evt.Type != domain.AccountCreation:
		return domain.InvCreationFirst, "first event must be account_creation"
	case m.state != PreCreation && evt.Type == domain.AccountCreation:
		return domain.InvCreationFirst, "duplicate account_creation"
	}
	if err := evt.Check(); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return ve.Invariant, ve.Reason
		}
		return domain.InvTargetPresence, err.Error()
	}
	if evt.Type.Session() == domain.NeedsSession && !m.SessionOpen(evt.Timestamp) {
		return domain.InvLoginBeforeAction, "no login in the current session"
	}
	for _, c := range m.constraints {
		if detail := c.Check(m, evt); detail != "" {
			return c.Invariant(), detail
		}
	}
	return "", ""
}

func (m *Machine) apply(evt domain.Interaction) {
	// The idle gap is measured against the previous event of any kind.
	if m.sessionOpen && evt.Timestamp.Sub(m.last) >= m.gap {
		m.sessionOpen = false
	}

	switch evt.Type {
	case domain.AccountCreation:
		m.state = Active
	case domain.Login, domain.SessionLogin:
		m.sessionOpen = true
		m.logins++
	case domain.LoginFailure:
		m.failures++
	case domain.ViewUserPage:
		m.viewed[evt.TargetUserID] = true
	case domain.AcceptConnectionRequest:
		m.connections[evt.TargetUserID] = true
	case domain.ViewJob, domain.CreateJobPosting:
		m.jobs[evt.JobID()] = true
	case domain.JoinGroup:
		m.groups[evt.GroupID()] = true
	case domain.LeaveGroup:
		delete(m.groups, evt.GroupID())
	case domain.CloseAccount:
		m.state = Closed
		m.sessionOpen = false
	}

	m.last = evt.Timestamp
	m.index++
}

// SessionOpen reports whether a session-requiring event at `at` would be
// inside the current session.
func (m *Machine) SessionOpen(at time.Time) bool {
	return m.state == Active && m.sessionOpen && at.Sub(m.last) < m.gap
}

// State returns the lifecycle state.
func (m *Machine) State() State { return m.state }

// Len returns the number of accepted events.
func (m *Machine) Len() int { return m.index }

// Last returns the timestamp of the last accepted event.
func (m *Machine) Last() time.Time { return m.last }

// Logins returns the number of login-class events so far.
func (m *Machine) Logins() int { return m.logins }

// Failures returns the number of failed logins so far.
func (m *Machine) Failures() int { return m.failures }

// Viewed reports whether the user has viewed target's page.
func (m *Machine) Viewed(target string) bool { return m.viewed[target] }

// Connected reports whether target is a confirmed connection.
func (m *Machine) Connected(target string) bool { return m.connections[target] }

// Joined reports whether the user is currently a member of group.
func (m *Machine) Joined(group string) bool { return m.groups[group] }

// JobSeen reports whether the user viewed or created job.
func (m *Machine) JobSeen(job string) bool { return m.jobs[job] }

// Check validates a full timeline and returns the first violation, or nil.
func Check(tl domain.Timeline, opts Options) error {
	if len(opts.Groups) == 0 {
		opts.Groups = tl.User.Profile.Groups
	}
	userID := tl.User.ID
	if userID == "" && len(tl.Events) > 0 {
		userID = tl.Events[0].UserID
	}
	m := NewMachine(userID, opts)
	for _, evt := range tl.Events {
		if err := m.Step(evt); err != nil {
			return err
		}
	}
	return nil
}

// FirstClose returns the index of the first close_account event, or -1.
func FirstClose(events []domain.Interaction) int {
	for i, e := range events {
		if e.Type == domain.CloseAccount {
			return i
		}
	}
	return -1
}
