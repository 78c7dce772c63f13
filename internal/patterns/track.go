package patterns

import (
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validate"
)

// Track appends events to one account's timeline while stepping a validator
// machine. Like bufio.Writer it keeps the first error and turns every later
// call into a no-op; Timeline reports it.
//
// A track moves a cursor forward in time. Events that need a session get a
// login first when none is open. After close_account further events are
// dropped, and with an Until bound set, so are events past it.
type Track struct {
	user   domain.User
	m      *validate.Machine
	events []domain.Interaction
	rng    *rand.Rand

	from      domain.Origin
	now       time.Time
	until     time.Time
	failRatio float64
	err       error
}

// track opens a track for acct, checked against the global constraints plus
// extra. An account without history is created at its CreatedAt from origin.
// The cursor starts at the later of sub.Start and the last history event.
func (s Subject) track(acct Account, from domain.Origin, rng *rand.Rand, extra ...validate.Constraint) *Track {
	opts := validate.Options{
		SessionGap:  s.SessionGap,
		Constraints: append(validate.Global(s.RequireJobView), extra...),
		Groups:      acct.User.Profile.Groups,
	}
	t := &Track{
		user:      acct.User,
		m:         validate.NewMachine(acct.User.ID, opts),
		rng:       rng,
		from:      from,
		failRatio: s.LoginFailureRatio,
	}
	if len(acct.History) == 0 {
		t.now = acct.User.CreatedAt
		t.emit(domain.AccountCreation, "", nil)
	}
	for _, e := range acct.History {
		if t.err != nil {
			break
		}
		if err := t.m.Step(e); err != nil {
			t.err = err
			break
		}
		t.events = append(t.events, e)
	}
	t.now = later(t.m.Last(), s.Start)
	return t
}

// User returns the account the track writes to.
func (t *Track) User() domain.User { return t.user }

// SetUser replaces the account identity, e.g. after a profile rewrite.
func (t *Track) SetUser(u domain.User) { t.user = u }

// Now returns the cursor.
func (t *Track) Now() time.Time { return t.now }

// Origin returns the origin new events are emitted from.
func (t *Track) Origin() domain.Origin { return t.from }

// Closed reports whether the account has been closed.
func (t *Track) Closed() bool { return t.m.State() == validate.Closed }

// Done reports whether the track accepts no more events.
func (t *Track) Done() bool {
	return t.err != nil || t.Closed() || (!t.until.IsZero() && t.now.After(t.until))
}

// Machine exposes the validator state, e.g. to check what was viewed.
func (t *Track) Machine() *validate.Machine { return t.m }

// Until drops events stamped after ts.
func (t *Track) Until(ts time.Time) *Track {
	t.until = ts
	return t
}

// From switches the origin of subsequent events.
func (t *Track) From(o domain.Origin) *Track {
	t.from = o
	return t
}

// At moves the cursor to ts. The cursor never moves backwards.
func (t *Track) At(ts time.Time) *Track {
	t.now = later(t.now, ts)
	return t
}

// Wait advances the cursor by d.
func (t *Track) Wait(d time.Duration) *Track {
	if d > 0 {
		t.now = t.now.Add(d)
	}
	return t
}

// Pause advances the cursor by a random duration in [lo, hi] seconds.
func (t *Track) Pause(lo, hi int) *Track {
	return t.Wait(secs(t.rng, lo, hi))
}

// Login signs in, failing first with the track's login failure ratio.
func (t *Track) Login() *Track {
	if chance(t.rng, t.failRatio) {
		t.Fail(1).Pause(5, 45)
	}
	return t.login(domain.Login, domain.LoginInfo{})
}

// LoginAfter signs in after n failed attempts spaced 5 to 45 seconds apart.
func (t *Track) LoginAfter(n int) *Track {
	if n > 0 {
		t.Fail(n).Pause(5, 45)
	}
	return t.login(domain.Login, domain.LoginInfo{Attempt: n + 1})
}

// Fail records n failed login attempts spaced 5 to 45 seconds apart.
func (t *Track) Fail(n int) *Track {
	for i := 0; i < n; i++ {
		if i > 0 {
			t.Pause(5, 45)
		}
		t.emit(domain.LoginFailure, "", domain.LoginInfo{Attempt: i + 1})
	}
	return t
}

// SessionLogin replays a stolen session cookie.
func (t *Track) SessionLogin() *Track {
	return t.login(domain.SessionLogin, domain.LoginInfo{StolenCookie: true})
}

func (t *Track) login(typ domain.InteractionType, info domain.LoginInfo) *Track {
	if info == (domain.LoginInfo{}) {
		return t.emit(typ, "", nil)
	}
	return t.emit(typ, "", info)
}

// Do emits typ at the cursor, logging in first when the type needs a
// session and none is open.
func (t *Track) Do(typ domain.InteractionType, target string, meta domain.Metadata) *Track {
	if t.Done() {
		return t
	}
	if typ.Session() == domain.NeedsSession && !t.m.SessionOpen(t.now) {
		t.login(domain.Login, domain.LoginInfo{})
		t.Pause(2, 20)
	}
	return t.emit(typ, target, meta)
}

// View emits view_user_page on target.
func (t *Track) View(target string) *Track { return t.Do(domain.ViewUserPage, target, nil) }

// Message emits message_user to target.
func (t *Track) Message(target string, meta domain.Metadata) *Track {
	return t.Do(domain.MessageUser, target, meta)
}

// Close emits close_account; later events are dropped.
func (t *Track) Close() *Track { return t.Do(domain.CloseAccount, "", nil) }

func (t *Track) emit(typ domain.InteractionType, target string, meta domain.Metadata) *Track {
	if t.Done() {
		return t
	}
	evt, err := domain.NewInteraction(t.user.ID, typ, t.now, target, t.from, meta)
	if err != nil {
		t.err = err
		return t
	}
	if err := t.m.Step(evt); err != nil {
		t.err = err
		return t
	}
	t.events = append(t.events, evt)
	return t
}

// Err returns the first error the track hit.
func (t *Track) Err() error { return t.err }

// Timeline returns the account's events so far.
func (t *Track) Timeline() (domain.Timeline, error) {
	if t.err != nil {
		return domain.Timeline{}, t.err
	}
	return domain.Timeline{User: t.user, Events: t.events}, nil
}
