package features

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	t0   = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	home = domain.Origin{IP: "73.16.0.1", Country: "US", Type: domain.IPResidential, UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"}
)

type builder struct {
	t  *testing.T
	tl domain.Timeline
}

func newBuilder(t *testing.T, id string) *builder {
	u, err := domain.NewUser(id, "US", t0.Add(-30*24*time.Hour), domain.UserProfile{
		DisplayName:      "Test User",
		ConnectionsCount: 120,
		HasPhoto:         true,
		EmailVerified:    true,
		Tier:             domain.TierPremium,
	})
	require.NoError(t, err)
	return &builder{t: t, tl: domain.Timeline{User: u}}
}

func (b *builder) add(typ domain.InteractionType, at time.Time, target string, from domain.Origin, meta domain.Metadata) *builder {
	e, err := domain.NewInteraction(b.tl.User.ID, typ, at, target, from, meta)
	require.NoError(b.t, err)
	b.tl.Events = append(b.tl.Events, e)
	return b
}

func get(t *testing.T, v Vector, name string) float64 {
	t.Helper()
	val, ok := v.Get(name)
	require.True(t, ok, name)
	return val
}

func TestSchema(t *testing.T) {
	assert.Len(t, Names, 31)
	seen := make(map[string]bool)
	for _, n := range Names {
		assert.False(t, seen[n], "duplicate feature %s", n)
		seen[n] = true
	}
	assert.Equal(t, LoginToDownloadMinutes, Names[0])
	assert.Equal(t, ScriptUserAgent, Names[len(Names)-1])
}

func TestExtract_EmptyTimeline(t *testing.T) {
	b := newBuilder(t, "u-000001")
	v := Extract(b.tl, nil, t0)

	assert.Equal(t, float64(NoActivityDays), get(t, v, DaysSinceLastActivity))
	assert.Zero(t, get(t, v, AccountAgeDays))
	assert.Zero(t, get(t, v, HourOfDaySin))
	assert.Zero(t, get(t, v, HourOfDayCos))
	assert.Zero(t, get(t, v, InteractionsPerHour24h))
	assert.Equal(t, 120.0, get(t, v, ConnectionsCount))
	assert.Equal(t, 1.0, get(t, v, AccountTierPremium))
	for _, x := range v.Values() {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
}

func TestExtract_SingleEvent(t *testing.T) {
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil)
	v := Extract(b.tl, nil, t0.Add(48*time.Hour))

	assert.InDelta(t, 24.0, get(t, v, InteractionsPerHour24h), 1e-9, "span is clamped from below")
	assert.Equal(t, 1.0, get(t, v, InteractionsLast1h))
	assert.InDelta(t, 2.0, get(t, v, DaysSinceLastActivity), 1e-9)
	assert.InDelta(t, 32.0, get(t, v, AccountAgeDays), 1e-9)
	assert.InDelta(t, 0.0, get(t, v, HourOfDaySin), 1e-9)
	assert.InDelta(t, -1.0, get(t, v, HourOfDayCos), 1e-9)
	assert.Zero(t, get(t, v, LoginToDownloadMinutes))
	assert.Zero(t, get(t, v, IPCountryMismatch))
}

func TestExtract_OnlyFailures(t *testing.T) {
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil)
	for i := 1; i <= 4; i++ {
		b.add(domain.LoginFailure, t0.Add(time.Duration(i)*time.Minute), "", home, domain.LoginInfo{Attempt: i})
	}
	v := Extract(b.tl, nil, t0.Add(time.Hour))

	assert.Equal(t, 4.0, get(t, v, LoginFailuresBeforeSuccess))
	assert.Equal(t, 4.0, get(t, v, FailedLoginStreak))
	assert.Zero(t, get(t, v, SessionsLast7d))
	assert.Zero(t, get(t, v, FirstLoginToCloseHours))
}

func TestExtract_FailuresAroundSuccess(t *testing.T) {
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil).
		add(domain.LoginFailure, t0.Add(time.Minute), "", home, domain.LoginInfo{Attempt: 1}).
		add(domain.LoginFailure, t0.Add(2*time.Minute), "", home, domain.LoginInfo{Attempt: 2}).
		add(domain.Login, t0.Add(3*time.Minute), "", home, domain.LoginInfo{Attempt: 3}).
		add(domain.LoginFailure, t0.Add(90*time.Minute), "", home, domain.LoginInfo{Attempt: 1})
	v := Extract(b.tl, nil, t0.Add(2*time.Hour))

	assert.Equal(t, 2.0, get(t, v, LoginFailuresBeforeSuccess))
	assert.Equal(t, 1.0, get(t, v, FailedLoginStreak))
	assert.Equal(t, 1.0, get(t, v, SessionsLast7d))
}

func TestExtract_TakeoverBurst(t *testing.T) {
	attacker := domain.Origin{IP: "185.220.101.4", Country: "RU", Type: domain.IPHosting, UserAgent: "python-requests/2.31.0"}
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0.Add(-20*24*time.Hour), "", home, nil).
		add(domain.Login, t0.Add(-10*24*time.Hour), "", home, domain.LoginInfo{Attempt: 1}).
		add(domain.Login, t0, "", attacker, domain.LoginInfo{Attempt: 1}).
		add(domain.DownloadAddressBook, t0.Add(5*time.Minute), "", attacker, domain.AddressBookInfo{ContactCount: 200}).
		add(domain.MessageUser, t0.Add(15*time.Minute), "u-000002", attacker, nil).
		add(domain.MessageUser, t0.Add(16*time.Minute), "u-000003", attacker, nil).
		add(domain.MessageUser, t0.Add(17*time.Minute), "u-000003", attacker, nil).
		add(domain.CloseAccount, t0.Add(30*time.Minute), "", attacker, nil)
	v := Extract(b.tl, nil, t0.Add(time.Hour))

	assert.Equal(t, float64(10*24*60+5), get(t, v, LoginToDownloadMinutes), "measured from the first login")
	assert.Equal(t, 10.0, get(t, v, DownloadToFirstMessageMinutes))
	assert.InDelta(t, 10*24+0.5, get(t, v, FirstLoginToCloseHours), 1e-9)
	assert.Equal(t, 3.0, get(t, v, MessagesLast24h))
	assert.Equal(t, 2.0, get(t, v, UniqueTargetsMessagedLast24h))
	assert.Equal(t, 1.0, get(t, v, DownloadAddressBookCount))
	assert.Zero(t, get(t, v, IPCountryMismatch), "the attacker country is already the majority")
	assert.Equal(t, 1.0, get(t, v, DistinctCountriesLast7d))
	assert.Equal(t, 1.0, get(t, v, DistinctIPsLast24h))
	assert.Equal(t, 6.0, get(t, v, InteractionsLast1h))
	assert.InDelta(t, 6.0/8.0, get(t, v, RatioHostingIPs), 1e-9)
	assert.Equal(t, 1.0, get(t, v, ScriptUserAgent))
}

func TestCountryMismatch_MajorityTie(t *testing.T) {
	gb := home
	gb.Country = "GB"
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil).
		add(domain.Login, t0.Add(time.Minute), "", gb, domain.LoginInfo{Attempt: 1})

	// One US and one GB event before: the tie resolves to GB.
	tie := b.tl
	tie.Events = append(append([]domain.Interaction(nil), b.tl.Events...), b.tl.Events[1])
	tie.Events[2].Timestamp = t0.Add(2 * time.Minute)
	v := Extract(tie, nil, t0.Add(time.Hour))
	assert.Zero(t, get(t, v, IPCountryMismatch))

	us := b.tl
	us.Events = append(append([]domain.Interaction(nil), b.tl.Events...), b.tl.Events[0])
	us.Events[2].Type = domain.ViewUserPage
	us.Events[2].TargetUserID = "u-000002"
	us.Events[2].Timestamp = t0.Add(2 * time.Minute)
	v = Extract(us, nil, t0.Add(time.Hour))
	assert.Equal(t, 1.0, get(t, v, IPCountryMismatch))
}

func TestCountryMismatch_FallsBackToHome(t *testing.T) {
	de := home
	de.Country = "DE"
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", de, nil)
	v := Extract(b.tl, nil, t0)
	assert.Equal(t, 1.0, get(t, v, IPCountryMismatch))
}

func TestSharedIPIndex(t *testing.T) {
	shared := domain.Origin{IP: "45.33.32.156", Country: "US", Type: domain.IPHosting}
	a := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", shared, nil)
	b := newBuilder(t, "u-000002").add(domain.AccountCreation, t0.Add(20*time.Minute), "", shared, nil)
	c := newBuilder(t, "u-000003").add(domain.AccountCreation, t0.Add(72*time.Hour), "", shared, nil)

	idx := NewSharedIPIndex([]domain.Timeline{a.tl, b.tl, c.tl}, time.Hour)
	assert.True(t, idx.SharedWith("u-000001", shared.IP, t0, t0.Add(time.Hour)))
	assert.False(t, idx.SharedWith("u-000003", shared.IP, t0.Add(71*time.Hour), t0.Add(72*time.Hour)))
	assert.False(t, idx.SharedWith("u-000001", "10.0.0.1", t0, t0.Add(time.Hour)))

	assert.Equal(t, 1.0, get(t, Extract(a.tl, idx, t0), SameIPSharedWithOthers))
	assert.Zero(t, get(t, Extract(c.tl, idx, t0.Add(72*time.Hour)), SameIPSharedWithOthers))
}

func TestSharedIPIndex_NilIndex(t *testing.T) {
	var idx *SharedIPIndex
	assert.False(t, idx.SharedWith("u-000001", "45.33.32.156", t0, t0.Add(time.Hour)))
	assert.Zero(t, idx.Len())

	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil)
	var shared SharedIPs = idx
	assert.NotPanics(t, func() {
		assert.Zero(t, get(t, Extract(b.tl, shared, t0), SameIPSharedWithOthers))
	})
}

func TestExtractAll(t *testing.T) {
	var tls []domain.Timeline
	for _, id := range []string{"u-000001", "u-000002", "u-000003"} {
		tls = append(tls, newBuilder(t, id).add(domain.AccountCreation, t0, "", home, nil).tl)
	}
	vs, err := ExtractAll(context.Background(), tls, t0.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, vs, 3)
	for i, v := range vs {
		assert.Equal(t, Extract(tls[i], NewSharedIPIndex(tls, DefaultBucket), t0.Add(time.Hour)), v)
		assert.Equal(t, 1.0, get(t, v, SameIPSharedWithOthers))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ExtractAll(ctx, tls, t0, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVector_JSON(t *testing.T) {
	b := newBuilder(t, "u-000001").add(domain.AccountCreation, t0, "", home, nil)
	v := Extract(b.tl, nil, t0.Add(time.Hour))

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"login_to_download_minutes":`))
	assert.Less(t, strings.Index(string(data), HourOfDaySin), strings.Index(string(data), HourOfDayCos))

	var back Vector
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v, back)

	assert.ErrorIs(t, json.Unmarshal([]byte(`{"nope":1}`), &back), domain.ErrInvalidInput)
	_, err = FromValues([]float64{1, 2})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScriptAgent(t *testing.T) {
	assert.True(t, ScriptAgent("python-requests/2.31.0"))
	assert.True(t, ScriptAgent("Mozilla/5.0 HeadlessChrome/120.0"))
	assert.True(t, ScriptAgent("curl/8.4.0"))
	assert.False(t, ScriptAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) Safari/605.1.15"))
	assert.False(t, ScriptAgent("KestrelApp/6.4.1 (iPhone; iOS 17.1; Scale/3.00)"))
}
