package corpus

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/validate"
)

func testConfig(n int, ratio float64) domain.GenerationConfig {
	cfg := domain.DefaultGenerationConfig()
	cfg.Population = n
	cfg.FraudRatio = ratio
	cfg.Now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg.Workers = 4
	return cfg
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*domain.GenerationConfig)
		field string
	}{
		{"empty population", func(c *domain.GenerationConfig) { c.Population = 0 }, "population"},
		{"unknown pattern", func(c *domain.GenerationConfig) { c.FraudWeights["wire_fraud"] = 0.1 }, "fraudWeights.wire_fraud"},
		{"benign weight on attack", func(c *domain.GenerationConfig) { c.BenignWeights["smash_grab"] = 0.1 }, "benignWeights.smash_grab"},
		{"bad ratio", func(c *domain.GenerationConfig) { c.FraudRatio = 1.5 }, "fraudRatio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(100, 0.05)
			tt.edit(&cfg)
			_, err := New(cfg, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			var ce *domain.ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNew_RejectsBadExpression(t *testing.T) {
	cfg := testConfig(100, 0.05)
	cfg.Constraints = []domain.ExpressionConstraint{{Name: "broken", Expression: "event.type +"}}
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGenerate_ValidCorpus(t *testing.T) {
	cfg := testConfig(300, 0.1)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	c, err := o.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Users, 300)
	require.Len(t, c.Timelines, 300)

	registry := patterns.Default()
	ids := make(map[string]bool)
	fraud := 0
	for i, tl := range c.Timelines {
		if i > 0 {
			assert.Less(t, c.Users[i-1].ID, c.Users[i].ID, "users ordered by id")
		}
		assert.Equal(t, c.Users[i].ID, tl.User.ID)
		require.NotEmpty(t, tl.Events, tl.User.ID)
		assert.Equal(t, domain.AccountCreation, tl.Events[0].Type)
		assert.NoError(t, validate.Check(tl, validate.Options{SessionGap: cfg.SessionGap, Constraints: validate.Global(cfg.RequireJobView)}))

		g, err := registry.Get(tl.User.GenerationPattern)
		require.NoError(t, err, "every account carries a known label")
		assert.Equal(t, g.Family() == patterns.Adversarial, tl.User.IsFraud)
		if tl.User.IsFraudVictim {
			assert.False(t, tl.User.IsFraud)
		}
		if tl.User.Fishy {
			assert.True(t, tl.User.IsFraud)
		}
		if tl.User.IsFraud {
			fraud++
		}
		for _, e := range tl.Events {
			assert.False(t, ids[e.ID], "duplicate interaction id %s", e.ID)
			ids[e.ID] = true
		}
	}
	assert.Equal(t, 30, fraud)
	assert.Equal(t, fraud, c.Stats.FraudAccounts)
	assert.Equal(t, len(ids), c.Stats.Interactions)

	tl, ok := c.Timeline(c.Users[42].ID)
	require.True(t, ok)
	assert.Equal(t, c.Users[42].ID, tl.User.ID)
	_, ok = c.Timeline("u-999999")
	assert.False(t, ok)
}

func TestGenerate_Deterministic(t *testing.T) {
	run := func(workers int) *Corpus {
		cfg := testConfig(150, 0.1)
		cfg.Workers = workers
		o, err := New(cfg, nil)
		require.NoError(t, err)
		c, err := o.Generate(context.Background())
		require.NoError(t, err)
		return c
	}
	a, b := run(1), run(8)
	assert.Equal(t, a.Users, b.Users)
	assert.Equal(t, a.Timelines, b.Timelines)
	assert.Equal(t, a.Stats.PatternCounts, b.Stats.PatternCounts)
}

func TestGenerate_SeedChangesOutput(t *testing.T) {
	cfg := testConfig(50, 0.1)
	o, err := New(cfg, nil)
	require.NoError(t, err)
	a, err := o.Generate(context.Background())
	require.NoError(t, err)

	cfg.Seed++
	o, err = New(cfg, nil)
	require.NoError(t, err)
	b, err := o.Generate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.Timelines, b.Timelines)
}

func TestGenerate_Cancelled(t *testing.T) {
	o, err := New(testConfig(200, 0.05), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := o.Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, c)
}

func TestGenerate_RomanceVictimsKeepBenignLabel(t *testing.T) {
	cfg := testConfig(200, 0.02)
	cfg.FraudWeights = map[string]float64{"romance_scam": 1}
	o, err := New(cfg, nil)
	require.NoError(t, err)

	c, err := o.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, c.Stats.FraudAccounts)
	assert.Equal(t, 4, c.Stats.Victims)

	registry := patterns.Default()
	for _, u := range c.Users {
		if !u.IsFraudVictim {
			continue
		}
		g, err := registry.Get(u.GenerationPattern)
		require.NoError(t, err)
		assert.Equal(t, patterns.Benign, g.Family())
		assert.False(t, u.IsFraud)
	}
}

func TestPlan_ConvergesToWeights(t *testing.T) {
	cfg := testConfig(20000, 0.05)
	o, err := New(cfg, nil)
	require.NoError(t, err)
	pl, err := o.Plan()
	require.NoError(t, err)

	fraud := make(map[string]int)
	benign := make(map[string]int)
	total := 0
	for _, u := range pl.Units {
		if u.Family == patterns.Adversarial {
			fraud[u.Pattern] += len(u.Accounts)
			total += len(u.Accounts)
		} else {
			benign[u.Pattern]++
		}
	}
	assert.Equal(t, 1000, total)
	assert.Equal(t, total, pl.Fraud())

	sum := 0.0
	for _, w := range cfg.FraudWeights {
		sum += w
	}
	for name, w := range cfg.FraudWeights {
		assert.InDelta(t, w/sum, float64(fraud[name])/float64(total), 0.003, name)
	}

	benignTotal := 0
	for _, n := range benign {
		benignTotal += n
	}
	sum = 0
	for _, w := range cfg.BenignWeights {
		sum += w
	}
	for name, w := range cfg.BenignWeights {
		assert.InDelta(t, w/sum, float64(benign[name])/float64(benignTotal), 0.02, name)
	}
}

func TestPlan_UnitsRespectParticipants(t *testing.T) {
	o, err := New(testConfig(5000, 0.05), nil)
	require.NoError(t, err)
	pl, err := o.Plan()
	require.NoError(t, err)

	registry := patterns.Default()
	seen := make(map[int]bool)
	for _, u := range pl.Units {
		g, err := registry.Get(u.Pattern)
		require.NoError(t, err)
		lo, hi := g.Participants()
		assert.GreaterOrEqual(t, len(u.Accounts), lo, u.Pattern)
		assert.LessOrEqual(t, len(u.Accounts), hi, u.Pattern)
		for _, i := range append(append([]int(nil), u.Accounts...), u.Victims...) {
			assert.False(t, seen[i], "account %d in two units", i)
			seen[i] = true
		}
		if patterns.Coordinated(g) {
			assert.NotZero(t, u.Cluster.Len(), u.Pattern)
		}
		if g.Role() == patterns.RoleFishy {
			for _, i := range u.Accounts {
				assert.True(t, pl.Users[i].Fishy)
				assert.True(t, pl.Users[i].CreatedAt.Before(u.Start))
			}
		}
	}
	assert.Len(t, seen, 5000)
}

func TestPlan_BudgetIsAtLeastOne(t *testing.T) {
	o, err := New(testConfig(10, 0.01), nil)
	require.NoError(t, err)
	pl, err := o.Plan()
	require.NoError(t, err)
	assert.Equal(t, 1, pl.Fraud())

	o, err = New(testConfig(10, 0), nil)
	require.NoError(t, err)
	pl, err = o.Plan()
	require.NoError(t, err)
	assert.Zero(t, pl.Fraud())
}

func TestApportion(t *testing.T) {
	got := apportion(10, map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2})
	assert.Equal(t, map[string]int{"a": 5, "b": 3, "c": 2}, got)

	got = apportion(7, map[string]float64{"a": 1, "b": 1, "c": 1})
	assert.Equal(t, 7, got["a"]+got["b"]+got["c"])
	assert.Equal(t, 3, got["a"])

	assert.Empty(t, apportion(0, map[string]float64{"a": 1}))
}

func TestUnitSeed(t *testing.T) {
	assert.Equal(t, unitSeed(42, 3, 0), unitSeed(42, 3, 0))
	assert.NotEqual(t, unitSeed(42, 3, 0), unitSeed(42, 3, 1))
	assert.NotEqual(t, unitSeed(42, 3, 0), unitSeed(42, 4, 0))
	assert.NotEqual(t, unitSeed(42, 3, 0), unitSeed(43, 3, 0))
}

func TestSynthesize(t *testing.T) {
	cfg := testConfig(500, 0)
	o, err := New(cfg, nil)
	require.NoError(t, err)
	pl, err := o.Plan()
	require.NoError(t, err)

	windowStart, _ := cfg.Window()
	earliest := windowStart.AddDate(0, 0, -cfg.HistoryDays)
	for i, u := range pl.Users {
		assert.True(t, u.CreatedAt.Before(windowStart), u.ID)
		assert.False(t, u.CreatedAt.Before(earliest), u.ID)
		assert.True(t, u.Profile.Tier.Valid())
		assert.LessOrEqual(t, u.Profile.ConnectionsCount, cfg.Mix.MaxConnections)
		assert.NotEmpty(t, pl.Homes[i].IP)
	}
	assert.Equal(t, "u-000001", pl.Users[0].ID)
	assert.Equal(t, "u-000500", pl.Users[499].ID)
}

// scripted is an adversarial archetype with a fixed, deliberately faulty
// shape, used to drive the orchestrator's repair and retry paths.
type scripted struct {
	mode string // "post_close", "flaky" or "broken"

	mu    sync.Mutex
	calls map[string]int
}

func (g *scripted) Name() string             { return "scripted_" + g.mode }
func (g *scripted) Family() patterns.Family  { return patterns.Adversarial }
func (g *scripted) Role() patterns.Role      { return patterns.RoleFishy }
func (g *scripted) Participants() (int, int) { return 1, 1 }
func (g *scripted) Span() time.Duration      { return 24 * time.Hour }

func (g *scripted) attempt(userID string) (n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	n = g.calls[userID]
	g.calls[userID]++
	return n
}

func (g *scripted) Generate(sub patterns.Subject, _ domain.PatternParams, _ *rand.Rand) ([]domain.Timeline, error) {
	u := sub.Accounts[0].User
	origin := domain.Origin{IP: "45.33.32.156", Country: "US", Type: domain.IPHosting, UserAgent: "python-requests/2.31"}
	start := u.CreatedAt
	if sub.Start.After(start) {
		start = sub.Start
	}
	var (
		events []domain.Interaction
		errs   []error
	)
	emit := func(typ domain.InteractionType, at time.Time) {
		e, err := domain.NewInteraction(u.ID, typ, at, "", origin, nil)
		errs = append(errs, err)
		events = append(events, e)
	}
	add := func(typ domain.InteractionType, d time.Duration) { emit(typ, start.Add(d)) }
	emit(domain.AccountCreation, u.CreatedAt)

	switch g.mode {
	case "post_close":
		add(domain.Login, time.Minute)
		add(domain.CloseAccount, 2*time.Minute)
		add(domain.ChangeProfile, 3*time.Minute)
	case "flaky":
		if g.attempt(u.ID) == 0 {
			add(domain.ChangePassword, time.Minute)
		} else {
			add(domain.Login, time.Minute)
			add(domain.ChangePassword, 2*time.Minute)
		}
	case "broken":
		add(domain.ChangePassword, time.Minute)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return []domain.Timeline{{User: u, Events: events}}, nil
}

func scriptedOrchestrator(t *testing.T, g *scripted) *Orchestrator {
	t.Helper()
	registry, err := patterns.NewRegistry(append(patterns.Default().All(), g)...)
	require.NoError(t, err)
	cfg := testConfig(60, 0.05)
	cfg.FraudWeights = map[string]float64{g.Name(): 1}
	o, err := New(cfg, registry)
	require.NoError(t, err)
	return o
}

func TestGenerate_RepairsPostCloseEvents(t *testing.T) {
	o := scriptedOrchestrator(t, &scripted{mode: "post_close"})
	c, err := o.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, c.Stats.FraudAccounts)
	assert.Equal(t, 3, c.Stats.Repairs)
	assert.Zero(t, c.Stats.RegeneratedUnits)
	for _, tl := range c.Timelines {
		if tl.User.GenerationPattern != "scripted_post_close" {
			continue
		}
		require.NotEmpty(t, tl.Events)
		assert.Equal(t, domain.CloseAccount, tl.Events[len(tl.Events)-1].Type, tl.User.ID)
	}
}

func TestGenerate_RegeneratesRejectedUnits(t *testing.T) {
	o := scriptedOrchestrator(t, &scripted{mode: "flaky"})
	c, err := o.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, c.Stats.RegeneratedUnits)
	assert.Zero(t, c.Stats.Repairs)
	for _, tl := range c.Timelines {
		if tl.User.GenerationPattern == "scripted_flaky" {
			assert.Equal(t, domain.Login, tl.Events[1].Type, tl.User.ID)
		}
	}
}

func TestGenerate_FailsAfterMaxRetries(t *testing.T) {
	o := scriptedOrchestrator(t, &scripted{mode: "broken"})
	c, err := o.Generate(context.Background())
	require.Error(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "failed after 4 attempts")

	var v *domain.InvariantViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, domain.InvLoginBeforeAction, v.Invariant)
}
