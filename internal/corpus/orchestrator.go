// Package corpus turns a generation config into a labeled corpus of user
// timelines. Planning is sequential and seeded; units are generated in
// parallel, each from its own derived seed, so output does not depend on
// scheduling.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/validate"
)

var tracer = otel.Tracer("kestrel-corpus")

// interactionSpace namespaces the name-based interaction IDs.
var interactionSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://opensource.finance/kestrel/interaction"))

// Orchestrator generates corpora for one config.
type Orchestrator struct {
	cfg      domain.GenerationConfig
	registry *patterns.Registry
	workers  int

	exprAll []validate.Constraint
	exprBy  map[string][]validate.Constraint
}

// New validates cfg against the registry. A nil registry means patterns.Default().
func New(cfg domain.GenerationConfig, registry *patterns.Registry) (*Orchestrator, error) {
	if registry == nil {
		registry = patterns.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := registry.Check(cfg); err != nil {
		return nil, err
	}
	all, by, err := validate.Exprs(cfg.Constraints)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Orchestrator{cfg: cfg, registry: registry, workers: workers, exprAll: all, exprBy: by}, nil
}

// Config returns the orchestrator's config.
func (o *Orchestrator) Config() domain.GenerationConfig { return o.cfg }

// Stats summarizes a run.
type Stats struct {
	Units            int            `json:"units"`
	RegeneratedUnits int            `json:"regeneratedUnits"`
	Repairs          int            `json:"repairs"`
	PatternCounts    map[string]int `json:"patternCounts"`
	FraudAccounts    int            `json:"fraudAccounts"`
	Victims          int            `json:"victims"`
	Interactions     int            `json:"interactions"`
	Duration         time.Duration  `json:"duration"`
}

// Corpus is a labeled population with one timeline per user, ordered by user ID.
type Corpus struct {
	Users     []domain.User     `json:"users"`
	Timelines []domain.Timeline `json:"timelines"`
	Stats     Stats             `json:"stats"`

	index map[string]int
}

// Timeline returns the timeline of userID.
func (c *Corpus) Timeline(userID string) (domain.Timeline, bool) {
	i, ok := c.index[userID]
	if !ok {
		return domain.Timeline{}, false
	}
	return c.Timelines[i], true
}

type unitResult struct {
	timelines []domain.Timeline
	attempts  int
	repairs   int
	err       error
}

// Generate plans the run, generates every unit and merges the results.
// A cancelled context returns ctx.Err() and no corpus.
func (o *Orchestrator) Generate(ctx context.Context) (*Corpus, error) {
	ctx, span := tracer.Start(ctx, "corpus.generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("seed", o.cfg.Seed),
		attribute.Int("population", o.cfg.Population),
		attribute.Float64("fraud_ratio", o.cfg.FraudRatio),
	)
	start := time.Now()

	plan, err := o.Plan()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	slog.Debug("corpus planned",
		"units", len(plan.Units),
		"fraud_accounts", plan.Fraud(),
		"workers", o.workers,
	)

	results := make([]unitResult, len(plan.Units))
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)

	for i, u := range plan.Units {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int, u Unit) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			results[idx] = o.runUnit(plan, u)
		}(i, u)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c, err := o.merge(plan, results)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.Stats.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("interactions", c.Stats.Interactions))

	slog.Info("corpus generated",
		"users", len(c.Users),
		"interactions", c.Stats.Interactions,
		"fraud_accounts", c.Stats.FraudAccounts,
		"victims", c.Stats.Victims,
		"regenerated_units", c.Stats.RegeneratedUnits,
		"repairs", c.Stats.Repairs,
		"duration_ms", c.Stats.Duration.Milliseconds(),
	)
	return c, nil
}

// runUnit generates and validates one unit, regenerating it with the next
// attempt seed until it passes or MaxRetries is exhausted.
func (o *Orchestrator) runUnit(plan *Plan, u Unit) unitResult {
	var last error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		tls, err := o.generate(plan, u, attempt)
		if err == nil {
			var repairs int
			tls, repairs, err = o.check(plan, u, tls)
			if err == nil {
				return unitResult{timelines: tls, attempts: attempt, repairs: repairs}
			}
		}
		last = err
		slog.Debug("unit rejected",
			"unit", u.Index,
			"pattern", u.Pattern,
			"attempt", attempt,
			"error", err,
		)
	}
	return unitResult{attempts: o.cfg.MaxRetries, err: fmt.Errorf("unit %d (%s) failed after %d attempts: %w", u.Index, u.Pattern, o.cfg.MaxRetries+1, last)}
}

func (o *Orchestrator) generate(plan *Plan, u Unit, attempt int) ([]domain.Timeline, error) {
	g, err := o.registry.Get(u.Pattern)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(unitSeed(o.cfg.Seed, u.Index, attempt)))
	windowStart, end := o.cfg.Window()
	sub := o.subject(plan, windowStart, end)
	sub.Start = u.Start
	sub.Targets = u.Targets
	sub.Cluster = u.Cluster

	for _, i := range u.Accounts {
		acct := patterns.Account{User: plan.Users[i]}
		if g.Role() == patterns.RoleTakeover {
			if acct, err = o.history(plan, i, windowStart, u.Start, rng); err != nil {
				return nil, err
			}
		}
		sub.Accounts = append(sub.Accounts, acct)
	}
	for _, i := range u.Victims {
		acct, err := o.history(plan, i, windowStart, u.Start, rng)
		if err != nil {
			return nil, err
		}
		sub.Victims = append(sub.Victims, acct)
	}

	tls, err := g.Generate(sub, o.cfg.Params(u.Pattern), rng)
	if err != nil {
		return nil, err
	}
	if want := len(u.Accounts) + len(u.Victims); len(tls) != want {
		return nil, fmt.Errorf("%w: %s returned %d timelines for %d accounts", domain.ErrImpossibleSequence, u.Pattern, len(tls), want)
	}
	return tls, nil
}

// history writes user i's benign activity from from until the attack at to.
func (o *Orchestrator) history(plan *Plan, i int, from, to time.Time, rng *rand.Rand) (patterns.Account, error) {
	g, err := o.registry.Get(plan.Benign[i])
	if err != nil {
		return patterns.Account{}, err
	}
	sub := o.subject(plan, from, to)
	sub.Start = from
	sub.Accounts = []patterns.Account{{User: plan.Users[i]}}
	tls, err := g.Generate(sub, o.cfg.Params(g.Name()), rng)
	if err != nil {
		return patterns.Account{}, fmt.Errorf("history of %s: %w", plan.Users[i].ID, err)
	}
	return patterns.Account{User: tls[0].User, History: tls[0].Events}, nil
}

func (o *Orchestrator) subject(plan *Plan, start, end time.Time) patterns.Subject {
	return patterns.Subject{
		Start:             start,
		End:               end,
		Dir:               plan.Dir,
		SessionGap:        o.cfg.SessionGap,
		LoginFailureRatio: o.cfg.LoginFailureRatio,
		RequireJobView:    o.cfg.RequireJobView,
	}
}

// check validates every timeline of a unit. A close_account that is not the
// last event is repaired by truncating after it; any other violation fails
// the unit.
func (o *Orchestrator) check(plan *Plan, u Unit, tls []domain.Timeline) ([]domain.Timeline, int, error) {
	g, _ := o.registry.Get(u.Pattern)
	repairs := 0
	for j := range tls {
		label, acting := o.label(plan, u, j)
		opts := validate.Options{SessionGap: o.cfg.SessionGap, Constraints: o.constraints(g, label, acting)}

		err := validate.Check(tls[j], opts)
		var v *domain.InvariantViolation
		if errors.As(err, &v) && v.Invariant == domain.InvCloseTerminal {
			if k := validate.FirstClose(tls[j].Events); k >= 0 {
				tls[j] = tls[j].Truncate(k + 1)
				repairs++
				err = validate.Check(tls[j], opts)
			}
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return tls, repairs, nil
}

// label returns the generation pattern of the j-th timeline of u and whether
// that account acts in the pattern.
func (o *Orchestrator) label(plan *Plan, u Unit, j int) (string, bool) {
	if j < len(u.Accounts) {
		return u.Pattern, true
	}
	return plan.Benign[u.Victims[j-len(u.Accounts)]], false
}

func (o *Orchestrator) constraints(g patterns.Generator, label string, acting bool) []validate.Constraint {
	cs := validate.Global(o.cfg.RequireJobView)
	if !acting || g.Family() == patterns.Benign {
		cs = append(cs, validate.Benign()...)
	}
	if c, ok := g.(patterns.Constrained); ok && acting {
		cs = append(cs, c.Constraints()...)
	}
	cs = append(cs, o.exprAll...)
	return append(cs, o.exprBy[label]...)
}

// merge labels the accounts, assigns interaction IDs and orders the corpus.
func (o *Orchestrator) merge(plan *Plan, results []unitResult) (*Corpus, error) {
	timelines := make([]domain.Timeline, len(plan.Users))
	written := make([]bool, len(plan.Users))
	stats := Stats{Units: len(plan.Units), PatternCounts: make(map[string]int)}

	for k, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		u := plan.Units[k]
		if res.attempts > 0 {
			stats.RegeneratedUnits++
		}
		stats.Repairs += res.repairs

		for j, tl := range res.timelines {
			var i int
			if j < len(u.Accounts) {
				i = u.Accounts[j]
			} else {
				i = u.Victims[j-len(u.Accounts)]
			}
			if written[i] {
				return nil, fmt.Errorf("%w: user %s written by more than one unit", domain.ErrInvariantViolation, plan.Users[i].ID)
			}
			written[i] = true

			label, acting := o.label(plan, u, j)
			user := tl.User
			user.GenerationPattern = label
			user.IsFraud = acting && u.Family == patterns.Adversarial
			user.IsFraudVictim = !acting
			user.Fishy = plan.Users[i].Fishy

			events := make([]domain.Interaction, len(tl.Events))
			for n, e := range tl.Events {
				events[n] = e.WithID(interactionID(o.cfg.Seed, user.ID, n))
			}
			timelines[i] = domain.Timeline{User: user, Events: events}

			stats.PatternCounts[label]++
			stats.Interactions += len(events)
			if user.IsFraud {
				stats.FraudAccounts++
			}
			if user.IsFraudVictim {
				stats.Victims++
			}
		}
	}
	for i, ok := range written {
		if !ok {
			return nil, fmt.Errorf("%w: user %s has no timeline", domain.ErrInvariantViolation, plan.Users[i].ID)
		}
	}

	sort.SliceStable(timelines, func(a, b int) bool { return timelines[a].User.ID < timelines[b].User.ID })
	c := &Corpus{
		Users:     make([]domain.User, len(timelines)),
		Timelines: timelines,
		Stats:     stats,
		index:     make(map[string]int, len(timelines)),
	}
	for i, tl := range timelines {
		c.Users[i] = tl.User
		c.index[tl.User.ID] = i
	}
	return c, nil
}

// unitSeed derives the seed of one unit attempt with a splitmix64 finalizer.
func unitSeed(seed int64, unit, attempt int) int64 {
	z := uint64(seed) ^ uint64(unit)*0x9e3779b97f4a7c15 ^ uint64(attempt)*0xbf58476d1ce4e5b9
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

func interactionID(seed int64, userID string, n int) string {
	return uuid.NewSHA1(interactionSpace, []byte(fmt.Sprintf("%d/%s/%d", seed, userID, n))).String()
}
