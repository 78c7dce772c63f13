package corpus

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// Unit is one independent generation job.
type Unit struct {
	Index   int
	Pattern string
	Family  patterns.Family
	// Accounts and Victims are indexes into Plan.Users.
	Accounts []int
	Victims  []int
	Targets  []string
	Cluster  patterns.IPCluster
	Start    time.Time
}

// Plan is the deterministic assignment of the population to units.
type Plan struct {
	Users  []domain.User
	Homes  []domain.Origin
	Groups []string
	// Benign names the benign archetype of every user. Takeover accounts and
	// victims use it to write their history before the attack.
	Benign []string
	Units  []Unit
	Dir    *patterns.Directory
}

// Fraud returns the number of accounts acting in adversarial units.
func (p *Plan) Fraud() int {
	n := 0
	for _, u := range p.Units {
		if u.Family == patterns.Adversarial {
			n += len(u.Accounts)
		}
	}
	return n
}

// Plan synthesizes the population and assigns every account to a unit.
func (o *Orchestrator) Plan() (*Plan, error) {
	cfg := o.cfg
	rng := rand.New(rand.NewSource(cfg.Seed))
	pop, err := synthesize(cfg, rng)
	if err != nil {
		return nil, err
	}
	pl := &Plan{Users: pop.users, Homes: pop.homes, Groups: pop.groups}
	n := len(pl.Users)

	// Every user gets a benign archetype, whether or not it ends up acting.
	benignWeights := positive(cfg.BenignWeights)
	if len(benignWeights) == 0 {
		benignWeights = map[string]float64{}
		for _, name := range o.registry.Names(patterns.Benign) {
			benignWeights[name] = 1
		}
	}
	var deck []string
	shares := apportion(n, benignWeights)
	for _, name := range sortedKeys(shares) {
		for range shares[name] {
			deck = append(deck, name)
		}
	}
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	pl.Benign = deck

	budget := 0
	if cfg.FraudRatio > 0 {
		budget = max(1, int(math.Round(float64(n)*cfg.FraudRatio)))
	}
	budget = min(budget, n)

	units, fold, err := o.apportionFraud(budget)
	if err != nil {
		return nil, err
	}

	windowStart, end := cfg.Window()
	draw := newDrawPool(rng, pl.Users)
	acting := make(map[int]bool)
	var fraudUnits []Unit
	for len(units) > 0 {
		u := units[0]
		units = units[1:]
		g, _ := o.registry.Get(u.Pattern)
		size := len(u.Accounts)
		u.Accounts = nil
		for range size {
			i, ok := draw.take(g.Role() == patterns.RoleTakeover)
			if !ok {
				break
			}
			u.Accounts = append(u.Accounts, i)
		}
		if lo, _ := g.Participants(); len(u.Accounts) < lo {
			return nil, &domain.ConfigurationError{Field: "population", Reason: fmt.Sprintf("too small for a %s unit", u.Pattern)}
		}
		if vw, ok := g.(patterns.VictimWriter); ok {
			want := vw.Victims(cfg.Params(u.Pattern))
			for range between(rng, want) {
				i, ok := draw.take(false)
				if !ok {
					break
				}
				u.Victims = append(u.Victims, i)
			}
			if len(u.Victims) < want.Min {
				// Not enough accounts left to fall for the scam.
				if fold == "" {
					return nil, &domain.ConfigurationError{Field: "population", Reason: fmt.Sprintf("too small for the victims of %s", u.Pattern)}
				}
				draw.put(u.Victims...)
				draw.put(u.Accounts...)
				for range u.Accounts {
					units = append(units, Unit{Pattern: fold, Family: patterns.Adversarial, Accounts: make([]int, 1)})
				}
				continue
			}
		}
		for _, i := range u.Accounts {
			acting[i] = true
		}
		u.Start = startFor(rng, windowStart, end, g.Span())
		if g.Role() == patterns.RoleFishy {
			for _, i := range u.Accounts {
				fishy(rng, &pl.Users[i], u.Start)
			}
		}
		fraudUnits = append(fraudUnits, u)
	}

	pl.Dir = patterns.NewDirectory(pl.Users, pl.Homes, pl.Groups)
	o.shareTargets(rng, pl, fraudUnits, acting)
	o.assignClusters(rng, fraudUnits)

	pl.Units = fraudUnits
	consumed := make(map[int]bool, len(acting))
	for _, u := range fraudUnits {
		for _, i := range u.Accounts {
			consumed[i] = true
		}
		for _, i := range u.Victims {
			consumed[i] = true
		}
	}
	for i := range pl.Users {
		if !consumed[i] {
			pl.Units = append(pl.Units, Unit{Pattern: pl.Benign[i], Family: patterns.Benign, Accounts: []int{i}, Start: windowStart})
		}
	}
	for k := range pl.Units {
		pl.Units[k].Index = k
	}
	return pl, nil
}

// apportionFraud splits the fraud budget into units. Account slots are
// allocated but not yet bound to users. fold is the single-account pattern
// that absorbs counts too small for a coordinated unit.
func (o *Orchestrator) apportionFraud(budget int) (units []Unit, fold string, err error) {
	if budget == 0 {
		return nil, "", nil
	}
	weights := positive(o.cfg.FraudWeights)
	counts := apportion(budget, weights)

	for _, name := range sortedKeys(weights) {
		g, err := o.registry.Get(name)
		if err != nil {
			return nil, "", err
		}
		if _, scam := g.(patterns.VictimWriter); scam || patterns.Coordinated(g) {
			continue
		}
		if fold == "" || weights[name] > weights[fold] {
			fold = name
		}
	}

	slots := func(name string, k int) {
		units = append(units, Unit{Pattern: name, Family: patterns.Adversarial, Accounts: make([]int, k)})
	}
	folded := 0
	for _, name := range sortedKeys(counts) {
		c := counts[name]
		g, _ := o.registry.Get(name)
		if !patterns.Coordinated(g) {
			continue
		}
		lo, hi := g.Participants()
		k := (c + hi - 1) / hi
		for k > 0 && c/k < lo {
			k--
		}
		if k == 0 {
			if fold == "" && c > 0 {
				// Nothing to fold into: round up to one minimal unit.
				slots(name, lo)
				continue
			}
			folded += c
			continue
		}
		used := min(c, k*hi)
		for j := range k {
			slots(name, used/k+boolInt(j < used%k))
		}
		folded += c - used
	}
	if fold != "" {
		counts[fold] += folded
	}
	for _, name := range sortedKeys(counts) {
		g, _ := o.registry.Get(name)
		if patterns.Coordinated(g) {
			continue
		}
		for range counts[name] {
			slots(name, 1)
		}
	}
	return units, fold, nil
}

// shareTargets draws the shared target set of every targeted unit from
// accounts that take no part in an attack.
func (o *Orchestrator) shareTargets(rng *rand.Rand, pl *Plan, units []Unit, acting map[int]bool) {
	exclude := make(map[string]bool, len(acting))
	for i := range acting {
		exclude[pl.Users[i].ID] = true
	}
	for k := range units {
		u := &units[k]
		g, _ := o.registry.Get(u.Pattern)
		t, ok := g.(patterns.Targeted)
		if !ok {
			continue
		}
		ex := make(map[string]bool, len(exclude)+len(u.Victims))
		for id := range exclude {
			ex[id] = true
		}
		for _, i := range u.Victims {
			ex[pl.Users[i].ID] = true
		}
		n := between(rng, t.Targets(o.cfg.Params(u.Pattern)))
		if et, ok := g.(patterns.ExecutiveTargeted); ok && et.TargetsExecutives() {
			u.Targets = pl.Dir.Executives(rng, n, ex)
		}
		if len(u.Targets) == 0 {
			u.Targets = pl.Dir.PickN(rng, n, ex)
		}
	}
}

// assignClusters hands each coordinated unit a block of a shuffled hosting pool.
func (o *Orchestrator) assignClusters(rng *rand.Rand, units []Unit) {
	pool := patterns.HostingPool()
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	next := 0
	for k := range units {
		u := &units[k]
		g, _ := o.registry.Get(u.Pattern)
		if !patterns.Coordinated(g) {
			continue
		}
		size := min(len(u.Accounts)+1, 6, len(pool))
		ips := make([]string, size)
		for j := range ips {
			ips[j] = pool[next%len(pool)]
			next++
		}
		u.Cluster = patterns.NewCluster(fmt.Sprintf("cluster-%03d", k+1), ips, patterns.AttackerCountry(rng, ""), rng)
	}
}

// startFor picks when a pattern of the given span begins. Patterns that do
// not fit in the window start one day in and run past its end.
func startFor(rng *rand.Rand, windowStart, end time.Time, span time.Duration) time.Time {
	lo := windowStart
	if end.Sub(windowStart) > 2*24*time.Hour {
		lo = windowStart.Add(24 * time.Hour)
	}
	hi := end.Add(-span)
	if !hi.After(lo) {
		return lo
	}
	return lo.Add(time.Duration(rng.Int63n(int64(hi.Sub(lo))))).Truncate(time.Second)
}

// fishy turns u into an account created shortly before start to run a pattern.
func fishy(rng *rand.Rand, u *domain.User, start time.Time) {
	u.Fishy = true
	u.CreatedAt = start.Add(-time.Hour - time.Duration(rng.Int63n(int64(47*time.Hour)))).Truncate(time.Second)
	p := &u.Profile
	p.ConnectionsCount = rng.Intn(20)
	p.EndorsementsCount = 0
	p.ProfileViewsReceived = rng.Intn(10)
	p.TwoFactorEnabled = false
	p.PhoneVerified = false
	p.Tier = domain.TierFree
	p.HasPhoto = rng.Float64() < 0.5
	if rng.Float64() < 0.6 {
		p.Summary = ""
	}
}

// drawPool hands out population indexes without replacement.
type drawPool struct {
	rng   *rand.Rand
	users []domain.User
	left  []int
}

func newDrawPool(rng *rand.Rand, users []domain.User) *drawPool {
	return &drawPool{rng: rng, users: users, left: rng.Perm(len(users))}
}

// take removes one index. Biased draws prefer the better connected of two candidates.
func (d *drawPool) take(biased bool) (int, bool) {
	if len(d.left) == 0 {
		return 0, false
	}
	k := d.rng.Intn(len(d.left))
	if biased {
		if j := d.rng.Intn(len(d.left)); d.users[d.left[j]].Profile.ConnectionsCount > d.users[d.left[k]].Profile.ConnectionsCount {
			k = j
		}
	}
	i := d.left[k]
	last := len(d.left) - 1
	d.left[k] = d.left[last]
	d.left = d.left[:last]
	return i, true
}

// put returns indexes to the pool.
func (d *drawPool) put(idx ...int) { d.left = append(d.left, idx...) }

// apportion splits total over weights by the largest-remainder method.
func apportion(total int, weights map[string]float64) map[string]int {
	out := make(map[string]int, len(weights))
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 || total == 0 {
		return out
	}
	type rem struct {
		name string
		frac float64
	}
	var rems []rem
	given := 0
	for _, name := range sortedKeys(weights) {
		q := float64(total) * weights[name] / sum
		out[name] = int(q)
		given += int(q)
		rems = append(rems, rem{name, q - math.Floor(q)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; given < total; i++ {
		out[rems[i%len(rems)].name]++
		given++
	}
	return out
}

func positive(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for name, w := range weights {
		if w > 0 {
			out[name] = w
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func between(rng *rand.Rand, r domain.Range) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Intn(r.Max-r.Min+1)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
