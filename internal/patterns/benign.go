package patterns

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validate"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var (
	skills = []string{"python", "leadership", "data_analysis", "project_management", "sales", "marketing", "design", "go"}

	candidateQueries = []string{"senior backend engineer", "product manager", "data scientist", "sales director", "ux designer", "devops"}

	// Executive assistants often work the account from abroad.
	delegateCountries = []string{"PH", "IN", "MX"}
)

func jobID(rng *rand.Rand) string { return fmt.Sprintf("job-%06d", rng.Intn(1000000)) }

// benignRun drives one benign account through its window.
type benignRun struct {
	sub  Subject
	rng  *rand.Rand
	self string
	tr   *Track
	from time.Time
}

func newBenignRun(sub Subject, rng *rand.Rand) *benignRun {
	acct := sub.Accounts[0]
	tr := sub.track(acct, sub.Dir.Home(acct.User.ID), rng, validate.Benign()...).Until(sub.End)
	return &benignRun{
		sub:  sub,
		rng:  rng,
		self: acct.User.ID,
		tr:   tr,
		from: later(tr.Now(), acct.User.CreatedAt.Add(time.Hour)),
	}
}

// other picks another member of the population.
func (b *benignRun) other() string {
	return b.sub.Dir.Pick(b.rng, map[string]bool{b.self: true})
}

// daytime returns a random instant between 07:00 and 23:00 on the day of t.
func daytime(rng *rand.Rand, t time.Time) time.Time {
	return t.Truncate(day).Add(time.Duration(7*3600+rng.Intn(16*3600)) * time.Second)
}

// weekly runs perWeek sessions in every week of the window, each opened by a
// login at a daytime instant.
func (b *benignRun) weekly(perWeek domain.Range, session func()) {
	for wk := b.from; wk.Before(b.sub.End) && !b.tr.Done(); wk = wk.Add(week) {
		n := between(b.rng, perWeek)
		slots := make([]time.Time, 0, n)
		for _, d := range b.rng.Perm(7)[:min(n, 7)] {
			at := daytime(b.rng, wk.Add(time.Duration(d)*day))
			if at.After(b.from) && at.Before(b.sub.End) {
				slots = append(slots, at)
			}
		}
		sortTimes(slots)
		for _, at := range slots {
			b.session(at, session)
		}
	}
}

func (b *benignRun) session(at time.Time, body func()) {
	if b.tr.Done() {
		return
	}
	b.tr.At(at).Login().Pause(5, 60)
	body()
}

// browse views n other users, calling after for each one viewed.
func (b *benignRun) browse(n int, after func(target string)) {
	for i := 0; i < n && !b.tr.Done(); i++ {
		target := b.other()
		b.tr.View(target).Pause(20, 240)
		if after != nil {
			after(target)
		}
	}
}

func (b *benignRun) react(target string) {
	if chance(b.rng, 0.5) {
		b.tr.Do(domain.Like, target, nil)
	} else {
		b.tr.Do(domain.React, target, nil)
	}
	b.tr.Pause(5, 60)
}

func (b *benignRun) connect(target string, messageRatio float64) {
	b.tr.Do(domain.SendConnectionRequest, target, nil).Pause(10, 120)
	if chance(b.rng, messageRatio) {
		b.tr.Message(target, domain.MessageInfo{Category: "intro"}).Pause(30, 300)
	}
}

func (b *benignRun) timelines() ([]domain.Timeline, error) { return collect(b.tr) }

func (s spec) run(sub Subject, p domain.PatternParams, rng *rand.Rand) (*benignRun, error) {
	if err := s.prepare(sub, p); err != nil {
		return nil, err
	}
	return newBenignRun(sub, rng), nil
}

type casualBrowser struct{ spec }

func (g casualBrowser) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	views := p.Count("views", domain.Range{Min: 2, Max: 8})
	msg, like := p.Ratio("message_after_view", 0.3), p.Ratio("like", 0.4)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 1, Max: 3}), func() {
		b.browse(between(rng, views), func(target string) {
			if chance(rng, like) {
				b.react(target)
			}
			if chance(rng, msg) {
				b.tr.Message(target, domain.MessageInfo{Category: "personal"}).Pause(30, 300)
			}
		})
	})
	return b.timelines()
}

type activeJobSeeker struct{ spec }

func (g activeJobSeeker) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	first := true
	jobs := p.Count("jobs_per_session", domain.Range{Min: 3, Max: 10})
	apply := p.Ratio("apply", 0.25)
	headline := p.Ratio("headline", 0.2)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 3, Max: 6}), func() {
		if first && chance(rng, headline) {
			b.tr.Do(domain.UpdateHeadline, "", nil).Pause(30, 120)
		}
		first = false
		for i := between(rng, jobs); i > 0 && !b.tr.Done(); i-- {
			job := domain.JobInfo{JobID: jobID(rng)}
			b.tr.Do(domain.ViewJob, "", job).Pause(30, 240)
			if chance(rng, apply) {
				b.tr.Do(domain.ApplyToJob, b.other(), job).Pause(60, 300)
			}
		}
		b.browse(intn(rng, 0, 3), nil)
	})
	return b.timelines()
}

type recruiter struct{ spec }

func (g recruiter) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	views := p.Count("views", domain.Range{Min: 3, Max: 10})
	connect, msg := p.Ratio("connect", 0.4), p.Ratio("message_on_connect", 0.2)
	posting := p.Ratio("job_posting", 0.25)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 3, Max: 5}), func() {
		if chance(rng, posting) {
			b.tr.Do(domain.CreateJobPosting, "", domain.JobInfo{JobID: jobID(rng)}).Pause(60, 300)
		}
		b.tr.Do(domain.SearchCandidates, "", domain.SearchInfo{Query: pick(rng, candidateQueries), Results: intn(rng, 10, 200)}).Pause(10, 60)
		b.browse(between(rng, views), func(target string) {
			if chance(rng, connect) {
				b.connect(target, msg)
			}
		})
	})
	return b.timelines()
}

type regularNetworker struct{ spec }

func (g regularNetworker) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	views := p.Count("views", domain.Range{Min: 2, Max: 6})
	connect, msg, endorse := p.Ratio("connect", 0.3), p.Ratio("message", 0.2), p.Ratio("endorse", 0.15)
	var connections []string
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 2, Max: 4}), func() {
		for i := intn(rng, 0, 2); i > 0; i-- {
			from := b.other()
			b.tr.Do(domain.AcceptConnectionRequest, from, nil).Pause(10, 90)
			connections = append(connections, from)
		}
		b.browse(between(rng, views), func(target string) {
			if chance(rng, connect) {
				b.connect(target, 0)
			} else if chance(rng, msg) {
				b.tr.Message(target, domain.MessageInfo{Category: "networking"}).Pause(30, 300)
			}
		})
		if len(connections) > 0 && chance(rng, endorse) {
			c := pick(rng, connections)
			b.tr.Do(domain.EndorseSkill, c, domain.SkillInfo{SkillID: pick(rng, skills)}).Pause(10, 60)
			if chance(rng, 0.1) {
				b.tr.Do(domain.GiveRecommendation, c, nil).Pause(60, 600)
			}
		}
		if groups := b.tr.User().Profile.Groups; len(groups) > 0 && chance(rng, 0.1) {
			b.tr.Do(domain.PostInGroup, "", domain.GroupInfo{GroupID: pick(rng, groups)}).Pause(30, 300)
		}
	})
	return b.timelines()
}

type weeklyCheckIn struct{ spec }

func (g weeklyCheckIn) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	views := p.Count("views", domain.Range{Min: 1, Max: 4})
	like := p.Ratio("like", 0.3)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 1, Max: 1}), func() {
		b.browse(between(rng, views), func(target string) {
			if chance(rng, like) {
				b.react(target)
			}
		})
	})
	return b.timelines()
}

type contentConsumer struct{ spec }

func (g contentConsumer) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	views := p.Count("views", domain.Range{Min: 5, Max: 15})
	react, connect, msg := p.Ratio("react", 0.5), p.Ratio("connect", 0.05), p.Ratio("message", 0.15)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 3, Max: 6}), func() {
		b.browse(between(rng, views), func(target string) {
			if chance(rng, react) {
				b.react(target)
			}
			switch {
			case chance(rng, connect):
				b.connect(target, 0)
			case chance(rng, msg):
				b.tr.Message(target, domain.MessageInfo{Category: "comment"}).Pause(30, 300)
			}
		})
	})
	return b.timelines()
}

type newUserOnboarding struct{ spec }

func (g newUserOnboarding) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	// Onboarding accounts are created inside the window.
	sub.Accounts = append([]Account(nil), sub.Accounts...)
	if acct := &sub.Accounts[0]; len(acct.History) == 0 {
		span := sub.End.Sub(sub.Start) * 2 / 3
		if span > 0 {
			acct.User.CreatedAt = sub.Start.Add(time.Duration(rng.Int63n(int64(span))))
		}
	}
	b := newBenignRun(sub, rng)
	b.tr.At(b.tr.User().CreatedAt).Wait(mins(rng, 1, 10)).Login().Pause(10, 60)
	if chance(rng, p.Ratio("profile_update", 0.5)) {
		b.tr.Do(domain.ChangeProfile, "", nil).Pause(30, 180)
		b.tr.Do(domain.UpdateHeadline, "", nil).Pause(20, 120)
	}
	if chance(rng, p.Ratio("upload_address_book", 0.4)) {
		b.tr.Do(domain.UploadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 400)}).Pause(30, 120)
	}
	msg := p.Ratio("message_on_connect", 0.2)
	b.browse(between(rng, p.Count("connections", domain.Range{Min: 3, Max: 12})), func(target string) {
		b.connect(target, msg)
	})
	if groups := sub.Dir.Groups(); len(groups) > 0 && chance(rng, 0.5) {
		b.tr.Do(domain.JoinGroup, "", domain.GroupInfo{GroupID: pick(rng, groups)}).Pause(10, 60)
	}
	b.from = b.tr.Now().Add(day)
	b.weekly(domain.Range{Min: 1, Max: 3}, func() {
		b.browse(intn(rng, 1, 5), nil)
	})
	return b.timelines()
}

type returningUser struct{ spec }

func (g returningUser) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	window := sub.End.Sub(b.from)
	if window <= 0 {
		return b.timelines()
	}
	// A returning user shows up once late in the window after a long absence.
	back := b.from.Add(window/2 + time.Duration(rng.Int63n(int64(window/2)+1)))
	b.session(daytime(rng, back), func() {
		b.tr.Do(domain.ChangePassword, "", nil).Pause(30, 120)
		b.browse(intn(rng, 2, 8), nil)
		if chance(rng, 0.3) {
			b.tr.Do(domain.ChangeProfile, "", nil).Pause(30, 120)
		}
	})
	if chance(rng, p.Ratio("second_session", 0.4)) {
		b.session(daytime(rng, b.tr.Now().Add(days(rng, 1, 4))), func() {
			b.browse(intn(rng, 1, 5), nil)
		})
	}
	return b.timelines()
}

type careerUpdate struct{ spec }

func (g careerUpdate) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	window := sub.End.Sub(b.from)
	if window <= 0 {
		return b.timelines()
	}
	update := func() {
		b.tr.Do(domain.ChangeProfile, "", nil).Pause(60, 300)
		if chance(rng, p.Ratio("headline", 0.55)) {
			b.tr.Do(domain.UpdateHeadline, "", nil).Pause(30, 180)
		}
		if chance(rng, p.Ratio("summary", 0.85)) {
			b.tr.Do(domain.UpdateSummary, "", nil).Pause(60, 600)
		}
	}
	b.session(daytime(rng, b.from.Add(time.Duration(rng.Int63n(int64(window))))), update)
	if chance(rng, p.Ratio("second_update", 0.3)) {
		b.session(daytime(rng, b.tr.Now().Add(days(rng, 2, 10))), update)
	}
	b.from = b.tr.Now().Add(day)
	b.weekly(domain.Range{Min: 0, Max: 2}, func() { b.browse(intn(rng, 1, 4), nil) })
	return b.timelines()
}

type execDelegation struct{ spec }

func (g execDelegation) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	home := b.tr.Origin()
	delegate := domain.Origin{
		IP:        fmt.Sprintf("112.198.%d.%d", rng.Intn(250), 1+rng.Intn(250)),
		Country:   pick(rng, delegateCountries),
		Type:      domain.IPResidential,
		UserAgent: pick(rng, altAgents),
	}
	msg := p.Ratio("message_on_connect", 0.15)
	b.weekly(p.Count("sessions_per_week", domain.Range{Min: 3, Max: 6}), func() {
		if chance(rng, p.Ratio("owner_session", 0.3)) {
			b.tr.From(home)
			b.browse(intn(rng, 1, 3), nil)
			return
		}
		b.tr.From(delegate)
		for i := intn(rng, 1, 3); i > 0; i-- {
			b.tr.Do(domain.AcceptConnectionRequest, b.other(), nil).Pause(10, 60)
		}
		b.browse(intn(rng, 2, 6), func(target string) {
			if chance(rng, 0.3) {
				b.connect(target, msg)
			}
		})
	})
	return b.timelines()
}

type dormantAccount struct{ spec }

// Generate emits the creation and at most one sign-in shortly after the
// account joins the window. Nothing else ever happens on a dormant account.
func (g dormantAccount) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	b, err := g.run(sub, p, rng)
	if err != nil {
		return nil, err
	}
	joined := later(b.tr.User().CreatedAt, sub.Start)
	if sub.End.Sub(joined) < day {
		return b.timelines()
	}
	if chance(rng, p.Ratio("login_once", 0.7)) {
		at := joined.Add(hours(rng, 1, 48) + mins(rng, 0, 59))
		if at.Before(sub.End) {
			b.tr.At(at).Login()
		}
	}
	return b.timelines()
}

func benignSpec(name string) spec {
	return spec{name: name, family: Benign, role: RoleBenign, min: 1, max: 1}
}

func benignGenerators() []Generator {
	return []Generator{
		casualBrowser{benignSpec("casual_browser")},
		activeJobSeeker{benignSpec("active_job_seeker")},
		recruiter{benignSpec("recruiter")},
		regularNetworker{benignSpec("regular_networker")},
		weeklyCheckIn{benignSpec("weekly_check_in")},
		contentConsumer{benignSpec("content_consumer")},
		newUserOnboarding{benignSpec("new_user_onboarding")},
		returningUser{benignSpec("returning_user")},
		careerUpdate{benignSpec("career_update")},
		execDelegation{benignSpec("exec_delegation")},
		dormantAccount{benignSpec("dormant_account")},
	}
}
