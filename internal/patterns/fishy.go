package patterns

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validate"
)

// Fishy-account patterns. The accounts are created for the pattern; the
// planner sets their CreatedAt shortly before Subject.Start.

func fishySpec(name string, min, max int, span time.Duration) spec {
	return spec{name: name, family: Adversarial, role: RoleFishy, min: min, max: max, span: span}
}

// fishyTracks opens a track per account, created from the i-th origin.
func fishyTracks(sub Subject, rng *rand.Rand, origin func(i int) domain.Origin, extra ...validate.Constraint) []*Track {
	tracks := make([]*Track, len(sub.Accounts))
	for i, acct := range sub.Accounts {
		tracks[i] = sub.track(acct, origin(i), rng, extra...)
	}
	return tracks
}

// victimSide opens a track per victim from their usual origin. Victims keep
// their benign label, so they carry the benign constraints.
func victimSide(sub Subject, rng *rand.Rand) []*Track {
	tracks := make([]*Track, len(sub.Victims))
	for i, acct := range sub.Victims {
		tracks[i] = sub.track(acct, sub.Dir.Home(acct.User.ID), rng, validate.Benign()...)
	}
	return tracks
}

func residentialUSOrigin(rng *rand.Rand) domain.Origin {
	return domain.Origin{
		IP:        fmt.Sprintf("98.%d.%d.%d", 200+rng.Intn(50), rng.Intn(250), 1+rng.Intn(250)),
		Country:   "US",
		Type:      domain.IPResidential,
		UserAgent: pick(rng, browserAgents),
	}
}

type fakeAccount struct{ spec }

func (g fakeAccount) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	us := usHostingOrigin(rng)
	tr := fishyTracks(sub, rng, func(int) domain.Origin { return us })[0]
	dormant := within(rng, p.Duration("dormancy", domain.DurationRange{Min: 2 * day, Max: 14 * day}))
	tr.Wait(dormant).LoginAfter(0)
	tr.Wait(mins(rng, 2, 10)).Do(domain.ChangePassword, "", nil).Wait(mins(rng, 1, 5))
	if chance(rng, p.Ratio("change_profile", 0.7)) {
		tr.Do(domain.ChangeProfile, "", nil).Wait(mins(rng, 1, 3))
	}
	if chance(rng, p.Ratio("change_name", 0.6)) {
		tr.Do(domain.ChangeName, "", nil).Wait(mins(rng, 1, 3))
	}
	country := pick(rng, []string{"CN", "NG", "UA", "RO"})
	tr.Wait(hours(rng, 2, 24)).From(otherHostingOrigin(rng, country, us.IP)).LoginAfter(0)
	tr.Wait(mins(rng, 3, 15)).Do(domain.UploadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 2000, 8000)})
	tr.Wait(mins(rng, 5, 30))
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 50, Max: 150})))
	if err != nil {
		return nil, err
	}
	tr.burst(rng, targets, hours(rng, 1, 4), spamMessages)
	return collect(tr)
}

type accountFarming struct{ spec }

func (g accountFarming) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, len(sub.Accounts), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At)

	// The farm hands the accounts to a buyer who takes them over one by one.
	buyer := residentialUSOrigin(rng)
	clock := sub.Start.Add(days(rng, 1, 3))
	for _, tr := range tracks {
		clock = clock.Add(hours(rng, 2, 12))
		tr.At(clock).From(buyer).LoginAfter(0).Pause(30, 180)
		tr.Do(domain.ChangePassword, "", nil).Pause(20, 120)
		tr.Do(domain.ChangeProfile, "", nil).Pause(20, 120)
		tr.Do(domain.ChangeName, "", nil).Pause(20, 120)
		if chance(rng, p.Ratio("headline", 0.7)) {
			tr.Do(domain.UpdateHeadline, "", nil).Pause(20, 120)
		}
		if chance(rng, p.Ratio("summary", 0.5)) {
			tr.Do(domain.UpdateSummary, "", nil)
		}
		clock = later(clock, tr.Now())
	}
	return collect(tracks...)
}

type coordinatedHarassment struct{ spec }

func (g coordinatedHarassment) Targets(p domain.PatternParams) domain.Range {
	return p.Count("targets", domain.Range{Min: 1, Max: 3})
}

func (g coordinatedHarassment) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, min(len(sub.Accounts)+1, 4), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At)
	targets, err := g.unitTargets(sub, rng, g.Targets(p))
	if err != nil {
		return nil, err
	}

	clock := sub.Start
	for _, tr := range tracks {
		clock = clock.Add(mins(rng, 1, 15))
		tr.At(clock).LoginAfter(0)
	}
	for _, target := range targets {
		for _, tr := range tracks {
			clock = clock.Add(mins(rng, 1, 5))
			tr.At(clock).Message(target, pick(rng, harassmentMessages))
			clock = later(clock, tr.Now())
		}
	}
	return collect(tracks...)
}

// unitTargets returns the planner's shared targets or draws distinct ones.
// A small population may yield fewer than r.Min, never none.
func (s spec) unitTargets(sub Subject, rng *rand.Rand, r domain.Range) ([]string, error) {
	if len(sub.Targets) > 0 {
		return sub.Targets, nil
	}
	out := sub.Dir.PickN(rng, max(between(rng, r), 1), exclusion(sub.Accounts, sub.Victims))
	if len(out) == 0 {
		return nil, s.impossible("no account outside the unit to target")
	}
	return out, nil
}

type coordinatedLikeInflation struct{ spec }

func (g coordinatedLikeInflation) Targets(p domain.PatternParams) domain.Range {
	return domain.Range{Min: 1, Max: 1}
}

func (g coordinatedLikeInflation) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, min(len(sub.Accounts), 4), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At)
	targets, err := g.unitTargets(sub, rng, g.Targets(p))
	if err != nil {
		return nil, err
	}
	target := targets[0]

	for _, tr := range tracks {
		tr.Wait(mins(rng, 0, 30)).LoginAfter(0)
	}
	window := within(rng, p.Duration("window", domain.DurationRange{Min: 2 * time.Minute, Max: 15 * time.Minute}))
	begin := sub.Start.Add(35 * time.Minute)
	for _, tr := range tracks {
		tr.At(begin.Add(time.Duration(rng.Int63n(int64(window)+1)))).Do(domain.Like, target, nil)
	}
	return collect(tracks...)
}

var endorsedSkills = []string{"python", "leadership", "data_analysis", "project_management"}

type endorsementInflation struct{ spec }

func (g endorsementInflation) Targets(p domain.PatternParams) domain.Range {
	return p.Count("targets", domain.Range{Min: 1, Max: 3})
}

func (g endorsementInflation) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, min(len(sub.Accounts), 4), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At)
	clock := sub.Start
	for _, tr := range tracks {
		clock = clock.Add(secs(rng, 30, 300))
		tr.At(clock).LoginAfter(0)
	}
	per := p.Count("per_skill", domain.Range{Min: 5, Max: 20})
	targets, err := g.unitTargets(sub, rng, g.Targets(p))
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		for _, skill := range endorsedSkills {
			for i := between(rng, per); i > 0; i-- {
				tr := pick(rng, tracks)
				clock = clock.Add(secs(rng, 10, 60))
				tr.At(clock).Do(domain.EndorseSkill, target, domain.SkillInfo{SkillID: skill})
				clock = later(clock, tr.Now())
			}
		}
	}
	return collect(tracks...)
}

type recommendationFraud struct{ spec }

func (g recommendationFraud) Targets(p domain.PatternParams) domain.Range {
	return p.Count("targets", domain.Range{Min: 2, Max: 6})
}

func (g recommendationFraud) Constraints() []validate.Constraint {
	return []validate.Constraint{validate.RecommendationToConnection()}
}

func (g recommendationFraud) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, min(len(sub.Accounts), 3), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At, g.Constraints()...)
	clock := sub.Start
	targets, err := g.unitTargets(sub, rng, g.Targets(p))
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		tr := pick(rng, tracks)
		clock = clock.Add(mins(rng, 2, 15))
		tr.At(clock).Do(domain.AcceptConnectionRequest, target, nil).Pause(30, 120)
		tr.Do(domain.GiveRecommendation, target, nil)
		clock = later(clock, tr.Now())
	}
	return collect(tracks...)
}

type invitationSpam struct{ spec }

func (g invitationSpam) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, len(sub.Accounts), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At)
	per := p.Count("requests", domain.Range{Min: 50, Max: 200})
	for _, tr := range tracks {
		tr.Wait(mins(rng, 0, 60)).LoginAfter(0)
		targets, err := g.spamTargets(sub, rng, between(rng, per))
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			tr.Pause(5, 45).Do(domain.SendConnectionRequest, target, nil)
		}
	}
	return collect(tracks...)
}

type groupSpam struct{ spec }

func (g groupSpam) Constraints() []validate.Constraint {
	return []validate.Constraint{validate.GroupMembership()}
}

func (g groupSpam) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	cluster := sub.cluster(rng, len(sub.Accounts), pick(rng, defaultAttackerCountries))
	tracks := fishyTracks(sub, rng, cluster.At, g.Constraints()...)
	catalog := sub.Dir.Groups()
	if len(catalog) == 0 {
		catalog = []string{"grp-000", "grp-001", "grp-002", "grp-003"}
	}
	posts := p.Count("posts", domain.Range{Min: 3, Max: 15})
	for _, tr := range tracks {
		tr.Wait(mins(rng, 0, 60)).LoginAfter(0)
		n := min(between(rng, p.Count("groups", domain.Range{Min: 2, Max: 4})), len(catalog))
		for _, gi := range rng.Perm(len(catalog))[:n] {
			group := domain.GroupInfo{GroupID: catalog[gi]}
			tr.Pause(30, 300).Do(domain.JoinGroup, "", group)
			for i := between(rng, posts); i > 0; i-- {
				tr.Wait(mins(rng, 5, 60)).Do(domain.PostInGroup, "", group)
			}
		}
	}
	return collect(tracks...)
}

type profileCloning struct{ spec }

func (g profileCloning) Targets(p domain.PatternParams) domain.Range {
	return domain.Range{Min: 1, Max: 1}
}

func (g profileCloning) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	impersonated, err := g.unitTargets(sub, rng, g.Targets(p))
	if err != nil {
		return nil, err
	}
	tracks := fishyTracks(sub, rng, func(int) domain.Origin {
		return attackerResidentialOrigin(rng, pick(rng, defaultAttackerCountries))
	})
	contacts := p.Count("contacts", domain.Range{Min: 3, Max: 15})
	for i, tr := range tracks {
		source, ok := sub.Dir.User(impersonated[i%len(impersonated)])
		if !ok {
			return nil, g.impossible(fmt.Sprintf("impersonated user %s is not in the population", impersonated[i%len(impersonated)]))
		}
		u := tr.User()
		profile, err := u.Profile.CloneOf(u.ID, source)
		if err != nil {
			return nil, err
		}
		u.Profile = profile
		tr.SetUser(u)

		tr.Wait(mins(rng, 10, 120)).LoginAfter(0).Pause(60, 600)
		tr.Do(domain.ChangeProfile, "", nil)
		ex := exclusion(sub.Accounts)
		ex[source.ID] = true
		for _, victim := range sub.Dir.PickN(rng, between(rng, contacts), ex) {
			tr.Wait(mins(rng, 5, 30)).View(victim)
			if chance(rng, p.Ratio("connect", 0.7)) {
				tr.Pause(30, 300).Do(domain.SendConnectionRequest, victim, nil)
			}
			tr.Pause(60, 600).Message(victim, pick(rng, spamMessages))
		}
	}
	return collect(tracks...)
}

type jobPostingScam struct{ spec }

func (g jobPostingScam) Victims(p domain.PatternParams) domain.Range {
	return p.Count("applications", domain.Range{Min: 10, Max: 100})
}

func (g jobPostingScam) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	country := pick(rng, defaultAttackerCountries)
	posters := fishyTracks(sub, rng, func(int) domain.Origin { return hostingOrigin(rng, country) })
	jobs := make([]string, len(posters))
	for i, tr := range posters {
		jobs[i] = jobID(rng)
		tr.Wait(mins(rng, 10, 120)).LoginAfter(0).Pause(60, 600)
		tr.Do(domain.CreateJobPosting, "", domain.JobInfo{JobID: jobs[i]})
	}
	phishing := p.Ratio("phishing_redirect", 0.4)
	open := sub.Start.Add(3 * time.Hour)
	n := len(posters)
	for i, tr := range victimSide(sub, rng) {
		k := i % n
		tr.At(open.Add(time.Duration(rng.Int63n(int64(5*day))))).Login().Pause(10, 120)
		job := domain.JobInfo{JobID: jobs[k], PhishingRedirect: chance(rng, phishing)}
		tr.Do(domain.ViewJob, "", job).Pause(30, 600)
		tr.Do(domain.ApplyToJob, posters[k].User().ID, job)
		posters = append(posters, tr)
	}
	return collect(posters...)
}

type romanceScam struct{ spec }

func (g romanceScam) Victims(p domain.PatternParams) domain.Range {
	return domain.Range{Min: 1, Max: 1}
}

var scamPhases = []string{"initial", "middle", "ask"}

func (g romanceScam) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	if len(sub.Victims) != 1 {
		return nil, g.impossible(fmt.Sprintf("needs exactly one victim, got %d", len(sub.Victims)))
	}
	scammer := fishyTracks(sub, rng, func(int) domain.Origin {
		return attackerResidentialOrigin(rng, pick(rng, []string{"NG", "GH", "CI", "MY"}))
	})[0]
	victim := victimSide(sub, rng)[0]
	target := victim.User().ID
	self := scammer.User().ID

	scammer.Wait(hours(rng, 1, 24)).LoginAfter(0).Pause(30, 300).View(target)
	scammer.Pause(60, 600).Do(domain.SendConnectionRequest, target, nil)

	n := between(rng, p.Count("messages", domain.Range{Min: 20, Max: 100}))
	span := within(rng, p.Duration("duration", domain.DurationRange{Min: 7 * day, Max: 25 * day}))
	begin := scammer.Now().Add(hours(rng, 1, 12))
	reply := p.Ratio("reply", 0.5)
	for i, at := range uniformTimes(rng, begin, begin.Add(span), n) {
		phase := scamPhases[min(i*3/n, 2)]
		scammer.At(at).Message(target, domain.ScamInfo{Phase: phase})
		if chance(rng, reply) {
			victim.At(scammer.Now().Add(mins(rng, 10, 360)))
			if !victim.Machine().Viewed(self) {
				victim.View(self).Pause(30, 300)
			}
			victim.Message(self, domain.MessageInfo{Category: "personal"})
		}
	}
	return collect(scammer, victim)
}

func fishyGenerators() []Generator {
	return []Generator{
		fakeAccount{fishySpec("fake_account", 1, 1, 16*day)},
		accountFarming{fishySpec("account_farming", 2, 6, 8*day)},
		coordinatedHarassment{fishySpec("coordinated_harassment", 3, 8, day)},
		coordinatedLikeInflation{fishySpec("coordinated_like_inflation", 3, 10, 2*time.Hour)},
		endorsementInflation{fishySpec("endorsement_inflation", 3, 8, 2*day)},
		recommendationFraud{fishySpec("recommendation_fraud", 2, 6, day)},
		invitationSpam{fishySpec("invitation_spam", 2, 6, day)},
		groupSpam{fishySpec("group_spam", 1, 4, 4*day)},
		profileCloning{fishySpec("profile_cloning", 1, 3, 3*day)},
		jobPostingScam{fishySpec("job_posting_scam", 1, 3, 6*day)},
		romanceScam{fishySpec("romance_scam", 1, 1, 27*day)},
	}
}
