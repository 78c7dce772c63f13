package patterns

import (
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Single-account takeovers. The account is a legitimate one whose history
// the planner generated up to Subject.Start; the attacker continues it.

func takeoverSpec(name string, span time.Duration) spec {
	return spec{name: name, family: Adversarial, role: RoleTakeover, min: 1, max: 1, span: span}
}

// victimTrack continues the i-th account of sub from the attacker's origin.
func victimTrack(sub Subject, i int, rng *rand.Rand) (*Track, string) {
	acct := sub.Accounts[i]
	home := sub.Dir.Home(acct.User.ID)
	tr := sub.track(acct, home, rng)
	country := acct.User.HomeCountry
	if country == "" {
		country = home.Country
	}
	return tr, country
}

// burst sends one message per target, spread evenly over window from the cursor.
func (t *Track) burst(rng *rand.Rand, targets []string, window time.Duration, templates []domain.MessageInfo) *Track {
	start := t.Now()
	for i, target := range targets {
		t.At(start.Add(spread(window, i, len(targets)))).Message(target, pick(rng, templates))
	}
	return t
}

// spamTargets picks n recipients outside the unit. When the population
// holds fewer than n, recipients repeat so the unit still sends n.
func (s spec) spamTargets(sub Subject, rng *rand.Rand, n int) ([]string, error) {
	out := sub.Dir.PickN(rng, n, exclusion(sub.Accounts, sub.Victims))
	if len(out) == 0 && n > 0 {
		return nil, s.impossible("no account outside the unit to target")
	}
	for distinct := len(out); len(out) < n; {
		out = append(out, out[rng.Intn(distinct)])
	}
	return out, nil
}

type smashGrab struct{ spec }

func (g smashGrab) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(hostingOrigin(rng, AttackerCountry(rng, home))).LoginAfter(intn(rng, 0, 3))
	tr.Wait(mins(rng, 5, 20)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 500)})
	tr.Wait(2 * time.Minute)
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 80, Max: 200})))
	if err != nil {
		return nil, err
	}
	tr.burst(rng, targets, within(rng, p.Duration("burst", domain.DurationRange{Min: time.Hour, Max: 3 * time.Hour})), spamMessages)
	if closeChance(p, rng, 1) {
		tr.Wait(mins(rng, 10, 60)).Close()
	}
	return collect(tr)
}

type lowSlow struct{ spec }

func (g lowSlow) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(hostingOrigin(rng, AttackerCountry(rng, home))).LoginAfter(intn(rng, 0, 3))
	start := tr.Now()
	dormant := within(rng, p.Duration("dormancy", domain.DurationRange{Min: 2 * day, Max: 5 * day}))
	for _, at := range uniformTimes(rng, start.Add(time.Minute), start.Add(dormant), between(rng, p.Count("views", domain.Range{Min: 3, Max: 8}))) {
		tr.At(at).View(sub.Dir.Pick(rng, exclusion(sub.Accounts)))
	}
	tr.At(start.Add(dormant).Add(hours(rng, 1, 12)))
	tr.Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 30, 300)}).Pause(60, 600)
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 15, Max: 40})))
	if err != nil {
		return nil, err
	}
	tr.burst(rng, targets, within(rng, domain.DurationRange{Min: 2 * day, Max: 3 * day}), spamMessages)
	return collect(tr)
}

type countryHopper struct{ spec }

func (g countryHopper) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	start := tr.Now()
	hops := between(rng, p.Count("hops", domain.Range{Min: 3, Max: 4}))
	country, ip := "", ""
	for _, at := range uniformTimes(rng, start, start.Add(6*day), hops) {
		country = otherAttackerCountry(rng, home, country)
		o := otherHostingOrigin(rng, country, ip)
		ip = o.IP
		tr.At(at).From(o).LoginAfter(intn(rng, 0, 2))
		if chance(rng, 0.6) {
			tr.Wait(mins(rng, 5, 120)).View(sub.Dir.Pick(rng, exclusion(sub.Accounts)))
		}
	}
	country = otherAttackerCountry(rng, home, country)
	tr.At(start.Add(7 * day)).From(otherHostingOrigin(rng, country, ip)).LoginAfter(0)
	tr.Wait(mins(rng, 3, 15)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 400)})
	tr.Wait(5 * time.Minute)
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 40, Max: 100})))
	if err != nil {
		return nil, err
	}
	tr.burst(rng, targets, hours(rng, 2, 6), spamMessages)
	if closeChance(p, rng, 0.5) {
		tr.Wait(mins(rng, 5, 30)).Close()
	}
	return collect(tr)
}

type dataThief struct{ spec }

func (g dataThief) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	o := hostingOrigin(rng, AttackerCountry(rng, home))
	o.UserAgent = scriptAgents[0]
	tr.From(o).LoginAfter(0)
	tr.Wait(mins(rng, 1, 5)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 100, 1000)})
	if closeChance(p, rng, 1) {
		tr.Wait(mins(rng, 1, 10)).Close()
	}
	return collect(tr)
}

type loginStorm struct{ spec }

func (g loginStorm) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(hostingOrigin(rng, AttackerCountry(rng, home)))
	tr.LoginAfter(between(rng, p.Count("failures", domain.Range{Min: 5, Max: 15})))
	tr.Wait(mins(rng, 1, 5)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 300)})
	if closeChance(p, rng, 1) {
		tr.Wait(mins(rng, 1, 10)).Close()
	}
	return collect(tr)
}

type stealthTakeover struct{ spec }

func (g stealthTakeover) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	first := AttackerCountry(rng, home)
	o := hostingOrigin(rng, first)
	tr.From(o).LoginAfter(between(rng, p.Count("failures", domain.Range{Min: 3, Max: 8})))

	second := otherAttackerCountry(rng, home, first)
	o2 := otherHostingOrigin(rng, second, o.IP)
	o2.UserAgent = pick(rng, altAgents)
	tr.Wait(hours(rng, 2, 12)).From(o2).LoginAfter(0)
	tr.Wait(days(rng, 2, 5)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 400)})
	if closeChance(p, rng, 1) {
		tr.Wait(mins(rng, 10, 120)).From(attackerResidentialOrigin(rng, otherAttackerCountry(rng, home, second))).Close()
	}
	return collect(tr)
}

type spearPhisher struct{ spec }

func (g spearPhisher) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(attackerResidentialOrigin(rng, AttackerCountry(rng, home))).LoginAfter(intn(rng, 0, 2)).Pause(30, 300)
	if chance(rng, p.Ratio("change_profile", 0.4)) {
		tr.Do(domain.ChangeProfile, "", nil).Pause(30, 180)
	}
	if chance(rng, p.Ratio("change_name", 0.3)) {
		tr.Do(domain.ChangeName, "", nil).Pause(30, 180)
	}
	targets := sub.Targets
	if len(targets) == 0 {
		var err error
		targets, err = g.spamTargets(sub, rng, between(rng, p.Count("targets", domain.Range{Min: 5, Max: 15})))
		if err != nil {
			return nil, err
		}
	}
	for _, target := range targets {
		tr.View(target)
		tr.Wait(mins(rng, 5, 30)).Message(target, pick(rng, spearMessages))
		tr.Wait(mins(rng, 30, 180))
	}
	return collect(tr)
}

type connectionHarvester struct{ spec }

func (g connectionHarvester) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(hostingOrigin(rng, AttackerCountry(rng, home))).LoginAfter(intn(rng, 0, 2)).Pause(30, 300)
	if chance(rng, p.Ratio("download", 0.5)) {
		tr.Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 400)}).Pause(60, 600)
	}
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("requests", domain.Range{Min: 50, Max: 200})))
	if err != nil {
		return nil, err
	}
	window := hours(rng, 1, 4)
	start := tr.Now()
	for i, target := range targets {
		tr.At(start.Add(spread(window, i, len(targets)))).Do(domain.SendConnectionRequest, target, nil)
	}
	return collect(tr)
}

type sleeperAgent struct{ spec }

func (g sleeperAgent) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	country := AttackerCountry(rng, home)
	o := hostingOrigin(rng, country)
	tr.From(o).LoginAfter(intn(rng, 0, 2))
	tr.Wait(mins(rng, 2, 15)).Do(domain.ChangePassword, "", nil)

	start := tr.Now()
	dormant := within(rng, p.Duration("dormancy", domain.DurationRange{Min: 2 * week, Max: 4 * week}))
	for _, at := range uniformTimes(rng, start.Add(day), start.Add(dormant), between(rng, p.Count("check_ins", domain.Range{Min: 6, Max: 12}))) {
		tr.At(at).LoginAfter(0)
		if chance(rng, 0.3) {
			tr.Pause(30, 600).View(sub.Dir.Pick(rng, exclusion(sub.Accounts)))
		}
	}

	tr.At(start.Add(dormant).Add(hours(rng, 1, 24))).From(otherHostingOrigin(rng, country, o.IP)).LoginAfter(0)
	tr.Wait(mins(rng, 3, 15)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 50, 400)}).Pause(60, 300)
	targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 30, Max: 80})))
	if err != nil {
		return nil, err
	}
	tr.burst(rng, targets, hours(rng, 1, 4), spamMessages)
	return collect(tr)
}

type profileDefacement struct{ spec }

func (g profileDefacement) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	o := hostingOrigin(rng, AttackerCountry(rng, home))
	o.UserAgent = pick(rng, altAgents)
	tr.From(o).LoginAfter(intn(rng, 0, 3)).Pause(30, 180)
	tr.Do(domain.ChangeName, "", nil).Pause(10, 120)
	if chance(rng, p.Ratio("change_profile", 0.85)) {
		tr.Do(domain.ChangeProfile, "", nil).Pause(10, 120)
	}
	if chance(rng, p.Ratio("change_password", 0.4)) {
		tr.Do(domain.ChangePassword, "", nil)
	}
	return collect(tr)
}

type sessionHijacking struct{ spec }

func (g sessionHijacking) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	tr.From(hostingOrigin(rng, AttackerCountry(rng, home))).SessionLogin()
	ex := exclusion(sub.Accounts)
	// Views stay under the idle gap: a stolen cookie cannot log in again.
	gap := int(sub.SessionGap.Minutes())
	if gap <= 2 {
		gap = 30
	}
	for i := between(rng, p.Count("views", domain.Range{Min: 5, Max: 30})); i > 0; i-- {
		tr.Wait(mins(rng, 2, gap-1)).View(sub.Dir.Pick(rng, ex))
	}
	return collect(tr)
}

type credentialPhishing struct{ spec }

func (g credentialPhishing) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tr, home := victimTrack(sub, 0, rng)
	country := AttackerCountry(rng, home)
	page := hostingOrigin(rng, country)
	// The victim submits credentials to the phishing page.
	tr.From(page).Do(domain.PhishingLogin, "", domain.LoginInfo{Attempt: 1})
	if chance(rng, p.Ratio("capture", 0.8)) {
		tr.Wait(hours(rng, 1, 48)).From(otherHostingOrigin(rng, country, page.IP)).LoginAfter(0).Pause(30, 300)
		if chance(rng, 0.5) {
			tr.Do(domain.ChangePassword, "", nil).Pause(30, 300)
		}
		for i := intn(rng, 1, 5); i > 0; i-- {
			tr.View(sub.Dir.Pick(rng, exclusion(sub.Accounts))).Pause(20, 240)
		}
	}
	return collect(tr)
}

func takeoverGenerators() []Generator {
	return []Generator{
		smashGrab{takeoverSpec("smash_grab", day)},
		lowSlow{takeoverSpec("low_slow", 10*day)},
		countryHopper{takeoverSpec("country_hopper", 8*day)},
		dataThief{takeoverSpec("data_thief", time.Hour)},
		loginStorm{takeoverSpec("login_storm", time.Hour)},
		stealthTakeover{takeoverSpec("stealth_takeover", 6*day)},
		spearPhisher{takeoverSpec("spear_phisher", 3*day)},
		connectionHarvester{takeoverSpec("connection_harvester", 6*time.Hour)},
		sleeperAgent{takeoverSpec("sleeper_agent", 30*day)},
		profileDefacement{takeoverSpec("profile_defacement", time.Hour)},
		sessionHijacking{takeoverSpec("session_hijacking", day)},
		credentialPhishing{takeoverSpec("credential_phishing", 3*day)},
	}
}
