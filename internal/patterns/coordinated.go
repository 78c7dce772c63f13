package patterns

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Multi-account takeovers. One attacker drives several legitimate accounts
// from shared infrastructure; a unit clock orders their actions.

func ringSpec(name string, min, max int, span time.Duration) spec {
	return spec{name: name, family: Adversarial, role: RoleTakeover, min: min, max: max, span: span}
}

// victimTracks opens a track per account in the unit.
func victimTracks(sub Subject, rng *rand.Rand) ([]*Track, []string) {
	tracks := make([]*Track, len(sub.Accounts))
	countries := make([]string, len(sub.Accounts))
	for i := range sub.Accounts {
		tracks[i], countries[i] = victimTrack(sub, i, rng)
	}
	return tracks, countries
}

type credentialStuffer struct{ spec }

func (g credentialStuffer) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tracks, countries := victimTracks(sub, rng)
	o := sub.cluster(rng, 1, AttackerCountry(rng, countries[0])).At(0)
	clock := sub.Start
	for i, tr := range tracks {
		o.Country = AttackerCountry(rng, countries[i])
		tr.At(clock.Add(mins(rng, 2, 15))).From(o).LoginAfter(intn(rng, 0, 3))
		tr.Wait(mins(rng, 2, 8)).Do(domain.DownloadAddressBook, "", domain.AddressBookInfo{ContactCount: intn(rng, 30, 300)}).Pause(30, 120)
		targets, err := g.spamTargets(sub, rng, between(rng, p.Count("messages", domain.Range{Min: 20, Max: 60})))
		if err != nil {
			return nil, err
		}
		tr.burst(rng, targets, mins(rng, 30, 120), spamMessages)
		if closeChance(p, rng, 0.5) {
			tr.Wait(mins(rng, 5, 20)).Close()
		}
		clock = tr.Now().Add(mins(rng, 10, 60))
	}
	return collect(tracks...)
}

type credentialTester struct{ spec }

func (g credentialTester) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tracks, countries := victimTracks(sub, rng)
	o := sub.cluster(rng, 1, AttackerCountry(rng, countries[0])).At(0)
	o.UserAgent = pick(rng, scriptAgents)
	failFirst := p.Ratio("failed_login_first", 0.3)
	view := p.Ratio("page_view", 0.4)
	clock := sub.Start
	for i, tr := range tracks {
		o.Country = AttackerCountry(rng, countries[i])
		tr.At(clock).From(o)
		if chance(rng, failFirst) {
			tr.Fail(1).Pause(2, 8)
		}
		tr.login(domain.Login, domain.LoginInfo{Attempt: 1})
		if chance(rng, view) {
			tr.Pause(3, 15).View(sub.Dir.Pick(rng, exclusion(sub.Accounts)))
		}
		clock = tr.Now().Add(secs(rng, 5, 30))
	}
	return collect(tracks...)
}

type adEngagementFraud struct{ spec }

func (g adEngagementFraud) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tracks, countries := victimTracks(sub, rng)
	cluster := sub.cluster(rng, len(tracks), AttackerCountry(rng, countries[0]))
	clock := sub.Start
	for i, tr := range tracks {
		clock = clock.Add(secs(rng, 10, 300))
		tr.At(clock).From(cluster.At(i)).LoginAfter(0)
	}
	ad := domain.AdInfo{AdID: fmt.Sprintf("ad-%05d", rng.Intn(100000)), CampaignID: fmt.Sprintf("cmp-%04d", rng.Intn(10000))}
	for i := between(rng, p.Count("pairs", domain.Range{Min: 10, Max: 500})); i > 0; i-- {
		tr := pick(rng, tracks)
		clock = clock.Add(secs(rng, 2, 30))
		tr.At(clock).Do(domain.AdView, "", ad)
		clock = later(clock, tr.Now()).Add(secs(rng, 1, 10))
		tr.At(clock).Do(domain.AdClick, "", ad)
		clock = later(clock, tr.Now())
	}
	return collect(tracks...)
}

// Scraping strategies of scraper_cluster.
const (
	scrapeAlphabetical    = "alphabetical"
	scrapeRegularInterval = "regular_interval"
	scrapeCoordinated     = "coordinated"
)

var scrapeIntervals = []int{5, 10, 15, 20, 30}

type scraperCluster struct{ spec }

func (g scraperCluster) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tracks, countries := victimTracks(sub, rng)
	cluster := sub.cluster(rng, min(len(tracks), 5), AttackerCountry(rng, countries[0]))
	last := sub.Start
	for i, tr := range tracks {
		o := cluster.At(i)
		o.UserAgent = pick(rng, scriptAgents)
		tr.At(sub.Start.Add(mins(rng, 0, 30))).From(o).LoginAfter(0)
		last = later(last, tr.Now())
	}
	begin := last.Add(mins(rng, 2, 15))

	pages, err := g.spamTargets(sub, rng, between(rng, p.Count("pages", domain.Range{Min: 200, Max: 600})))
	if err != nil {
		return nil, err
	}
	strategy := pick(rng, []string{scrapeAlphabetical, scrapeRegularInterval, scrapeCoordinated})
	switch strategy {
	case scrapeAlphabetical:
		sort.SliceStable(pages, func(i, j int) bool { return g.displayName(sub, pages[i]) < g.displayName(sub, pages[j]) })
	case scrapeCoordinated:
		sort.Strings(pages)
	}
	interval := time.Duration(pick(rng, scrapeIntervals)) * time.Second

	n := len(tracks)
	for i, tr := range tracks {
		var share []string
		if strategy == scrapeCoordinated {
			share = pages[i*len(pages)/n : (i+1)*len(pages)/n]
		} else {
			for j := i; j < len(pages); j += n {
				share = append(share, pages[j])
			}
		}
		tr.At(begin)
		for _, page := range share {
			tr.View(page)
			if strategy == scrapeRegularInterval {
				tr.Wait(interval)
			} else {
				tr.Pause(2, 8)
			}
		}
	}
	return collect(tracks...)
}

func (scraperCluster) displayName(sub Subject, id string) string {
	if u, ok := sub.Dir.User(id); ok && u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	return id
}

type executiveHunter struct{ spec }

func (g executiveHunter) Targets(p domain.PatternParams) domain.Range {
	return p.Count("targets", domain.Range{Min: 15, Max: 40})
}

func (executiveHunter) TargetsExecutives() bool { return true }

func (g executiveHunter) Generate(sub Subject, p domain.PatternParams, rng *rand.Rand) ([]domain.Timeline, error) {
	if err := g.prepare(sub, p); err != nil {
		return nil, err
	}
	tracks, countries := victimTracks(sub, rng)
	cluster := sub.cluster(rng, min(len(tracks), 4), AttackerCountry(rng, countries[0]))

	targets := sub.Targets
	if len(targets) == 0 {
		ex := exclusion(sub.Accounts)
		targets = sub.Dir.Executives(rng, between(rng, g.Targets(p)), ex)
		if len(targets) == 0 {
			targets = sub.Dir.PickN(rng, 30, ex)
		}
	}
	for i, tr := range tracks {
		tr.At(sub.Start.Add(mins(rng, 0, 20))).From(cluster.At(i)).LoginAfter(0)
	}
	for j, target := range targets {
		tr := tracks[j%len(tracks)]
		tr.Wait(mins(rng, 5, 20)).View(target)
		tr.Wait(mins(rng, 10, 45)).Message(target, pick(rng, spearMessages))
		tr.Wait(mins(rng, 15, 60))
	}
	return collect(tracks...)
}

func ringGenerators() []Generator {
	return []Generator{
		credentialStuffer{ringSpec("credential_stuffer", 3, 5, 2*day)},
		credentialTester{ringSpec("credential_tester", 5, 10, 2*time.Hour)},
		adEngagementFraud{ringSpec("ad_engagement_fraud", 2, 8, day)},
		scraperCluster{ringSpec("scraper_cluster", 2, 5, day)},
		executiveHunter{ringSpec("executive_hunter", 2, 4, 7*day)},
	}
}
