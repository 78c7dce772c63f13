package features

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-features")

// scriptHints mark user agents of automation clients.
var scriptHints = []string{
	"python", "requests", "curl", "wget", "httpie", "postman", "scrapy", "go-http",
	"java/", "okhttp", "node-fetch", "axios", "apache-http", "headless", "bot",
}

// ScriptAgent reports whether ua looks like an automation client.
func ScriptAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, h := range scriptHints {
		if strings.Contains(ua, h) {
			return true
		}
	}
	return false
}

// Extract computes the vector of tl. Trailing windows end at the last event;
// now only feeds the age and recency features. shared may be nil.
func Extract(tl domain.Timeline, shared SharedIPs, now time.Time) Vector {
	var v Vector
	profileFeatures(&v, tl.User.Profile)

	events := tl.Events
	if !tl.Sorted() {
		events = append([]domain.Interaction(nil), events...)
		domain.SortEvents(events)
	}
	if len(events) == 0 {
		v.set(DaysSinceLastActivity, NoActivityDays)
		return v
	}

	last := events[len(events)-1]
	anchor := last.Timestamp
	since1h := anchor.Add(-time.Hour)
	since24h := anchor.Add(-24 * time.Hour)
	since7d := anchor.Add(-7 * 24 * time.Hour)

	var (
		firstLogin, firstDownload, firstMessage, firstClose time.Time
		failures, failuresBefore, streak                    int
		succeeded                                           bool
		hosting, downloads, n1h, n24h, messages24h, logins7 int
		first24h                                            = anchor
		countries7d                                         = make(map[string]bool)
		ips24h                                              = make(map[string]bool)
		targets24h                                          = make(map[string]bool)
		script                                              bool
	)
	for _, e := range events {
		t := e.Timestamp
		switch {
		case e.Type.IsLoginClass():
			if !succeeded {
				firstLogin = t
				failuresBefore = failures
				succeeded = true
			}
			streak = 0
			if !t.Before(since7d) {
				logins7++
			}
		case e.Type == domain.LoginFailure:
			failures++
			streak++
		case e.Type == domain.DownloadAddressBook:
			downloads++
			if firstDownload.IsZero() {
				firstDownload = t
			}
		case e.Type == domain.MessageUser:
			if firstMessage.IsZero() {
				firstMessage = t
			}
		case e.Type == domain.CloseAccount:
			if firstClose.IsZero() {
				firstClose = t
			}
		}

		if e.IPType == domain.IPHosting {
			hosting++
		}
		if ScriptAgent(e.UserAgent) {
			script = true
		}
		if !t.Before(since1h) {
			n1h++
		}
		if !t.Before(since7d) && e.IPCountry != "" {
			countries7d[e.IPCountry] = true
		}
		if !t.Before(since24h) {
			n24h++
			first24h = minTime(first24h, t)
			if e.IPAddress != "" {
				ips24h[e.IPAddress] = true
			}
			if e.Type == domain.MessageUser {
				messages24h++
				targets24h[e.TargetUserID] = true
			}
		}
	}
	if !succeeded {
		failuresBefore = failures
	}

	v.set(LoginToDownloadMinutes, elapsed(firstLogin, firstDownload).Minutes())
	v.set(DownloadToFirstMessageMinutes, elapsed(firstDownload, firstMessage).Minutes())
	v.set(FirstLoginToCloseHours, elapsed(firstLogin, firstClose).Hours())

	v.set(InteractionsLast1h, float64(n1h))
	span := math.Max(1.0/24, math.Min(24, anchor.Sub(first24h).Hours()))
	v.set(InteractionsPerHour24h, float64(n24h)/span)

	v.flag(IPCountryMismatch, countryMismatch(events, tl.User.HomeCountry))
	v.set(DistinctCountriesLast7d, float64(len(countries7d)))
	v.set(RatioHostingIPs, float64(hosting)/float64(len(events)))
	v.set(DistinctIPsLast24h, float64(len(ips24h)))

	v.set(LoginFailuresBeforeSuccess, float64(failuresBefore))
	v.set(MessagesLast24h, float64(messages24h))
	v.set(UniqueTargetsMessagedLast24h, float64(len(targets24h)))
	v.set(DownloadAddressBookCount, float64(downloads))

	if shared != nil {
		for _, ip := range sortedKeys(ips24h) {
			if shared.SharedWith(tl.User.ID, ip, since24h, anchor) {
				v.set(SameIPSharedWithOthers, 1)
				break
			}
		}
	}
	v.set(SessionsLast7d, float64(logins7))
	v.set(FailedLoginStreak, float64(streak))

	if !tl.User.CreatedAt.IsZero() {
		v.set(AccountAgeDays, math.Max(0, now.Sub(tl.User.CreatedAt).Hours()/24))
	}
	hour := float64(anchor.Hour()) + float64(anchor.Minute())/60
	rad := hour * 2 * math.Pi / 24
	v.set(HourOfDaySin, math.Sin(rad))
	v.set(HourOfDayCos, math.Cos(rad))
	v.set(DaysSinceLastActivity, math.Max(0, now.Sub(anchor).Hours()/24))
	v.flag(ScriptUserAgent, script)
	return v
}

func profileFeatures(v *Vector, p domain.UserProfile) {
	v.set(ConnectionsCount, float64(p.ConnectionsCount))
	v.flag(HasProfilePhoto, p.HasPhoto)
	v.set(ProfileCompleteness, p.Completeness())
	v.set(EndorsementsCount, float64(p.EndorsementsCount))
	v.set(ProfileViewsReceived, float64(p.ProfileViewsReceived))
	v.flag(EmailVerified, p.EmailVerified)
	v.flag(TwoFactorEnabled, p.TwoFactorEnabled)
	v.flag(PhoneVerified, p.PhoneVerified)
	v.flag(AccountTierPremium, p.Tier == domain.TierPremium)
	v.flag(AccountTierEnterprise, p.Tier == domain.TierEnterprise)
}

// countryMismatch compares the last event's country with the majority
// country of the events before it, or with home when none carry one.
func countryMismatch(events []domain.Interaction, home string) bool {
	cur := events[len(events)-1].IPCountry
	if cur == "" {
		return false
	}
	counts := make(map[string]int)
	for _, e := range events[:len(events)-1] {
		if e.IPCountry != "" {
			counts[e.IPCountry]++
		}
	}
	majority := home
	best := 0
	for _, c := range sortedKeys(counts) {
		if counts[c] > best {
			majority, best = c, counts[c]
		}
	}
	return majority != "" && cur != majority
}

// elapsed is to-from when both happened and to is not earlier, else zero.
func elapsed(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultBucket is the shared-IP time bucket used by ExtractAll.
const DefaultBucket = time.Hour

// ExtractAll extracts every timeline in parallel, with the shared-IP input
// built over the whole set. Vectors are returned in input order.
func ExtractAll(ctx context.Context, timelines []domain.Timeline, now time.Time, workers int) ([]Vector, error) {
	ctx, span := tracer.Start(ctx, "features.extract_all")
	defer span.End()
	span.SetAttributes(attribute.Int("timelines", len(timelines)))

	if workers <= 0 {
		workers = 1
	}
	shared := NewSharedIPIndex(timelines, DefaultBucket)
	vectors := make([]Vector, len(timelines))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, tl := range timelines {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int, tl domain.Timeline) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			vectors[idx] = Extract(tl, shared, now)
		}(i, tl)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}
