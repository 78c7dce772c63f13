package corpus

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// countryWeights is the home-country mix of the synthetic population.
var countryWeights = []struct {
	code   string
	weight int
}{
	{"US", 30}, {"GB", 8}, {"IN", 8}, {"CA", 5}, {"DE", 5}, {"FR", 4}, {"BR", 4}, {"AU", 3},
	{"NL", 2}, {"ES", 2}, {"IT", 2}, {"MX", 2}, {"JP", 2}, {"SG", 2}, {"IE", 2}, {"PH", 2},
	{"KR", 1}, {"SE", 1}, {"PL", 1}, {"ZA", 1}, {"NG", 1}, {"ID", 1}, {"TR", 1}, {"AR", 1},
	{"CH", 1}, {"BE", 1}, {"AT", 1}, {"DK", 1}, {"NO", 1}, {"NZ", 1},
}

var (
	firstNames = []string{
		"Alex", "Maria", "Sam", "Priya", "Jordan", "Wei", "Fatima", "Lucas", "Aisha", "Daniel",
		"Sofia", "Kenji", "Olivia", "Mateo", "Chloe", "Arjun", "Emma", "Noah", "Zara", "Leo",
	}
	lastNames = []string{
		"Smith", "Garcia", "Chen", "Patel", "Johnson", "Kim", "Nguyen", "Müller", "Rossi", "Silva",
		"Okafor", "Tanaka", "Brown", "Dubois", "Kowalski", "Hansen", "Lopez", "Singh", "Ahmed", "Novak",
	}
	headlines = []string{
		"Software Engineer", "Product Manager", "Data Analyst", "Marketing Specialist",
		"Account Executive", "UX Designer", "Nurse", "Financial Analyst", "Operations Lead",
		"HR Business Partner", "Student", "Teacher", "Sales Manager", "DevOps Engineer",
		"Project Coordinator", "Consultant", "Technical Recruiter",
	}
	executiveHeadlines = []string{
		"CEO at Northwind", "Founder & CEO", "Chief Executive Officer", "Co-Founder, Fabrikam",
		"Managing Partner at Contoso Ventures",
	}
	summaries = []string{
		"Building things people use every day.",
		"Passionate about data, teams and continuous learning.",
		"Ten years in operations across three continents.",
		"Open to new opportunities.",
		"Helping companies grow through better products.",
	}
)

// executiveShare is the fraction of accounts with an executive headline.
const executiveShare = 0.03

// groupCatalog is the number of groups accounts may belong to.
const groupCatalog = 40

// population is the synthesized user base of one run.
type population struct {
	users  []domain.User
	homes  []domain.Origin
	groups []string
}

// synthesize builds cfg.Population users. Accounts are created up to
// HistoryDays before the window start, and never after it.
func synthesize(cfg domain.GenerationConfig, rng *rand.Rand) (population, error) {
	windowStart, _ := cfg.Window()
	mix := cfg.Mix

	pop := population{
		users:  make([]domain.User, cfg.Population),
		homes:  make([]domain.Origin, cfg.Population),
		groups: make([]string, groupCatalog),
	}
	for i := range pop.groups {
		pop.groups[i] = fmt.Sprintf("grp-%03d", i+1)
	}

	history := time.Duration(cfg.HistoryDays) * 24 * time.Hour
	for i := range pop.users {
		country := homeCountry(rng)
		created := windowStart.Add(-time.Hour)
		if history > time.Hour {
			created = windowStart.Add(-time.Hour - time.Duration(rng.Int63n(int64(history-time.Hour))))
		}
		created = created.Truncate(time.Second)

		u, err := domain.NewUser(fmt.Sprintf("u-%06d", i+1), country, created, profile(rng, mix, country, pop.groups))
		if err != nil {
			return population{}, fmt.Errorf("synthesize user %d: %w", i+1, err)
		}
		pop.users[i] = u
		pop.homes[i] = patterns.HomeOrigin(i, country, rng.Float64() < mix.HostingIP, rng.Float64() < mix.NonBrowserAgent, rng)
	}
	return pop, nil
}

func homeCountry(rng *rand.Rand) string {
	total := 0
	for _, c := range countryWeights {
		total += c.weight
	}
	n := rng.Intn(total)
	for _, c := range countryWeights {
		if n < c.weight {
			return c.code
		}
		n -= c.weight
	}
	return "US"
}

func profile(rng *rand.Rand, mix domain.PopulationConfig, country string, groups []string) domain.UserProfile {
	p := domain.UserProfile{
		DisplayName:   firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
		Headline:      headlines[rng.Intn(len(headlines))],
		Location:      country,
		HasPhoto:      rng.Float64() < mix.ProfilePhoto,
		EmailVerified: rng.Float64() < mix.EmailVerified,
		PhoneVerified: rng.Float64() < mix.PhoneVerified,
		Tier:          domain.TierFree,
	}
	if rng.Float64() < executiveShare {
		p.Headline = executiveHeadlines[rng.Intn(len(executiveHeadlines))]
	}
	if rng.Float64() < 0.7 {
		p.Summary = summaries[rng.Intn(len(summaries))]
	}
	p.TwoFactorEnabled = rng.Float64() < mix.TwoFactor

	switch r := rng.Float64(); {
	case r < mix.TierEnterprise:
		p.Tier = domain.TierEnterprise
	case r < mix.TierEnterprise+mix.TierPremium:
		p.Tier = domain.TierPremium
	}

	// Connection counts are heavy-tailed: most accounts have few, a handful have many.
	if mix.MaxConnections > 0 && rng.Float64() >= mix.ZeroConnections {
		p.ConnectionsCount = 1 + int(math.Pow(rng.Float64(), 3)*float64(mix.MaxConnections-1))
		p.EndorsementsCount = rng.Intn(p.ConnectionsCount/10 + 1)
	}
	p.ProfileViewsReceived = rng.Intn(p.ConnectionsCount/2 + 20)

	n := mix.GroupsPerAccount.Min
	if span := mix.GroupsPerAccount.Max - mix.GroupsPerAccount.Min; span > 0 {
		n += rng.Intn(span + 1)
	}
	n = min(n, len(groups))
	for _, j := range rng.Perm(len(groups))[:n] {
		p.Groups = append(p.Groups, groups[j])
	}
	return p
}
