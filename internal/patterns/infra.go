package patterns

import (
	"fmt"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Attacker infrastructure. Units draw from the same pools, so unrelated
// attacks can share an address.
var (
	hostingIPs = []string{
		"45.33.32.156", "104.131.0.69", "185.220.101.34", "193.118.53.202",
		"34.145.89.12", "52.14.201.166", "139.59.100.11", "142.93.12.88",
		"54.210.33.77", "35.188.42.15", "185.100.87.202", "45.155.205.99",
		"104.248.30.5", "52.207.88.14", "193.32.162.70", "34.89.210.44",
	}
	usHostingIPs = []string{
		"34.145.89.12", "34.89.210.44", "35.188.42.15", "52.14.201.166",
		"52.207.88.14", "104.131.0.69", "104.248.30.5",
	}
	attackerResidentialIPs = []string{
		"78.45.12.89", "92.118.34.156", "188.120.45.78", "95.165.33.201",
		"82.65.91.123", "37.230.117.88", "91.205.72.34", "85.26.155.99",
	}

	browserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	}
	altAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_0) Gecko/20100101 Firefox/118.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
	}
	appAgents = []string{
		"KestrelApp/6.4.1 (iPhone; iOS 17.1; Scale/3.00)",
		"KestrelApp/6.4.0 (Linux; Android 14; Pixel 8)",
		"KestrelApp/6.3.2 (iPad; iOS 16.6; Scale/2.00)",
	}
	scriptAgents = []string{
		"python-requests/2.31.0",
		"curl/8.4.0",
		"Scrapy/2.11.0 (+https://scrapy.org)",
		"Go-http-client/1.1",
		"okhttp/4.12.0",
	}

	attackerCountries = map[string][]string{
		"US": {"RU", "CN", "NG", "UA", "RO"},
		"GB": {"RU", "CN", "NG", "BR", "UA"},
		"CA": {"RU", "CN", "VN", "RO", "NG"},
		"AU": {"CN", "RU", "VN", "ID", "NG"},
		"DE": {"RU", "CN", "UA", "RO", "NG"},
		"FR": {"RU", "CN", "NG", "RO", "UA"},
		"IN": {"RU", "CN", "NG", "RO", "UA"},
		"BR": {"RU", "CN", "NG", "UA", "RO"},
		"JP": {"CN", "RU", "NG", "UA", "KR"},
		"KR": {"CN", "RU", "NG", "JP", "UA"},
	}
	defaultAttackerCountries = []string{"RU", "CN", "NG", "UA", "RO"}

	// HomeCountries weights the population's home countries.
	HomeCountries = []string{"US", "US", "US", "US", "GB", "GB", "CA", "AU", "DE", "FR", "IN", "IN", "BR", "JP", "KR"}
)

var (
	spamMessages = []domain.MessageInfo{
		{Category: "spam", Subject: "Exclusive investment opportunity", URL: "https://bit.ly/3xQz9Kp"},
		{Category: "spam", Subject: "You have been selected", URL: "https://tinyurl.com/claim-reward"},
		{Category: "spam", Subject: "Work from home, $5000/week", URL: "https://earn-fast.example/join"},
		{Category: "spam", Subject: "Crypto signals group", URL: "https://t.me/signals-vip"},
		{Category: "phish", Subject: "Your account will be suspended", URL: "https://secure-login-verify.example/account"},
		{Category: "phish", Subject: "Shared document for review", URL: "https://docs-share.example/view"},
	}
	harassmentMessages = []domain.MessageInfo{
		{Category: "harassment", Subject: "We know where you work"},
		{Category: "harassment", Subject: "Nobody wants you here"},
		{Category: "harassment", Subject: "Delete your account"},
		{Category: "harassment", Subject: "Everyone will see this"},
	}
	spearMessages = []domain.MessageInfo{
		{Category: "phish", Subject: "Following up on our conversation", URL: "https://docs-share.example/proposal"},
		{Category: "phish", Subject: "Board meeting agenda", URL: "https://meeting-portal.example/agenda"},
		{Category: "phish", Subject: "Invoice pending approval", URL: "https://billing-review.example/invoice"},
	}
)

// HostingPool returns a copy of the hosting address pool for the planner to shuffle.
func HostingPool() []string {
	return append([]string(nil), hostingIPs...)
}

// AttackerCountry picks a plausible attacker country for a victim from home.
func AttackerCountry(rng *rand.Rand, home string) string {
	countries, ok := attackerCountries[home]
	if !ok {
		countries = defaultAttackerCountries
	}
	return pick(rng, countries)
}

// otherAttackerCountry picks an attacker country different from not when possible.
func otherAttackerCountry(rng *rand.Rand, home, not string) string {
	countries, ok := attackerCountries[home]
	if !ok {
		countries = defaultAttackerCountries
	}
	for range countries {
		if c := pick(rng, countries); c != not {
			return c
		}
	}
	return countries[0]
}

func hostingOrigin(rng *rand.Rand, country string) domain.Origin {
	return domain.Origin{IP: pick(rng, hostingIPs), Country: country, Type: domain.IPHosting, UserAgent: pick(rng, browserAgents)}
}

func otherHostingOrigin(rng *rand.Rand, country, notIP string) domain.Origin {
	o := hostingOrigin(rng, country)
	for o.IP == notIP {
		o.IP = pick(rng, hostingIPs)
	}
	return o
}

func usHostingOrigin(rng *rand.Rand) domain.Origin {
	return domain.Origin{IP: pick(rng, usHostingIPs), Country: "US", Type: domain.IPHosting, UserAgent: pick(rng, browserAgents)}
}

func attackerResidentialOrigin(rng *rand.Rand, country string) domain.Origin {
	return domain.Origin{IP: pick(rng, attackerResidentialIPs), Country: country, Type: domain.IPResidential, UserAgent: pick(rng, altAgents)}
}

// ResidentialIP returns a deterministic residential address for the i-th user.
func ResidentialIP(i int) string {
	return fmt.Sprintf("73.%d.%d.%d", 16+(i/62500)%64, (i/250)%250, 1+i%250)
}

// HomeOrigin returns the usual origin of the i-th member of the population.
// vpn puts the user behind a corporate egress in a hosting range; app makes
// them use the mobile app rather than a browser.
func HomeOrigin(i int, country string, vpn, app bool, rng *rand.Rand) domain.Origin {
	o := domain.Origin{IP: ResidentialIP(i), Country: country, Type: domain.IPResidential, UserAgent: pick(rng, browserAgents)}
	if vpn {
		o.IP = fmt.Sprintf("20.%d.%d.%d", 40+rng.Intn(20), rng.Intn(250), 1+rng.Intn(250))
		o.Type = domain.IPHosting
	}
	if app {
		o.UserAgent = pick(rng, appAgents)
	}
	return o
}

// IPCluster is a block of addresses shared by one coordinated unit.
type IPCluster struct {
	ID      string
	Origins []domain.Origin
}

// NewCluster builds a cluster with one origin per address, all attributed to country.
func NewCluster(id string, ips []string, country string, rng *rand.Rand) IPCluster {
	c := IPCluster{ID: id, Origins: make([]domain.Origin, len(ips))}
	for i, ip := range ips {
		c.Origins[i] = domain.Origin{IP: ip, Country: country, Type: domain.IPHosting, UserAgent: pick(rng, browserAgents)}
	}
	return c
}

// Len returns the number of origins in the cluster.
func (c IPCluster) Len() int { return len(c.Origins) }

// At returns the i-th origin, wrapping around.
func (c IPCluster) At(i int) domain.Origin { return c.Origins[i%len(c.Origins)] }

// cluster returns sub's cluster limited to n addresses, or a fresh one drawn
// from the hosting pool when the planner did not allocate any.
func (s Subject) cluster(rng *rand.Rand, n int, country string) IPCluster {
	if s.Cluster.Len() > 0 {
		c := s.Cluster
		if c.Len() > n {
			c.Origins = c.Origins[:n]
		}
		return c
	}
	pool := HostingPool()
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n > len(pool) {
		n = len(pool)
	}
	return NewCluster("", pool[:n], country, rng)
}
