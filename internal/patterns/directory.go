package patterns

import (
	"math/rand"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// executiveKeywords mark headlines of high-value targets.
var executiveKeywords = []string{"CEO", "Founder", "Chief Executive", "Co-Founder", "Managing Partner"}

// Directory is the read-only view of the population that generators pick
// targets from. It is built once before any unit runs and never mutated, so
// units can share it across goroutines.
type Directory struct {
	users      []domain.User
	homes      []domain.Origin
	index      map[string]int
	groups     []string
	executives []int
}

// NewDirectory indexes users. homes[i] is the usual origin of users[i].
func NewDirectory(users []domain.User, homes []domain.Origin, groups []string) *Directory {
	d := &Directory{
		users:  users,
		homes:  homes,
		index:  make(map[string]int, len(users)),
		groups: groups,
	}
	for i, u := range users {
		d.index[u.ID] = i
		for _, kw := range executiveKeywords {
			if strings.Contains(u.Profile.Headline, kw) {
				d.executives = append(d.executives, i)
				break
			}
		}
	}
	return d
}

// Len returns the population size.
func (d *Directory) Len() int { return len(d.users) }

// User returns the user with id.
func (d *Directory) User(id string) (domain.User, bool) {
	i, ok := d.index[id]
	if !ok {
		return domain.User{}, false
	}
	return d.users[i], true
}

// Home returns the usual origin of id. Unknown users get a residential
// origin in the US.
func (d *Directory) Home(id string) domain.Origin {
	if i, ok := d.index[id]; ok && i < len(d.homes) {
		return d.homes[i]
	}
	return domain.Origin{IP: ResidentialIP(len(d.users)), Country: "US", Type: domain.IPResidential, UserAgent: browserAgents[0]}
}

// Groups returns the group catalog.
func (d *Directory) Groups() []string { return d.groups }

// Pick returns a random user ID not in exclude, or "" if none is left.
func (d *Directory) Pick(rng *rand.Rand, exclude map[string]bool) string {
	if len(d.users) == 0 {
		return ""
	}
	for attempt := 0; attempt < 32; attempt++ {
		if id := d.users[rng.Intn(len(d.users))].ID; !exclude[id] {
			return id
		}
	}
	start := rng.Intn(len(d.users))
	for i := range d.users {
		if id := d.users[(start+i)%len(d.users)].ID; !exclude[id] {
			return id
		}
	}
	return ""
}

// PickN returns up to n distinct user IDs not in exclude. exclude is not modified.
func (d *Directory) PickN(rng *rand.Rand, n int, exclude map[string]bool) []string {
	seen := make(map[string]bool, len(exclude)+n)
	for id := range exclude {
		seen[id] = true
	}
	out := make([]string, 0, n)
	for len(out) < n {
		id := d.Pick(rng, seen)
		if id == "" {
			break
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Executives returns up to n distinct users whose headline marks them as
// executives, skipping exclude.
func (d *Directory) Executives(rng *rand.Rand, n int, exclude map[string]bool) []string {
	idx := append([]int(nil), d.executives...)
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	out := make([]string, 0, n)
	for _, i := range idx {
		if len(out) == n {
			break
		}
		if id := d.users[i].ID; !exclude[id] {
			out = append(out, id)
		}
	}
	return out
}

// exclusion builds an exclude set from the accounts of a unit.
func exclusion(accounts ...[]Account) map[string]bool {
	ex := make(map[string]bool)
	for _, as := range accounts {
		for _, a := range as {
			ex[a.User.ID] = true
		}
	}
	return ex
}
