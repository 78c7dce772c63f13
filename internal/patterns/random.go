package patterns

import (
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// between draws uniformly from the inclusive range.
func between(rng *rand.Rand, r domain.Range) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Intn(r.Max-r.Min+1)
}

func intn(rng *rand.Rand, lo, hi int) int {
	return between(rng, domain.Range{Min: lo, Max: hi})
}

// within draws a duration uniformly from the inclusive range.
func within(rng *rand.Rand, r domain.DurationRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

func secs(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(intn(rng, lo, hi)) * time.Second
}

func mins(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(intn(rng, lo, hi)) * time.Minute
}

func hours(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(intn(rng, lo, hi)) * time.Hour
}

func days(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(intn(rng, lo, hi)) * 24 * time.Hour
}

func chance(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.Intn(len(xs))]
}

// spread returns the offset of the i-th of n events spread evenly over window.
func spread(window time.Duration, i, n int) time.Duration {
	if n <= 1 {
		return 0
	}
	return time.Duration(int64(window) * int64(i) / int64(n-1))
}

// uniformTimes returns n sorted instants drawn uniformly from [from, to).
func uniformTimes(rng *rand.Rand, from, to time.Time, n int) []time.Time {
	span := to.Sub(from)
	if span <= 0 || n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.Add(time.Duration(rng.Int63n(int64(span))))
	}
	sortTimes(out)
	return out
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
