package domain

import (
	"sort"
	"time"
)

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Timeline is one user's interactions in timestamp order.
type Timeline struct {
	User   User          `json:"user"`
	Events []Interaction `json:"events"`
}

// Len returns the number of events.
func (t Timeline) Len() int { return len(t.Events) }

// Empty reports whether the timeline has no events.
func (t Timeline) Empty() bool { return len(t.Events) == 0 }

// First returns the earliest event.
func (t Timeline) First() (Interaction, bool) {
	if len(t.Events) == 0 {
		return Interaction{}, false
	}
	return t.Events[0], true
}

// Last returns the latest event.
func (t Timeline) Last() (Interaction, bool) {
	if len(t.Events) == 0 {
		return Interaction{}, false
	}
	return t.Events[len(t.Events)-1], true
}

// Sorted reports whether the events are in non-decreasing timestamp order.
func (t Timeline) Sorted() bool {
	return sort.SliceIsSorted(t.Events, func(i, j int) bool {
		return t.Events[i].Timestamp.Before(t.Events[j].Timestamp)
	})
}

// SortEvents orders events by timestamp. Equal timestamps keep their relative order.
func SortEvents(events []Interaction) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// Truncate returns a copy of t holding only the first n events.
func (t Timeline) Truncate(n int) Timeline {
	if n >= len(t.Events) {
		return t
	}
	out := t
	out.Events = append([]Interaction(nil), t.Events[:n]...)
	return out
}

// Since returns the events at or after from.
func (t Timeline) Since(from time.Time) []Interaction {
	i := sort.Search(len(t.Events), func(i int) bool {
		return !t.Events[i].Timestamp.Before(from)
	})
	return t.Events[i:]
}
