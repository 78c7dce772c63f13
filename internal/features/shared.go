package features

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SharedIPs answers whether other accounts used an address in a time range.
type SharedIPs interface {
	SharedWith(userID, ip string, from, to time.Time) bool
}

type ipBucket struct {
	ip     string
	bucket int64
}

// SharedIPIndex maps (IP, time bucket) to the users seen there.
type SharedIPIndex struct {
	bucket time.Duration
	users  map[ipBucket]map[string]struct{}
}

// NewSharedIPIndex indexes every event of timelines. A non-positive bucket means DefaultBucket.
func NewSharedIPIndex(timelines []domain.Timeline, bucket time.Duration) *SharedIPIndex {
	idx := NewEmptySharedIPIndex(bucket)
	for _, tl := range timelines {
		for _, e := range tl.Events {
			idx.Add(e.UserID, e.IPAddress, e.Timestamp)
		}
	}
	return idx
}

// NewEmptySharedIPIndex returns an index to fill with Add.
func NewEmptySharedIPIndex(bucket time.Duration) *SharedIPIndex {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &SharedIPIndex{bucket: bucket, users: make(map[ipBucket]map[string]struct{})}
}

// Add records that userID used ip at t. It is not safe for concurrent use with SharedWith.
func (s *SharedIPIndex) Add(userID, ip string, t time.Time) {
	if ip == "" || userID == "" {
		return
	}
	k := ipBucket{ip, s.slot(t)}
	set, ok := s.users[k]
	if !ok {
		set = make(map[string]struct{}, 1)
		s.users[k] = set
	}
	set[userID] = struct{}{}
}

// SharedWith reports whether a user other than userID used ip in any bucket
// overlapping [from, to]. A nil index shares nothing.
func (s *SharedIPIndex) SharedWith(userID, ip string, from, to time.Time) bool {
	if s == nil {
		return false
	}
	for b := s.slot(from); b <= s.slot(to); b++ {
		for other := range s.users[ipBucket{ip, b}] {
			if other != userID {
				return true
			}
		}
	}
	return false
}

// Len returns the number of (IP, bucket) keys.
func (s *SharedIPIndex) Len() int {
	if s == nil {
		return 0
	}
	return len(s.users)
}

func (s *SharedIPIndex) slot(t time.Time) int64 {
	return t.UnixNano() / int64(s.bucket)
}
