// Package velocity answers windowed questions about persisted activity:
// how much a user did recently and who else used the same addresses.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// countTTL keeps store counts in the cache briefly so bursts of scoring
// requests for one user hit the store once.
const countTTL = 30 * time.Second

// Service computes velocity signals from the timeline store.
type Service struct {
	store domain.TimelineStore
	cache domain.Cache
	now   func() time.Time
}

// NewService creates a velocity service. cache may be nil.
func NewService(store domain.TimelineStore, cache domain.Cache) *Service {
	return &Service{store: store, cache: cache, now: time.Now}
}

// InteractionCount returns how many interactions userID has in the
// trailing window. It matches rules.VelocityGetter.
func (s *Service) InteractionCount(ctx context.Context, userID string, window time.Duration) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if s.store == nil {
		return 0, fmt.Errorf("no data source available")
	}

	key := "velocity:" + userID + ":" + window.String()
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
			if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				return n, nil
			}
		}
	}

	n, err := s.store.CountInteractions(ctx, userID, s.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, []byte(strconv.Itoa(n)), countTTL)
	}
	return int64(n), nil
}

// RecordIngest counts an ingestion for userID in the current window and
// returns the running total.
func (s *Service) RecordIngest(ctx context.Context, userID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, "ingest:"+userID, window)
}

// SharedIPs builds the shared-IP input for extracting tl at inference time.
// Every address tl used in its trailing 24 hours is looked up once over the
// bucket-aligned span Extract scans, so the answer matches an index built
// over a whole corpus.
func (s *Service) SharedIPs(ctx context.Context, tl domain.Timeline, bucket time.Duration) (*features.SharedIPIndex, error) {
	idx := features.NewEmptySharedIPIndex(bucket)
	last, ok := tl.Last()
	if !ok || s.store == nil {
		return idx, nil
	}
	if bucket <= 0 {
		bucket = features.DefaultBucket
	}
	anchor := last.Timestamp
	since := anchor.Add(-24 * time.Hour)
	from := bucketStart(since, bucket)
	to := bucketStart(anchor, bucket).Add(bucket - time.Nanosecond)

	seen := make(map[string]bool)
	for _, e := range tl.Events {
		if e.IPAddress == "" || e.Timestamp.Before(since) {
			continue
		}
		idx.Add(e.UserID, e.IPAddress, e.Timestamp)
		if seen[e.IPAddress] {
			continue
		}
		seen[e.IPAddress] = true

		users, err := s.store.UsersByIPWindow(ctx, e.IPAddress, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to look up users of %s: %w", e.IPAddress, err)
		}
		for _, u := range users {
			// any bucket in [from, to] is scanned; the anchor bucket stands in for all of them
			idx.Add(u, e.IPAddress, anchor)
		}
	}
	return idx, nil
}

// bucketStart aligns t the way features.SharedIPIndex does, on Unix time.
func bucketStart(t time.Time, bucket time.Duration) time.Time {
	return time.Unix(0, t.UnixNano()/int64(bucket)*int64(bucket)).UTC()
}
