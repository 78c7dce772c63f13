// Package ingest persists generated corpora and announces them on the bus.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options control how a corpus is written.
type Options struct {
	// Workers bounds concurrent timeline writes.
	Workers int
	// Announce publishes one TimelineIngested event per user so the worker
	// scores every timeline.
	Announce bool
	// AsOf is passed on announced timelines as the extraction reference time.
	AsOf time.Time
}

// Summary describes a finished ingest.
type Summary struct {
	Users        int           `json:"users"`
	Interactions int           `json:"interactions"`
	Announced    int           `json:"announced"`
	Duration     time.Duration `json:"duration"`
}

// Corpus writes every user and timeline of c to store and publishes a
// CorpusGenerated event. b may be nil.
func Corpus(ctx context.Context, store domain.TimelineStore, b domain.EventBus, c *corpus.Corpus, seed int64, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	for i := range c.Users {
		if err := store.SaveUser(ctx, &c.Users[i]); err != nil {
			return nil, fmt.Errorf("save user %s: %w", c.Users[i].ID, err)
		}
	}

	errs := make([]error, len(c.Timelines))
	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.Workers)

	for i, tl := range c.Timelines {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int, tl domain.Timeline) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := store.SaveInteractions(ctx, tl.Events); err != nil {
				errs[idx] = fmt.Errorf("save timeline %s: %w", tl.User.ID, err)
			}
		}(i, tl)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sum := &Summary{Users: len(c.Users), Interactions: c.Stats.Interactions}

	if b != nil {
		if opts.Announce {
			for _, tl := range c.Timelines {
				ev := domain.TimelineIngested{UserID: tl.User.ID, Events: tl.Len(), AsOf: opts.AsOf}
				if err := bus.PublishJSON(ctx, b, domain.TopicTimelineIngested, ev); err != nil {
					slog.Warn("failed to announce timeline", "user_id", tl.User.ID, "error", err)
					continue
				}
				sum.Announced++
			}
		}
		done := domain.CorpusGenerated{
			Seed:          seed,
			Users:         len(c.Users),
			Interactions:  c.Stats.Interactions,
			FraudAccounts: c.Stats.FraudAccounts,
			PatternCounts: c.Stats.PatternCounts,
		}
		if err := bus.PublishJSON(ctx, b, domain.TopicCorpusGenerated, done); err != nil {
			slog.Warn("failed to publish corpus event", "error", err)
		}
	}

	sum.Duration = time.Since(start)
	slog.Info("corpus ingested",
		"users", sum.Users,
		"interactions", sum.Interactions,
		"announced", sum.Announced,
		"duration_ms", sum.Duration.Milliseconds(),
	)
	return sum, nil
}
