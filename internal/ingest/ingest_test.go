package ingest

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func TestCorpus(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "ingest-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(1000)
	defer eventBus.Close()
	ctx := context.Background()

	var announced atomic.Int32
	subA, _ := eventBus.Subscribe(ctx, domain.TopicTimelineIngested, func(context.Context, *domain.Message) error {
		announced.Add(1)
		return nil
	})
	defer subA.Unsubscribe()
	generated := make(chan domain.CorpusGenerated, 1)
	subB, _ := eventBus.Subscribe(ctx, domain.TopicCorpusGenerated, func(_ context.Context, msg *domain.Message) error {
		var ev domain.CorpusGenerated
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		generated <- ev
		return nil
	})
	defer subB.Unsubscribe()

	cfg := domain.DefaultGenerationConfig()
	cfg.Seed = 11
	cfg.Population = 60
	cfg.FraudRatio = 0.1
	cfg.Now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg.Workers = 2
	o, err := corpus.New(cfg, nil)
	if err != nil {
		t.Fatalf("corpus.New: %v", err)
	}
	c, err := o.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sum, err := Corpus(ctx, repo, eventBus, c, cfg.Seed, Options{Workers: 3, Announce: true})
	if err != nil {
		t.Fatalf("Corpus failed: %v", err)
	}
	if sum.Users != len(c.Users) || sum.Announced != len(c.Timelines) {
		t.Errorf("unexpected summary %+v", sum)
	}

	users, err := repo.ListUsers(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != len(c.Users) {
		t.Errorf("expected %d stored users, got %d", len(c.Users), len(users))
	}

	for _, want := range c.Timelines[:5] {
		got, err := repo.GetTimeline(ctx, want.User.ID)
		if err != nil {
			t.Fatalf("GetTimeline %s: %v", want.User.ID, err)
		}
		if got.Len() != want.Len() {
			t.Errorf("%s: expected %d events, got %d", want.User.ID, want.Len(), got.Len())
		}
	}

	select {
	case ev := <-generated:
		if ev.Seed != 11 || ev.Users != len(c.Users) {
			t.Errorf("unexpected corpus event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for corpus event")
	}

	deadline := time.Now().Add(2 * time.Second)
	for announced.Load() != int32(len(c.Timelines)) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if announced.Load() != int32(len(c.Timelines)) {
		t.Errorf("expected %d announcements, got %d", len(c.Timelines), announced.Load())
	}

	// re-ingesting the same corpus is idempotent
	if _, err := Corpus(ctx, repo, nil, c, cfg.Seed, Options{}); err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	n, _ := repo.CountInteractions(ctx, c.Timelines[0].User.ID, time.Time{})
	if n != c.Timelines[0].Len() {
		t.Errorf("expected %d interactions after re-ingest, got %d", c.Timelines[0].Len(), n)
	}
}
