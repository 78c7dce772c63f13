package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	bus      *bus.ChannelBus
	repo     *repository.SQLRepository
	cache    *cache.LRUCache
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	vel := velocity.NewService(repo, lru)
	engine, _ := rules.NewEngine(vel.InteractionCount, 4)
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	return &fixture{
		bus:   eventBus,
		repo:  repo,
		cache: lru,
		pipeline: &Pipeline{
			Store:          repo,
			Cache:          lru,
			Velocity:       vel,
			Scorer:         decision.NewScorer(engine, nil, decision.NewProcessor()),
			Metrics:        metrics.New(),
			VectorTTL:      time.Minute,
			SharedIPBucket: time.Hour,
		},
	}
}

func (f *fixture) seed(t *testing.T, userID string, takeover bool) {
	t.Helper()
	ctx := context.Background()
	u, err := domain.NewUser(userID, "US", t0.Add(-30*24*time.Hour), domain.UserProfile{ConnectionsCount: 120})
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := f.repo.SaveUser(ctx, &u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	home := domain.Origin{IP: "73.10.0.1", Country: "US", Type: domain.IPResidential, UserAgent: "Mozilla/5.0"}
	mk := func(typ domain.InteractionType, at time.Time, target string, meta domain.Metadata) domain.Interaction {
		e, err := domain.NewInteraction(userID, typ, at, target, home, meta)
		if err != nil {
			t.Fatalf("NewInteraction: %v", err)
		}
		return e
	}

	events := []domain.Interaction{
		mk(domain.AccountCreation, t0.Add(-30*24*time.Hour), "", nil),
		mk(domain.Login, t0, "", domain.LoginInfo{Attempt: 1}),
	}
	if takeover {
		events = append(events, mk(domain.DownloadAddressBook, t0.Add(3*time.Minute), "", domain.AddressBookInfo{ContactCount: 300}))
		for i := range 5 {
			events = append(events, mk(domain.MessageUser, t0.Add(time.Duration(5+i)*time.Minute), fmt.Sprintf("u-9%05d", i), domain.MessageInfo{Category: "link"}))
		}
	}
	if err := f.repo.SaveInteractions(ctx, events); err != nil {
		t.Fatalf("SaveInteractions: %v", err)
	}
}

func TestPipelineAssess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u-000001", true)
	f.seed(t, "u-000002", false)

	res, err := f.pipeline.Assess(ctx, "u-000001", t0.Add(time.Hour), "trace-1")
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if res.Assessment.Status != domain.StatusAlert {
		t.Errorf("expected ALRT for a takeover timeline, got %s", res.Assessment.Status)
	}
	if res.Assessment.Metadata.TraceID != "trace-1" {
		t.Errorf("expected trace id to be carried, got %q", res.Assessment.Metadata.TraceID)
	}
	if got, _ := res.Vector.Get(features.DownloadAddressBookCount); got != 1 {
		t.Errorf("expected download count 1, got %v", got)
	}

	saved, err := f.repo.GetAssessment(ctx, res.Assessment.ID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if saved.Status != domain.StatusAlert {
		t.Errorf("expected saved ALRT, got %s", saved.Status)
	}
	if sv, _ := f.repo.GetFeatureVector(ctx, "u-000001"); sv == nil || len(sv.Values) != len(features.Names) {
		t.Error("expected stored feature vector")
	}
	if sv, _ := f.cache.GetVector(ctx, "u-000001"); sv == nil {
		t.Error("expected cached feature vector")
	}

	res, err = f.pipeline.Assess(ctx, "u-000002", t0.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if res.Assessment.Status != domain.StatusNoAlert {
		t.Errorf("expected NALT for a quiet timeline, got %s (reasons %v)", res.Assessment.Status, decision.Reasons(res.Assessment))
	}
}

func TestPipelineVectorUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u-000001", true)

	at := t0.Add(time.Hour)
	cached := Stored("u-000001", features.Vector{}, at)
	if err := f.cache.SetVector(ctx, "u-000001", cached, time.Minute); err != nil {
		t.Fatalf("SetVector: %v", err)
	}

	v, err := f.pipeline.Vector(ctx, "u-000001", at)
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}
	if got, _ := v.Get(features.DownloadAddressBookCount); got != 0 {
		t.Errorf("expected the cached zero vector, got download count %v", got)
	}

	// a later reference time forces extraction
	v, err = f.pipeline.Vector(ctx, "u-000001", at.Add(time.Minute))
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}
	if got, _ := v.Get(features.DownloadAddressBookCount); got != 1 {
		t.Errorf("expected a fresh vector, got download count %v", got)
	}
}

func TestSharedIPMatchesCorpusExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shared := domain.Origin{IP: "45.33.32.156", Country: "US", Type: domain.IPHosting, UserAgent: "Mozilla/5.0"}
	home := domain.Origin{IP: "73.10.0.2", Country: "US", Type: domain.IPResidential, UserAgent: "Mozilla/5.0"}
	other := domain.Origin{IP: "73.10.0.3", Country: "US", Type: domain.IPResidential, UserAgent: "Mozilla/5.0"}

	build := func(userID string, steps ...func(string) domain.Interaction) domain.Timeline {
		u, err := domain.NewUser(userID, "US", t0.Add(-48*time.Hour), domain.UserProfile{})
		if err != nil {
			t.Fatalf("NewUser: %v", err)
		}
		tl := domain.Timeline{User: u}
		for _, step := range steps {
			tl.Events = append(tl.Events, step(userID))
		}
		return tl
	}
	at := func(typ domain.InteractionType, d time.Duration, o domain.Origin) func(string) domain.Interaction {
		return func(userID string) domain.Interaction {
			var meta domain.Metadata
			if typ == domain.Login {
				meta = domain.LoginInfo{Attempt: 1}
			}
			e, err := domain.NewInteraction(userID, typ, t0.Add(d), "", o, meta)
			if err != nil {
				t.Fatalf("NewInteraction: %v", err)
			}
			return e
		}
	}

	// a and b use the same address five hours apart, in different buckets
	timelines := []domain.Timeline{
		build("u-000001",
			at(domain.AccountCreation, -48*time.Hour, home),
			at(domain.Login, time.Hour, shared),
			at(domain.Login, 10*time.Hour, home),
		),
		build("u-000002",
			at(domain.AccountCreation, -48*time.Hour, home),
			at(domain.Login, 6*time.Hour, shared),
		),
		build("u-000003",
			at(domain.AccountCreation, -48*time.Hour, other),
			at(domain.Login, 6*time.Hour, other),
		),
	}
	for _, tl := range timelines {
		if err := f.repo.SaveUser(ctx, &tl.User); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
		if err := f.repo.SaveInteractions(ctx, tl.Events); err != nil {
			t.Fatalf("SaveInteractions: %v", err)
		}
	}

	asOf := t0.Add(11 * time.Hour)
	corpusVectors, err := features.ExtractAll(ctx, timelines, asOf, 2)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	for i, tl := range timelines {
		v, err := f.pipeline.Vector(ctx, tl.User.ID, asOf)
		if err != nil {
			t.Fatalf("Vector(%s): %v", tl.User.ID, err)
		}
		want, _ := corpusVectors[i].Get(features.SameIPSharedWithOthers)
		got, _ := v.Get(features.SameIPSharedWithOthers)
		if got != want {
			t.Errorf("%s: corpus extraction gives same_ip_shared_with_others %v, store-backed gives %v", tl.User.ID, want, got)
		}
	}

	if got, _ := corpusVectors[0].Get(features.SameIPSharedWithOthers); got != 1 {
		t.Errorf("expected u-000001 to share 45.33.32.156, got %v", got)
	}
	if got, _ := corpusVectors[2].Get(features.SameIPSharedWithOthers); got != 0 {
		t.Errorf("expected u-000003 to share nothing, got %v", got)
	}
}

func TestPipelineUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Assess(context.Background(), "u-missing", t0, ""); err == nil {
		t.Error("expected error for an unknown user")
	}
}

func TestWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u-000001", true)

	assessments := make(chan *domain.Assessment, 4)
	alerts := make(chan *domain.Assessment, 4)
	collect := func(out chan *domain.Assessment) domain.MessageHandler {
		return func(_ context.Context, msg *domain.Message) error {
			var a domain.Assessment
			if err := json.Unmarshal(msg.Payload, &a); err != nil {
				return err
			}
			out <- &a
			return nil
		}
	}
	subA, _ := f.bus.Subscribe(ctx, domain.TopicAssessment, collect(assessments))
	defer subA.Unsubscribe()
	subB, _ := f.bus.Subscribe(ctx, domain.TopicAlert, collect(alerts))
	defer subB.Unsubscribe()

	w := NewWorker(f.bus, f.pipeline)
	if err := w.Start(Config{WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTimelineIngested {
		t.Errorf("unexpected stats %+v", stats)
	}

	err := bus.PublishJSON(ctx, f.bus, domain.TopicTimelineIngested, domain.TimelineIngested{
		UserID: "u-000001", Events: 7, AsOf: t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case a := <-assessments:
		if a.UserID != "u-000001" || a.Status != domain.StatusAlert {
			t.Errorf("unexpected assessment %+v", a)
		}
		if a.Metadata.TraceID == "" {
			t.Error("expected the message id as trace id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for assessment")
	}
	select {
	case <-alerts:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for alert")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}

func TestWorkerRejectsBadMessages(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.bus, f.pipeline)
	_ = w.Start(Config{})
	defer w.Stop()

	if err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{")}); err == nil {
		t.Error("expected parse error")
	}
	if err := w.handleMessage(context.Background(), &domain.Message{ID: "m2", Payload: []byte(`{"events":3}`)}); err == nil {
		t.Error("expected error for a missing user id")
	}
}
