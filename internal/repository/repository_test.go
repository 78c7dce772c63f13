package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustEvent(t *testing.T, userID string, typ domain.InteractionType, at time.Time, target, ip string, meta domain.Metadata) domain.Interaction {
	t.Helper()
	e, err := domain.NewInteraction(userID, typ, at, target,
		domain.Origin{IP: ip, Country: "US", Type: domain.IPResidential, UserAgent: "Mozilla/5.0"}, meta)
	if err != nil {
		t.Fatalf("NewInteraction: %v", err)
	}
	return e
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	alice, err := domain.NewUser("u-000001", "US", base.Add(-48*time.Hour), domain.UserProfile{
		DisplayName: "Alice", Headline: "Engineer", Tier: domain.TierPremium,
		ConnectionsCount: 120, Groups: []string{"grp-001"},
	})
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	alice.GenerationPattern = "smash_grab"
	alice.IsFraud = true

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetUser", func(t *testing.T) {
		if err := repo.SaveUser(ctx, &alice); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
		got, err := repo.GetUser(ctx, alice.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if !got.IsFraud || got.GenerationPattern != "smash_grab" {
			t.Errorf("labels not preserved: %+v", got)
		}
		if got.Profile.Tier != domain.TierPremium || !got.Profile.InGroup("grp-001") {
			t.Errorf("profile not preserved: %+v", got.Profile)
		}
		if !got.CreatedAt.Equal(alice.CreatedAt) {
			t.Errorf("expected CreatedAt %v, got %v", alice.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("SaveUserUpserts", func(t *testing.T) {
		updated := alice
		updated.Profile.Headline = "Staff Engineer"
		if err := repo.SaveUser(ctx, &updated); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
		got, err := repo.GetUser(ctx, alice.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.Profile.Headline != "Staff Engineer" {
			t.Errorf("expected updated headline, got %q", got.Profile.Headline)
		}
	})

	t.Run("SaveAndGetTimeline", func(t *testing.T) {
		events := []domain.Interaction{
			mustEvent(t, alice.ID, domain.AccountCreation, base, "", "73.1.2.3", nil),
			mustEvent(t, alice.ID, domain.Login, base.Add(time.Minute), "", "73.1.2.3", domain.LoginInfo{Attempt: 1}),
			// same instant as the login; batch order must survive
			mustEvent(t, alice.ID, domain.DownloadAddressBook, base.Add(time.Minute), "", "73.1.2.3", domain.AddressBookInfo{ContactCount: 340}),
			mustEvent(t, alice.ID, domain.MessageUser, base.Add(2*time.Minute), "u-000002", "73.1.2.3", domain.MessageInfo{Category: "phishing", URL: "http://x.test"}),
		}
		events[0] = events[0].WithID("evt-1")
		if err := repo.SaveInteractions(ctx, events); err != nil {
			t.Fatalf("SaveInteractions failed: %v", err)
		}

		tl, err := repo.GetTimeline(ctx, alice.ID)
		if err != nil {
			t.Fatalf("GetTimeline failed: %v", err)
		}
		if tl.Len() != 4 {
			t.Fatalf("expected 4 events, got %d", tl.Len())
		}
		if tl.Events[0].ID != "evt-1" {
			t.Errorf("expected explicit id to be kept, got %s", tl.Events[0].ID)
		}
		if tl.Events[1].Type != domain.Login || tl.Events[2].Type != domain.DownloadAddressBook {
			t.Errorf("equal timestamps reordered: %s, %s", tl.Events[1].Type, tl.Events[2].Type)
		}
		book, ok := tl.Events[2].Metadata.(domain.AddressBookInfo)
		if !ok || book.ContactCount != 340 {
			t.Errorf("expected address book metadata, got %#v", tl.Events[2].Metadata)
		}
		msg, ok := tl.Events[3].Metadata.(domain.MessageInfo)
		if !ok || msg.Category != "phishing" {
			t.Errorf("expected message metadata, got %#v", tl.Events[3].Metadata)
		}
		if tl.Events[3].TargetUserID != "u-000002" {
			t.Errorf("expected target u-000002, got %q", tl.Events[3].TargetUserID)
		}
		if !tl.Sorted() {
			t.Error("timeline not in time order")
		}
	})

	t.Run("SaveInteractionsSkipsKnownIDs", func(t *testing.T) {
		again := []domain.Interaction{mustEvent(t, alice.ID, domain.AccountCreation, base, "", "73.1.2.3", nil).WithID("evt-1")}
		if err := repo.SaveInteractions(ctx, again); err != nil {
			t.Fatalf("SaveInteractions failed: %v", err)
		}
		n, err := repo.CountInteractions(ctx, alice.ID, base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountInteractions failed: %v", err)
		}
		if n != 4 {
			t.Errorf("expected 4 interactions, got %d", n)
		}
	})

	t.Run("CountInteractionsSince", func(t *testing.T) {
		n, err := repo.CountInteractions(ctx, alice.ID, base.Add(90*time.Second))
		if err != nil {
			t.Fatalf("CountInteractions failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 interaction, got %d", n)
		}
	})

	t.Run("UsersByIPWindow", func(t *testing.T) {
		bob, _ := domain.NewUser("u-000002", "US", base.Add(-24*time.Hour), domain.UserProfile{})
		if err := repo.SaveUser(ctx, &bob); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
		if err := repo.SaveInteractions(ctx, []domain.Interaction{
			mustEvent(t, bob.ID, domain.AccountCreation, base.Add(30*time.Minute), "", "73.1.2.3", nil),
			mustEvent(t, bob.ID, domain.AccountCreation, base.Add(5*time.Hour), "", "73.9.9.9", nil),
		}); err != nil {
			t.Fatalf("SaveInteractions failed: %v", err)
		}

		users, err := repo.UsersByIPWindow(ctx, "73.1.2.3", base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("UsersByIPWindow failed: %v", err)
		}
		if len(users) != 2 || users[0] != alice.ID || users[1] != bob.ID {
			t.Errorf("expected both users, got %v", users)
		}

		users, err = repo.UsersByIPWindow(ctx, "73.1.2.3", base.Add(10*time.Minute), base.Add(time.Hour))
		if err != nil {
			t.Fatalf("UsersByIPWindow failed: %v", err)
		}
		if len(users) != 1 || users[0] != bob.ID {
			t.Errorf("expected only bob, got %v", users)
		}
	})

	t.Run("ListUsers", func(t *testing.T) {
		users, err := repo.ListUsers(ctx, 0, 10)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 || users[0].ID != "u-000001" {
			t.Errorf("unexpected users: %d", len(users))
		}
		users, err = repo.ListUsers(ctx, 1, 10)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || users[0].ID != "u-000002" {
			t.Errorf("expected second page to hold u-000002")
		}
		if _, err := repo.ListUsers(ctx, 0, 0); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("FeatureVector", func(t *testing.T) {
		v := &domain.StoredVector{
			UserID:      alice.ID,
			Names:       []string{"messages_last_24h", "ratio_hosting_ips"},
			Values:      []float64{42, 0.25},
			ExtractedAt: base,
		}
		if err := repo.SaveFeatureVector(ctx, alice.ID, v); err != nil {
			t.Fatalf("SaveFeatureVector failed: %v", err)
		}
		v.Values[0] = 43
		if err := repo.SaveFeatureVector(ctx, alice.ID, v); err != nil {
			t.Fatalf("SaveFeatureVector failed: %v", err)
		}
		got, err := repo.GetFeatureVector(ctx, alice.ID)
		if err != nil {
			t.Fatalf("GetFeatureVector failed: %v", err)
		}
		if len(got.Values) != 2 || got.Values[0] != 43 || got.Values[1] != 0.25 {
			t.Errorf("unexpected values %v", got.Values)
		}

		bad := &domain.StoredVector{Names: []string{"a"}}
		if err := repo.SaveFeatureVector(ctx, alice.ID, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.Assessment{
			ID:        "asm-001",
			UserID:    alice.ID,
			Status:    domain.StatusAlert,
			Score:     0.82,
			Timestamp: base,
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-message-burst", UserID: alice.ID, Score: 1, SubRuleRef: domain.RuleOutcomeFail},
			},
			Metadata: domain.AssessmentMetadata{TraceID: "trace-001", RulesEvaluated: 1},
		}
		if err := repo.SaveAssessment(ctx, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}
		got, err := repo.GetAssessment(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.Score != a.Score || got.Status != a.Status {
			t.Errorf("expected %s/%.2f, got %s/%.2f", a.Status, a.Score, got.Status, got.Score)
		}
		if len(got.RuleResults) != 1 || got.Metadata.TraceID != "trace-001" {
			t.Errorf("results not preserved: %+v", got)
		}
	})

	t.Run("RuleConfigs", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID: "rule-message-burst", Name: "Message burst", Version: "1.0.0",
			Expression: "messages_last_24h > 50.0", Weight: 1, Enabled: true,
		}
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		got, err := repo.GetRuleConfig(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Expression != rule.Expression {
			t.Errorf("expected expression %q, got %q", rule.Expression, got.Expression)
		}
		rules, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}
	})

	t.Run("Typologies", func(t *testing.T) {
		typ := &domain.Typology{
			ID: domain.TypologySpamBurst, Name: "Spam burst", Version: "1.0.0",
			Rules:          []domain.TypologyRuleWeight{{RuleID: "rule-message-burst", Weight: 1}},
			AlertThreshold: 0.5, Enabled: true,
		}
		if err := repo.SaveTypology(ctx, typ); err != nil {
			t.Fatalf("SaveTypology failed: %v", err)
		}
		got, err := repo.GetTypology(ctx, typ.ID)
		if err != nil {
			t.Fatalf("GetTypology failed: %v", err)
		}
		if len(got.Rules) != 1 || got.AlertThreshold != 0.5 {
			t.Errorf("unexpected typology %+v", got)
		}

		if err := repo.DeleteTypology(ctx, typ.ID); err != nil {
			t.Fatalf("DeleteTypology failed: %v", err)
		}
		if _, err := repo.GetTypology(ctx, typ.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteTypology(ctx, typ.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetUser(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetTimeline(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAssessment(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetFeatureVector(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unsupported driver, got: %v", err)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM users WHERE id = ?", "SELECT * FROM users WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if got := repo.rebind(tt.input); got != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel", PostgresPassword: "it's secret"})
	want := `host='localhost' port=5432 dbname='kestrel' sslmode='disable' user='kestrel' password='it\'s secret'`
	if got != want {
		t.Errorf("postgresDSN = %q, want %q", got, want)
	}

	got = postgresDSN(domain.RepositoryConfig{PostgresHost: "db", PostgresPort: 6432, PostgresDB: "k", PostgresSSLMode: "require"})
	want = `host='db' port=6432 dbname='k' sslmode='require'`
	if got != want {
		t.Errorf("postgresDSN = %q, want %q", got, want)
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:", MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	u, err := domain.NewUser("u-000001", "US", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.UserProfile{})
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := repo.SaveUser(ctx, &u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if _, err := repo.GetUser(ctx, "u-000001"); err != nil {
		t.Errorf("expected user in the same in-memory store, got %v", err)
	}
}
