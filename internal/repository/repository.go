// Package repository persists users, timelines and scoring artifacts.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.TimelineStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported repository driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveUser inserts or replaces a user.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("%w: profile: %v", domain.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO users (
			id, email, home_country, created_at, generation_pattern,
			is_fraud, is_fraud_victim, fishy, profile
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			home_country = excluded.home_country,
			created_at = excluded.created_at,
			generation_pattern = excluded.generation_pattern,
			is_fraud = excluded.is_fraud,
			is_fraud_victim = excluded.is_fraud_victim,
			fishy = excluded.fishy,
			profile = excluded.profile
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Email, user.HomeCountry, user.CreatedAt.UTC(), user.GenerationPattern,
		flag(user.IsFraud), flag(user.IsFraudVictim), flag(user.Fishy), string(profile),
	)
	return err
}

const userColumns = `id, email, home_country, created_at, generation_pattern, is_fraud, is_fraud_victim, fishy, profile`

// GetUser returns one user.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(query), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	return u, err
}

// ListUsers pages through users in id order.
func (r *SQLRepository) ListUsers(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0 and limit > 0", domain.ErrInvalidInput)
	}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*domain.User, error) {
	var (
		u                    domain.User
		fraud, victim, fishy int
		profile              string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.HomeCountry, &u.CreatedAt, &u.GenerationPattern,
		&fraud, &victim, &fishy, &profile); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.IsFraud, u.IsFraudVictim, u.Fishy = fraud == 1, victim == 1, fishy == 1
	if err := json.Unmarshal([]byte(profile), &u.Profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile of %s: %w", u.ID, err)
	}
	return &u, nil
}

// SaveInteractions writes a batch in one transaction. Events without an ID
// get a random one; events whose ID already exists are skipped.
func (r *SQLRepository) SaveInteractions(ctx context.Context, events []domain.Interaction) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO interactions (
			id, user_id, seq, type, timestamp, target_user_id,
			ip_address, ip_country, ip_type, user_agent, metadata_kind, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range events {
		if e.UserID == "" {
			return fmt.Errorf("%w: interaction %d has no user", domain.ErrInvalidInput, i)
		}
		kind, meta, err := domain.EncodeMetadata(e.Metadata)
		if err != nil {
			return fmt.Errorf("%w: metadata of interaction %d: %v", domain.ErrInvalidInput, i, err)
		}
		var metaCol any
		if meta != nil {
			metaCol = string(meta)
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			id, e.UserID, i, string(e.Type), e.Timestamp.UTC(), e.TargetUserID,
			e.IPAddress, e.IPCountry, string(e.IPType), e.UserAgent, string(kind), metaCol,
		); err != nil {
			return fmt.Errorf("failed to save interaction %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetTimeline returns the user and all of their interactions in time order.
func (r *SQLRepository) GetTimeline(ctx context.Context, userID string) (*domain.Timeline, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, type, timestamp, target_user_id,
			   ip_address, ip_country, ip_type, user_agent, metadata_kind, metadata
		FROM interactions
		WHERE user_id = ?
		ORDER BY timestamp, seq
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tl := &domain.Timeline{User: *user}
	for rows.Next() {
		var (
			id, uid, typ, target, ip, country, ipType, ua, kind string
			ts                                                  time.Time
			meta                                                sql.NullString
		)
		if err := rows.Scan(&id, &uid, &typ, &ts, &target, &ip, &country, &ipType, &ua, &kind, &meta); err != nil {
			return nil, err
		}
		md, err := domain.DecodeMetadata(domain.MetadataKind(kind), []byte(meta.String))
		if err != nil {
			return nil, fmt.Errorf("interaction %s: %w", id, err)
		}
		e, err := domain.NewInteraction(uid, domain.InteractionType(typ), ts, target,
			domain.Origin{IP: ip, Country: country, Type: domain.IPType(ipType), UserAgent: ua}, md)
		if err != nil {
			return nil, fmt.Errorf("interaction %s: %w", id, err)
		}
		tl.Events = append(tl.Events, e.WithID(id))
	}
	return tl, rows.Err()
}

// UsersByIPWindow lists the users that acted from ip within [from, to].
func (r *SQLRepository) UsersByIPWindow(ctx context.Context, ip string, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT user_id
		FROM interactions
		WHERE ip_address = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), ip, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CountInteractions counts a user's interactions at or after since.
func (r *SQLRepository) CountInteractions(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM interactions WHERE user_id = ? AND timestamp >= ?`
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since.UTC()).Scan(&n)
	return n, err
}

// SaveFeatureVector stores the latest vector of a user.
func (r *SQLRepository) SaveFeatureVector(ctx context.Context, userID string, vector *domain.StoredVector) error {
	if vector == nil || len(vector.Names) != len(vector.Values) {
		return fmt.Errorf("%w: vector names and values differ in length", domain.ErrInvalidInput)
	}
	names, _ := json.Marshal(vector.Names)
	values, _ := json.Marshal(vector.Values)

	query := `
		INSERT INTO feature_vectors (user_id, names, vals, extracted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			names = excluded.names,
			vals = excluded.vals,
			extracted_at = excluded.extracted_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), userID, string(names), string(values), vector.ExtractedAt.UTC())
	return err
}

// GetFeatureVector returns the latest stored vector of a user.
func (r *SQLRepository) GetFeatureVector(ctx context.Context, userID string) (*domain.StoredVector, error) {
	query := `SELECT user_id, names, vals, extracted_at FROM feature_vectors WHERE user_id = ?`

	var v domain.StoredVector
	var names, values string
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&v.UserID, &names, &values, &v.ExtractedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: feature vector of %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(names), &v.Names); err != nil {
		return nil, fmt.Errorf("failed to parse vector names: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &v.Values); err != nil {
		return nil, fmt.Errorf("failed to parse vector values: %w", err)
	}
	v.ExtractedAt = v.ExtractedAt.UTC()
	return &v, nil
}

// SaveAssessment stores a scoring result.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	ruleResults, _ := json.Marshal(a.RuleResults)
	typologyResults, _ := json.Marshal(a.TypologyResults)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO assessments (
			id, user_id, status, score, timestamp,
			rule_results, typology_results, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.UserID, a.Status, a.Score, a.Timestamp.UTC(),
		string(ruleResults), string(typologyResults), string(metadata),
	)
	return err
}

// GetAssessment returns a stored scoring result.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.Assessment, error) {
	query := `
		SELECT id, user_id, status, score, timestamp,
			   rule_results, typology_results, metadata
		FROM assessments
		WHERE id = ?
	`

	var a domain.Assessment
	var ruleResults, metadata string
	var typologyResults sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), assessmentID).Scan(
		&a.ID, &a.UserID, &a.Status, &a.Score, &a.Timestamp,
		&ruleResults, &typologyResults, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: assessment %s", domain.ErrNotFound, assessmentID)
	}
	if err != nil {
		return nil, err
	}

	a.Timestamp = a.Timestamp.UTC()
	if err := json.Unmarshal([]byte(ruleResults), &a.RuleResults); err != nil {
		return nil, fmt.Errorf("failed to parse rule results: %w", err)
	}
	if typologyResults.Valid && typologyResults.String != "null" {
		if err := json.Unmarshal([]byte(typologyResults.String), &a.TypologyResults); err != nil {
			return nil, fmt.Errorf("failed to parse typology results: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse assessment metadata: %w", err)
	}
	return &a, nil
}

// SaveRuleConfig inserts or updates one version of a rule.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version, rule.Expression,
		string(bands), rule.Weight, flag(rule.Enabled), now, now,
	)
	return err
}

const ruleColumns = `id, name, description, version, expression, bands, weight, enabled`

// GetRuleConfig returns the highest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `SELECT ` + ruleColumns + ` FROM rule_configs WHERE id = ? AND enabled = 1 ORDER BY version DESC LIMIT 1`
	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}
	return rule, err
}

// ListRuleConfigs returns every enabled rule version, by name.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `SELECT ` + ruleColumns + ` FROM rule_configs WHERE enabled = 1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleConfig
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(s scanner) (*domain.RuleConfig, error) {
	var rule domain.RuleConfig
	var description sql.NullString
	var bands string
	var enabled int
	if err := s.Scan(&rule.ID, &rule.Name, &description, &rule.Version, &rule.Expression,
		&bands, &rule.Weight, &enabled); err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &rule.Bands); err != nil {
		return nil, fmt.Errorf("failed to parse bands of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

// SaveTypology inserts or updates one version of a typology.
func (r *SQLRepository) SaveTypology(ctx context.Context, typology *domain.Typology) error {
	if typology == nil || typology.ID == "" {
		return fmt.Errorf("%w: typology id is required", domain.ErrInvalidInput)
	}
	rules, _ := json.Marshal(typology.Rules)
	now := time.Now().UTC()

	query := `
		INSERT INTO typologies (
			id, name, description, version, rules, alert_threshold, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rules = excluded.rules,
			alert_threshold = excluded.alert_threshold,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		typology.ID, typology.Name, typology.Description, typology.Version,
		string(rules), typology.AlertThreshold, flag(typology.Enabled), now, now,
	)
	return err
}

const typologyColumns = `id, name, description, version, rules, alert_threshold, enabled, created_at, updated_at`

// GetTypology returns the highest enabled version of a typology.
func (r *SQLRepository) GetTypology(ctx context.Context, typologyID string) (*domain.Typology, error) {
	query := `SELECT ` + typologyColumns + ` FROM typologies WHERE id = ? AND enabled = 1 ORDER BY version DESC LIMIT 1`
	t, err := scanTypology(r.db.QueryRowContext(ctx, r.rebind(query), typologyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: typology %s", domain.ErrNotFound, typologyID)
	}
	return t, err
}

// ListTypologies returns every enabled typology version, by name.
func (r *SQLRepository) ListTypologies(ctx context.Context) ([]*domain.Typology, error) {
	query := `SELECT ` + typologyColumns + ` FROM typologies WHERE enabled = 1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var typologies []*domain.Typology
	for rows.Next() {
		t, err := scanTypology(rows)
		if err != nil {
			return nil, err
		}
		typologies = append(typologies, t)
	}
	return typologies, rows.Err()
}

func scanTypology(s scanner) (*domain.Typology, error) {
	var t domain.Typology
	var description sql.NullString
	var rules string
	var enabled int
	if err := s.Scan(&t.ID, &t.Name, &description, &t.Version, &rules,
		&t.AlertThreshold, &enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(rules), &t.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules of typology %s: %w", t.ID, err)
	}
	return &t, nil
}

// DeleteTypology soft-deletes every version of a typology.
func (r *SQLRepository) DeleteTypology(ctx context.Context, typologyID string) error {
	query := `UPDATE typologies SET enabled = 0, updated_at = ? WHERE id = ? AND enabled = 1`
	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), typologyID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: typology %s", domain.ErrNotFound, typologyID)
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := int64(0)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			out = append(out, query[i])
			continue
		}
		n++
		out = append(out, '$')
		out = strconv.AppendInt(out, n, 10)
	}
	return string(out)
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.TimelineStore = (*SQLRepository)(nil)
