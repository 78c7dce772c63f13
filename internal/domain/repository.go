// Package domain defines the core types and collaborator interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// TimelineStore persists users, their timelines and everything derived from them.
type TimelineStore interface {
	// User operations
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]*User, error)

	// Interaction operations. SaveInteractions writes a batch atomically.
	SaveInteractions(ctx context.Context, events []Interaction) error
	GetTimeline(ctx context.Context, userID string) (*Timeline, error)
	UsersByIPWindow(ctx context.Context, ip string, from, to time.Time) ([]string, error)
	CountInteractions(ctx context.Context, userID string, since time.Time) (int, error)

	// Derived data
	SaveFeatureVector(ctx context.Context, userID string, vector *StoredVector) error
	GetFeatureVector(ctx context.Context, userID string) (*StoredVector, error)
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*Assessment, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Typology configuration operations
	SaveTypology(ctx context.Context, typology *Typology) error
	GetTypology(ctx context.Context, typologyID string) (*Typology, error)
	ListTypologies(ctx context.Context) ([]*Typology, error)
	DeleteTypology(ctx context.Context, typologyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoredVector is a feature vector as persisted and cached: the schema
// names and values in schema order.
type StoredVector struct {
	UserID      string    `json:"userId"`
	Names       []string  `json:"names"`
	Values      []float64 `json:"values"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
