package repository

// Schema definitions for the Kestrel store.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    home_country TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    generation_pattern TEXT NOT NULL DEFAULT '',
    is_fraud INTEGER NOT NULL DEFAULT 0,
    is_fraud_victim INTEGER NOT NULL DEFAULT 0,
    fishy INTEGER NOT NULL DEFAULT 0,
    profile TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_pattern ON users(generation_pattern);
`

// Interactions keep their batch position so equal timestamps read back in
// the order they were written.
const schemaInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    target_user_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    ip_country TEXT NOT NULL DEFAULT '',
    ip_type TEXT NOT NULL,
    user_agent TEXT NOT NULL DEFAULT '',
    metadata_kind TEXT NOT NULL DEFAULT '',
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_interactions_ip ON interactions(ip_address, timestamp);
`

const schemaFeatureVectors = `
CREATE TABLE IF NOT EXISTS feature_vectors (
    user_id TEXT PRIMARY KEY,
    names TEXT NOT NULL,
    vals TEXT NOT NULL,
    extracted_at TIMESTAMP NOT NULL
);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    rule_results TEXT NOT NULL,
    typology_results TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_user ON assessments(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// schemaTypologies groups rules with weights into composite abuse scores.
const schemaTypologies = `
CREATE TABLE IF NOT EXISTS typologies (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    rules TEXT NOT NULL,
    alert_threshold REAL NOT NULL DEFAULT 0.6,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_typologies_enabled ON typologies(enabled);
CREATE INDEX IF NOT EXISTS idx_typologies_name ON typologies(name);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaInteractions,
		schemaFeatureVectors,
		schemaAssessments,
		schemaRuleConfigs,
		schemaTypologies,
	}
}
