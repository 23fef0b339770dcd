package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "incidents: durable temporal state per life event",
		SQL: `
CREATE TABLE incidents (
    id                   INTEGER PRIMARY KEY,
    incident_id          TEXT NOT NULL UNIQUE,
    user_id              TEXT NOT NULL,

    -- State
    state_layer          TEXT NOT NULL CHECK (state_layer IN ('short_term', 'mid_term', 'long_term', 'crisis')),
    previous_state       TEXT,

    -- PRISM components
    persistence          REAL NOT NULL,
    resonance            REAL NOT NULL,
    impact               INTEGER NOT NULL,
    severity             REAL NOT NULL,
    malleability         REAL NOT NULL,
    significance         REAL NOT NULL,

    -- Relevance
    initial_significance REAL NOT NULL,
    current_relevance    REAL NOT NULL,

    -- Content
    description          TEXT NOT NULL,
    original_message     TEXT,
    domains              TEXT,
    impairment_level     TEXT,
    valence              TEXT,
    chronic              INTEGER NOT NULL DEFAULT 0,

    -- Metadata
    mention_count        INTEGER NOT NULL DEFAULT 1,
    confidence           REAL NOT NULL,
    user_suppressed      INTEGER NOT NULL DEFAULT 0,

    -- Relationships
    related_ids          TEXT,
    triggered_by         TEXT,
    superseded_by        TEXT,

    -- Timestamps (unix millis)
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL,
    last_mentioned_at    INTEGER NOT NULL,
    expires_at           INTEGER
);

CREATE INDEX idx_incidents_user      ON incidents(user_id);
CREATE INDEX idx_incidents_state     ON incidents(user_id, state_layer);
CREATE INDEX idx_incidents_relevance ON incidents(current_relevance DESC);
CREATE INDEX idx_incidents_expires   ON incidents(expires_at) WHERE expires_at IS NOT NULL;
`,
	},
	{
		Version:     2,
		Description: "state_transitions: append-only audit trail",
		SQL: `
CREATE TABLE state_transitions (
    id                  INTEGER PRIMARY KEY,
    transition_id       TEXT NOT NULL UNIQUE,
    incident_id         TEXT NOT NULL,
    user_id             TEXT NOT NULL,
    from_state          TEXT NOT NULL,
    to_state            TEXT NOT NULL,
    reason              TEXT NOT NULL CHECK (reason IN ('decay', 'escalation', 'compounding', 'resurgence', 'user_suppression', 'manual_override')),
    significance_before REAL NOT NULL,
    significance_after  REAL NOT NULL,
    triggered_by_mention INTEGER NOT NULL DEFAULT 0,
    notes               TEXT,
    created_at          INTEGER NOT NULL,

    FOREIGN KEY (incident_id) REFERENCES incidents(incident_id)
);

CREATE INDEX idx_transitions_incident ON state_transitions(incident_id);
CREATE INDEX idx_transitions_user     ON state_transitions(user_id, created_at DESC);
`,
	},
	{
		Version:     3,
		Description: "compounding_events, resurgence_events, decay_snapshots",
		SQL: `
CREATE TABLE compounding_events (
    id                    INTEGER PRIMARY KEY,
    compounding_id        TEXT NOT NULL UNIQUE,
    user_id               TEXT NOT NULL,
    source_incident_ids   TEXT NOT NULL,
    resulting_incident_id TEXT NOT NULL,
    window_days           INTEGER NOT NULL,
    domain                TEXT NOT NULL,
    created_at            INTEGER NOT NULL
);

CREATE INDEX idx_compounding_user ON compounding_events(user_id);

CREATE TABLE resurgence_events (
    id               INTEGER PRIMARY KEY,
    resurgence_id    TEXT NOT NULL UNIQUE,
    incident_id      TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    trigger_type     TEXT NOT NULL CHECK (trigger_type IN ('anniversary', 'similar_incident', 'user_mention')),
    trigger_note     TEXT,
    relevance_before REAL NOT NULL,
    relevance_after  REAL NOT NULL,
    spike_magnitude  REAL NOT NULL,
    occurred_at      INTEGER NOT NULL,

    FOREIGN KEY (incident_id) REFERENCES incidents(incident_id)
);

CREATE INDEX idx_resurgence_incident ON resurgence_events(incident_id);

CREATE TABLE decay_snapshots (
    id           INTEGER PRIMARY KEY,
    incident_id  TEXT NOT NULL,
    relevance    REAL NOT NULL,
    days_elapsed REAL NOT NULL,
    decay_model  TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_snapshots_incident ON decay_snapshots(incident_id, created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "user_baselines + baseline_samples: per-user calibration state",
		SQL: `
CREATE TABLE user_baselines (
    user_id              TEXT PRIMARY KEY,
    expression_style     TEXT NOT NULL CHECK (expression_style IN ('stoic', 'neutral', 'expressive')),
    avg_intensity        REAL NOT NULL,
    intensity_stddev     REAL NOT NULL,
    message_count        INTEGER NOT NULL DEFAULT 0,
    incident_count       INTEGER NOT NULL DEFAULT 0,
    calibration_factor   REAL NOT NULL DEFAULT 1.0,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL,
    last_conversation_at INTEGER
);

CREATE TABLE baseline_samples (
    id         INTEGER PRIMARY KEY,
    user_id    TEXT NOT NULL,
    intensity  REAL NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_samples_user ON baseline_samples(user_id, created_at DESC);
`,
	},
	{
		Version:     5,
		Description: "incident_vectors: embeddings for similarity search",
		SQL: `
CREATE TABLE incident_vectors (
    incident_id TEXT PRIMARY KEY,
    embedding   BLOB NOT NULL,
    model       TEXT NOT NULL,
    dimensions  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    FOREIGN KEY (incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
