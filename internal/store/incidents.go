package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const incidentColumns = `id, incident_id, user_id, state_layer, previous_state,
	persistence, resonance, impact, severity, malleability, significance,
	initial_significance, current_relevance,
	description, original_message, domains, impairment_level, valence, chronic,
	mention_count, confidence, user_suppressed,
	related_ids, triggered_by, superseded_by,
	created_at, updated_at, last_mentioned_at, expires_at`

// encodeStrings marshals a string slice to its JSON column form ("" for empty).
func encodeStrings(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	data, _ := json.Marshal(vals)
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil
	}
	return vals
}

// CreateIncident inserts a new incident row. CreatedAt/UpdatedAt/
// LastMentionedAt are set to now if zero.
func (db *DB) CreateIncident(inc *Incident) error {
	now := time.Now().UnixMilli()
	if inc.CreatedAt == 0 {
		inc.CreatedAt = now
	}
	if inc.UpdatedAt == 0 {
		inc.UpdatedAt = now
	}
	if inc.LastMentionedAt == 0 {
		inc.LastMentionedAt = now
	}

	suppressed := 0
	if inc.UserSuppressed {
		suppressed = 1
	}
	chronic := 0
	if inc.Chronic {
		chronic = 1
	}

	result, err := db.Exec(`
		INSERT INTO incidents (incident_id, user_id, state_layer, previous_state,
			persistence, resonance, impact, severity, malleability, significance,
			initial_significance, current_relevance,
			description, original_message, domains, impairment_level, valence, chronic,
			mention_count, confidence, user_suppressed,
			related_ids, triggered_by, superseded_by,
			created_at, updated_at, last_mentioned_at, expires_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
	`, inc.IncidentID, inc.UserID, string(inc.StateLayer), string(inc.PreviousState),
		inc.Persistence, inc.Resonance, inc.Impact, inc.Severity, inc.Malleability, inc.Significance,
		inc.InitialSignificance, inc.CurrentRelevance,
		inc.Description, inc.OriginalMessage, encodeStrings(inc.Domains), inc.ImpairmentLevel, inc.Valence, chronic,
		inc.MentionCount, inc.Confidence, suppressed,
		encodeStrings(inc.RelatedIDs), inc.TriggeredBy, inc.SupersededBy,
		inc.CreatedAt, inc.UpdatedAt, inc.LastMentionedAt, inc.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	id, _ := result.LastInsertId()
	inc.ID = id
	return nil
}

// GetIncident returns an incident by its incident_id, or nil if not found.
func (db *DB) GetIncident(incidentID string) (*Incident, error) {
	row := db.QueryRow(`SELECT `+incidentColumns+` FROM incidents WHERE incident_id = ?`, incidentID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var prev, origMsg, domains, impairment, valence, related, triggeredBy, superseded sql.NullString
	var suppressed, chronic int
	var expires sql.NullInt64

	err := row.Scan(&inc.ID, &inc.IncidentID, &inc.UserID, (*string)(&inc.StateLayer), &prev,
		&inc.Persistence, &inc.Resonance, &inc.Impact, &inc.Severity, &inc.Malleability, &inc.Significance,
		&inc.InitialSignificance, &inc.CurrentRelevance,
		&inc.Description, &origMsg, &domains, &impairment, &valence, &chronic,
		&inc.MentionCount, &inc.Confidence, &suppressed,
		&related, &triggeredBy, &superseded,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.LastMentionedAt, &expires)
	if err != nil {
		return nil, err
	}

	inc.PreviousState = StateLayer(prev.String)
	inc.OriginalMessage = origMsg.String
	inc.Domains = decodeStrings(domains.String)
	inc.ImpairmentLevel = impairment.String
	inc.Valence = valence.String
	inc.Chronic = chronic != 0
	inc.UserSuppressed = suppressed != 0
	inc.RelatedIDs = decodeStrings(related.String)
	inc.TriggeredBy = triggeredBy.String
	inc.SupersededBy = superseded.String
	if expires.Valid {
		inc.ExpiresAt = &expires.Int64
	}
	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]Incident, error) {
	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// QueryIncidents returns incidents matching the query, ordered by
// current_relevance DESC. The limit is clamped to [1,100].
func (db *DB) QueryIncidents(q IncidentQuery) ([]Incident, error) {
	where := []string{"user_id = ?"}
	args := []any{q.UserID}

	if len(q.StateLayers) > 0 {
		ph := make([]string, len(q.StateLayers))
		for i, l := range q.StateLayers {
			ph[i] = "?"
			args = append(args, string(l))
		}
		where = append(where, fmt.Sprintf("state_layer IN (%s)", strings.Join(ph, ",")))
	}
	if q.MinRelevance > 0 {
		where = append(where, "current_relevance >= ?")
		args = append(args, q.MinRelevance)
	}
	if !q.IncludeSuppressed {
		where = append(where, "user_suppressed = 0")
	}
	if q.CreatedAfter > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, q.CreatedAfter)
	}
	if q.CreatedBefore > 0 {
		where = append(where, "created_at <= ?")
		args = append(args, q.CreatedBefore)
	}
	if q.LastMentionedAfter > 0 {
		where = append(where, "last_mentioned_at >= ?")
		args = append(args, q.LastMentionedAfter)
	}
	if q.Domain != "" {
		// Domains are stored as a JSON array of strings.
		where = append(where, "domains LIKE ?")
		args = append(args, `%"`+q.Domain+`"%`)
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := db.Query(`SELECT `+incidentColumns+` FROM incidents
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY current_relevance DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

// ListUserIncidents returns every non-superseded incident for a user.
func (db *DB) ListUserIncidents(userID string) ([]Incident, error) {
	rows, err := db.Query(`SELECT `+incidentColumns+` FROM incidents
		WHERE user_id = ? AND superseded_by IS NULL
		ORDER BY current_relevance DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// CountUserIncidents returns the number of incidents ever recorded for a
// user, superseded ones included. Feeds the historical-depth confidence score.
func (db *DB) CountUserIncidents(userID string) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM incidents WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

// RecentSTIncidents returns live ST incidents for a user in a domain created
// at or after the cutoff. Used by the compounding detector.
func (db *DB) RecentSTIncidents(userID, domain string, cutoff int64) ([]Incident, error) {
	rows, err := db.Query(`SELECT `+incidentColumns+` FROM incidents
		WHERE user_id = ? AND state_layer = ? AND created_at >= ?
		  AND user_suppressed = 0 AND superseded_by IS NULL AND domains LIKE ?
		ORDER BY created_at ASC`,
		userID, string(LayerST), cutoff, `%"`+domain+`"%`)
	if err != nil {
		return nil, fmt.Errorf("recent st incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// SetRelevance updates current_relevance without touching state. Decay-path
// only; state changes go through ApplyTransition.
func (db *DB) SetRelevance(incidentID string, relevance float64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE incidents SET current_relevance = ?, updated_at = ? WHERE incident_id = ?`,
		relevance, now, incidentID)
	if err != nil {
		return fmt.Errorf("set relevance: %w", err)
	}
	return nil
}

// RecordMention increments mention_count and resets last_mentioned_at.
func (db *DB) RecordMention(incidentID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE incidents SET mention_count = mention_count + 1, last_mentioned_at = ?, updated_at = ?
		WHERE incident_id = ?
	`, now, now, incidentID)
	if err != nil {
		return fmt.Errorf("record mention: %w", err)
	}
	return nil
}

// MarkSuperseded points an incident at the compound incident that replaced it.
func (db *DB) MarkSuperseded(incidentID, supersededBy string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE incidents SET superseded_by = ?, updated_at = ? WHERE incident_id = ?`,
		supersededBy, now, incidentID)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	return nil
}

// ApplyTransition atomically updates the incident's state, relevance and
// hard-delete deadline, and appends the audit record. Either both writes land
// or neither does, so a decay sweep and a compounding merge can never
// interleave a partial state change. expiresAt is the incident's new deadline
// after the transition; nil clears it, which is what every move out of
// short_term wants.
func (db *DB) ApplyTransition(t *StateTransition, newRelevance float64, suppressed bool, expiresAt *int64) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}

	sup := 0
	if suppressed {
		sup = 1
	}
	if _, err := tx.Exec(`
		UPDATE incidents SET state_layer = ?, previous_state = ?, current_relevance = ?,
			user_suppressed = ?, expires_at = ?, updated_at = ?
		WHERE incident_id = ?
	`, string(t.ToState), string(t.FromState), newRelevance, sup, expiresAt, now, t.IncidentID); err != nil {
		tx.Rollback()
		return fmt.Errorf("update incident state: %w", err)
	}

	mentioned := 0
	if t.TriggeredByMention {
		mentioned = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO state_transitions (transition_id, incident_id, user_id, from_state, to_state,
			reason, significance_before, significance_after, triggered_by_mention, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, t.TransitionID, t.IncidentID, t.UserID, string(t.FromState), string(t.ToState),
		string(t.Reason), t.SignificanceBefore, t.SignificanceAfter, mentioned, t.Notes, t.CreatedAt); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert transition: %w", err)
	}

	return tx.Commit()
}

// ExpiredSTIncidents returns ST incidents whose hard-delete deadline passed.
func (db *DB) ExpiredSTIncidents(now int64) ([]Incident, error) {
	rows, err := db.Query(`SELECT `+incidentColumns+` FROM incidents
		WHERE state_layer = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(LayerST), now)
	if err != nil {
		return nil, fmt.Errorf("expired st incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// DeleteIncident removes an incident and its embedding.
func (db *DB) DeleteIncident(incidentID string) error {
	if _, err := db.Exec("DELETE FROM incident_vectors WHERE incident_id = ?", incidentID); err != nil {
		return fmt.Errorf("delete vector for %s: %w", incidentID, err)
	}
	if _, err := db.Exec("DELETE FROM decay_snapshots WHERE incident_id = ?", incidentID); err != nil {
		return fmt.Errorf("delete snapshots for %s: %w", incidentID, err)
	}
	if _, err := db.Exec("DELETE FROM incidents WHERE incident_id = ?", incidentID); err != nil {
		return fmt.Errorf("delete incident %s: %w", incidentID, err)
	}
	return nil
}

// AllLiveIncidents returns every unsuppressed, unsuperseded incident across
// all users. Used by the background sweeps.
func (db *DB) AllLiveIncidents() ([]Incident, error) {
	rows, err := db.Query(`SELECT ` + incidentColumns + ` FROM incidents
		WHERE user_suppressed = 0 AND superseded_by IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("all live incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}
