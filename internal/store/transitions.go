package store

import (
	"database/sql"
	"fmt"
)

// ListTransitions returns the audit trail for an incident, oldest first.
func (db *DB) ListTransitions(incidentID string) ([]StateTransition, error) {
	rows, err := db.Query(`
		SELECT id, transition_id, incident_id, user_id, from_state, to_state,
			reason, significance_before, significance_after, triggered_by_mention, notes, created_at
		FROM state_transitions WHERE incident_id = ?
		ORDER BY created_at ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// ListUserTransitions returns the most recent transitions for a user.
func (db *DB) ListUserTransitions(userID string, limit int) ([]StateTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, transition_id, incident_id, user_id, from_state, to_state,
			reason, significance_before, significance_after, triggered_by_mention, notes, created_at
		FROM state_transitions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

func scanTransitions(rows *sql.Rows) ([]StateTransition, error) {
	var transitions []StateTransition
	for rows.Next() {
		var t StateTransition
		var mentioned int
		var notes sql.NullString
		if err := rows.Scan(&t.ID, &t.TransitionID, &t.IncidentID, &t.UserID,
			(*string)(&t.FromState), (*string)(&t.ToState), (*string)(&t.Reason),
			&t.SignificanceBefore, &t.SignificanceAfter, &mentioned, &notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.TriggeredByMention = mentioned != 0
		t.Notes = notes.String
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
