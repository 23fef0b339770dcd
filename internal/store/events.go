package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateCompoundingEvent records a merge of ST incidents into an MT incident.
func (db *DB) CreateCompoundingEvent(ev *CompoundingEvent) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	result, err := db.Exec(`
		INSERT INTO compounding_events (compounding_id, user_id, source_incident_ids,
			resulting_incident_id, window_days, domain, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.CompoundingID, ev.UserID, encodeStrings(ev.SourceIncidentIDs),
		ev.ResultingIncidentID, ev.WindowDays, ev.Domain, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create compounding event: %w", err)
	}
	ev.ID, _ = result.LastInsertId()
	return nil
}

// ListCompoundingEvents returns a user's compounding events, newest first.
func (db *DB) ListCompoundingEvents(userID string) ([]CompoundingEvent, error) {
	rows, err := db.Query(`
		SELECT id, compounding_id, user_id, source_incident_ids, resulting_incident_id,
			window_days, domain, created_at
		FROM compounding_events WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list compounding events: %w", err)
	}
	defer rows.Close()

	var events []CompoundingEvent
	for rows.Next() {
		var ev CompoundingEvent
		var sources string
		if err := rows.Scan(&ev.ID, &ev.CompoundingID, &ev.UserID, &sources,
			&ev.ResultingIncidentID, &ev.WindowDays, &ev.Domain, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan compounding event: %w", err)
		}
		ev.SourceIncidentIDs = decodeStrings(sources)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateResurgenceEvent records a relevance spike on an LT incident.
func (db *DB) CreateResurgenceEvent(ev *ResurgenceEvent) error {
	if ev.OccurredAt == 0 {
		ev.OccurredAt = time.Now().UnixMilli()
	}
	result, err := db.Exec(`
		INSERT INTO resurgence_events (resurgence_id, incident_id, user_id, trigger_type,
			trigger_note, relevance_before, relevance_after, spike_magnitude, occurred_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, ev.ResurgenceID, ev.IncidentID, ev.UserID, ev.TriggerType,
		ev.TriggerNote, ev.RelevanceBefore, ev.RelevanceAfter, ev.SpikeMagnitude, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("create resurgence event: %w", err)
	}
	ev.ID, _ = result.LastInsertId()
	return nil
}

// ListResurgenceEvents returns resurgence events for an incident, newest first.
func (db *DB) ListResurgenceEvents(incidentID string) ([]ResurgenceEvent, error) {
	rows, err := db.Query(`
		SELECT id, resurgence_id, incident_id, user_id, trigger_type, trigger_note,
			relevance_before, relevance_after, spike_magnitude, occurred_at
		FROM resurgence_events WHERE incident_id = ? ORDER BY occurred_at DESC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list resurgence events: %w", err)
	}
	defer rows.Close()

	var events []ResurgenceEvent
	for rows.Next() {
		var ev ResurgenceEvent
		var note sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ResurgenceID, &ev.IncidentID, &ev.UserID,
			&ev.TriggerType, &note, &ev.RelevanceBefore, &ev.RelevanceAfter,
			&ev.SpikeMagnitude, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan resurgence event: %w", err)
		}
		ev.TriggerNote = note.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestResurgence returns the most recent resurgence event for an incident,
// or nil if it never resurged.
func (db *DB) LatestResurgence(incidentID string) (*ResurgenceEvent, error) {
	events, err := db.ListResurgenceEvents(incidentID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// RecordDecaySnapshot stores a point-in-time relevance reading.
func (db *DB) RecordDecaySnapshot(s *DecaySnapshot) error {
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixMilli()
	}
	result, err := db.Exec(`
		INSERT INTO decay_snapshots (incident_id, relevance, days_elapsed, decay_model, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.IncidentID, s.Relevance, s.DaysElapsed, string(s.DecayModel), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("record decay snapshot: %w", err)
	}
	s.ID, _ = result.LastInsertId()
	return nil
}

// ListDecaySnapshots returns an incident's relevance history, oldest first.
func (db *DB) ListDecaySnapshots(incidentID string, limit int) ([]DecaySnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, incident_id, relevance, days_elapsed, decay_model, created_at
		FROM decay_snapshots WHERE incident_id = ?
		ORDER BY created_at ASC LIMIT ?
	`, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decay snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []DecaySnapshot
	for rows.Next() {
		var s DecaySnapshot
		if err := rows.Scan(&s.ID, &s.IncidentID, &s.Relevance, &s.DaysElapsed,
			(*string)(&s.DecayModel), &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decay snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
