package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetBaseline returns a user's calibration baseline, or nil if none exists.
func (db *DB) GetBaseline(userID string) (*UserBaseline, error) {
	var b UserBaseline
	var lastConv sql.NullInt64
	err := db.QueryRow(`
		SELECT user_id, expression_style, avg_intensity, intensity_stddev,
			message_count, incident_count, calibration_factor,
			created_at, updated_at, last_conversation_at
		FROM user_baselines WHERE user_id = ?
	`, userID).Scan(&b.UserID, (*string)(&b.ExpressionStyle), &b.AvgIntensity, &b.IntensityStddev,
		&b.MessageCount, &b.IncidentCount, &b.CalibrationFactor,
		&b.CreatedAt, &b.UpdatedAt, &lastConv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	if lastConv.Valid {
		b.LastConversationAt = &lastConv.Int64
	}
	return &b, nil
}

// UpsertBaseline writes the recomputed baseline for a user.
func (db *DB) UpsertBaseline(b *UserBaseline) error {
	now := time.Now().UnixMilli()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO user_baselines (user_id, expression_style, avg_intensity, intensity_stddev,
			message_count, incident_count, calibration_factor, created_at, updated_at, last_conversation_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			expression_style = excluded.expression_style,
			avg_intensity = excluded.avg_intensity,
			intensity_stddev = excluded.intensity_stddev,
			message_count = excluded.message_count,
			incident_count = excluded.incident_count,
			calibration_factor = excluded.calibration_factor,
			updated_at = excluded.updated_at,
			last_conversation_at = excluded.last_conversation_at
	`, b.UserID, string(b.ExpressionStyle), b.AvgIntensity, b.IntensityStddev,
		b.MessageCount, b.IncidentCount, b.CalibrationFactor, b.CreatedAt, b.UpdatedAt, b.LastConversationAt)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// RecordIntensitySample appends one per-message intensity reading for a user.
func (db *DB) RecordIntensitySample(userID string, intensity float64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO baseline_samples (user_id, intensity, created_at) VALUES (?, ?, ?)
	`, userID, intensity, now)
	if err != nil {
		return fmt.Errorf("record intensity sample: %w", err)
	}
	return nil
}

// IntensitySamples returns a user's per-message intensity history, newest
// first, capped at limit (0 = all).
func (db *DB) IntensitySamples(userID string, limit int) ([]float64, error) {
	query := `SELECT intensity FROM baseline_samples WHERE user_id = ? ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("intensity samples: %w", err)
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, v)
	}
	return samples, rows.Err()
}
