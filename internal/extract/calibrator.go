package extract

import (
	"fmt"
	"math"
	"time"

	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/store"
)

// CalibratedSignals is the baseline-adjusted intensity for one message.
type CalibratedSignals struct {
	Intensity float64 // adjusted, capped at 10
	Style     store.ExpressionStyle
	Deviation float64 // raw intensity minus the user's average
	Factor    float64 // multiplier that was applied
}

// Calibrator adjusts raw intensity against a user's historical expression
// pattern. Expressive users get deflated, stoic users inflated. Under the
// cold-start sample count everyone is treated as neutral.
type Calibrator struct {
	db  *store.DB
	cfg config.CalibrationConfig
}

func NewCalibrator(db *store.DB, cfg config.CalibrationConfig) *Calibrator {
	return &Calibrator{db: db, cfg: cfg}
}

// Baseline returns the user's stored baseline, or a neutral cold-start one.
func (c *Calibrator) Baseline(userID string) (*store.UserBaseline, error) {
	b, err := c.db.GetBaseline(userID)
	if err != nil {
		return nil, err
	}
	if b == nil || b.MessageCount < c.cfg.ColdStartMessages {
		return &store.UserBaseline{
			UserID:            userID,
			ExpressionStyle:   store.StyleNeutral,
			AvgIntensity:      5.0,
			IntensityStddev:   2.0,
			MessageCount:      messageCount(b),
			CalibrationFactor: c.cfg.NeutralFactor,
		}, nil
	}
	return b, nil
}

func messageCount(b *store.UserBaseline) int {
	if b == nil {
		return 0
	}
	return b.MessageCount
}

// Calibrate applies the baseline's factor to a raw intensity.
func (c *Calibrator) Calibrate(raw float64, b *store.UserBaseline) CalibratedSignals {
	factor := c.cfg.NeutralFactor
	switch b.ExpressionStyle {
	case store.StyleExpressive:
		factor = c.cfg.ExpressiveFactor
	case store.StyleStoic:
		factor = c.cfg.StoicFactor
	}

	adjusted := raw * factor
	if adjusted > 10.0 {
		adjusted = 10.0
	}

	return CalibratedSignals{
		Intensity: adjusted,
		Style:     b.ExpressionStyle,
		Deviation: raw - b.AvgIntensity,
		Factor:    factor,
	}
}

// Observe records one message's raw intensity and recomputes the user's
// baseline from the sample history.
func (c *Calibrator) Observe(userID string, rawIntensity float64) error {
	if err := c.db.RecordIntensitySample(userID, rawIntensity); err != nil {
		return err
	}

	samples, err := c.db.IntensitySamples(userID, 0)
	if err != nil {
		return err
	}

	avg := mean(samples)
	style := c.classifyStyle(samples, avg)
	incidents, err := c.db.CountUserIncidents(userID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	b := &store.UserBaseline{
		UserID:             userID,
		ExpressionStyle:    style,
		AvgIntensity:       avg,
		IntensityStddev:    stddev(samples, avg),
		MessageCount:       len(samples),
		IncidentCount:      incidents,
		CalibrationFactor:  c.factorFor(style),
		LastConversationAt: &now,
	}
	if err := c.db.UpsertBaseline(b); err != nil {
		return fmt.Errorf("update baseline for %s: %w", userID, err)
	}
	return nil
}

func (c *Calibrator) classifyStyle(samples []float64, avg float64) store.ExpressionStyle {
	if len(samples) < c.cfg.ColdStartMessages {
		return store.StyleNeutral
	}
	switch {
	case avg > c.cfg.ExpressiveAvg:
		return store.StyleExpressive
	case avg < c.cfg.StoicAvg:
		return store.StyleStoic
	default:
		return store.StyleNeutral
	}
}

func (c *Calibrator) factorFor(style store.ExpressionStyle) float64 {
	switch style {
	case store.StyleExpressive:
		return c.cfg.ExpressiveFactor
	case store.StyleStoic:
		return c.cfg.StoicFactor
	default:
		return c.cfg.NeutralFactor
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, avg float64) float64 {
	if len(values) < 2 {
		return 1.0
	}
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
