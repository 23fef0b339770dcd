package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/store"
)

// Result is one extraction pass over a user message. When
// RequiresClarification is set the PRISM components hold partial values and
// ClarificationQuestion carries the follow-up to ask.
type Result struct {
	Persistence  float64 // P, 0.1..10
	Resonance    float64 // R, 1..10
	Impact       int     // I, 1..5
	Severity     float64 // S, 0.1..3
	Malleability float64 // M, one of 0.6, 1.0, 1.7

	Confidence            float64
	Metrics               ConfidenceMetrics
	RequiresClarification bool
	ClarificationQuestion string

	Lexical    LexicalSignals
	Temporal   TemporalSignals
	Functional FunctionalSignals
	Calibrated CalibratedSignals
	Baseline   *store.UserBaseline
}

// Extractor runs the four analyzers over a message and fuses their outputs
// into PRISM components plus a confidence score.
type Extractor struct {
	lexical    *LexicalAnalyzer
	temporal   *TemporalParser
	functional *FunctionalDetector
	calibrator *Calibrator
	confidence *ConfidenceScorer
	db         *store.DB
}

func New(cfg *config.Config, db *store.DB, sentiment SentimentProvider) *Extractor {
	return &Extractor{
		lexical:    NewLexicalAnalyzer(sentiment),
		temporal:   NewTemporalParser(),
		functional: NewFunctionalDetector(cfg.Domains),
		calibrator: NewCalibrator(db, cfg.Calibration),
		confidence: NewConfidenceScorer(cfg.Confidence, cfg.Thresholds.Confidence),
		db:         db,
	}
}

// Extract analyzes one message for a user. The raw intensity is recorded as
// a calibration sample regardless of the confidence outcome.
func (e *Extractor) Extract(ctx context.Context, userID, message string) (*Result, error) {
	lex, err := e.lexical.Analyze(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("lexical analysis: %w", err)
	}
	temp := e.temporal.Parse(message)
	fn := e.functional.Detect(message)

	baseline, err := e.calibrator.Baseline(userID)
	if err != nil {
		return nil, fmt.Errorf("load baseline for %s: %w", userID, err)
	}
	calibrated := e.calibrator.Calibrate(lex.Intensity, baseline)

	if err := e.calibrator.Observe(userID, lex.Intensity); err != nil {
		return nil, err
	}

	historyDepth, err := e.db.CountUserIncidents(userID)
	if err != nil {
		return nil, err
	}

	metrics := e.confidence.Score(lex, temp, fn, message, historyDepth)

	result := &Result{
		Persistence:  clampFloat(temp.Persistence, 0.1, 10.0),
		Resonance:    clampFloat(calibrated.Intensity, 1.0, 10.0),
		Impact:       clampInt(fn.DomainCount, 1, 5),
		Severity:     clampFloat(fn.Severity, 0.1, 3.0),
		Malleability: malleability(message),
		Confidence:   metrics.Overall,
		Metrics:      metrics,
		Lexical:      lex,
		Temporal:     temp,
		Functional:   fn,
		Calibrated:   calibrated,
		Baseline:     baseline,
	}

	if e.confidence.RequiresClarification(metrics.Overall) {
		result.RequiresClarification = true
		result.ClarificationQuestion = e.confidence.ClarificationQuestion(metrics)
		// Partial values stay conservative until the user clarifies.
		result.Malleability = 1.0
	}
	return result, nil
}

var lowControlPhrases = []string{
	"nothing i can do", "helpless", "out of my control",
	"happened to me", "victim", "can't change", "no way out",
}

var highControlPhrases = []string{
	"i can fix", "i'll handle", "my fault",
	"i should have", "my responsibility", "i'll figure",
}

// malleability maps control attribution to a significance divisor. Low
// perceived control amplifies significance, high control dampens it.
func malleability(message string) float64 {
	lower := strings.ToLower(message)
	for _, p := range lowControlPhrases {
		if strings.Contains(lower, p) {
			return 0.6
		}
	}
	for _, p := range highControlPhrases {
		if strings.Contains(lower, p) {
			return 1.7
		}
	}
	return 1.0
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
