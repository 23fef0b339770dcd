package extract

import (
	"math"
	"strings"

	"github.com/quietvoice/prism/internal/config"
)

// ConfidenceMetrics holds the per-dimension sub-scores behind an overall
// confidence value. All scores are 0..1.
type ConfidenceMetrics struct {
	SignalAgreement   float64 `json:"signal_agreement"`
	DataCompleteness  float64 `json:"data_completeness"`
	TemporalCertainty float64 `json:"temporal_certainty"`
	EmotionalClarity  float64 `json:"emotional_clarity"`
	FunctionalClarity float64 `json:"functional_clarity"`
	HistoricalDepth   float64 `json:"historical_depth"`
	AmbiguityPenalty  float64 `json:"ambiguity_penalty"`
	Overall           float64 `json:"overall"`
}

// ConfidenceScorer weighs seven dimensions into one score. Below the
// threshold the caller should ask a clarifying question instead of
// classifying.
type ConfidenceScorer struct {
	weights   config.ConfidenceConfig
	threshold float64
}

func NewConfidenceScorer(weights config.ConfidenceConfig, threshold float64) *ConfidenceScorer {
	return &ConfidenceScorer{weights: weights, threshold: threshold}
}

// Score computes confidence for one extraction pass. historyDepth is the
// number of past incidents on file for the user.
func (s *ConfidenceScorer) Score(lex LexicalSignals, temp TemporalSignals, fn FunctionalSignals, message string, historyDepth int) ConfidenceMetrics {
	m := ConfidenceMetrics{
		SignalAgreement:   signalAgreement(lex, temp, fn),
		DataCompleteness:  dataCompleteness(lex, temp, fn),
		TemporalCertainty: temp.Certainty,
		EmotionalClarity:  emotionalClarity(lex),
		FunctionalClarity: functionalClarity(fn),
		HistoricalDepth:   historicalDepth(historyDepth),
		AmbiguityPenalty:  ambiguityPenalty(message),
	}
	m.Overall = m.SignalAgreement*s.weights.SignalAgreement +
		m.DataCompleteness*s.weights.DataCompleteness +
		m.TemporalCertainty*s.weights.TemporalCertainty +
		m.EmotionalClarity*s.weights.EmotionalClarity +
		m.FunctionalClarity*s.weights.FunctionalClarity +
		m.HistoricalDepth*s.weights.HistoricalDepth +
		m.AmbiguityPenalty*s.weights.AmbiguityPenalty
	return m
}

// RequiresClarification reports whether the score falls under the threshold.
func (s *ConfidenceScorer) RequiresClarification(confidence float64) bool {
	return confidence < s.threshold
}

// WeakestDimension names the clarifiable dimension with the lowest score.
func (s *ConfidenceScorer) WeakestDimension(m ConfidenceMetrics) string {
	weakest := "temporal"
	low := m.TemporalCertainty
	if m.EmotionalClarity < low {
		weakest, low = "emotional", m.EmotionalClarity
	}
	if m.FunctionalClarity < low {
		weakest, low = "functional", m.FunctionalClarity
	}
	if m.SignalAgreement < low {
		weakest, low = "signal_agreement", m.SignalAgreement
	}
	return weakest
}

var clarificationQuestions = map[string]string{
	"temporal":         "How long has this been affecting you?",
	"emotional":        "Can you tell me more about how this is making you feel?",
	"functional":       "How is this impacting your daily life (work, sleep, relationships)?",
	"signal_agreement": "I want to understand this better - can you share a bit more about what's going on?",
}

// ClarificationQuestion returns the follow-up question targeting the
// weakest dimension.
func (s *ConfidenceScorer) ClarificationQuestion(m ConfidenceMetrics) string {
	if q, ok := clarificationQuestions[s.WeakestDimension(m)]; ok {
		return q
	}
	return "Could you tell me a bit more about this?"
}

// signalAgreement converts the variance of the normalized lexical, temporal
// and functional scores into an agreement score. Low variance means the
// signals point the same direction.
func signalAgreement(lex LexicalSignals, temp TemporalSignals, fn FunctionalSignals) float64 {
	scores := []float64{
		lex.Intensity / 10.0,
		temp.Persistence / 10.0,
		fn.Severity / 3.0,
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	avg := sum / float64(len(scores))
	var variance float64
	for _, v := range scores {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(scores))
	return math.Max(0.0, 1.0-variance*3)
}

func dataCompleteness(lex LexicalSignals, temp TemporalSignals, fn FunctionalSignals) float64 {
	var score float64
	if len(temp.TimeReferences) > 0 {
		score += 0.15
	}
	if temp.IsOngoing {
		score += 0.10
	}
	if len(lex.Keywords) > 0 {
		score += 0.15
	}
	if math.Abs(lex.SentimentScore) > 0.3 {
		score += 0.10
	}
	if len(fn.Domains) > 0 {
		score += 0.15
	}
	if len(fn.Indicators) > 0 {
		score += 0.10
	}

	total := len(lex.Keywords) + len(temp.TimeReferences) + len(fn.Indicators)
	switch {
	case total >= 5:
		score += 0.25
	case total >= 3:
		score += 0.15
	case total >= 1:
		score += 0.05
	}
	return math.Min(score, 1.0)
}

func emotionalClarity(lex LexicalSignals) float64 {
	var clarity float64
	switch {
	case len(lex.Keywords) >= 2:
		clarity += 0.4
	case len(lex.Keywords) == 1:
		clarity += 0.2
	}
	switch {
	case lex.Intensity >= 7.0:
		clarity += 0.3
	case lex.Intensity >= 4.0:
		clarity += 0.15
	}
	abs := math.Abs(lex.SentimentScore)
	switch {
	case abs > 0.5:
		clarity += 0.3
	case abs > 0.2:
		clarity += 0.15
	}
	return math.Min(clarity, 1.0)
}

func functionalClarity(fn FunctionalSignals) float64 {
	var clarity float64
	switch {
	case len(fn.Domains) >= 3:
		clarity += 0.4
	case len(fn.Domains) == 2:
		clarity += 0.25
	case len(fn.Domains) == 1:
		clarity += 0.1
	}
	switch {
	case len(fn.Indicators) >= 2:
		clarity += 0.35
	case len(fn.Indicators) == 1:
		clarity += 0.2
	}
	switch {
	case fn.Severity >= 2.0:
		clarity += 0.25
	case fn.Severity >= 1.0:
		clarity += 0.15
	}
	return math.Min(clarity, 1.0)
}

func historicalDepth(incidents int) float64 {
	switch {
	case incidents >= 20:
		return 1.0
	case incidents >= 10:
		return 0.8
	case incidents >= 5:
		return 0.6
	case incidents >= 2:
		return 0.4
	default:
		return 0.2
	}
}

var hedgingPhrases = []string{
	"maybe", "perhaps", "might", "could be",
	"kind of", "sort of", "kinda", "sorta",
	"i guess", "i suppose", "probably",
}

var uncertaintyPhrases = []string{
	"don't know", "not sure", "unclear", "uncertain",
	"confused", "can't tell", "hard to say",
}

var contradictionMarkers = []string{"but", "although", "however", "though", "yet"}

var vagueTimePhrases = []string{"sometime", "at some point", "eventually", "whenever"}

// ambiguityPenalty returns 1.0 for crisp language, dropping toward 0 with
// hedging, uncertainty, stacked contradictions and vague time references.
func ambiguityPenalty(message string) float64 {
	lower := strings.ToLower(message)
	penalty := 1.0

	for _, p := range hedgingPhrases {
		if strings.Contains(lower, p) {
			penalty -= 0.15
		}
	}
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			penalty -= 0.20
		}
	}

	contradictions := 0
	for _, m := range contradictionMarkers {
		if strings.Contains(lower, m) {
			contradictions++
		}
	}
	switch {
	case contradictions >= 3:
		penalty -= 0.25
	case contradictions == 2:
		penalty -= 0.10
	}

	for _, p := range vagueTimePhrases {
		if strings.Contains(lower, p) {
			penalty -= 0.15
			break
		}
	}
	return math.Max(penalty, 0.0)
}
