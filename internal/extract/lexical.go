package extract

import (
	"context"
	"strings"
)

// LexicalSignals is the word-level read of a message.
type LexicalSignals struct {
	Keywords       []string // matched emotion words, surface form
	SentimentScore float64  // -1..+1
	Valence        string   // negative, neutral, positive
	Intensity      float64  // 0..10
	HasIntensifier bool
	HasNegation    bool
}

// SentimentProvider scores message polarity in [-1, +1]. Implementations may
// call out to a model; the built-in LexiconSentiment needs no network.
type SentimentProvider interface {
	Score(ctx context.Context, message string) (float64, error)
}

// LexicalAnalyzer scans a message for emotion vocabulary and produces an
// intensity estimate on a 0-10 scale.
type LexicalAnalyzer struct {
	lexicon   map[string]float64
	sentiment SentimentProvider
}

func NewLexicalAnalyzer(sentiment SentimentProvider) *LexicalAnalyzer {
	if sentiment == nil {
		sentiment = &LexiconSentiment{}
	}
	return &LexicalAnalyzer{
		lexicon:   intensityLexicon(),
		sentiment: sentiment,
	}
}

var intensifiers = []string{"very", "extremely", "really", "so", "completely",
	"absolutely", "totally", "utterly", "incredibly", "deeply"}

var negations = []string{"not", "no", "never", "n't"}

// Analyze extracts emotional signals from a message. A message with no
// recognized emotion words gets a neutral 5.0 intensity.
func (a *LexicalAnalyzer) Analyze(ctx context.Context, message string) (LexicalSignals, error) {
	tokens := tokenize(message)

	var keywords []string
	var intensitySum float64
	for _, tok := range tokens {
		if score, ok := a.lexicon[tok]; ok {
			keywords = append(keywords, tok)
			intensitySum += score
		}
	}
	// Two-word entries like "a bit" never appear as single tokens.
	for i := 0; i+1 < len(tokens); i++ {
		bigram := tokens[i] + " " + tokens[i+1]
		if score, ok := a.lexicon[bigram]; ok {
			keywords = append(keywords, bigram)
			intensitySum += score
		}
	}

	hasIntensifier := containsAny(tokens, intensifiers)
	hasNegation := containsAny(tokens, negations) || strings.Contains(strings.ToLower(message), "n't")

	intensity := 5.0
	if len(keywords) > 0 {
		intensity = intensitySum / float64(len(keywords))
	}
	if hasIntensifier {
		intensity *= 1.3
	}
	if hasNegation {
		intensity *= 0.6
	}
	if intensity > 10.0 {
		intensity = 10.0
	}

	score, err := a.sentiment.Score(ctx, message)
	if err != nil {
		return LexicalSignals{}, err
	}

	valence := "neutral"
	switch {
	case score < -0.2:
		valence = "negative"
	case score > 0.2:
		valence = "positive"
	}

	return LexicalSignals{
		Keywords:       keywords,
		SentimentScore: score,
		Valence:        valence,
		Intensity:      intensity,
		HasIntensifier: hasIntensifier,
		HasNegation:    hasNegation,
	}, nil
}

// tokenize lowercases and splits on non-letter boundaries, keeping
// apostrophes so contractions survive.
func tokenize(message string) []string {
	lower := strings.ToLower(message)
	return strings.FieldsFunc(lower, func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		return r != '\''
	})
}

func containsAny(tokens []string, words []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// LexiconSentiment is the offline fallback: polarity from the balance of
// positive and negative emotion words found in the message.
type LexiconSentiment struct{}

func (s *LexiconSentiment) Score(_ context.Context, message string) (float64, error) {
	tokens := tokenize(message)
	var pos, neg float64
	for _, tok := range tokens {
		if w, ok := positiveWords[tok]; ok {
			pos += w
		}
		if w, ok := negativeWords[tok]; ok {
			neg += w
		}
	}
	if pos == 0 && neg == 0 {
		return 0, nil
	}
	return (pos - neg) / (pos + neg), nil
}

// intensityLexicon maps emotion words to a 0-10 intensity.
func intensityLexicon() map[string]float64 {
	return map[string]float64{
		// negative, extreme
		"devastated": 9.5, "destroyed": 9.5, "shattered": 9.5, "obliterated": 9.5,
		"suicidal": 10.0, "hopeless": 9.0, "despairing": 9.0, "anguished": 9.0,
		"heartbroken": 8.5, "terrified": 8.5, "agonizing": 8.5, "traumatized": 8.5,
		"panicking": 8.5, "enraged": 8.5, "furious": 8.5, "livid": 8.5,
		"awful": 7.5, "terrible": 7.5, "horrible": 7.5, "miserable": 7.5,
		"excruciating": 8.0, "unbearable": 8.0, "overwhelming": 7.5, "crushing": 8.0,
		"distraught": 8.0, "hysterical": 8.5, "petrified": 8.5, "horrified": 8.0,

		// negative, medium-high
		"depressed": 7.0, "anxious": 6.5, "angry": 6.5, "scared": 6.5,
		"upset": 6.0, "distressed": 6.5, "troubled": 6.0, "disturbed": 6.5,
		"hurt": 6.0, "painful": 6.5, "suffering": 7.0, "tormented": 7.5,

		// negative, medium
		"frustrated": 5.5, "worried": 5.5, "nervous": 5.0, "uneasy": 4.5,
		"stressed": 5.0, "disappointed": 4.5, "uncomfortable": 4.0, "sad": 5.0,
		"unhappy": 4.5, "down": 4.5, "blue": 4.0, "gloomy": 4.5,
		"irritated": 4.5, "agitated": 5.0, "restless": 4.5, "tense": 5.0,
		"afraid": 5.5, "fearful": 5.5, "apprehensive": 5.0, "insecure": 4.5,

		// negative, low-medium
		"annoyed": 3.0, "bothered": 3.0, "concerned": 3.5, "confused": 3.0,
		"uncertain": 3.0, "doubtful": 3.0, "hesitant": 2.5, "reluctant": 2.5,
		"tired": 3.5, "drained": 4.0, "exhausted": 5.0, "weary": 4.0,
		"lonely": 5.5, "isolated": 5.0, "alone": 4.5, "abandoned": 7.0,

		// low intensity
		"slightly": 2.0, "mildly": 2.0, "a bit": 2.0, "somewhat": 2.5,
		"okay": 1.5, "fine": 1.0, "alright": 1.5, "meh": 2.0,
		"bored": 2.5, "indifferent": 1.0, "apathetic": 2.0, "numb": 3.5,

		// positive, high
		"ecstatic": 9.0, "euphoric": 9.5, "elated": 8.5, "thrilled": 8.0,
		"overjoyed": 8.5, "delighted": 7.5, "blissful": 8.5, "exhilarated": 8.0,

		// positive, medium
		"happy": 6.0, "joyful": 7.0, "glad": 5.5, "pleased": 5.0,
		"content": 4.0, "satisfied": 4.5, "cheerful": 6.0, "excited": 7.0,
		"hopeful": 5.5, "optimistic": 5.0, "encouraged": 5.0, "relieved": 5.5,

		// positive, low
		"calm": 2.0, "peaceful": 2.5, "relaxed": 2.0, "comfortable": 2.0,
		"grateful": 4.0, "thankful": 4.0, "appreciative": 3.5,
	}
}

var positiveWords = map[string]float64{
	"ecstatic": 1, "euphoric": 1, "elated": 1, "thrilled": 1,
	"overjoyed": 1, "delighted": 1, "blissful": 1, "exhilarated": 1,
	"happy": 1, "joyful": 1, "glad": 1, "pleased": 1,
	"content": 1, "satisfied": 1, "cheerful": 1, "excited": 1,
	"hopeful": 1, "optimistic": 1, "encouraged": 1, "relieved": 1,
	"calm": 1, "peaceful": 1, "relaxed": 1, "comfortable": 1,
	"grateful": 1, "thankful": 1, "appreciative": 1, "good": 1,
	"great": 1, "wonderful": 1, "better": 1, "love": 1,
}

var negativeWords = map[string]float64{
	"devastated": 1, "destroyed": 1, "shattered": 1, "hopeless": 1,
	"heartbroken": 1, "terrified": 1, "traumatized": 1, "furious": 1,
	"awful": 1, "terrible": 1, "horrible": 1, "miserable": 1,
	"unbearable": 1, "overwhelming": 1, "depressed": 1, "anxious": 1,
	"angry": 1, "scared": 1, "upset": 1, "distressed": 1,
	"hurt": 1, "painful": 1, "suffering": 1, "frustrated": 1,
	"worried": 1, "nervous": 1, "stressed": 1, "disappointed": 1,
	"sad": 1, "unhappy": 1, "lonely": 1, "isolated": 1,
	"abandoned": 1, "exhausted": 1, "afraid": 1, "bad": 1,
	"worse": 1, "worst": 1, "hate": 1, "crying": 1,
}
