package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all prism engine configuration. Constructed once at startup,
// validated with Validate(), and passed into components; nothing reads it
// through globals.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Thresholds  ThresholdConfig   `yaml:"thresholds"`
	Decay       DecayConfig       `yaml:"decay"`
	Compounding CompoundingConfig `yaml:"compounding"`
	Resurgence  ResurgenceConfig  `yaml:"resurgence"`
	Confidence  ConfidenceConfig  `yaml:"confidence"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Query       QueryConfig       `yaml:"query"`
	Sweeps      SweepConfig       `yaml:"sweeps"`
	Features    FeatureConfig     `yaml:"features"`

	// Domains maps each life domain to its keyword list.
	Domains map[string][]string `yaml:"domains"`

	// CrisisPatterns are case-insensitive regexes; any match forces the
	// CRISIS state regardless of every other signal.
	CrisisPatterns []string `yaml:"crisis_patterns"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ThresholdConfig struct {
	// Significance below ST is short-term, below MT is mid-term, else long-term.
	ST float64 `yaml:"st"`
	MT float64 `yaml:"mt"`

	// Confidence below this routes to clarification instead of classification.
	Confidence float64 `yaml:"confidence"`

	// Significance assigned to crisis incidents, overriding the formula.
	CrisisSignificance float64 `yaml:"crisis_significance"`
}

type DecayConfig struct {
	STLambda          float64 `yaml:"st_lambda"`            // exponential rate, per day
	STMaxLifetimeDays int     `yaml:"st_max_lifetime_days"` // hard delete after this
	MTHalfLifeDays    float64 `yaml:"mt_half_life_days"`
	MTSteepness       float64 `yaml:"mt_steepness"` // logistic k, clamped to [min,max]
	MTSteepnessMin    float64 `yaml:"mt_steepness_min"`
	MTSteepnessMax    float64 `yaml:"mt_steepness_max"`
	MTMaxLifetimeDays int     `yaml:"mt_max_lifetime_days"` // demote to ST after this
	LTMu              float64 `yaml:"lt_mu"`
	LTFloor           float64 `yaml:"lt_floor"`
	LTChronicFloor    float64 `yaml:"lt_chronic_floor"`
}

type CompoundingConfig struct {
	Threshold  int  `yaml:"threshold"`   // ST incidents needed to compound
	WindowDays int  `yaml:"window_days"` // within this rolling window
	SameDomain bool `yaml:"same_domain"`

	// MT → LT escalation on repeated mention.
	EscalationMentionCount int `yaml:"escalation_mention_count"`
	EscalationMinAgeDays   int `yaml:"escalation_min_age_days"`
}

type ResurgenceConfig struct {
	AnniversaryWindowDays int     `yaml:"anniversary_window_days"`
	SpikeMultiplier       float64 `yaml:"spike_multiplier"`
	SpikeDecayDays        int     `yaml:"spike_decay_days"`
}

type ConfidenceConfig struct {
	// Weights must sum to 1.0.
	SignalAgreement   float64 `yaml:"signal_agreement"`
	DataCompleteness  float64 `yaml:"data_completeness"`
	TemporalCertainty float64 `yaml:"temporal_certainty"`
	EmotionalClarity  float64 `yaml:"emotional_clarity"`
	FunctionalClarity float64 `yaml:"functional_clarity"`
	HistoricalDepth   float64 `yaml:"historical_depth"`
	AmbiguityPenalty  float64 `yaml:"ambiguity_penalty"`
}

type CalibrationConfig struct {
	ColdStartMessages int     `yaml:"cold_start_messages"` // below this, neutral calibration
	StoicFactor       float64 `yaml:"stoic_factor"`
	NeutralFactor     float64 `yaml:"neutral_factor"`
	ExpressiveFactor  float64 `yaml:"expressive_factor"`
	ExpressiveAvg     float64 `yaml:"expressive_avg"` // avg intensity above this is expressive
	StoicAvg          float64 `yaml:"stoic_avg"`      // avg intensity below this is stoic
}

type QueryConfig struct {
	MaxIncidents       int     `yaml:"max_incidents"`
	MinActiveRelevance float64 `yaml:"min_active_relevance"`
	MinSimilarity      float64 `yaml:"min_similarity"`
	MaxSimilarResults  int     `yaml:"max_similar_results"`
}

type SweepConfig struct {
	DecayIntervalHours      int `yaml:"decay_interval_hours"`
	TransitionIntervalHours int `yaml:"transition_interval_hours"`
	CleanupIntervalHours    int `yaml:"cleanup_interval_hours"`
}

type FeatureConfig struct {
	CrisisDetection bool `yaml:"crisis_detection"`
	Compounding     bool `yaml:"compounding"`
	Resurgence      bool `yaml:"resurgence"`
	Similarity      bool `yaml:"similarity"`
	Suppression     bool `yaml:"suppression"`
}

// Default returns the engine's standard configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38800,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Thresholds: ThresholdConfig{
			ST:                 15.0,
			MT:                 75.0,
			Confidence:         0.65,
			CrisisSignificance: 1000.0,
		},
		Decay: DecayConfig{
			STLambda:          0.3,
			STMaxLifetimeDays: 14,
			MTHalfLifeDays:    60,
			MTSteepness:       0.1,
			MTSteepnessMin:    0.1,
			MTSteepnessMax:    0.5,
			MTMaxLifetimeDays: 120,
			LTMu:              0.001,
			LTFloor:           30.0,
			LTChronicFloor:    50.0,
		},
		Compounding: CompoundingConfig{
			Threshold:              3,
			WindowDays:             7,
			SameDomain:             true,
			EscalationMentionCount: 5,
			EscalationMinAgeDays:   60,
		},
		Resurgence: ResurgenceConfig{
			AnniversaryWindowDays: 7,
			SpikeMultiplier:       1.5,
			SpikeDecayDays:        14,
		},
		Confidence: ConfidenceConfig{
			SignalAgreement:   0.25,
			DataCompleteness:  0.20,
			TemporalCertainty: 0.15,
			EmotionalClarity:  0.15,
			FunctionalClarity: 0.10,
			HistoricalDepth:   0.10,
			AmbiguityPenalty:  0.05,
		},
		Calibration: CalibrationConfig{
			ColdStartMessages: 5,
			StoicFactor:       1.3,
			NeutralFactor:     1.0,
			ExpressiveFactor:  0.8,
			ExpressiveAvg:     7.0,
			StoicAvg:          4.0,
		},
		Query: QueryConfig{
			MaxIncidents:       100,
			MinActiveRelevance: 1.0,
			MinSimilarity:      0.7,
			MaxSimilarResults:  20,
		},
		Sweeps: SweepConfig{
			DecayIntervalHours:      24,
			TransitionIntervalHours: 12,
			CleanupIntervalHours:    6,
		},
		Features: FeatureConfig{
			CrisisDetection: true,
			Compounding:     true,
			Resurgence:      true,
			Similarity:      true,
			Suppression:     true,
		},
		Domains:        defaultDomains(),
		CrisisPatterns: defaultCrisisPatterns(),
	}
}

// Load reads a YAML config file layered over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants. Called once at startup; a failure
// here means the process should not come up.
func (c *Config) Validate() error {
	if c.Thresholds.ST <= 0 {
		return fmt.Errorf("thresholds.st must be positive, got %v", c.Thresholds.ST)
	}
	if c.Thresholds.MT <= c.Thresholds.ST {
		return fmt.Errorf("thresholds.mt (%v) must exceed thresholds.st (%v)", c.Thresholds.MT, c.Thresholds.ST)
	}
	if c.Thresholds.Confidence <= 0 || c.Thresholds.Confidence >= 1 {
		return fmt.Errorf("thresholds.confidence must be in (0,1), got %v", c.Thresholds.Confidence)
	}
	if c.Thresholds.CrisisSignificance <= c.Thresholds.MT {
		return fmt.Errorf("thresholds.crisis_significance (%v) must exceed thresholds.mt (%v)",
			c.Thresholds.CrisisSignificance, c.Thresholds.MT)
	}
	if c.Decay.STLambda <= 0 {
		return fmt.Errorf("decay.st_lambda must be positive, got %v", c.Decay.STLambda)
	}
	if c.Decay.MTHalfLifeDays <= 0 {
		return fmt.Errorf("decay.mt_half_life_days must be positive, got %v", c.Decay.MTHalfLifeDays)
	}
	if c.Decay.MTSteepnessMin > c.Decay.MTSteepnessMax {
		return fmt.Errorf("decay.mt_steepness_min (%v) exceeds mt_steepness_max (%v)",
			c.Decay.MTSteepnessMin, c.Decay.MTSteepnessMax)
	}
	if c.Decay.LTMu <= 0 {
		return fmt.Errorf("decay.lt_mu must be positive, got %v", c.Decay.LTMu)
	}
	if c.Decay.LTChronicFloor < c.Decay.LTFloor {
		return fmt.Errorf("decay.lt_chronic_floor (%v) below lt_floor (%v)",
			c.Decay.LTChronicFloor, c.Decay.LTFloor)
	}
	if c.Compounding.Threshold < 2 {
		return fmt.Errorf("compounding.threshold must be at least 2, got %d", c.Compounding.Threshold)
	}
	if c.Compounding.WindowDays <= 0 {
		return fmt.Errorf("compounding.window_days must be positive, got %d", c.Compounding.WindowDays)
	}
	if c.Resurgence.SpikeMultiplier <= 1.0 {
		return fmt.Errorf("resurgence.spike_multiplier must exceed 1.0, got %v", c.Resurgence.SpikeMultiplier)
	}
	sum := c.Confidence.SignalAgreement + c.Confidence.DataCompleteness +
		c.Confidence.TemporalCertainty + c.Confidence.EmotionalClarity +
		c.Confidence.FunctionalClarity + c.Confidence.HistoricalDepth +
		c.Confidence.AmbiguityPenalty
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("confidence weights must sum to 1.0, got %v", sum)
	}
	if len(c.Domains) == 0 {
		return fmt.Errorf("at least one life domain required")
	}
	for domain, keywords := range c.Domains {
		if len(keywords) == 0 {
			return fmt.Errorf("domain %q has no keywords", domain)
		}
	}
	if c.Features.CrisisDetection && len(c.CrisisPatterns) == 0 {
		return fmt.Errorf("crisis detection enabled but no crisis patterns configured")
	}
	if c.Query.MaxIncidents <= 0 || c.Query.MaxIncidents > 100 {
		return fmt.Errorf("query.max_incidents must be in [1,100], got %d", c.Query.MaxIncidents)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func defaultDomains() map[string][]string {
	return map[string][]string{
		"work": {
			"job", "work", "career", "boss", "coworker", "colleague",
			"fired", "laid off", "quit", "resign", "promotion", "demotion",
			"deadline", "project", "office", "meeting", "performance review",
			"salary", "pay", "wage", "contract", "unemployment", "interview",
		},
		"relationships": {
			"partner", "spouse", "husband", "wife", "boyfriend", "girlfriend",
			"breakup", "divorce", "separated", "ex", "dating", "marriage",
			"friend", "friendship", "family", "parent", "sibling", "child",
			"alone", "lonely", "isolated", "abandoned", "rejected",
			"fight", "argument", "conflict", "cheating", "betrayal",
		},
		"health": {
			"sick", "illness", "disease", "pain", "hurt", "ache",
			"doctor", "hospital", "clinic", "emergency", "surgery",
			"diagnosis", "diagnosed", "symptoms", "treatment", "medication",
			"injury", "accident", "chronic", "condition", "disability",
			"sleep", "insomnia", "tired", "exhausted", "fatigue",
			"appetite", "eating", "weight", "exercise", "fitness",
		},
		"identity": {
			"who i am", "myself", "my identity", "lost myself", "not myself",
			"failure", "failed", "worthless", "useless", "inadequate",
			"not good enough", "disappointing", "shame", "embarrassed",
			"my purpose", "my value", "my worth", "define me", "defines me",
			"proud", "ashamed", "confident", "insecure", "self-esteem",
		},
		"safety": {
			"danger", "dangerous", "threat", "threatened", "unsafe",
			"scared", "afraid", "fear", "terrified", "frightened",
			"trauma", "traumatic", "ptsd", "flashback", "nightmare",
			"abuse", "abused", "violence", "violent", "attacked",
			"assault", "harassed", "stalked", "manipulated",
			"worried about safety", "fear for", "in danger",
		},
	}
}

func defaultCrisisPatterns() []string {
	return []string{
		`\b(want to die|end it all|no reason to live)\b`,
		`\b(suicide plan|kill myself|end my life)\b`,
		`\b(saying goodbye|giving away|final goodbye)\b`,
		`\b(better off dead|burden to everyone)\b`,
		`\b(can'?t go on|can'?t take it anymore)\b`,
	}
}
