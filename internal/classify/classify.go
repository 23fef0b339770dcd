package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/store"
)

// Classification is the scoring outcome for one extracted incident.
type Classification struct {
	Significance  float64
	Layer         store.StateLayer
	Crisis        bool
	CrisisPattern string // the pattern that fired, empty otherwise
}

// Classifier turns PRISM components into a significance score and a state
// layer. Crisis detection runs first and cannot be short-circuited by low
// scores elsewhere.
type Classifier struct {
	thresholds    config.ThresholdConfig
	crisis        []*regexp.Regexp
	crisisEnabled bool
}

func NewClassifier(cfg *config.Config) (*Classifier, error) {
	c := &Classifier{
		thresholds:    cfg.Thresholds,
		crisisEnabled: cfg.Features.CrisisDetection,
	}
	for _, pattern := range cfg.CrisisPatterns {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile crisis pattern %q: %w", pattern, err)
		}
		c.crisis = append(c.crisis, re)
	}
	return c, nil
}

// Significance computes (P * R * I * S) / M.
func Significance(p, r float64, i int, s, m float64) float64 {
	return (p * r * float64(i) * s) / m
}

// Classify scores the components and assigns a state layer. The raw message
// is checked against crisis patterns before anything else.
func (c *Classifier) Classify(p, r float64, i int, s, m float64, message string) Classification {
	if c.crisisEnabled {
		lower := strings.ToLower(message)
		for _, re := range c.crisis {
			if match := re.FindString(lower); match != "" {
				return Classification{
					Significance:  c.thresholds.CrisisSignificance,
					Layer:         store.LayerCrisis,
					Crisis:        true,
					CrisisPattern: match,
				}
			}
		}
	}

	sig := Significance(p, r, i, s, m)
	return Classification{
		Significance: sig,
		Layer:        c.layerFor(sig),
	}
}

func (c *Classifier) layerFor(significance float64) store.StateLayer {
	switch {
	case significance < c.thresholds.ST:
		return store.LayerST
	case significance < c.thresholds.MT:
		return store.LayerMT
	default:
		return store.LayerLT
	}
}

// LayerForSignificance re-derives a layer from a score, used when decay or
// compounding moves an incident across a threshold.
func (c *Classifier) LayerForSignificance(significance float64) store.StateLayer {
	return c.layerFor(significance)
}
