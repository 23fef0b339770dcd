package extract

import (
	"regexp"
	"sort"
	"strings"
)

// FunctionalSignals describes which life domains an incident touches and how
// badly day-to-day functioning is impaired.
type FunctionalSignals struct {
	Domains          []string
	DomainCount      int     // at least 1
	Severity         float64 // 0.1..3
	Indicators       []string
	MultipleSymptoms bool
	ImpairmentLevel  string // minimal, mild, moderate, severe
}

type impairmentPattern struct {
	re       *regexp.Regexp
	severity float64
}

// FunctionalDetector matches domain keywords and impairment phrases.
type FunctionalDetector struct {
	domains     map[string][]string
	impairments []impairmentPattern
}

func NewFunctionalDetector(domains map[string][]string) *FunctionalDetector {
	d := &FunctionalDetector{domains: domains}
	for _, s := range impairmentSpecs() {
		d.impairments = append(d.impairments, impairmentPattern{
			re:       regexp.MustCompile(s.pattern),
			severity: s.severity,
		})
	}
	return d
}

// Detect scans a message for affected domains and impairment indicators.
// Three or more indicators amplify the severity by 1.3x.
func (d *FunctionalDetector) Detect(message string) FunctionalSignals {
	lower := strings.ToLower(message)

	var affected []string
	for domain, keywords := range d.domains {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				affected = append(affected, domain)
				break
			}
		}
	}
	sort.Strings(affected)

	var indicators []string
	severity := 0.1
	for _, p := range d.impairments {
		if m := p.re.FindString(lower); m != "" {
			indicators = append(indicators, m)
			if p.severity > severity {
				severity = p.severity
			}
		}
	}

	multiple := len(indicators) >= 3
	if multiple {
		severity *= 1.3
		if severity > 3.0 {
			severity = 3.0
		}
	}

	count := len(affected)
	if count < 1 {
		count = 1
	}

	return FunctionalSignals{
		Domains:          affected,
		DomainCount:      count,
		Severity:         severity,
		Indicators:       indicators,
		MultipleSymptoms: multiple,
		ImpairmentLevel:  impairmentLevel(severity),
	}
}

func impairmentLevel(severity float64) string {
	switch {
	case severity >= 2.0:
		return "severe"
	case severity >= 1.0:
		return "moderate"
	case severity >= 0.5:
		return "mild"
	default:
		return "minimal"
	}
}

func impairmentSpecs() []struct {
	pattern  string
	severity float64
} {
	return []struct {
		pattern  string
		severity float64
	}{
		// severe
		{`can'?t get out of bed`, 3.0},
		{`suicidal|want to die|end it all`, 3.0},
		{`can'?t function`, 2.8},
		{`can'?t work|unable to work`, 2.5},
		{`can'?t sleep for (weeks|days)`, 2.5},
		{`can'?t eat|not eating`, 2.3},
		{`crying (every day|all the time)`, 2.0},
		{`panic attack`, 2.0},

		// moderate
		{`hard to (focus|concentrate)`, 1.5},
		{`can'?t (enjoy|find joy)`, 1.5},
		{`losing sleep|not sleeping well`, 1.4},
		{`avoiding (people|everyone|social)`, 1.3},
		{`not eating well|lost my appetite|lost appetite`, 1.2},
		{`tired all the time`, 1.2},

		// mild
		{`distracted|hard to think`, 0.8},
		{`not (feeling like )?myself`, 0.7},
		{`a bit tired|slightly off`, 0.5},
		{`bothering me`, 0.4},
	}
}
