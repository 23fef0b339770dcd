package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// TemporalSignals describes how long an incident has been going on.
type TemporalSignals struct {
	TimeReferences   []string
	Persistence      float64 // 0.1..10
	IsOngoing        bool
	Chronic          bool
	FutureProjection string // matched phrase, empty if none
	Certainty        float64 // 0..1
}

type temporalPattern struct {
	re          *regexp.Regexp
	persistence float64
}

// TemporalParser maps time phrases in a message to a persistence score.
type TemporalParser struct {
	patterns []temporalPattern
	relative *regexp.Regexp
}

func NewTemporalParser() *TemporalParser {
	specs := []struct {
		pattern     string
		persistence float64
	}{
		{`\b(just now|right now|this moment)\b`, 0.1},
		{`\b(today|this morning|this afternoon|tonight)\b`, 0.2},
		{`\b(yesterday|last night)\b`, 0.3},
		{`\b(this week|past few days|couple of days|couple days)\b`, 1.0},
		{`\b(last week|a week ago|week ago)\b`, 2.0},
		{`\b(two weeks|couple of weeks|couple weeks)\b`, 3.0},
		{`\b(this month|few weeks)\b`, 4.0},
		{`\b(last month|a month ago|month ago)\b`, 5.0},
		{`\b(few months|several months|couple of months|couple months)\b`, 6.0},
		{`\b(half a year|half year|six months)\b`, 7.0},
		{`\b(this year|a year ago|year ago|last year)\b`, 8.0},
		{`\b(years|multiple years|long time)\b`, 9.0},
		{`\b(forever|always|entire life|whole life|since childhood|permanent|chronic)\b`, 10.0},
	}
	p := &TemporalParser{
		relative: regexp.MustCompile(`\b(\d+)\s+(day|week|month|year)s?\s+ago\b`),
	}
	for _, s := range specs {
		p.patterns = append(p.patterns, temporalPattern{
			re:          regexp.MustCompile(s.pattern),
			persistence: s.persistence,
		})
	}
	return p
}

var ongoingMarkers = []string{"still", "always", "constantly", "every day", "since"}

var futureProjections = []string{
	"will affect me", "will never", "going to be",
	"for the rest of", "will always", "never going to",
}

// Parse extracts temporal signals. With no time reference at all the incident
// is assumed very recent (persistence 0.1) at low certainty.
func (p *TemporalParser) Parse(message string) TemporalSignals {
	lower := strings.ToLower(message)

	var refs []string
	maxPersistence := 0.0
	chronic := false
	for _, tp := range p.patterns {
		if m := tp.re.FindString(lower); m != "" {
			refs = append(refs, m)
			if tp.persistence > maxPersistence {
				maxPersistence = tp.persistence
			}
			if tp.persistence == 10.0 {
				chronic = true
			}
		}
	}

	// "N days/weeks/months/years ago" gives an exact day count.
	if m := p.relative.FindStringSubmatch(lower); m != nil {
		refs = append(refs, m[0])
		n, _ := strconv.Atoi(m[1])
		days := n
		switch m[2] {
		case "week":
			days = n * 7
		case "month":
			days = n * 30
		case "year":
			days = n * 365
		}
		if pers := persistenceFromDays(days); pers > maxPersistence {
			maxPersistence = pers
		}
	}

	if maxPersistence == 0 {
		maxPersistence = 0.1
	}

	isOngoing := false
	for _, marker := range ongoingMarkers {
		if strings.Contains(lower, marker) {
			isOngoing = true
			break
		}
	}
	if isOngoing {
		maxPersistence *= 1.5
		if maxPersistence > 10.0 {
			maxPersistence = 10.0
		}
	}

	future := ""
	for _, phrase := range futureProjections {
		if strings.Contains(lower, phrase) {
			future = phrase
			break
		}
	}

	certainty := 0.3
	if len(refs) > 0 {
		certainty = 1.0
	}

	return TemporalSignals{
		TimeReferences:   refs,
		Persistence:      maxPersistence,
		IsOngoing:        isOngoing,
		Chronic:          chronic,
		FutureProjection: future,
		Certainty:        certainty,
	}
}

func persistenceFromDays(days int) float64 {
	switch {
	case days < 1:
		return 0.1
	case days < 7:
		return 1.0
	case days < 30:
		return 3.0
	case days < 90:
		return 5.0
	case days < 180:
		return 7.0
	case days < 365:
		return 8.0
	default:
		return 9.0
	}
}
