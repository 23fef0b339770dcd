package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/classify"
	"github.com/quietvoice/prism/internal/store"
)

// checkCompounding looks for a cluster of recent short-term incidents in the
// same domain. Reaching the threshold merges them into one mid-term
// incident; the sources are superseded and each gets a compounding
// transition in its audit trail.
func (e *Engine) checkCompounding(inc *store.Incident) (*store.CompoundingEvent, *store.Incident, error) {
	windowDays := e.Config.Compounding.WindowDays
	cutoff := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour).UnixMilli()

	for _, domain := range inc.Domains {
		cluster, err := e.DB.RecentSTIncidents(inc.UserID, domain, cutoff)
		if err != nil {
			return nil, nil, err
		}
		if len(cluster) < e.Config.Compounding.Threshold {
			continue
		}
		merged, ev, err := e.compound(inc.UserID, domain, cluster, windowDays)
		if err != nil {
			return nil, nil, err
		}
		return ev, merged, nil
	}
	return nil, nil, nil
}

// compound merges a cluster into a new mid-term incident. The merged
// components take the worst reading of each dimension across the cluster,
// so the combined significance always meets or exceeds every source.
func (e *Engine) compound(userID, domain string, cluster []store.Incident, windowDays int) (*store.Incident, *store.CompoundingEvent, error) {
	now := time.Now().UnixMilli()

	p, r, s := 0.0, 0.0, 0.0
	impact := 1
	m := 1.7
	chronic := false
	confidence := 1.0
	mentions := 0
	var sourceIDs []string
	var descriptions []string
	for i := range cluster {
		src := &cluster[i]
		sourceIDs = append(sourceIDs, src.IncidentID)
		descriptions = append(descriptions, src.Description)
		p = maxFloat(p, src.Persistence)
		r = maxFloat(r, src.Resonance)
		s = maxFloat(s, src.Severity)
		if src.Impact > impact {
			impact = src.Impact
		}
		if src.Malleability < m {
			m = src.Malleability
		}
		if src.Chronic {
			chronic = true
		}
		if src.Confidence < confidence {
			confidence = src.Confidence
		}
		mentions += src.MentionCount
	}

	significance := classify.Significance(p, r, impact, s, m)
	merged := &store.Incident{
		IncidentID:          uuid.NewString(),
		UserID:              userID,
		StateLayer:          store.LayerMT,
		Persistence:         p,
		Resonance:           r,
		Impact:              impact,
		Severity:            s,
		Malleability:        m,
		Significance:        significance,
		InitialSignificance: significance,
		CurrentRelevance:    significance,
		Description: fmt.Sprintf("recurring %s pattern: %d incidents in %d days",
			domain, len(cluster), windowDays),
		OriginalMessage: descriptions[len(descriptions)-1],
		Domains:         []string{domain},
		ImpairmentLevel: cluster[len(cluster)-1].ImpairmentLevel,
		Valence:         cluster[len(cluster)-1].Valence,
		Chronic:         chronic,
		MentionCount:    mentions,
		Confidence:      confidence,
		RelatedIDs:      sourceIDs,
		TriggeredBy:     "compounding",
		CreatedAt:       now,
		UpdatedAt:       now,
		LastMentionedAt: now,
	}
	if err := classify.ValidateIncident(merged); err != nil {
		return nil, nil, fmt.Errorf("validate compound incident: %w", err)
	}
	if err := e.DB.CreateIncident(merged); err != nil {
		return nil, nil, err
	}

	ev := &store.CompoundingEvent{
		CompoundingID:       uuid.NewString(),
		UserID:              userID,
		SourceIncidentIDs:   sourceIDs,
		ResultingIncidentID: merged.IncidentID,
		WindowDays:          windowDays,
		Domain:              domain,
	}
	if err := e.DB.CreateCompoundingEvent(ev); err != nil {
		return nil, nil, err
	}

	for i := range cluster {
		src := &cluster[i]
		tr := &store.StateTransition{
			TransitionID:       uuid.NewString(),
			IncidentID:         src.IncidentID,
			UserID:             userID,
			FromState:          src.StateLayer,
			ToState:            store.LayerMT,
			Reason:             store.ReasonCompounding,
			SignificanceBefore: src.CurrentRelevance,
			SignificanceAfter:  significance,
			Notes:              fmt.Sprintf("merged into %s", merged.IncidentID),
		}
		if err := e.DB.ApplyTransition(tr, src.CurrentRelevance, src.UserSuppressed, nil); err != nil {
			return nil, nil, fmt.Errorf("record compounding transition for %s: %w", src.IncidentID, err)
		}
		if err := e.DB.MarkSuperseded(src.IncidentID, merged.IncidentID); err != nil {
			return nil, nil, err
		}
	}
	return merged, ev, nil
}

// checkEscalation promotes a mid-term incident to long-term after the
// configured mention count, provided the incident has been around long
// enough that repetition means persistence rather than recency.
func (e *Engine) checkEscalation(inc *store.Incident) (bool, error) {
	c := e.Config.Compounding
	if inc.MentionCount < c.EscalationMentionCount {
		return false, nil
	}
	if inc.DaysSinceCreation(time.Now()) < float64(c.EscalationMinAgeDays) {
		return false, nil
	}

	floor := e.Config.Decay.LTFloor
	if inc.Chronic {
		floor = e.Config.Decay.LTChronicFloor
	}
	relevance := maxFloat(inc.CurrentRelevance, floor)

	tr := &store.StateTransition{
		TransitionID:       uuid.NewString(),
		IncidentID:         inc.IncidentID,
		UserID:             inc.UserID,
		FromState:          store.LayerMT,
		ToState:            store.LayerLT,
		Reason:             store.ReasonEscalation,
		SignificanceBefore: inc.CurrentRelevance,
		SignificanceAfter:  relevance,
		TriggeredByMention: true,
		Notes:              fmt.Sprintf("%d mentions over %.0f days", inc.MentionCount, inc.DaysSinceCreation(time.Now())),
	}
	if err := e.DB.ApplyTransition(tr, relevance, inc.UserSuppressed, nil); err != nil {
		return false, fmt.Errorf("escalate %s: %w", inc.IncidentID, err)
	}
	return true, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
