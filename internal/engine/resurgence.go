package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/store"
)

// TriggerResurgence spikes a long-term incident's relevance by the
// configured multiplier. The spike fades back to the decay curve over
// SpikeDecayDays. Only long-term incidents resurge; the event and the
// matching state transition are recorded atomically enough for the audit
// trail to explain the jump.
func (e *Engine) TriggerResurgence(incidentID, triggerType, note string) (*store.ResurgenceEvent, error) {
	inc, err := e.DB.GetIncident(incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, fmt.Errorf("incident %s not found", incidentID)
	}
	if inc.StateLayer != store.LayerLT {
		return nil, fmt.Errorf("incident %s is %s, only long_term incidents resurge", incidentID, inc.StateLayer)
	}
	if inc.UserSuppressed {
		return nil, fmt.Errorf("incident %s is suppressed", incidentID)
	}

	before := inc.CurrentRelevance
	after := before * e.Config.Resurgence.SpikeMultiplier
	// A spike never exceeds what the incident started with.
	after = math.Min(after, inc.InitialSignificance)
	if after <= before {
		after = before
	}

	ev := &store.ResurgenceEvent{
		ResurgenceID:    uuid.NewString(),
		IncidentID:      inc.IncidentID,
		UserID:          inc.UserID,
		TriggerType:     triggerType,
		TriggerNote:     note,
		RelevanceBefore: before,
		RelevanceAfter:  after,
		SpikeMagnitude:  after - before,
	}
	if err := e.DB.CreateResurgenceEvent(ev); err != nil {
		return nil, err
	}

	tr := &store.StateTransition{
		TransitionID:       uuid.NewString(),
		IncidentID:         inc.IncidentID,
		UserID:             inc.UserID,
		FromState:          store.LayerLT,
		ToState:            store.LayerLT,
		Reason:             store.ReasonResurgence,
		SignificanceBefore: before,
		SignificanceAfter:  after,
		TriggeredByMention: triggerType == store.TriggerUserMention,
		Notes:              triggerType,
	}
	if err := e.DB.ApplyTransition(tr, after, inc.UserSuppressed, inc.ExpiresAt); err != nil {
		return nil, fmt.Errorf("apply resurgence for %s: %w", incidentID, err)
	}
	return ev, nil
}

// nearAnniversary reports whether now falls within the anniversary window
// of the incident's creation date, at least a year out. A recent resurgence
// suppresses re-triggering inside the same window.
func (e *Engine) nearAnniversary(inc *store.Incident, now time.Time) bool {
	days := inc.DaysSinceCreation(now)
	if days < 300 {
		return false
	}
	window := float64(e.Config.Resurgence.AnniversaryWindowDays)
	offset := math.Mod(days, 365)
	if offset > 365/2 {
		offset = 365 - offset
	}
	if offset > window {
		return false
	}

	latest, err := e.DB.LatestResurgence(inc.IncidentID)
	if err != nil || latest == nil {
		return err == nil
	}
	daysSinceLast := float64(now.UnixMilli()-latest.OccurredAt) / float64(dayMillis)
	return daysSinceLast > 2*window+float64(e.Config.Resurgence.SpikeDecayDays)
}

// NoteSimilarIncident resurges a long-term incident because a newly created
// incident resembles it, linking the two.
func (e *Engine) NoteSimilarIncident(ltIncidentID, newIncidentID string) (*store.ResurgenceEvent, error) {
	return e.TriggerResurgence(ltIncidentID, store.TriggerSimilarIncident,
		fmt.Sprintf("resembles incident %s", newIncidentID))
}
