package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/store"
)

// Suppress honors a user's request to stop surfacing an incident. The row
// and its audit trail stay; the incident just goes inert.
func (e *Engine) Suppress(incidentID string) error {
	if !e.Config.Features.Suppression {
		return fmt.Errorf("suppression is disabled")
	}
	inc, err := e.DB.GetIncident(incidentID)
	if err != nil {
		return err
	}
	if inc == nil {
		return fmt.Errorf("incident %s not found", incidentID)
	}
	if inc.UserSuppressed {
		return nil
	}

	tr := &store.StateTransition{
		TransitionID:       uuid.NewString(),
		IncidentID:         inc.IncidentID,
		UserID:             inc.UserID,
		FromState:          inc.StateLayer,
		ToState:            inc.StateLayer,
		Reason:             store.ReasonUserSuppression,
		SignificanceBefore: inc.CurrentRelevance,
		SignificanceAfter:  inc.CurrentRelevance,
	}
	if err := e.DB.ApplyTransition(tr, inc.CurrentRelevance, true, inc.ExpiresAt); err != nil {
		return fmt.Errorf("suppress %s: %w", incidentID, err)
	}
	return nil
}

// Override forces an incident into a given layer, for operator corrections.
// Recorded as a manual_override transition so the audit trail shows who
// moved what.
func (e *Engine) Override(incidentID string, layer store.StateLayer, note string) error {
	if !layer.Valid() {
		return fmt.Errorf("unknown state layer %q", layer)
	}
	inc, err := e.DB.GetIncident(incidentID)
	if err != nil {
		return err
	}
	if inc == nil {
		return fmt.Errorf("incident %s not found", incidentID)
	}
	if inc.StateLayer == layer {
		return nil
	}

	relevance := inc.CurrentRelevance
	if layer == store.LayerCrisis {
		relevance = e.Config.Thresholds.CrisisSignificance
	}
	// Moving into short_term starts the hard-delete clock; moving out stops it.
	var expires *int64
	if layer == store.LayerST {
		expires = e.stExpiry(time.Now().UnixMilli())
	}

	tr := &store.StateTransition{
		TransitionID:       uuid.NewString(),
		IncidentID:         inc.IncidentID,
		UserID:             inc.UserID,
		FromState:          inc.StateLayer,
		ToState:            layer,
		Reason:             store.ReasonManualOverride,
		SignificanceBefore: inc.CurrentRelevance,
		SignificanceAfter:  relevance,
		Notes:              note,
	}
	if err := e.DB.ApplyTransition(tr, relevance, inc.UserSuppressed, expires); err != nil {
		return fmt.Errorf("override %s: %w", incidentID, err)
	}
	return nil
}

// AuditTrail returns the full transition history for an incident.
func (e *Engine) AuditTrail(incidentID string) ([]store.StateTransition, error) {
	return e.DB.ListTransitions(incidentID)
}
