package classify

import (
	"fmt"
	"math"

	"github.com/quietvoice/prism/internal/store"
)

// ValidationError names the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateIncident checks component ranges and score consistency before an
// incident is persisted. Crisis incidents carry a sentinel significance and
// skip the formula check.
func ValidateIncident(inc *store.Incident) error {
	if inc.IncidentID == "" {
		return invalid("incident_id", "must not be empty")
	}
	if inc.UserID == "" {
		return invalid("user_id", "must not be empty")
	}
	if !inc.StateLayer.Valid() {
		return invalid("state_layer", "unknown layer %q", inc.StateLayer)
	}
	if inc.Persistence < 0.1 || inc.Persistence > 10.0 {
		return invalid("persistence", "%v outside [0.1, 10]", inc.Persistence)
	}
	if inc.Resonance < 1.0 || inc.Resonance > 10.0 {
		return invalid("resonance", "%v outside [1, 10]", inc.Resonance)
	}
	if inc.Impact < 1 || inc.Impact > 5 {
		return invalid("impact", "%d outside [1, 5]", inc.Impact)
	}
	if inc.Severity < 0.1 || inc.Severity > 3.0 {
		return invalid("severity", "%v outside [0.1, 3]", inc.Severity)
	}
	if inc.Malleability != 0.6 && inc.Malleability != 1.0 && inc.Malleability != 1.7 {
		return invalid("malleability", "%v not one of 0.6, 1.0, 1.7", inc.Malleability)
	}
	if inc.Confidence < 0.0 || inc.Confidence > 1.0 {
		return invalid("confidence", "%v outside [0, 1]", inc.Confidence)
	}

	if inc.StateLayer != store.LayerCrisis {
		expected := Significance(inc.Persistence, inc.Resonance, inc.Impact, inc.Severity, inc.Malleability)
		if math.Abs(inc.Significance-expected) > 0.01 {
			return invalid("significance", "%v does not match components (expected %v)", inc.Significance, expected)
		}
	}
	if inc.CurrentRelevance < 0 {
		return invalid("current_relevance", "%v is negative", inc.CurrentRelevance)
	}
	return nil
}
