package engine

import (
	"sort"
	"time"

	"github.com/quietvoice/prism/internal/store"
)

// Empathy levels, strongest first.
const (
	EmpathyCrisis   = "crisis"
	EmpathyHigh     = "high"
	EmpathyModerate = "moderate"
	EmpathyLight    = "light"
	EmpathyNeutral  = "neutral"
)

var empathyTones = map[string]string{
	EmpathyCrisis:   "immediate_safety_protocol",
	EmpathyHigh:     "deeply_empathetic_cautious",
	EmpathyModerate: "attentive_validating",
	EmpathyLight:    "casual_supportive",
	EmpathyNeutral:  "casual_supportive",
}

// ContextIncident is one incident as exposed to a conversational layer.
type ContextIncident struct {
	IncidentID  string   `json:"incident_id"`
	Description string   `json:"description"`
	StateLayer  string   `json:"state_layer"`
	Relevance   float64  `json:"relevance"`
	Normalized  float64  `json:"normalized_relevance"` // relevance / initial significance
	Domains     []string `json:"domains"`
	Valence     string   `json:"valence"`
	Chronic     bool     `json:"chronic"`
	DaysAgo     float64  `json:"days_ago"`
}

// TemporalContext is the engine's answer to "what should the conversation
// be aware of right now".
type TemporalContext struct {
	UserID            string             `json:"user_id"`
	GeneratedAt       int64              `json:"generated_at"`
	DominantState     string             `json:"dominant_state"`
	StateDistribution map[string]float64 `json:"state_distribution"`
	Incidents         []ContextIncident  `json:"incidents"`
	EmpathyLevel      string             `json:"empathy_level"`
	SuggestedTone     string             `json:"suggested_tone"`
	SpecialFlags      []string           `json:"special_flags,omitempty"`
	CrisisDetected    bool               `json:"crisis_detected"`
	CrisisIncidentID  string             `json:"crisis_incident_id,omitempty"`
}

// BuildContext assembles the temporal context for a user: active incidents
// ranked by effective relevance, the relevance-weighted share each state
// layer holds of that set, an empathy level derived from those shares, and
// flags a conversational layer should know about.
func (e *Engine) BuildContext(userID string) (*TemporalContext, error) {
	now := time.Now()
	all, err := e.DB.ListUserIncidents(userID)
	if err != nil {
		return nil, err
	}

	tc := &TemporalContext{
		UserID:            userID,
		GeneratedAt:       now.UnixMilli(),
		StateDistribution: map[string]float64{},
		EmpathyLevel:      EmpathyNeutral,
	}

	active := 0
	crisisCount := 0
	total := 0.0
	weights := map[store.StateLayer]float64{}
	for i := range all {
		inc := &all[i]
		if !inc.IsActive(e.Config.Query.MinActiveRelevance) {
			continue
		}
		relevance := e.EffectiveRelevance(inc, now)
		normalized := 0.0
		if inc.InitialSignificance > 0 {
			normalized = relevance / inc.InitialSignificance
		}

		tc.Incidents = append(tc.Incidents, ContextIncident{
			IncidentID:  inc.IncidentID,
			Description: inc.Description,
			StateLayer:  string(inc.StateLayer),
			Relevance:   relevance,
			Normalized:  normalized,
			Domains:     inc.Domains,
			Valence:     inc.Valence,
			Chronic:     inc.Chronic,
			DaysAgo:     inc.DaysSinceCreation(now),
		})
		active++
		weights[inc.StateLayer] += relevance
		total += relevance

		if inc.StateLayer == store.LayerCrisis {
			crisisCount++
			// ListUserIncidents orders by relevance, so the first crisis
			// seen is the heaviest.
			if tc.CrisisIncidentID == "" {
				tc.CrisisIncidentID = inc.IncidentID
			}
		}
	}

	if total > 0 {
		for layer, w := range weights {
			tc.StateDistribution[string(layer)] = w / total
		}
	}
	tc.DominantState = string(dominantLayer(weights))
	tc.CrisisDetected = crisisCount > 0

	switch {
	case tc.StateDistribution[string(store.LayerCrisis)] > 0:
		tc.EmpathyLevel = EmpathyCrisis
	case tc.StateDistribution[string(store.LayerLT)] >= 0.5:
		tc.EmpathyLevel = EmpathyHigh
	case tc.StateDistribution[string(store.LayerMT)] >= 0.4:
		tc.EmpathyLevel = EmpathyModerate
	case tc.StateDistribution[string(store.LayerST)] >= 0.6:
		tc.EmpathyLevel = EmpathyLight
	}

	sort.Slice(tc.Incidents, func(i, j int) bool {
		return tc.Incidents[i].Relevance > tc.Incidents[j].Relevance
	})
	if max := e.Config.Query.MaxIncidents; len(tc.Incidents) > max {
		tc.Incidents = tc.Incidents[:max]
	}

	tc.SuggestedTone = empathyTones[tc.EmpathyLevel]
	tc.SpecialFlags = e.specialFlags(all, now, active, crisisCount, tc.EmpathyLevel)
	return tc, nil
}

// dominantLayer picks the layer holding the most relevance weight, breaking
// ties toward the heavier end of the state machine.
func dominantLayer(weights map[store.StateLayer]float64) store.StateLayer {
	dominant := store.LayerST
	best := 0.0
	for _, layer := range []store.StateLayer{store.LayerCrisis, store.LayerLT, store.LayerMT, store.LayerST} {
		if w := weights[layer]; w > best {
			dominant, best = layer, w
		}
	}
	return dominant
}

func (e *Engine) specialFlags(incidents []store.Incident, now time.Time, active, crisisCount int, empathy string) []string {
	var flags []string
	if crisisCount > 0 {
		flags = append(flags, "active_crisis")
	}
	if active >= 3 {
		flags = append(flags, "multiple_active_incidents")
	}
	if empathy == EmpathyHigh || empathy == EmpathyCrisis {
		flags = append(flags, "extra_sensitivity_required")
	}

	anniversary := false
	resurging := false
	chronic := false
	for i := range incidents {
		inc := &incidents[i]
		if inc.UserSuppressed {
			continue
		}
		if !chronic && inc.Chronic && inc.IsActive(e.Config.Query.MinActiveRelevance) {
			chronic = true
		}
		if inc.StateLayer != store.LayerLT {
			continue
		}
		if !anniversary && e.nearAnniversary(inc, now) {
			anniversary = true
		}
		if !resurging && e.spikeBoost(inc, now) > 0 {
			resurging = true
		}
	}
	if chronic {
		flags = append(flags, "acknowledge_ongoing_struggles")
	}
	if anniversary {
		flags = append(flags, "anniversary_period")
	}
	if resurging {
		flags = append(flags, "resurgence_active")
	}
	return flags
}
