package store

import "time"

// StateLayer is the temporal classification of an incident.
type StateLayer string

const (
	LayerST     StateLayer = "short_term"
	LayerMT     StateLayer = "mid_term"
	LayerLT     StateLayer = "long_term"
	LayerCrisis StateLayer = "crisis"
)

// Valid reports whether the layer is one of the four known values.
func (l StateLayer) Valid() bool {
	switch l {
	case LayerST, LayerMT, LayerLT, LayerCrisis:
		return true
	}
	return false
}

// DecayModel is the mathematical decay curve applied to an incident.
type DecayModel string

const (
	DecayExponential DecayModel = "exponential"
	DecaySigmoid     DecayModel = "sigmoid"
	DecayAsymptotic  DecayModel = "asymptotic"
	DecayNone        DecayModel = "none" // crisis incidents do not decay
)

// DecayModelFor maps a state layer to its decay model. The mapping is fixed:
// the model is never stored, so it cannot drift out of sync with the layer.
func DecayModelFor(layer StateLayer) DecayModel {
	switch layer {
	case LayerST:
		return DecayExponential
	case LayerMT:
		return DecaySigmoid
	case LayerLT:
		return DecayAsymptotic
	default:
		return DecayNone
	}
}

// TransitionReason explains why an incident changed state.
type TransitionReason string

const (
	ReasonDecay           TransitionReason = "decay"
	ReasonEscalation      TransitionReason = "escalation"
	ReasonCompounding     TransitionReason = "compounding"
	ReasonResurgence      TransitionReason = "resurgence"
	ReasonUserSuppression TransitionReason = "user_suppression"
	ReasonManualOverride  TransitionReason = "manual_override"
)

// Resurgence trigger types.
const (
	TriggerAnniversary     = "anniversary"
	TriggerSimilarIncident = "similar_incident"
	TriggerUserMention     = "user_mention"
)

// ExpressionStyle classifies a user's emotional expression pattern.
type ExpressionStyle string

const (
	StyleStoic      ExpressionStyle = "stoic"
	StyleNeutral    ExpressionStyle = "neutral"
	StyleExpressive ExpressionStyle = "expressive"
)

// Incident is the durable unit of temporal state: one tracked life event
// with a decaying relevance score.
type Incident struct {
	ID         int64
	IncidentID string
	UserID     string

	StateLayer    StateLayer
	PreviousState StateLayer // empty if never transitioned

	// PRISM components, fixed at extraction time.
	Persistence  float64
	Resonance    float64
	Impact       int
	Severity     float64
	Malleability float64
	Significance float64

	// InitialSignificance never changes after creation; CurrentRelevance is
	// recomputed by the decay engine and the override paths only.
	InitialSignificance float64
	CurrentRelevance    float64

	Description     string
	OriginalMessage string
	Domains         []string
	ImpairmentLevel string
	Valence         string
	Chronic         bool

	MentionCount   int
	Confidence     float64
	UserSuppressed bool

	RelatedIDs   []string
	TriggeredBy  string
	SupersededBy string

	CreatedAt       int64 // unix millis
	UpdatedAt       int64
	LastMentionedAt int64
	ExpiresAt       *int64 // ST incidents only: hard-delete deadline
}

// DecayModel returns the decay curve implied by the incident's state layer.
func (i *Incident) DecayModel() DecayModel {
	return DecayModelFor(i.StateLayer)
}

// IsActive reports whether the incident should influence the exported
// context. LT and crisis incidents are active regardless of relevance.
func (i *Incident) IsActive(minRelevance float64) bool {
	if i.UserSuppressed || i.SupersededBy != "" {
		return false
	}
	if i.StateLayer == LayerLT || i.StateLayer == LayerCrisis {
		return true
	}
	return i.CurrentRelevance >= minRelevance
}

// DaysSinceLastMention returns the elapsed days since the incident was last
// mentioned, as a float to keep decay curves smooth.
func (i *Incident) DaysSinceLastMention(now time.Time) float64 {
	return float64(now.UnixMilli()-i.LastMentionedAt) / float64(24*time.Hour/time.Millisecond)
}

// DaysSinceCreation returns the elapsed days since the incident was created.
func (i *Incident) DaysSinceCreation(now time.Time) float64 {
	return float64(now.UnixMilli()-i.CreatedAt) / float64(24*time.Hour/time.Millisecond)
}

// StateTransition is an immutable audit record of a state change.
type StateTransition struct {
	ID                 int64
	TransitionID       string
	IncidentID         string
	UserID             string
	FromState          StateLayer
	ToState            StateLayer
	Reason             TransitionReason
	SignificanceBefore float64
	SignificanceAfter  float64
	TriggeredByMention bool
	Notes              string
	CreatedAt          int64
}

// CompoundingEvent links several ST incidents merged into one MT incident.
type CompoundingEvent struct {
	ID                  int64
	CompoundingID       string
	UserID              string
	SourceIncidentIDs   []string
	ResultingIncidentID string
	WindowDays          int
	Domain              string
	CreatedAt           int64
}

// ResurgenceEvent records a temporary relevance spike on an LT incident.
type ResurgenceEvent struct {
	ID              int64
	ResurgenceID    string
	IncidentID      string
	UserID          string
	TriggerType     string // one of the Trigger* constants
	TriggerNote     string
	RelevanceBefore float64
	RelevanceAfter  float64
	SpikeMagnitude  float64
	OccurredAt      int64
}

// DecaySnapshot is a point-in-time relevance reading for trend queries.
type DecaySnapshot struct {
	ID          int64
	IncidentID  string
	Relevance   float64
	DaysElapsed float64
	DecayModel  DecayModel
	CreatedAt   int64
}

// UserBaseline is per-user calibration state for the emotional calibrator.
type UserBaseline struct {
	UserID             string
	ExpressionStyle    ExpressionStyle
	AvgIntensity       float64
	IntensityStddev    float64
	MessageCount       int
	IncidentCount      int
	CalibrationFactor  float64
	CreatedAt          int64
	UpdatedAt          int64
	LastConversationAt *int64
}

// IncidentQuery filters incident retrieval. Zero values mean "no filter".
type IncidentQuery struct {
	UserID             string
	StateLayers        []StateLayer
	MinRelevance       float64
	IncludeSuppressed  bool
	Limit              int
	CreatedAfter       int64
	CreatedBefore      int64
	LastMentionedAfter int64
	Domain             string
}
