package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/classify"
	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/extract"
	"github.com/quietvoice/prism/internal/store"
)

// Engine orchestrates signal extraction, significance scoring, the state
// machine, decay, compounding, and resurgence.
type Engine struct {
	DB         *store.DB
	Config     *config.Config
	Extractor  *extract.Extractor
	Classifier *classify.Classifier
	Embedder   Embedder

	mu     sync.Mutex
	userMu map[string]*sync.Mutex
	stopCh chan struct{}
}

// New creates a new Engine.
func New(db *store.DB, cfg *config.Config, sentiment extract.SentimentProvider) (*Engine, error) {
	classifier, err := classify.NewClassifier(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		DB:         db,
		Config:     cfg,
		Extractor:  extract.New(cfg, db, sentiment),
		Classifier: classifier,
		userMu:     make(map[string]*sync.Mutex),
		stopCh:     make(chan struct{}),
	}, nil
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// lockUser serializes processing per user. Different users proceed in
// parallel; two messages from the same user never interleave.
func (e *Engine) lockUser(userID string) func() {
	e.mu.Lock()
	mu, ok := e.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.userMu[userID] = mu
	}
	e.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ProcessResult is the outcome of running one message through the engine.
type ProcessResult struct {
	Incident       *store.Incident        `json:"incident,omitempty"`
	MentionOf      string                 `json:"mention_of,omitempty"` // existing incident updated instead
	Extraction     *extract.Result        `json:"extraction"`
	Classification classify.Classification `json:"classification"`

	RequiresClarification bool   `json:"requires_clarification"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`

	Compounded *store.CompoundingEvent `json:"compounded,omitempty"`
	Resurged   *store.ResurgenceEvent  `json:"resurged,omitempty"`
	Escalated  bool                    `json:"escalated,omitempty"`
}

// ProcessMessage runs the full pipeline for one user message: extract
// signals, score, match against existing incidents, and persist. Low
// confidence short-circuits to a clarification question without creating
// anything.
func (e *Engine) ProcessMessage(ctx context.Context, userID, message string) (*ProcessResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("empty message")
	}
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}

	unlock := e.lockUser(userID)
	defer unlock()

	ext, err := e.Extractor.Extract(ctx, userID, message)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	cls := e.Classifier.Classify(ext.Persistence, ext.Resonance, ext.Impact,
		ext.Severity, ext.Malleability, message)

	result := &ProcessResult{
		Extraction:     ext,
		Classification: cls,
	}

	// Clarification beats persistence, but never beats crisis.
	if ext.RequiresClarification && !cls.Crisis {
		result.RequiresClarification = true
		result.ClarificationQuestion = ext.ClarificationQuestion
		return result, nil
	}

	// A message about an already-tracked incident updates it instead of
	// opening a duplicate. Crisis messages always open a new incident.
	if !cls.Crisis {
		matched, err := e.matchExisting(ctx, userID, message, ext)
		if err != nil {
			return nil, err
		}
		if matched != nil {
			if err := e.handleMention(matched, result); err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	inc, err := e.createIncident(ctx, userID, message, ext, cls)
	if err != nil {
		return nil, err
	}
	result.Incident = inc

	if e.Config.Features.Compounding && inc.StateLayer == store.LayerST {
		ev, compound, err := e.checkCompounding(inc)
		if err != nil {
			log.Printf("compounding check for %s: %v", inc.IncidentID, err)
		} else if ev != nil {
			result.Compounded = ev
			result.Incident = compound
		}
	}

	return result, nil
}

func (e *Engine) createIncident(ctx context.Context, userID, message string, ext *extract.Result, cls classify.Classification) (*store.Incident, error) {
	now := time.Now().UnixMilli()
	inc := &store.Incident{
		IncidentID:          uuid.NewString(),
		UserID:              userID,
		StateLayer:          cls.Layer,
		Persistence:         ext.Persistence,
		Resonance:           ext.Resonance,
		Impact:              ext.Impact,
		Severity:            ext.Severity,
		Malleability:        ext.Malleability,
		Significance:        cls.Significance,
		InitialSignificance: cls.Significance,
		CurrentRelevance:    cls.Significance,
		Description:         summarize(message),
		OriginalMessage:     message,
		Domains:             ext.Functional.Domains,
		ImpairmentLevel:     ext.Functional.ImpairmentLevel,
		Valence:             ext.Lexical.Valence,
		Chronic:             ext.Temporal.Chronic,
		MentionCount:        1,
		Confidence:          ext.Confidence,
		CreatedAt:           now,
		UpdatedAt:           now,
		LastMentionedAt:     now,
	}
	if cls.CrisisPattern != "" {
		inc.TriggeredBy = cls.CrisisPattern
	}
	if inc.StateLayer == store.LayerST {
		inc.ExpiresAt = e.stExpiry(now)
	}

	if err := classify.ValidateIncident(inc); err != nil {
		return nil, fmt.Errorf("validate incident: %w", err)
	}
	if err := e.DB.CreateIncident(inc); err != nil {
		return nil, err
	}

	if e.Embedder != nil {
		if vec, err := e.Embedder.Embed(ctx, inc.Description); err != nil {
			log.Printf("embed incident %s: %v", inc.IncidentID, err)
		} else if err := e.DB.SaveVector(inc.IncidentID, vec, e.Embedder.Model()); err != nil {
			log.Printf("save vector for %s: %v", inc.IncidentID, err)
		}
	}
	return inc, nil
}

// handleMention records a repeat mention and runs the mention-driven
// transitions: MT escalation and LT resurgence.
func (e *Engine) handleMention(inc *store.Incident, result *ProcessResult) error {
	if err := e.DB.RecordMention(inc.IncidentID); err != nil {
		return err
	}
	result.MentionOf = inc.IncidentID
	inc.MentionCount++

	switch inc.StateLayer {
	case store.LayerMT:
		escalated, err := e.checkEscalation(inc)
		if err != nil {
			return err
		}
		result.Escalated = escalated
	case store.LayerLT:
		if e.Config.Features.Resurgence {
			ev, err := e.TriggerResurgence(inc.IncidentID, store.TriggerUserMention, "")
			if err != nil {
				return err
			}
			result.Resurged = ev
		}
	}

	refreshed, err := e.DB.GetIncident(inc.IncidentID)
	if err == nil && refreshed != nil {
		result.Incident = refreshed
	}
	return nil
}

// matchExisting looks for a live incident this message is about. With an
// embedder it is a similarity search over stored vectors; without one it
// falls back to token overlap against recent descriptions.
func (e *Engine) matchExisting(ctx context.Context, userID, message string, ext *extract.Result) (*store.Incident, error) {
	all, err := e.DB.ListUserIncidents(userID)
	if err != nil {
		return nil, err
	}
	var incidents []store.Incident
	for _, inc := range all {
		if !inc.UserSuppressed {
			incidents = append(incidents, inc)
		}
	}
	if len(incidents) == 0 {
		return nil, nil
	}

	if e.Embedder != nil {
		vec, err := e.Embedder.Embed(ctx, message)
		if err != nil {
			log.Printf("embed query for %s: %v", userID, err)
		} else {
			vectors, err := e.DB.UserVectors(userID)
			if err != nil {
				return nil, err
			}
			byID := make(map[string]store.Incident, len(incidents))
			for _, inc := range incidents {
				byID[inc.IncidentID] = inc
			}
			var best *store.Incident
			bestSim := e.Config.Query.MinSimilarity
			for _, v := range vectors {
				inc, ok := byID[v.IncidentID]
				if !ok {
					continue
				}
				if sim := CosineSimilarity(vec, v.Embedding); sim >= bestSim {
					bestSim = sim
					matched := inc
					best = &matched
				}
			}
			if best != nil {
				return best, nil
			}
			return nil, nil
		}
	}

	// Lexical fallback: same domain plus strong word overlap.
	msgTokens := contentTokens(message)
	for i := range incidents {
		inc := &incidents[i]
		if !sharesDomain(inc.Domains, ext.Functional.Domains) {
			continue
		}
		if tokenOverlap(msgTokens, contentTokens(inc.OriginalMessage)) >= 0.5 {
			return inc, nil
		}
	}
	return nil, nil
}

// summarize trims a message into a short description.
func summarize(message string) string {
	msg := strings.TrimSpace(message)
	if len(msg) <= 140 {
		return msg
	}
	cut := msg[:140]
	if idx := strings.LastIndex(cut, " "); idx > 80 {
		cut = cut[:idx]
	}
	return cut + "..."
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"i": true, "me": true, "my": true, "it": true, "is": true, "was": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "that": true, "this": true, "so": true, "be": true,
	"have": true, "had": true, "has": true, "am": true, "are": true,
	"i'm": true, "it's": true, "just": true, "really": true, "very": true,
}

func contentTokens(message string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(message)) {
		tok = strings.Trim(tok, ".,!?;:\"()")
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}

func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for tok := range small {
		if large[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func sharesDomain(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

const dayMillis = int64(24 * time.Hour / time.Millisecond)
