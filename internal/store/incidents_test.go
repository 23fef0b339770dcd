package store

import (
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testIncident(id, userID string, layer StateLayer, relevance float64) *Incident {
	return &Incident{
		IncidentID:          id,
		UserID:              userID,
		StateLayer:          layer,
		Persistence:         2.0,
		Resonance:           6.0,
		Impact:              2,
		Severity:            1.5,
		Malleability:        1.0,
		Significance:        36.0,
		InitialSignificance: 36.0,
		CurrentRelevance:    relevance,
		Description:         "argument with boss",
		OriginalMessage:     "had a huge argument with my boss today",
		Domains:             []string{"work"},
		ImpairmentLevel:     "moderate",
		Valence:             "negative",
		MentionCount:        1,
		Confidence:          0.8,
	}
}

func TestIncidentRoundTrip(t *testing.T) {
	db := testDB(t)

	inc := testIncident("inc-1", "user-1", LayerMT, 36.0)
	inc.RelatedIDs = []string{"inc-0"}
	if err := db.CreateIncident(inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	got, err := db.GetIncident("inc-1")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got == nil {
		t.Fatal("incident not found")
	}
	if got.UserID != "user-1" || got.StateLayer != LayerMT {
		t.Errorf("got user=%s layer=%s", got.UserID, got.StateLayer)
	}
	if got.Significance != 36.0 || got.CurrentRelevance != 36.0 {
		t.Errorf("scores: sig=%v rel=%v", got.Significance, got.CurrentRelevance)
	}
	if len(got.Domains) != 1 || got.Domains[0] != "work" {
		t.Errorf("domains = %v", got.Domains)
	}
	if len(got.RelatedIDs) != 1 || got.RelatedIDs[0] != "inc-0" {
		t.Errorf("related = %v", got.RelatedIDs)
	}
	if got.DecayModel() != DecaySigmoid {
		t.Errorf("decay model = %s, want sigmoid", got.DecayModel())
	}
}

func TestGetIncidentMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetIncident("nope")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing incident")
	}
}

func TestQueryIncidentsFilters(t *testing.T) {
	db := testDB(t)

	incidents := []*Incident{
		testIncident("st-1", "user-1", LayerST, 5.0),
		testIncident("mt-1", "user-1", LayerMT, 40.0),
		testIncident("lt-1", "user-1", LayerLT, 90.0),
		testIncident("other", "user-2", LayerST, 5.0),
	}
	incidents[2].Domains = []string{"health", "work"}
	for _, inc := range incidents {
		if err := db.CreateIncident(inc); err != nil {
			t.Fatalf("CreateIncident %s: %v", inc.IncidentID, err)
		}
	}

	// Suppressed incidents are excluded by default.
	sup := testIncident("sup-1", "user-1", LayerST, 5.0)
	sup.UserSuppressed = true
	if err := db.CreateIncident(sup); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	all, err := db.QueryIncidents(IncidentQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("QueryIncidents: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d incidents, want 3", len(all))
	}
	// Ordered by relevance descending.
	if all[0].IncidentID != "lt-1" || all[2].IncidentID != "st-1" {
		t.Errorf("order: %s, %s, %s", all[0].IncidentID, all[1].IncidentID, all[2].IncidentID)
	}

	withSup, _ := db.QueryIncidents(IncidentQuery{UserID: "user-1", IncludeSuppressed: true})
	if len(withSup) != 4 {
		t.Errorf("with suppressed: got %d, want 4", len(withSup))
	}

	layered, _ := db.QueryIncidents(IncidentQuery{
		UserID:      "user-1",
		StateLayers: []StateLayer{LayerMT, LayerLT},
	})
	if len(layered) != 2 {
		t.Errorf("layer filter: got %d, want 2", len(layered))
	}

	relevant, _ := db.QueryIncidents(IncidentQuery{UserID: "user-1", MinRelevance: 30.0})
	if len(relevant) != 2 {
		t.Errorf("relevance filter: got %d, want 2", len(relevant))
	}

	health, _ := db.QueryIncidents(IncidentQuery{UserID: "user-1", Domain: "health"})
	if len(health) != 1 || health[0].IncidentID != "lt-1" {
		t.Errorf("domain filter: %v", health)
	}

	limited, _ := db.QueryIncidents(IncidentQuery{UserID: "user-1", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit: got %d, want 1", len(limited))
	}
}

func TestApplyTransitionAtomic(t *testing.T) {
	db := testDB(t)

	inc := testIncident("inc-1", "user-1", LayerST, 10.0)
	if err := db.CreateIncident(inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	tr := &StateTransition{
		TransitionID:       "tr-1",
		IncidentID:         "inc-1",
		UserID:             "user-1",
		FromState:          LayerST,
		ToState:            LayerMT,
		Reason:             ReasonEscalation,
		SignificanceBefore: 10.0,
		SignificanceAfter:  36.0,
		TriggeredByMention: true,
	}
	if err := db.ApplyTransition(tr, 36.0, false, nil); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	got, _ := db.GetIncident("inc-1")
	if got.StateLayer != LayerMT {
		t.Errorf("state = %s, want mid_term", got.StateLayer)
	}
	if got.PreviousState != LayerST {
		t.Errorf("previous = %s, want short_term", got.PreviousState)
	}
	if got.CurrentRelevance != 36.0 {
		t.Errorf("relevance = %v, want 36", got.CurrentRelevance)
	}

	trail, err := db.ListTransitions("inc-1")
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("got %d transitions, want 1", len(trail))
	}
	if trail[0].Reason != ReasonEscalation || !trail[0].TriggeredByMention {
		t.Errorf("transition = %+v", trail[0])
	}
}

func TestApplyTransitionExpiry(t *testing.T) {
	db := testDB(t)

	expires := time.Now().Add(14 * 24 * time.Hour).UnixMilli()
	inc := testIncident("inc-1", "user-1", LayerMT, 2.0)
	if err := db.CreateIncident(inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	// Entering short_term sets the hard-delete deadline.
	down := &StateTransition{
		TransitionID: "tr-down",
		IncidentID:   "inc-1",
		UserID:       "user-1",
		FromState:    LayerMT,
		ToState:      LayerST,
		Reason:       ReasonDecay,
	}
	if err := db.ApplyTransition(down, 2.0, false, &expires); err != nil {
		t.Fatalf("ApplyTransition down: %v", err)
	}
	got, _ := db.GetIncident("inc-1")
	if got.ExpiresAt == nil || *got.ExpiresAt != expires {
		t.Fatalf("expires_at = %v, want %d", got.ExpiresAt, expires)
	}

	// Leaving short_term clears it.
	up := &StateTransition{
		TransitionID: "tr-up",
		IncidentID:   "inc-1",
		UserID:       "user-1",
		FromState:    LayerST,
		ToState:      LayerMT,
		Reason:       ReasonEscalation,
	}
	if err := db.ApplyTransition(up, 36.0, false, nil); err != nil {
		t.Fatalf("ApplyTransition up: %v", err)
	}
	got, _ = db.GetIncident("inc-1")
	if got.ExpiresAt != nil {
		t.Errorf("expires_at = %d after leaving short_term, want cleared", *got.ExpiresAt)
	}
}

func TestApplyTransitionRejectsUnknownReason(t *testing.T) {
	db := testDB(t)
	inc := testIncident("inc-1", "user-1", LayerST, 10.0)
	db.CreateIncident(inc)

	tr := &StateTransition{
		TransitionID: "tr-bad",
		IncidentID:   "inc-1",
		UserID:       "user-1",
		FromState:    LayerST,
		ToState:      LayerMT,
		Reason:       TransitionReason("vibes"),
	}
	if err := db.ApplyTransition(tr, 36.0, false, nil); err == nil {
		t.Error("expected CHECK constraint failure for unknown reason")
	}
	// Incident must be untouched after the rollback.
	got, _ := db.GetIncident("inc-1")
	if got.StateLayer != LayerST {
		t.Errorf("state = %s after failed transition, want short_term", got.StateLayer)
	}
}

func TestRecordMention(t *testing.T) {
	db := testDB(t)
	inc := testIncident("inc-1", "user-1", LayerST, 10.0)
	inc.LastMentionedAt = time.Now().Add(-48 * time.Hour).UnixMilli()
	db.CreateIncident(inc)

	if err := db.RecordMention("inc-1"); err != nil {
		t.Fatalf("RecordMention: %v", err)
	}
	got, _ := db.GetIncident("inc-1")
	if got.MentionCount != 2 {
		t.Errorf("mention_count = %d, want 2", got.MentionCount)
	}
	if got.LastMentionedAt <= inc.LastMentionedAt {
		t.Error("last_mentioned_at not advanced")
	}
}

func TestExpiredSTIncidents(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	past := now - 1000
	future := now + int64(time.Hour/time.Millisecond)

	expired := testIncident("old", "user-1", LayerST, 0.5)
	expired.ExpiresAt = &past
	live := testIncident("new", "user-1", LayerST, 5.0)
	live.ExpiresAt = &future
	db.CreateIncident(expired)
	db.CreateIncident(live)

	got, err := db.ExpiredSTIncidents(now)
	if err != nil {
		t.Fatalf("ExpiredSTIncidents: %v", err)
	}
	if len(got) != 1 || got[0].IncidentID != "old" {
		t.Errorf("expired = %v", got)
	}

	if err := db.DeleteIncident("old"); err != nil {
		t.Fatalf("DeleteIncident: %v", err)
	}
	if inc, _ := db.GetIncident("old"); inc != nil {
		t.Error("incident still present after delete")
	}
}

func TestRecentSTIncidents(t *testing.T) {
	db := testDB(t)
	cutoff := time.Now().Add(-7 * 24 * time.Hour).UnixMilli()

	inWindow := testIncident("a", "user-1", LayerST, 5.0)
	db.CreateIncident(inWindow)

	tooOld := testIncident("b", "user-1", LayerST, 5.0)
	tooOld.CreatedAt = time.Now().Add(-10 * 24 * time.Hour).UnixMilli()
	tooOld.UpdatedAt = tooOld.CreatedAt
	tooOld.LastMentionedAt = tooOld.CreatedAt
	db.CreateIncident(tooOld)

	wrongDomain := testIncident("c", "user-1", LayerST, 5.0)
	wrongDomain.Domains = []string{"health"}
	db.CreateIncident(wrongDomain)

	got, err := db.RecentSTIncidents("user-1", "work", cutoff)
	if err != nil {
		t.Fatalf("RecentSTIncidents: %v", err)
	}
	if len(got) != 1 || got[0].IncidentID != "a" {
		t.Errorf("recent = %v", got)
	}
}

func TestMarkSuperseded(t *testing.T) {
	db := testDB(t)
	db.CreateIncident(testIncident("src", "user-1", LayerST, 5.0))
	if err := db.MarkSuperseded("src", "compound-1"); err != nil {
		t.Fatalf("MarkSuperseded: %v", err)
	}
	got, _ := db.GetIncident("src")
	if got.SupersededBy != "compound-1" {
		t.Errorf("superseded_by = %q", got.SupersededBy)
	}
	if got.IsActive(1.0) {
		t.Error("superseded incident should be inactive")
	}

	list, _ := db.ListUserIncidents("user-1")
	if len(list) != 0 {
		t.Errorf("superseded incident still listed: %v", list)
	}
}
