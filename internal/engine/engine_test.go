package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/config"
	"github.com/quietvoice/prism/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	e, err := New(db, &cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// seedIncident inserts an incident with controllable timestamps.
func seedIncident(t *testing.T, e *Engine, layer store.StateLayer, initial float64, ageDays float64, opts func(*store.Incident)) *store.Incident {
	t.Helper()
	created := time.Now().Add(-time.Duration(ageDays*24) * time.Hour).UnixMilli()
	inc := &store.Incident{
		IncidentID:          uuid.NewString(),
		UserID:              "user-1",
		StateLayer:          layer,
		Persistence:         2.0,
		Resonance:           6.0,
		Impact:              2,
		Severity:            1.5,
		Malleability:        1.0,
		Significance:        initial,
		InitialSignificance: initial,
		CurrentRelevance:    initial,
		Description:         "seeded incident",
		OriginalMessage:     "seeded incident",
		Domains:             []string{"work"},
		ImpairmentLevel:     "moderate",
		Valence:             "negative",
		MentionCount:        1,
		Confidence:          0.8,
		CreatedAt:           created,
		UpdatedAt:           created,
		LastMentionedAt:     created,
	}
	if opts != nil {
		opts(inc)
	}
	if err := e.DB.CreateIncident(inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	return inc
}

func TestProcessMessageCreatesIncident(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	msg := "I'm devastated, my girlfriend and I broke up last week and I've been crying every day since"
	res, err := e.ProcessMessage(ctx, "user-1", msg)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.RequiresClarification {
		t.Fatalf("clear message routed to clarification (confidence %.2f)", res.Extraction.Confidence)
	}
	if res.Incident == nil {
		t.Fatal("no incident created")
	}
	if res.Incident.StateLayer != store.LayerMT {
		t.Errorf("layer = %s (sig %.1f), want mid_term", res.Incident.StateLayer, res.Incident.Significance)
	}
	if res.Incident.CurrentRelevance != res.Incident.Significance {
		t.Error("initial relevance should equal significance")
	}

	got, err := e.DB.GetIncident(res.Incident.IncidentID)
	if err != nil || got == nil {
		t.Fatalf("incident not persisted: %v", err)
	}
}

func TestProcessMessageVagueNeedsClarification(t *testing.T) {
	e := testEngine(t)

	res, err := e.ProcessMessage(context.Background(), "user-1", "i guess something happened, not sure, whenever")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !res.RequiresClarification {
		t.Fatal("vague message was not routed to clarification")
	}
	if res.Incident != nil {
		t.Error("incident created despite low confidence")
	}
	if res.ClarificationQuestion == "" {
		t.Error("no clarification question")
	}
}

func TestProcessMessageCrisisBeatsClarification(t *testing.T) {
	e := testEngine(t)

	// Terse enough to score low confidence, but it trips a crisis pattern.
	res, err := e.ProcessMessage(context.Background(), "user-1", "i want to die")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.RequiresClarification {
		t.Fatal("crisis message routed to clarification")
	}
	if res.Incident == nil || res.Incident.StateLayer != store.LayerCrisis {
		t.Fatalf("incident = %+v, want crisis layer", res.Incident)
	}
	if res.Incident.CurrentRelevance != 1000.0 {
		t.Errorf("crisis relevance = %v, want sentinel 1000", res.Incident.CurrentRelevance)
	}
}

func TestProcessMessageRepeatIsMention(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	msg := "I'm devastated, my girlfriend and I broke up last week and I've been crying every day since"
	first, err := e.ProcessMessage(ctx, "user-1", msg)
	if err != nil {
		t.Fatalf("first ProcessMessage: %v", err)
	}
	second, err := e.ProcessMessage(ctx, "user-1", msg)
	if err != nil {
		t.Fatalf("second ProcessMessage: %v", err)
	}
	if second.MentionOf != first.Incident.IncidentID {
		t.Fatalf("repeat not matched: mention_of = %q", second.MentionOf)
	}

	got, _ := e.DB.GetIncident(first.Incident.IncidentID)
	if got.MentionCount != 2 {
		t.Errorf("mention_count = %d, want 2", got.MentionCount)
	}
}

func TestProcessMessageRejectsEmpty(t *testing.T) {
	e := testEngine(t)
	if _, err := e.ProcessMessage(context.Background(), "user-1", "   "); err == nil {
		t.Error("empty message accepted")
	}
	if _, err := e.ProcessMessage(context.Background(), "", "hello"); err == nil {
		t.Error("empty user id accepted")
	}
}

func TestDecayCurves(t *testing.T) {
	e := testEngine(t)
	now := time.Now()

	st := seedIncident(t, e, store.LayerST, 10.0, 5, nil)
	got := e.relevanceAt(st, now)
	want := 10.0 * math.Exp(-0.3*5)
	if math.Abs(got-want) > 0.05 {
		t.Errorf("st decay at 5d = %.3f, want %.3f", got, want)
	}

	mtFresh := seedIncident(t, e, store.LayerMT, 60.0, 0, nil)
	if got := e.relevanceAt(mtFresh, now); got < 59.0 {
		t.Errorf("mt at t=0 = %.2f, want near initial 60", got)
	}
	mtHalf := seedIncident(t, e, store.LayerMT, 60.0, 60, nil)
	if got := e.relevanceAt(mtHalf, now); math.Abs(got-30.0) > 0.5 {
		t.Errorf("mt at half-life = %.2f, want 30", got)
	}

	lt := seedIncident(t, e, store.LayerLT, 90.0, 3000, nil)
	got = e.relevanceAt(lt, now)
	want = 30.0 + 60.0*math.Exp(-0.001*3000)
	if math.Abs(got-want) > 0.1 {
		t.Errorf("lt decay = %.2f, want %.2f", got, want)
	}
	if got < 30.0 {
		t.Errorf("lt relevance %.2f fell below floor", got)
	}

	chronic := seedIncident(t, e, store.LayerLT, 90.0, 100000, func(i *store.Incident) { i.Chronic = true })
	if got := e.relevanceAt(chronic, now); got < 50.0 {
		t.Errorf("chronic lt = %.2f, want >= chronic floor 50", got)
	}

	crisis := seedIncident(t, e, store.LayerCrisis, 1000.0, 365, nil)
	if got := e.relevanceAt(crisis, now); got != 1000.0 {
		t.Errorf("crisis decayed to %.2f", got)
	}
}

func TestDecaySweepUpdatesAndSnapshots(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerST, 10.0, 5, nil)

	n, err := e.DecaySweep(time.Now())
	if err != nil {
		t.Fatalf("DecaySweep: %v", err)
	}
	if n != 1 {
		t.Errorf("updated %d incidents, want 1", n)
	}

	got, _ := e.DB.GetIncident(inc.IncidentID)
	if got.CurrentRelevance >= 10.0 {
		t.Errorf("relevance not decayed: %.2f", got.CurrentRelevance)
	}

	snaps, err := e.DB.ListDecaySnapshots(inc.IncidentID, 10)
	if err != nil {
		t.Fatalf("ListDecaySnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	if snaps[0].DecayModel != store.DecayExponential {
		t.Errorf("snapshot model = %s", snaps[0].DecayModel)
	}
}

func TestTransitionSweepDemotesStaleMT(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerMT, 60.0, 130, nil)

	n, err := e.TransitionSweep(time.Now())
	if err != nil {
		t.Fatalf("TransitionSweep: %v", err)
	}
	if n != 1 {
		t.Errorf("changed %d, want 1", n)
	}

	got, _ := e.DB.GetIncident(inc.IncidentID)
	if got.StateLayer != store.LayerST {
		t.Fatalf("layer = %s, want short_term", got.StateLayer)
	}
	if got.PreviousState != store.LayerMT {
		t.Errorf("previous = %s, want mid_term", got.PreviousState)
	}

	// The demotion starts the short-term hard-delete clock.
	if got.ExpiresAt == nil {
		t.Fatal("demoted incident has no expires_at")
	}
	wantExpiry := time.Now().Add(14 * 24 * time.Hour).UnixMilli()
	if diff := *got.ExpiresAt - wantExpiry; diff < -int64(time.Minute/time.Millisecond) || diff > int64(time.Minute/time.Millisecond) {
		t.Errorf("expires_at = %d, want ~%d", *got.ExpiresAt, wantExpiry)
	}

	trail, _ := e.DB.ListTransitions(inc.IncidentID)
	if len(trail) != 1 || trail[0].Reason != store.ReasonDecay {
		t.Errorf("trail = %+v, want one decay transition", trail)
	}

	deleted, err := e.CleanupSweep(time.Now().Add(15 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("CleanupSweep: %v", err)
	}
	if deleted != 1 {
		t.Errorf("cleanup deleted %d, want the demoted incident", deleted)
	}
	if inc, _ := e.DB.GetIncident(inc.IncidentID); inc != nil {
		t.Error("demoted incident survived past its expiry")
	}
}

func TestCleanupSweepDeletesExpired(t *testing.T) {
	e := testEngine(t)
	past := time.Now().Add(-time.Hour).UnixMilli()
	inc := seedIncident(t, e, store.LayerST, 0.5, 15, func(i *store.Incident) { i.ExpiresAt = &past })

	n, err := e.CleanupSweep(time.Now())
	if err != nil {
		t.Fatalf("CleanupSweep: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if got, _ := e.DB.GetIncident(inc.IncidentID); got != nil {
		t.Error("expired incident survived cleanup")
	}
}

func TestCompounding(t *testing.T) {
	e := testEngine(t)

	var last *store.Incident
	for i := 0; i < 3; i++ {
		last = seedIncident(t, e, store.LayerST, 5.0, float64(i), func(inc *store.Incident) {
			inc.Description = "another rough day at work"
		})
	}

	ev, merged, err := e.checkCompounding(last)
	if err != nil {
		t.Fatalf("checkCompounding: %v", err)
	}
	if ev == nil || merged == nil {
		t.Fatal("threshold met but nothing compounded")
	}
	if merged.StateLayer != store.LayerMT {
		t.Errorf("merged layer = %s, want mid_term", merged.StateLayer)
	}
	if len(ev.SourceIncidentIDs) != 3 {
		t.Errorf("sources = %v, want 3", ev.SourceIncidentIDs)
	}
	if merged.Significance < 5.0 {
		t.Errorf("merged significance %.1f under its sources", merged.Significance)
	}

	// Sources are superseded and their trails record the merge.
	for _, id := range ev.SourceIncidentIDs {
		src, _ := e.DB.GetIncident(id)
		if src.SupersededBy != merged.IncidentID {
			t.Errorf("source %s superseded_by = %q", id, src.SupersededBy)
		}
		trail, _ := e.DB.ListTransitions(id)
		if len(trail) != 1 || trail[0].Reason != store.ReasonCompounding {
			t.Errorf("source %s trail = %+v", id, trail)
		}
	}

	events, _ := e.DB.ListCompoundingEvents("user-1")
	if len(events) != 1 {
		t.Errorf("got %d compounding events, want 1", len(events))
	}
}

func TestCompoundingBelowThreshold(t *testing.T) {
	e := testEngine(t)
	a := seedIncident(t, e, store.LayerST, 5.0, 0, nil)
	seedIncident(t, e, store.LayerST, 5.0, 1, nil)

	ev, merged, err := e.checkCompounding(a)
	if err != nil {
		t.Fatalf("checkCompounding: %v", err)
	}
	if ev != nil || merged != nil {
		t.Error("compounded with only 2 incidents")
	}
}

func TestEscalation(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerMT, 45.0, 70, func(i *store.Incident) { i.MentionCount = 5 })

	escalated, err := e.checkEscalation(inc)
	if err != nil {
		t.Fatalf("checkEscalation: %v", err)
	}
	if !escalated {
		t.Fatal("5 mentions over 70 days did not escalate")
	}

	got, _ := e.DB.GetIncident(inc.IncidentID)
	if got.StateLayer != store.LayerLT {
		t.Errorf("layer = %s, want long_term", got.StateLayer)
	}
	if got.CurrentRelevance < 30.0 {
		t.Errorf("relevance %.1f below long-term floor", got.CurrentRelevance)
	}

	young := seedIncident(t, e, store.LayerMT, 45.0, 10, func(i *store.Incident) { i.MentionCount = 9 })
	if escalated, _ := e.checkEscalation(young); escalated {
		t.Error("10-day-old incident escalated on mentions alone")
	}
}

func TestResurgenceSpike(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerLT, 90.0, 400, func(i *store.Incident) { i.CurrentRelevance = 40.0 })

	ev, err := e.TriggerResurgence(inc.IncidentID, store.TriggerUserMention, "")
	if err != nil {
		t.Fatalf("TriggerResurgence: %v", err)
	}
	if math.Abs(ev.RelevanceAfter-60.0) > 0.01 {
		t.Errorf("after = %.1f, want 40 * 1.5 = 60", ev.RelevanceAfter)
	}

	got, _ := e.DB.GetIncident(inc.IncidentID)
	if math.Abs(got.CurrentRelevance-60.0) > 0.01 {
		t.Errorf("relevance = %.1f, want 60", got.CurrentRelevance)
	}
	trail, _ := e.DB.ListTransitions(inc.IncidentID)
	if len(trail) != 1 || trail[0].Reason != store.ReasonResurgence {
		t.Errorf("trail = %+v, want one resurgence transition", trail)
	}

	// The spike fades over the configured window.
	boost := e.spikeBoost(got, time.Now())
	if math.Abs(boost-20.0) > 0.5 {
		t.Errorf("fresh spike boost = %.1f, want ~20", boost)
	}
	later := time.Now().Add(20 * 24 * time.Hour)
	if b := e.spikeBoost(got, later); b != 0 {
		t.Errorf("boost after window = %.1f, want 0", b)
	}
}

func TestResurgenceCappedAtInitial(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerLT, 90.0, 400, func(i *store.Incident) { i.CurrentRelevance = 80.0 })

	ev, err := e.TriggerResurgence(inc.IncidentID, store.TriggerAnniversary, "one year")
	if err != nil {
		t.Fatalf("TriggerResurgence: %v", err)
	}
	if ev.RelevanceAfter != 90.0 {
		t.Errorf("after = %.1f, want capped at initial 90", ev.RelevanceAfter)
	}
}

func TestResurgenceOnlyLongTerm(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerST, 10.0, 1, nil)
	if _, err := e.TriggerResurgence(inc.IncidentID, store.TriggerUserMention, ""); err == nil {
		t.Error("short-term incident resurged")
	}
}

func TestSuppress(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerMT, 40.0, 5, nil)

	if err := e.Suppress(inc.IncidentID); err != nil {
		t.Fatalf("Suppress: %v", err)
	}
	got, _ := e.DB.GetIncident(inc.IncidentID)
	if !got.UserSuppressed {
		t.Fatal("incident not suppressed")
	}
	if got.IsActive(1.0) {
		t.Error("suppressed incident still active")
	}
	trail, _ := e.DB.ListTransitions(inc.IncidentID)
	if len(trail) != 1 || trail[0].Reason != store.ReasonUserSuppression {
		t.Errorf("trail = %+v", trail)
	}
}

func TestOverride(t *testing.T) {
	e := testEngine(t)
	inc := seedIncident(t, e, store.LayerST, 10.0, 1, nil)

	if err := e.Override(inc.IncidentID, store.LayerCrisis, "operator flagged"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	got, _ := e.DB.GetIncident(inc.IncidentID)
	if got.StateLayer != store.LayerCrisis {
		t.Errorf("layer = %s, want crisis", got.StateLayer)
	}
	if got.CurrentRelevance != 1000.0 {
		t.Errorf("relevance = %.0f, want crisis sentinel", got.CurrentRelevance)
	}
	trail, _ := e.DB.ListTransitions(inc.IncidentID)
	if len(trail) != 1 || trail[0].Reason != store.ReasonManualOverride {
		t.Errorf("trail = %+v", trail)
	}

	if err := e.Override(inc.IncidentID, "eternal", ""); err == nil {
		t.Error("bogus layer accepted")
	}

	// Overriding back down to short_term restarts the hard-delete clock.
	if err := e.Override(inc.IncidentID, store.LayerST, "false alarm"); err != nil {
		t.Fatalf("Override to short_term: %v", err)
	}
	got, _ = e.DB.GetIncident(inc.IncidentID)
	if got.ExpiresAt == nil {
		t.Error("short_term override left no expires_at")
	}
}

func TestBuildContextEmpathy(t *testing.T) {
	e := testEngine(t)

	seedIncident(t, e, store.LayerLT, 90.0, 30, func(i *store.Incident) { i.CurrentRelevance = 80.0 })
	tc, err := e.BuildContext("user-1")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if tc.EmpathyLevel != EmpathyHigh {
		t.Errorf("empathy = %s, want high", tc.EmpathyLevel)
	}
	if tc.SuggestedTone != "deeply_empathetic_cautious" {
		t.Errorf("tone = %s", tc.SuggestedTone)
	}
	if len(tc.Incidents) != 1 {
		t.Errorf("incidents = %d, want 1", len(tc.Incidents))
	}

	seedIncident(t, e, store.LayerCrisis, 1000.0, 0, nil)
	tc, _ = e.BuildContext("user-1")
	if tc.EmpathyLevel != EmpathyCrisis {
		t.Errorf("empathy = %s, want crisis", tc.EmpathyLevel)
	}
	if tc.SuggestedTone != "immediate_safety_protocol" {
		t.Errorf("tone = %s", tc.SuggestedTone)
	}
	if tc.Incidents[0].StateLayer != string(store.LayerCrisis) {
		t.Error("crisis incident not ranked first")
	}
}

func TestBuildContextStateDistribution(t *testing.T) {
	e := testEngine(t)

	seedIncident(t, e, store.LayerMT, 40.0, 1, nil)
	seedIncident(t, e, store.LayerST, 10.0, 1, nil)

	tc, err := e.BuildContext("user-1")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if tc.DominantState != string(store.LayerMT) {
		t.Errorf("dominant = %s, want mid_term", tc.DominantState)
	}
	mtShare := tc.StateDistribution[string(store.LayerMT)]
	stShare := tc.StateDistribution[string(store.LayerST)]
	if mtShare <= stShare {
		t.Errorf("shares: mt %.2f, st %.2f, want mt heavier", mtShare, stShare)
	}
	if sum := mtShare + stShare; math.Abs(sum-1.0) > 0.001 {
		t.Errorf("shares sum to %.3f, want 1", sum)
	}
	// A fresh 40-point mid-term incident dwarfs a 10-point short-term one.
	if mtShare < 0.4 {
		t.Errorf("mt share = %.2f, want >= 0.4", mtShare)
	}
	if tc.EmpathyLevel != EmpathyModerate {
		t.Errorf("empathy = %s, want moderate for mt share %.2f", tc.EmpathyLevel, mtShare)
	}
	if tc.CrisisDetected || tc.CrisisIncidentID != "" {
		t.Errorf("crisis flagged without a crisis incident: %v %q", tc.CrisisDetected, tc.CrisisIncidentID)
	}

	crisis := seedIncident(t, e, store.LayerCrisis, 1000.0, 0, nil)
	tc, _ = e.BuildContext("user-1")
	if !tc.CrisisDetected || tc.CrisisIncidentID != crisis.IncidentID {
		t.Errorf("crisis export = %v %q, want %s", tc.CrisisDetected, tc.CrisisIncidentID, crisis.IncidentID)
	}
	if tc.DominantState != string(store.LayerCrisis) {
		t.Errorf("dominant = %s, want crisis", tc.DominantState)
	}
	if tc.EmpathyLevel != EmpathyCrisis {
		t.Errorf("empathy = %s, want crisis with any crisis weight", tc.EmpathyLevel)
	}
}

func TestBuildContextSpecialFlags(t *testing.T) {
	e := testEngine(t)

	seedIncident(t, e, store.LayerLT, 90.0, 30, func(i *store.Incident) {
		i.CurrentRelevance = 80.0
		i.Chronic = true
	})
	tc, err := e.BuildContext("user-1")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !hasFlag(tc.SpecialFlags, "extra_sensitivity_required") {
		t.Errorf("flags = %v, want extra_sensitivity_required for high empathy", tc.SpecialFlags)
	}
	if !hasFlag(tc.SpecialFlags, "acknowledge_ongoing_struggles") {
		t.Errorf("flags = %v, want acknowledge_ongoing_struggles for chronic incident", tc.SpecialFlags)
	}

	seedIncident(t, e, store.LayerCrisis, 1000.0, 0, nil)
	seedIncident(t, e, store.LayerMT, 40.0, 1, nil)
	tc, _ = e.BuildContext("user-1")
	if !hasFlag(tc.SpecialFlags, "active_crisis") {
		t.Errorf("flags = %v, want active_crisis", tc.SpecialFlags)
	}
	if !hasFlag(tc.SpecialFlags, "multiple_active_incidents") {
		t.Errorf("flags = %v, want multiple_active_incidents with 3 active", tc.SpecialFlags)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func TestBuildContextEmptyUser(t *testing.T) {
	e := testEngine(t)
	tc, err := e.BuildContext("nobody")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if tc.EmpathyLevel != EmpathyNeutral || len(tc.Incidents) != 0 {
		t.Errorf("empty user context = %+v", tc)
	}
}
