package store

import (
	"testing"
)

func TestBaselineLifecycle(t *testing.T) {
	db := testDB(t)

	b, err := db.GetBaseline("user-1")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if b != nil {
		t.Fatal("baseline exists for fresh user")
	}

	if err := db.UpsertBaseline(&UserBaseline{
		UserID:            "user-1",
		ExpressionStyle:   StyleStoic,
		AvgIntensity:      3.2,
		IntensityStddev:   1.1,
		MessageCount:      8,
		CalibrationFactor: 1.3,
	}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}

	b, _ = db.GetBaseline("user-1")
	if b == nil || b.ExpressionStyle != StyleStoic || b.MessageCount != 8 {
		t.Fatalf("baseline = %+v", b)
	}

	// Upsert replaces in place.
	b.ExpressionStyle = StyleNeutral
	b.MessageCount = 12
	if err := db.UpsertBaseline(b); err != nil {
		t.Fatalf("second UpsertBaseline: %v", err)
	}
	b, _ = db.GetBaseline("user-1")
	if b.ExpressionStyle != StyleNeutral || b.MessageCount != 12 {
		t.Errorf("updated baseline = %+v", b)
	}
}

func TestIntensitySamples(t *testing.T) {
	db := testDB(t)

	for _, v := range []float64{3.0, 5.0, 7.0} {
		if err := db.RecordIntensitySample("user-1", v); err != nil {
			t.Fatalf("RecordIntensitySample: %v", err)
		}
	}

	samples, err := db.IntensitySamples("user-1", 0)
	if err != nil {
		t.Fatalf("IntensitySamples: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("got %d samples, want 3", len(samples))
	}

	limited, _ := db.IntensitySamples("user-1", 2)
	if len(limited) != 2 {
		t.Errorf("limited: got %d, want 2", len(limited))
	}

	other, _ := db.IntensitySamples("user-2", 0)
	if len(other) != 0 {
		t.Errorf("cross-user leak: %v", other)
	}
}

func TestCompoundingEvents(t *testing.T) {
	db := testDB(t)

	ev := &CompoundingEvent{
		CompoundingID:       "cmp-1",
		UserID:              "user-1",
		SourceIncidentIDs:   []string{"a", "b", "c"},
		ResultingIncidentID: "merged",
		WindowDays:          7,
		Domain:              "work",
	}
	if err := db.CreateCompoundingEvent(ev); err != nil {
		t.Fatalf("CreateCompoundingEvent: %v", err)
	}

	events, err := db.ListCompoundingEvents("user-1")
	if err != nil {
		t.Fatalf("ListCompoundingEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if len(events[0].SourceIncidentIDs) != 3 || events[0].Domain != "work" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestResurgenceEvents(t *testing.T) {
	db := testDB(t)
	db.CreateIncident(testIncident("inc-1", "user-1", LayerLT, 40.0))

	if ev, _ := db.LatestResurgence("inc-1"); ev != nil {
		t.Fatal("resurgence exists before any trigger")
	}

	first := &ResurgenceEvent{
		ResurgenceID:    "res-1",
		IncidentID:      "inc-1",
		UserID:          "user-1",
		TriggerType:     TriggerAnniversary,
		TriggerNote:     "one year",
		RelevanceBefore: 40.0,
		RelevanceAfter:  60.0,
		SpikeMagnitude:  20.0,
		OccurredAt:      1000,
	}
	second := &ResurgenceEvent{
		ResurgenceID:    "res-2",
		IncidentID:      "inc-1",
		UserID:          "user-1",
		TriggerType:     TriggerUserMention,
		RelevanceBefore: 50.0,
		RelevanceAfter:  75.0,
		SpikeMagnitude:  25.0,
		OccurredAt:      2000,
	}
	if err := db.CreateResurgenceEvent(first); err != nil {
		t.Fatalf("CreateResurgenceEvent: %v", err)
	}
	if err := db.CreateResurgenceEvent(second); err != nil {
		t.Fatalf("CreateResurgenceEvent: %v", err)
	}

	events, err := db.ListResurgenceEvents("inc-1")
	if err != nil {
		t.Fatalf("ListResurgenceEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	latest, _ := db.LatestResurgence("inc-1")
	if latest.ResurgenceID != "res-2" {
		t.Errorf("latest = %s, want res-2", latest.ResurgenceID)
	}
	if latest.TriggerNote != "" {
		t.Errorf("note = %q, want empty", latest.TriggerNote)
	}
}

func TestDecaySnapshots(t *testing.T) {
	db := testDB(t)
	db.CreateIncident(testIncident("inc-1", "user-1", LayerST, 10.0))

	for i, rel := range []float64{10.0, 7.4, 5.5} {
		snap := &DecaySnapshot{
			IncidentID:  "inc-1",
			Relevance:   rel,
			DaysElapsed: float64(i),
			DecayModel:  DecayExponential,
			CreatedAt:   int64(1000 + i),
		}
		if err := db.RecordDecaySnapshot(snap); err != nil {
			t.Fatalf("RecordDecaySnapshot: %v", err)
		}
	}

	snaps, err := db.ListDecaySnapshots("inc-1", 0)
	if err != nil {
		t.Fatalf("ListDecaySnapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}
	// Oldest first.
	if snaps[0].Relevance != 10.0 || snaps[2].Relevance != 5.5 {
		t.Errorf("order: %v", snaps)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	db := testDB(t)
	db.CreateIncident(testIncident("inc-1", "user-1", LayerMT, 36.0))

	vec := []float64{0.1, -0.5, 0.9}
	if err := db.SaveVector("inc-1", vec, "test-model"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector("inc-1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil || got.Model != "test-model" || got.Dimensions != 3 {
		t.Fatalf("vector = %+v", got)
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}

	// Replace in place.
	if err := db.SaveVector("inc-1", []float64{1, 2}, "other"); err != nil {
		t.Fatalf("second SaveVector: %v", err)
	}
	got, _ = db.GetVector("inc-1")
	if got.Dimensions != 2 || got.Model != "other" {
		t.Errorf("replaced vector = %+v", got)
	}

	user, err := db.UserVectors("user-1")
	if err != nil {
		t.Fatalf("UserVectors: %v", err)
	}
	if len(user) != 1 {
		t.Errorf("user vectors = %d, want 1", len(user))
	}

	if missing, _ := db.GetVector("nope"); missing != nil {
		t.Error("vector for unknown incident")
	}
}
