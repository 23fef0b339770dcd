package engine

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quietvoice/prism/internal/store"
)

// Decay curves, per state layer:
//   - short-term:  exponential  relevance(t) = initial * e^(-lambda*t)
//   - mid-term:    logistic     relevance(t) = initial / (1 + e^(k*(t - halfLife)))
//   - long-term:   asymptotic   relevance(t) = floor + (initial - floor) * e^(-mu*t)
//   - crisis:      exempt, never decays
//
// t is days since the incident was last mentioned. Computed in Go, not SQL,
// because modernc.org/sqlite lacks pow().

// relevanceAt computes an incident's base relevance at the given time,
// before any resurgence spike.
func (e *Engine) relevanceAt(inc *store.Incident, now time.Time) float64 {
	t := inc.DaysSinceLastMention(now)
	if t < 0 {
		t = 0
	}
	d := e.Config.Decay

	switch inc.DecayModel() {
	case store.DecayExponential:
		return inc.InitialSignificance * math.Exp(-d.STLambda*t)

	case store.DecaySigmoid:
		k := clamp(d.MTSteepness, d.MTSteepnessMin, d.MTSteepnessMax)
		return inc.InitialSignificance / (1 + math.Exp(k*(t-d.MTHalfLifeDays)))

	case store.DecayAsymptotic:
		floor := d.LTFloor
		if inc.Chronic {
			floor = d.LTChronicFloor
		}
		if inc.InitialSignificance <= floor {
			return floor
		}
		return floor + (inc.InitialSignificance-floor)*math.Exp(-d.LTMu*t)

	default: // crisis
		return inc.CurrentRelevance
	}
}

// spikeBoost returns the remaining resurgence contribution: the spike
// magnitude fades linearly back to the base curve over SpikeDecayDays.
func (e *Engine) spikeBoost(inc *store.Incident, now time.Time) float64 {
	ev, err := e.DB.LatestResurgence(inc.IncidentID)
	if err != nil || ev == nil {
		return 0
	}
	days := float64(now.UnixMilli()-ev.OccurredAt) / float64(dayMillis)
	window := float64(e.Config.Resurgence.SpikeDecayDays)
	if days < 0 || days >= window {
		return 0
	}
	return ev.SpikeMagnitude * (1 - days/window)
}

// EffectiveRelevance is the decayed relevance plus any live resurgence spike.
func (e *Engine) EffectiveRelevance(inc *store.Incident, now time.Time) float64 {
	return e.relevanceAt(inc, now) + e.spikeBoost(inc, now)
}

// DecaySweep recomputes relevance for every live incident and snapshots the
// readings. Crisis incidents are exempt. Returns the number updated.
func (e *Engine) DecaySweep(now time.Time) (int, error) {
	incidents, err := e.DB.AllLiveIncidents()
	if err != nil {
		return 0, fmt.Errorf("load live incidents: %w", err)
	}

	updated := 0
	for i := range incidents {
		inc := &incidents[i]
		if inc.StateLayer == store.LayerCrisis {
			continue
		}

		relevance := e.EffectiveRelevance(inc, now)
		if math.Abs(relevance-inc.CurrentRelevance) < 1e-9 {
			continue
		}
		if err := e.DB.SetRelevance(inc.IncidentID, relevance); err != nil {
			return updated, err
		}
		snap := &store.DecaySnapshot{
			IncidentID:  inc.IncidentID,
			Relevance:   relevance,
			DaysElapsed: inc.DaysSinceLastMention(now),
			DecayModel:  inc.DecayModel(),
		}
		if err := e.DB.RecordDecaySnapshot(snap); err != nil {
			log.Printf("decay snapshot for %s: %v", inc.IncidentID, err)
		}
		updated++
	}
	return updated, nil
}

// TransitionSweep applies time-driven state changes: mid-term incidents past
// their maximum lifetime demote to short-term, and long-term incidents near
// a creation anniversary resurge.
func (e *Engine) TransitionSweep(now time.Time) (int, error) {
	incidents, err := e.DB.AllLiveIncidents()
	if err != nil {
		return 0, fmt.Errorf("load live incidents: %w", err)
	}

	changed := 0
	for i := range incidents {
		inc := &incidents[i]
		switch inc.StateLayer {
		case store.LayerMT:
			if inc.DaysSinceCreation(now) >= float64(e.Config.Decay.MTMaxLifetimeDays) {
				if err := e.demoteToST(inc, now); err != nil {
					return changed, err
				}
				changed++
			}
		case store.LayerLT:
			if e.Config.Features.Resurgence && e.nearAnniversary(inc, now) {
				if _, err := e.TriggerResurgence(inc.IncidentID, store.TriggerAnniversary,
					fmt.Sprintf("%.0f days since the incident", inc.DaysSinceCreation(now))); err != nil {
					log.Printf("anniversary resurgence for %s: %v", inc.IncidentID, err)
					continue
				}
				changed++
			}
		}
	}
	return changed, nil
}

// demoteToST moves a stale mid-term incident down. Its remaining relevance
// carries over and it picks up a short-term expiry, so the cleanup sweep
// hard-deletes it on the usual schedule.
func (e *Engine) demoteToST(inc *store.Incident, now time.Time) error {
	relevance := e.relevanceAt(inc, now)
	tr := &store.StateTransition{
		TransitionID:       uuid.NewString(),
		IncidentID:         inc.IncidentID,
		UserID:             inc.UserID,
		FromState:          store.LayerMT,
		ToState:            store.LayerST,
		Reason:             store.ReasonDecay,
		SignificanceBefore: inc.CurrentRelevance,
		SignificanceAfter:  relevance,
		Notes:              fmt.Sprintf("mid-term lifetime of %d days exceeded", e.Config.Decay.MTMaxLifetimeDays),
	}
	if err := e.DB.ApplyTransition(tr, relevance, inc.UserSuppressed, e.stExpiry(now.UnixMilli())); err != nil {
		return fmt.Errorf("demote %s: %w", inc.IncidentID, err)
	}
	return nil
}

// stExpiry returns the hard-delete deadline for an incident entering
// short_term at the given time.
func (e *Engine) stExpiry(nowMillis int64) *int64 {
	expires := nowMillis + int64(e.Config.Decay.STMaxLifetimeDays)*dayMillis
	return &expires
}

// CleanupSweep hard-deletes short-term incidents past their expiry.
func (e *Engine) CleanupSweep(now time.Time) (int, error) {
	expired, err := e.DB.ExpiredSTIncidents(now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("load expired incidents: %w", err)
	}
	deleted := 0
	for i := range expired {
		if err := e.DB.DeleteIncident(expired[i].IncidentID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// StartSweeps runs each sweep once at startup and then on its configured
// interval.
func (e *Engine) StartSweeps() {
	e.runSweeps(time.Now())

	decayTick := time.NewTicker(time.Duration(e.Config.Sweeps.DecayIntervalHours) * time.Hour)
	transitionTick := time.NewTicker(time.Duration(e.Config.Sweeps.TransitionIntervalHours) * time.Hour)
	cleanupTick := time.NewTicker(time.Duration(e.Config.Sweeps.CleanupIntervalHours) * time.Hour)

	go func() {
		defer decayTick.Stop()
		defer transitionTick.Stop()
		defer cleanupTick.Stop()

		for {
			select {
			case <-decayTick.C:
				if n, err := e.DecaySweep(time.Now()); err != nil {
					log.Printf("decay sweep: %v", err)
				} else if n > 0 {
					log.Printf("decay sweep: updated %d incidents", n)
				}
			case <-transitionTick.C:
				if n, err := e.TransitionSweep(time.Now()); err != nil {
					log.Printf("transition sweep: %v", err)
				} else if n > 0 {
					log.Printf("transition sweep: %d state changes", n)
				}
			case <-cleanupTick.C:
				if n, err := e.CleanupSweep(time.Now()); err != nil {
					log.Printf("cleanup sweep: %v", err)
				} else if n > 0 {
					log.Printf("cleanup sweep: deleted %d incidents", n)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runSweeps(now time.Time) {
	if n, err := e.DecaySweep(now); err != nil {
		log.Printf("decay sweep: %v", err)
	} else if n > 0 {
		log.Printf("decay sweep: updated %d incidents", n)
	}
	if n, err := e.TransitionSweep(now); err != nil {
		log.Printf("transition sweep: %v", err)
	} else if n > 0 {
		log.Printf("transition sweep: %d state changes", n)
	}
	if n, err := e.CleanupSweep(now); err != nil {
		log.Printf("cleanup sweep: %v", err)
	} else if n > 0 {
		log.Printf("cleanup sweep: deleted %d incidents", n)
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
