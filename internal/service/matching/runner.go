package matching

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
)

// runner drives one request's escalation episode. It is the only
// writer of that request's status: every response, deadline and
// cancellation funnels through its event loop.
type runner struct {
	e   *Engine
	req *model.BloodRequest

	events chan runnerEvent
	done   chan struct{}

	wave   int
	radius float64

	// notified holds every donor alerted this episode; a donor is
	// never re-notified within it. awaiting is the subset still
	// expected to answer the current wave.
	notified map[uuid.UUID]bool
	awaiting map[uuid.UUID]bool
	accepted []uuid.UUID

	waveStart time.Time
	waveTimer *time.Timer
}

func newRunner(e *Engine, req *model.BloodRequest) *runner {
	return &runner{
		e:        e,
		req:      req,
		events:   make(chan runnerEvent),
		done:     make(chan struct{}),
		notified: make(map[uuid.UUID]bool),
		awaiting: make(map[uuid.UUID]bool),
	}
}

func (r *runner) run(ctx context.Context) {
	defer func() {
		close(r.done)
		r.e.removeRunner(r.req.ID)
	}()

	expiryTimer := time.NewTimer(time.Until(r.req.NeededBy))
	defer expiryTimer.Stop()

	if stop := r.begin(ctx); stop {
		return
	}

	for {
		var waveC <-chan time.Time
		if r.waveTimer != nil {
			waveC = r.waveTimer.C
		}

		select {
		case <-ctx.Done():
			// Shutdown: state is persisted, Resume rebuilds the episode.
			return
		case <-expiryTimer.C:
			if r.handleExpiry(ctx) {
				return
			}
		case <-waveC:
			if r.handleWaveTimeout(ctx) {
				return
			}
		case ev := <-r.events:
			var stop bool
			switch ev.kind {
			case eventResponse:
				stop = r.handleResponse(ctx, ev)
			case eventCancel:
				stop = r.handleCancel(ctx, ev)
			}
			if stop {
				return
			}
		}
	}
}

// begin either dispatches wave 0 or, after a restart, rebuilds the
// in-flight wave from persisted state.
func (r *runner) begin(ctx context.Context) bool {
	if r.req.WaveNumber == 0 && r.req.WaveDeadline == nil {
		r.radius = r.e.cfg.BaseRadiusFor(r.req.Urgency)
		return r.dispatchWave(ctx)
	}

	r.wave = r.req.WaveNumber
	r.radius = r.req.SearchRadius
	r.waveStart = time.Now()

	matches, err := r.e.matches.ListForRequest(ctx, r.req.ID)
	if err != nil {
		r.e.logger.Error(err, "failed to restore matches", "request_id", r.req.ID.String())
	}
	for _, m := range matches {
		r.notified[m.DonorID] = true
		switch m.Status {
		case model.MatchStatusNotified:
			r.awaiting[m.DonorID] = true
		case model.MatchStatusAccepted:
			r.accepted = append(r.accepted, m.DonorID)
		}
	}

	if r.req.WaveDeadline != nil {
		r.resetWaveTimer(time.Until(*r.req.WaveDeadline))
		return false
	}
	return r.dispatchWave(ctx)
}

// dispatchWave selects candidates at the current radius, widening it
// before dispatch while the pool is below the configured minimum, and
// notifies the top K not yet contacted this episode.
func (r *runner) dispatchWave(ctx context.Context) bool {
	var candidates []Candidate
	for {
		cands, err := r.e.selector.Select(ctx, r.req, r.radius, r.notified, r.wave > 0)
		if err != nil {
			// Store hiccup: keep the episode alive and retry at the
			// wave deadline.
			r.e.logger.Error(err, "candidate selection failed", "request_id", r.req.ID.String())
			return r.armWave(ctx, 0)
		}
		candidates = cands
		if len(candidates) >= r.e.cfg.MinCandidates || r.radius >= r.e.cfg.MaxRadiusKM {
			break
		}
		r.radius = r.growRadius()
	}

	if len(candidates) > r.e.cfg.CandidatesPerWave {
		candidates = candidates[:r.e.cfg.CandidatesPerWave]
	}

	if len(candidates) == 0 && r.radius >= r.e.cfg.MaxRadiusKM {
		// Pool exhausted at max radius; no point counting empty waves.
		return r.escalate(ctx)
	}

	now := time.Now()
	for _, c := range candidates {
		match := &model.Match{
			RequestID:  r.req.ID,
			DonorID:    c.Donor.ID,
			Wave:       r.wave,
			DistanceKM: c.DistanceKM,
			Status:     model.MatchStatusNotified,
			NotifiedAt: &now,
		}
		if err := r.e.matches.Create(ctx, match); err != nil {
			r.e.logger.Error(err, "failed to create match",
				"request_id", r.req.ID.String(),
				"donor_id", c.Donor.ID.String())
			continue
		}
		r.notified[c.Donor.ID] = true
		r.awaiting[c.Donor.ID] = true

		summary := model.RequestSummary{
			RequestID:    r.req.ID,
			HospitalName: r.req.HospitalName,
			BloodType:    r.req.BloodType,
			Urgency:      r.req.Urgency,
			UnitsNeeded:  r.req.OutstandingUnits(),
			DistanceKM:   c.DistanceKM,
			NeededBy:     r.req.NeededBy,
		}
		// Best effort: a delivery failure counts as an implicit
		// non-response, the deadline still governs.
		if err := r.e.dispatcher.Notify(ctx, c.Donor, summary); err != nil {
			r.e.logger.Error(err, "failed to dispatch donor alert",
				"request_id", r.req.ID.String(),
				"donor_id", c.Donor.ID.String())
		}
	}

	if r.e.metrics != nil {
		r.e.metrics.WavesDispatched.WithLabelValues(string(r.req.Urgency)).Inc()
		r.e.metrics.CandidatesSelected.Observe(float64(len(candidates)))
	}
	r.e.logger.Info("wave dispatched",
		"request_id", r.req.ID.String(),
		"wave", r.wave,
		"radius_km", r.radius,
		"candidates", len(candidates))

	return r.armWave(ctx, len(candidates))
}

// armWave persists wave bookkeeping and starts the deadline timer.
func (r *runner) armWave(ctx context.Context, dispatched int) bool {
	d := r.e.cfg.WaveDeadlineFor(r.req.Urgency)
	deadline := time.Now().Add(d)

	r.req.WaveNumber = r.wave
	r.req.SearchRadius = r.radius
	r.req.WaveDeadline = &deadline
	if err := r.e.requests.UpdateWaveState(ctx, r.req.ID, r.wave, r.radius, &deadline); err != nil {
		r.e.logger.Error(err, "failed to persist wave state", "request_id", r.req.ID.String())
	}

	r.waveStart = time.Now()
	r.resetWaveTimer(d)
	return false
}

func (r *runner) handleWaveTimeout(ctx context.Context) bool {
	// The needed-by deadline is authoritative over wave scheduling.
	if time.Now().After(r.req.NeededBy) {
		return r.handleExpiry(ctx)
	}

	if r.e.metrics != nil {
		r.e.metrics.WaveDuration.Observe(time.Since(r.waveStart).Seconds())
	}

	if _, err := r.e.matches.CloseOpen(ctx, r.req.ID, model.MatchStatusExpired); err != nil {
		r.e.logger.Error(err, "failed to expire unanswered matches", "request_id", r.req.ID.String())
	}
	r.awaiting = make(map[uuid.UUID]bool)

	if r.wave+1 >= r.e.cfg.MaxWaves {
		return r.escalate(ctx)
	}

	r.wave++
	r.radius = r.growRadius()
	return r.dispatchWave(ctx)
}

func (r *runner) handleResponse(ctx context.Context, ev runnerEvent) bool {
	match, err := r.e.matches.Get(ctx, r.req.ID, ev.donorID)
	if err != nil {
		ev.reply <- err
		return false
	}

	if ev.response == model.DonorResponseDeclined {
		ok, err := r.e.matches.UpdateStatusFrom(ctx, match.ID, model.MatchStatusDeclined, nil, model.MatchStatusNotified)
		if err != nil {
			ev.reply <- errors.NewInternal(err)
			return false
		}
		delete(r.awaiting, ev.donorID)
		if r.e.metrics != nil {
			r.e.metrics.DonorResponses.WithLabelValues("declined").Inc()
		}
		ev.reply <- nil
		// Duplicate declines collapse to one state change.
		if ok && len(r.awaiting) == 0 {
			return r.advanceEarly(ctx)
		}
		return false
	}

	// ACCEPTED. The donor may have become unavailable or donated
	// elsewhere since the wave was dispatched; a stale accept converts
	// to a decline rather than failing the donor.
	donor, err := r.e.donors.Get(ctx, ev.donorID)
	if err != nil {
		ev.reply <- err
		return false
	}
	if !donor.Eligible(r.e.cfg.Cooldown(), time.Now()) {
		reason := model.DeclineReasonIneligible
		if _, err := r.e.matches.UpdateStatusFrom(ctx, match.ID, model.MatchStatusDeclined, &reason, model.MatchStatusNotified); err != nil {
			r.e.logger.Error(err, "failed to record ineligible accept", "request_id", r.req.ID.String())
		}
		delete(r.awaiting, ev.donorID)
		if r.e.metrics != nil {
			r.e.metrics.DonorResponses.WithLabelValues("ineligible").Inc()
		}
		r.e.logger.Warn("accept from no-longer-eligible donor converted to decline",
			"request_id", r.req.ID.String(),
			"donor_id", ev.donorID.String())
		ev.reply <- nil
		if len(r.awaiting) == 0 {
			return r.advanceEarly(ctx)
		}
		return false
	}

	ok, err := r.e.matches.UpdateStatusFrom(ctx, match.ID, model.MatchStatusAccepted, nil, model.MatchStatusNotified)
	if err != nil {
		ev.reply <- errors.NewInternal(err)
		return false
	}
	if !ok {
		// Already answered; duplicate accepts are no-ops.
		ev.reply <- nil
		return false
	}

	if err := r.e.requests.IncrementUnitsReceived(ctx, r.req.ID); err != nil {
		ev.reply <- errors.NewInternal(err)
		return false
	}
	r.req.UnitsReceived++
	r.accepted = append(r.accepted, ev.donorID)
	delete(r.awaiting, ev.donorID)
	if r.e.metrics != nil {
		r.e.metrics.DonorResponses.WithLabelValues("accepted").Inc()
	}

	if r.req.OutstandingUnits() == 0 {
		ev.reply <- nil
		return r.complete(ctx)
	}

	// Partial coverage: request moves to FULFILLING and the episode
	// keeps hunting for the remaining units.
	if _, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusFulfilling, model.RequestStatusMatching); err != nil {
		r.e.logger.Error(err, "failed to mark request fulfilling", "request_id", r.req.ID.String())
	} else {
		r.req.Status = model.RequestStatusFulfilling
	}
	ev.reply <- nil
	if len(r.awaiting) == 0 {
		return r.advanceEarly(ctx)
	}
	return false
}

// advanceEarly moves to the next wave once every notified donor of the
// current wave has answered; waiting out the deadline would gain
// nothing.
func (r *runner) advanceEarly(ctx context.Context) bool {
	return r.handleWaveTimeout(ctx)
}

// complete finishes a request whose accepted units cover the need.
func (r *runner) complete(ctx context.Context) bool {
	if _, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusMatched,
		model.RequestStatusMatching, model.RequestStatusFulfilling); err != nil {
		r.e.logger.Error(err, "failed to mark request matched", "request_id", r.req.ID.String())
	}

	if _, err := r.e.matches.CloseOpen(ctx, r.req.ID, model.MatchStatusExpired); err != nil {
		r.e.logger.Error(err, "failed to expire remaining matches", "request_id", r.req.ID.String())
	}

	now := time.Now()
	for _, donorID := range r.accepted {
		if err := r.e.donors.MarkDonated(ctx, donorID, now); err != nil {
			r.e.logger.Error(err, "failed to update donor after donation",
				"request_id", r.req.ID.String(),
				"donor_id", donorID.String())
		}
	}

	matches, err := r.e.matches.ListForRequest(ctx, r.req.ID)
	if err == nil {
		for _, m := range matches {
			if m.Status == model.MatchStatusAccepted {
				if _, err := r.e.matches.UpdateStatusFrom(ctx, m.ID, model.MatchStatusCompleted, nil, model.MatchStatusAccepted); err != nil {
					r.e.logger.Error(err, "failed to complete match", "match_id", m.ID.String())
				}
			}
		}
	}

	if _, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusCompleted, model.RequestStatusMatched); err != nil {
		r.e.logger.Error(err, "failed to complete request", "request_id", r.req.ID.String())
		return true
	}
	r.req.Status = model.RequestStatusCompleted

	r.stopWaveTimer()
	r.e.recordOutcome(ctx, r.req.ID, model.RequestStatusCompleted)
	r.e.logger.Info("request completed",
		"request_id", r.req.ID.String(),
		"units", r.req.UnitsNeeded,
		"waves", r.wave+1)
	return true
}

// escalate parks the request for a human dispatcher after automated
// matching exhausted its waves and radius, consulting blood-bank stock
// on the way out.
func (r *runner) escalate(ctx context.Context) bool {
	ok, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusEscalated,
		model.RequestStatusMatching, model.RequestStatusFulfilling)
	if err != nil {
		r.e.logger.Error(err, "failed to escalate request", "request_id", r.req.ID.String())
		return true
	}
	if !ok {
		return true
	}
	r.req.Status = model.RequestStatusEscalated

	if _, err := r.e.matches.CloseOpen(ctx, r.req.ID, model.MatchStatusExpired); err != nil {
		r.e.logger.Error(err, "failed to expire open matches", "request_id", r.req.ID.String())
	}

	stockUnits := 0
	if r.e.stock != nil {
		units, err := r.e.stock.CheckStock(ctx, r.req.BloodType)
		if err != nil {
			r.e.logger.Error(err, "failed to check blood bank stock", "request_id", r.req.ID.String())
		} else {
			stockUnits = units
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"request_id":        r.req.ID,
		"blood_type":        r.req.BloodType,
		"urgency":           r.req.Urgency,
		"units_outstanding": r.req.OutstandingUnits(),
		"stock_units":       stockUnits,
		"waves":             r.wave + 1,
		"radius_km":         r.radius,
	})
	if err == nil {
		if err := r.e.outbox.Create(ctx, &model.OutboxEvent{
			EventType: model.EventRequestEscalated,
			Payload:   payload,
		}); err != nil {
			r.e.logger.Error(err, "failed to record escalation event", "request_id", r.req.ID.String())
		}
	}

	if r.e.metrics != nil {
		r.e.metrics.RequestOutcomes.WithLabelValues(string(model.RequestStatusEscalated)).Inc()
	}
	r.e.logger.Warn("request escalated",
		"request_id", r.req.ID.String(),
		"units_outstanding", r.req.OutstandingUnits(),
		"stock_units", stockUnits)

	r.stopWaveTimer()
	return true
}

func (r *runner) handleExpiry(ctx context.Context) bool {
	ok, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusExpired,
		model.RequestStatusMatching, model.RequestStatusMatched, model.RequestStatusFulfilling)
	if err != nil {
		r.e.logger.Error(err, "failed to expire request", "request_id", r.req.ID.String())
		return true
	}
	if !ok {
		return true
	}
	r.req.Status = model.RequestStatusExpired

	if _, err := r.e.matches.CloseOpen(ctx, r.req.ID, model.MatchStatusExpired); err != nil {
		r.e.logger.Error(err, "failed to expire open matches", "request_id", r.req.ID.String())
	}

	r.stopWaveTimer()
	r.e.recordOutcome(ctx, r.req.ID, model.RequestStatusExpired)
	r.e.logger.Warn("request expired before fulfillment",
		"request_id", r.req.ID.String(),
		"accepted_units", r.req.UnitsReceived)
	return true
}

func (r *runner) handleCancel(ctx context.Context, ev runnerEvent) bool {
	ok, err := r.e.requests.UpdateStatusFrom(ctx, r.req.ID, model.RequestStatusCancelled,
		model.RequestStatusMatching, model.RequestStatusMatched, model.RequestStatusFulfilling)
	if err != nil {
		ev.reply <- errors.NewInternal(err)
		return false
	}
	if !ok {
		ev.reply <- errors.NewAlreadyTerminal("request already in a terminal state")
		return true
	}
	r.req.Status = model.RequestStatusCancelled

	if _, err := r.e.matches.CloseOpen(ctx, r.req.ID, model.MatchStatusCancelled); err != nil {
		r.e.logger.Error(err, "failed to cancel open matches", "request_id", r.req.ID.String())
	}

	r.stopWaveTimer()
	r.e.recordOutcome(ctx, r.req.ID, model.RequestStatusCancelled)
	r.e.logger.Info("request cancelled", "request_id", r.req.ID.String())
	ev.reply <- nil
	return true
}

func (r *runner) growRadius() float64 {
	next := r.radius * r.e.cfg.RadiusGrowth
	if next > r.e.cfg.MaxRadiusKM {
		next = r.e.cfg.MaxRadiusKM
	}
	return next
}

func (r *runner) resetWaveTimer(d time.Duration) {
	r.stopWaveTimer()
	r.waveTimer = time.NewTimer(d)
}

func (r *runner) stopWaveTimer() {
	if r.waveTimer != nil {
		r.waveTimer.Stop()
	}
}
