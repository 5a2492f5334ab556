package matching

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
)

type testEnv struct {
	engine     *Engine
	donors     *fakeDonorRepo
	requests   *fakeRequestRepo
	matches    *fakeMatchRepo
	outbox     *fakeOutboxRepo
	dispatcher *fakeDispatcher
}

func newTestEnv(t *testing.T, cfg config.MatchingConfig, stockUnits int) *testEnv {
	t.Helper()
	env := &testEnv{
		donors:     newFakeDonorRepo(),
		requests:   newFakeRequestRepo(),
		matches:    newFakeMatchRepo(),
		outbox:     newFakeOutboxRepo(),
		dispatcher: &fakeDispatcher{},
	}
	env.engine = NewEngine(
		cfg,
		env.requests,
		env.matches,
		env.donors,
		env.outbox,
		env.dispatcher,
		&fakeStock{units: stockUnits},
		testLogger(),
		nil,
	)
	t.Cleanup(env.engine.Shutdown)
	return env
}

func (e *testEnv) start(t *testing.T, ctx context.Context, req *model.BloodRequest) {
	t.Helper()
	require.NoError(t, e.requests.Create(ctx, req))
	require.NoError(t, e.engine.Start(req))
}

func (e *testEnv) status(t *testing.T, id uuid.UUID) model.RequestStatus {
	t.Helper()
	req, err := e.requests.Get(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}

func (e *testEnv) matchStatus(t *testing.T, requestID, donorID uuid.UUID) model.MatchStatus {
	t.Helper()
	m, err := e.matches.Get(context.Background(), requestID, donorID)
	require.NoError(t, err)
	return m.Status
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestWaveNotifiesNearestCandidates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = time.Second
	env := newTestEnv(t, cfg, 0)

	near := testDonor(model.BloodTypeOPos, 0.01)
	mid := testDonor(model.BloodTypeOPos, 0.05)
	far := testDonor(model.BloodTypeOPos, 0.1)
	for _, d := range []*model.Donor{near, mid, far} {
		require.NoError(t, env.donors.Create(ctx, d))
	}

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)

	waitFor(t, func() bool { return env.dispatcher.count() == 2 })
	assert.ElementsMatch(t, []uuid.UUID{near.ID, mid.ID}, env.dispatcher.donorIDs())

	stored, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.WaveNumber)
	assert.Equal(t, 50.0, stored.SearchRadius)
	require.NotNil(t, stored.WaveDeadline)

	info, err := env.engine.Status(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusMatching, info.Status)
	assert.NotNil(t, info.NextDeadline)
}

func TestEpisodeOutlivesSubmissionContext(t *testing.T) {
	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(context.Background(), d))

	// The submission context ends the moment the intake call returns,
	// long before the donor answers.
	submitCtx, cancelSubmit := context.WithCancel(context.Background())
	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, submitCtx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 1 })
	cancelSubmit()

	ctx := context.Background()
	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d.ID, model.DonorResponseAccepted))
	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusCompleted })
	assert.Equal(t, model.MatchStatusCompleted, env.matchStatus(t, req.ID, d.ID))
}

func TestAcceptedUnitsCompleteRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.CandidatesPerWave = 3
	cfg.WaveDeadline["high"] = time.Second
	env := newTestEnv(t, cfg, 0)

	d1 := testDonor(model.BloodTypeOPos, 0.01)
	d2 := testDonor(model.BloodTypeOPos, 0.02)
	d3 := testDonor(model.BloodTypeOPos, 0.03)
	for _, d := range []*model.Donor{d1, d2, d3} {
		require.NoError(t, env.donors.Create(ctx, d))
	}

	req := testRequest(model.BloodTypeAPos, 2)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 3 })

	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d1.ID, model.DonorResponseAccepted))
	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusFulfilling })

	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d2.ID, model.DonorResponseAccepted))
	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusCompleted })

	assert.Equal(t, model.MatchStatusCompleted, env.matchStatus(t, req.ID, d1.ID))
	assert.Equal(t, model.MatchStatusCompleted, env.matchStatus(t, req.ID, d2.ID))
	assert.Equal(t, model.MatchStatusExpired, env.matchStatus(t, req.ID, d3.ID))

	// Accepted donors drop out of the pool with a fresh donation stamp.
	for _, id := range []uuid.UUID{d1.ID, d2.ID} {
		donor, err := env.donors.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, donor.Available)
		assert.NotNil(t, donor.LastDonation)
	}
	untouched, err := env.donors.Get(ctx, d3.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Available)

	resolved := env.outbox.eventsOfType(model.EventRequestResolved)
	require.Len(t, resolved, 1)

	// A straggler response after completion is acknowledged as a no-op.
	waitFor(t, func() bool {
		err := env.engine.RecordResponse(ctx, req.ID, d3.ID, model.DonorResponseAccepted)
		return errors.IsAlreadyResolved(err)
	})
}

func TestEscalatesWhenPoolExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, testConfig(), 7)

	req := testRequest(model.BloodTypeABNeg, 1)
	env.start(t, ctx, req)

	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusEscalated })

	escalations := env.outbox.eventsOfType(model.EventRequestEscalated)
	require.Len(t, escalations, 1)

	var payload struct {
		StockUnits       int `json:"stock_units"`
		UnitsOutstanding int `json:"units_outstanding"`
	}
	require.NoError(t, json.Unmarshal(escalations[0].Payload, &payload))
	assert.Equal(t, 7, payload.StockUnits)
	assert.Equal(t, 1, payload.UnitsOutstanding)

	// Escalated requests no longer accept responses but can be cancelled
	// by the dispatcher.
	err := env.engine.RecordResponse(ctx, req.ID, uuid.New(), model.DonorResponseAccepted)
	assert.True(t, errors.IsAlreadyResolved(err))

	require.NoError(t, env.engine.Cancel(ctx, req.ID))
	assert.Equal(t, model.RequestStatusCancelled, env.status(t, req.ID))
}

func TestWaveTimeoutEscalatesAtWaveCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.MaxWaves = 1
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)

	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusEscalated })
	assert.Equal(t, model.MatchStatusExpired, env.matchStatus(t, req.ID, d.ID))
}

func TestWaveTimeoutWidensRadiusAndRenotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, testConfig(), 0)

	donors := []*model.Donor{
		testDonor(model.BloodTypeOPos, 0.01),
		testDonor(model.BloodTypeOPos, 0.02),
		testDonor(model.BloodTypeOPos, 0.03),
		testDonor(model.BloodTypeOPos, 0.04),
	}
	for _, d := range donors {
		require.NoError(t, env.donors.Create(ctx, d))
	}

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)

	// Wave 0 notifies two, times out, wave 1 picks the remaining two.
	waitFor(t, func() bool { return env.dispatcher.count() == 4 })
	ids := env.dispatcher.donorIDs()
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "donor notified twice in one episode")
		seen[id] = true
	}

	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusEscalated })

	stored, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.WaveNumber)
	assert.GreaterOrEqual(t, stored.SearchRadius, 50.0)
}

func TestAllDeclinedAdvancesWaveEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	donors := []*model.Donor{
		testDonor(model.BloodTypeOPos, 0.01),
		testDonor(model.BloodTypeOPos, 0.02),
		testDonor(model.BloodTypeOPos, 0.03),
		testDonor(model.BloodTypeOPos, 0.04),
	}
	for _, d := range donors {
		require.NoError(t, env.donors.Create(ctx, d))
	}

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 2 })

	for _, id := range env.dispatcher.donorIDs() {
		require.NoError(t, env.engine.RecordResponse(ctx, req.ID, id, model.DonorResponseDeclined))
	}

	// The next wave goes out well before the 5s deadline.
	waitFor(t, func() bool { return env.dispatcher.count() == 4 })
	assert.Equal(t, model.RequestStatusMatching, env.status(t, req.ID))
}

func TestDuplicateDeclineIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d1 := testDonor(model.BloodTypeOPos, 0.01)
	d2 := testDonor(model.BloodTypeOPos, 0.02)
	require.NoError(t, env.donors.Create(ctx, d1))
	require.NoError(t, env.donors.Create(ctx, d2))

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 2 })

	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d1.ID, model.DonorResponseDeclined))
	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d1.ID, model.DonorResponseDeclined))

	assert.Equal(t, model.MatchStatusDeclined, env.matchStatus(t, req.ID, d1.ID))
	assert.Equal(t, model.RequestStatusMatching, env.status(t, req.ID))
}

func TestStaleAcceptConvertsToDecline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 1 })

	// Donor toggles availability off between notification and response.
	env.donors.setAvailable(d.ID, false)

	require.NoError(t, env.engine.RecordResponse(ctx, req.ID, d.ID, model.DonorResponseAccepted))

	m, err := env.matches.Get(ctx, req.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusDeclined, m.Status)
	require.NotNil(t, m.StatusReason)
	assert.Equal(t, model.DeclineReasonIneligible, *m.StatusReason)

	stored, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnitsReceived)
}

func TestNeededByDeadlineExpiresRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	req := testRequest(model.BloodTypeAPos, 1)
	req.NeededBy = time.Now().Add(100 * time.Millisecond)
	env.start(t, ctx, req)

	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusExpired })
	assert.Equal(t, model.MatchStatusExpired, env.matchStatus(t, req.ID, d.ID))

	err := env.engine.Cancel(ctx, req.ID)
	assert.True(t, errors.IsAlreadyTerminal(err))
}

func TestCancelDuringWave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 1 })

	require.NoError(t, env.engine.Cancel(ctx, req.ID))
	assert.Equal(t, model.RequestStatusCancelled, env.status(t, req.ID))
	assert.Equal(t, model.MatchStatusCancelled, env.matchStatus(t, req.ID, d.ID))

	err := env.engine.Cancel(ctx, req.ID)
	assert.True(t, errors.IsAlreadyTerminal(err))

	err = env.engine.RecordResponse(ctx, req.ID, d.ID, model.DonorResponseAccepted)
	assert.True(t, errors.IsAlreadyResolved(err))
}

func TestResponseFromUnknownDonorRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.WaveDeadline["high"] = 5 * time.Second
	env := newTestEnv(t, cfg, 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	req := testRequest(model.BloodTypeAPos, 1)
	env.start(t, ctx, req)
	waitFor(t, func() bool { return env.dispatcher.count() == 1 })

	err := env.engine.RecordResponse(ctx, req.ID, uuid.New(), model.DonorResponseAccepted)
	assert.True(t, errors.IsNotFound(err))
}

func TestResumeRestoresEpisode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, testConfig(), 0)

	d := testDonor(model.BloodTypeOPos, 0.01)
	require.NoError(t, env.donors.Create(ctx, d))

	// A request persisted mid-episode: last wave, deadline imminent.
	deadline := time.Now().Add(60 * time.Millisecond)
	req := testRequest(model.BloodTypeAPos, 1)
	req.WaveNumber = 1
	req.SearchRadius = 100
	req.WaveDeadline = &deadline
	require.NoError(t, env.requests.Create(ctx, req))

	now := time.Now()
	require.NoError(t, env.matches.Create(ctx, &model.Match{
		RequestID:  req.ID,
		DonorID:    d.ID,
		Wave:       1,
		Status:     model.MatchStatusNotified,
		NotifiedAt: &now,
	}))

	require.NoError(t, env.engine.Resume(ctx))

	// The restored deadline fires at the wave ceiling and escalates.
	waitFor(t, func() bool { return env.status(t, req.ID) == model.RequestStatusEscalated })
	assert.Equal(t, model.MatchStatusExpired, env.matchStatus(t, req.ID, d.ID))
	assert.Zero(t, env.dispatcher.count(), "restored donor must not be re-notified")
}
