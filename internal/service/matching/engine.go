package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/metrics"
)

// Dispatcher delivers one donor alert. Implementations must be
// fire-and-forget: the engine logs a failure and moves on, the wave
// deadline alone governs progression.
type Dispatcher interface {
	Notify(ctx context.Context, donor *model.Donor, summary model.RequestSummary) error
}

// StockChecker is the blood-bank inventory collaborator, consulted only
// when a request escalates.
type StockChecker interface {
	CheckStock(ctx context.Context, bloodType model.BloodType) (int, error)
}

// Engine owns every active request's escalation episode. Each request
// gets a runner goroutine whose event channel serializes donor
// responses, wave deadlines, needed-by expiry and cancellation, so the
// first valid transition wins and later ones collapse to no-ops.
type Engine struct {
	cfg        config.MatchingConfig
	requests   repository.RequestRepository
	matches    repository.MatchRepository
	donors     repository.DonorRepository
	outbox     repository.OutboxRepository
	selector   *Selector
	dispatcher Dispatcher
	stock      StockChecker
	logger     *logger.Logger
	metrics    *metrics.Metrics

	// baseCtx bounds every runner to the process, not to the submitting
	// caller: an episode runs for hours while the submission context
	// ends with the HTTP request.
	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.RWMutex
	runners map[uuid.UUID]*runner
}

func NewEngine(
	cfg config.MatchingConfig,
	requests repository.RequestRepository,
	matches repository.MatchRepository,
	donors repository.DonorRepository,
	outbox repository.OutboxRepository,
	dispatcher Dispatcher,
	stock StockChecker,
	lg *logger.Logger,
	m *metrics.Metrics,
) *Engine {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		requests:   requests,
		matches:    matches,
		donors:     donors,
		outbox:     outbox,
		selector:   NewSelector(donors, cfg),
		dispatcher: dispatcher,
		stock:      stock,
		logger:     lg,
		metrics:    m,
		baseCtx:    baseCtx,
		stop:       stop,
		runners:    make(map[uuid.UUID]*runner),
	}
}

// Start begins the escalation episode for a request already persisted
// in MATCHING state. The runner outlives the submitting caller.
func (e *Engine) Start(req *model.BloodRequest) error {
	if !req.Status.Active() {
		return errors.NewInvalidState(fmt.Sprintf("request in state %s cannot be matched", req.Status), nil)
	}

	e.mu.Lock()
	if _, exists := e.runners[req.ID]; exists {
		e.mu.Unlock()
		return errors.NewInvalidState("request already has an active matching episode", nil)
	}
	r := newRunner(e, req)
	e.runners[req.ID] = r
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ActiveRequests.Inc()
	}
	go r.run(e.baseCtx)
	return nil
}

// Shutdown stops every runner. Wave state is persisted on the request
// rows, so Resume rebuilds the episodes on the next start.
func (e *Engine) Shutdown() {
	e.stop()
}

// Resume rebuilds runners for every non-terminal request after a
// restart. Wave number, radius and deadline come from the request row;
// the notified set and accepted units come from the match rows, so no
// escalation progress is lost.
func (e *Engine) Resume(ctx context.Context) error {
	active, err := e.requests.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active requests: %w", err)
	}

	for _, req := range active {
		if err := e.Start(req); err != nil {
			e.logger.Error(err, "failed to resume request", "request_id", req.ID.String())
			continue
		}
		e.logger.Info("resumed matching episode",
			"request_id", req.ID.String(),
			"wave", req.WaveNumber,
			"status", string(req.Status))
	}
	return nil
}

// RecordResponse delivers a donor's ACCEPTED or DECLINED into the
// request's runner. Responses for requests that already resolved are
// acknowledged as no-ops.
func (e *Engine) RecordResponse(ctx context.Context, requestID, donorID uuid.UUID, response model.DonorResponse) error {
	if !response.Valid() {
		return errors.NewValidation("invalid donor response", nil)
	}

	ev := runnerEvent{
		kind:     eventResponse,
		donorID:  donorID,
		response: response,
		reply:    make(chan error, 1),
	}
	if delivered, err := e.deliver(ctx, requestID, ev); delivered {
		return err
	}

	// No runner: the episode is over or never started.
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() || req.Status == model.RequestStatusEscalated {
		e.logger.Info("response after request resolution ignored",
			"request_id", requestID.String(),
			"donor_id", donorID.String(),
			"response", string(response))
		return errors.NewAlreadyResolved("request already resolved")
	}
	return errors.NewInvalidState("request is not accepting responses", nil)
}

// Cancel terminates a request at any pending step. In-flight waves lose
// the ability to transition the request any further.
func (e *Engine) Cancel(ctx context.Context, requestID uuid.UUID) error {
	ev := runnerEvent{
		kind:  eventCancel,
		reply: make(chan error, 1),
	}
	if delivered, err := e.deliver(ctx, requestID, ev); delivered {
		return err
	}

	// No runner; cancel directly if the request is still cancellable
	// (CREATED before matching starts, or parked in ESCALATED).
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return errors.NewAlreadyTerminal("request already in a terminal state")
	}

	ok, err := e.requests.UpdateStatusFrom(ctx, requestID, model.RequestStatusCancelled,
		model.RequestStatusCreated, model.RequestStatusMatching, model.RequestStatusMatched,
		model.RequestStatusFulfilling, model.RequestStatusEscalated)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewAlreadyTerminal("request already in a terminal state")
	}
	if _, err := e.matches.CloseOpen(ctx, requestID, model.MatchStatusCancelled); err != nil {
		e.logger.Error(err, "failed to cancel open matches", "request_id", requestID.String())
	}
	e.recordOutcome(ctx, requestID, model.RequestStatusCancelled)
	return nil
}

// Status reports the caller-facing snapshot of a request.
func (e *Engine) Status(ctx context.Context, requestID uuid.UUID) (*model.RequestStatusInfo, error) {
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	info := &model.RequestStatusInfo{
		ID:            req.ID,
		Status:        req.Status,
		AcceptedUnits: req.UnitsReceived,
		UnitsNeeded:   req.UnitsNeeded,
		WaveNumber:    req.WaveNumber,
		SearchRadius:  req.SearchRadius,
	}
	if req.Status.Active() {
		info.NextDeadline = req.WaveDeadline
	}
	return info, nil
}

// deliver hands an event to the request's runner if one exists. The
// second return is the runner's reply and only meaningful when the
// first is true.
func (e *Engine) deliver(ctx context.Context, requestID uuid.UUID, ev runnerEvent) (bool, error) {
	e.mu.RLock()
	r, ok := e.runners[requestID]
	e.mu.RUnlock()
	if !ok {
		return false, nil
	}

	select {
	case r.events <- ev:
	case <-r.done:
		return false, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (e *Engine) removeRunner(requestID uuid.UUID) {
	e.mu.Lock()
	delete(e.runners, requestID)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveRequests.Dec()
	}
}

// recordOutcome writes the terminal outbox event and bumps the outcome
// counter.
func (e *Engine) recordOutcome(ctx context.Context, requestID uuid.UUID, outcome model.RequestStatus) {
	if e.metrics != nil {
		e.metrics.RequestOutcomes.WithLabelValues(string(outcome)).Inc()
	}

	payload, err := json.Marshal(map[string]interface{}{
		"request_id": requestID,
		"outcome":    outcome,
	})
	if err != nil {
		return
	}
	if err := e.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventRequestResolved,
		Payload:   payload,
	}); err != nil {
		e.logger.Error(err, "failed to record request outcome", "request_id", requestID.String())
	}
}
