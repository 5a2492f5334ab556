package matching

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
)

// In-memory repositories mirroring the conditional-update semantics of
// the postgres layer.

type fakeDonorRepo struct {
	mu     sync.Mutex
	donors map[uuid.UUID]*model.Donor
}

func newFakeDonorRepo() *fakeDonorRepo {
	return &fakeDonorRepo{donors: make(map[uuid.UUID]*model.Donor)}
}

func (r *fakeDonorRepo) Create(_ context.Context, d *model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.donors[d.ID] = &cp
	return nil
}

func (r *fakeDonorRepo) Get(_ context.Context, id uuid.UUID) (*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return nil, errors.NewNotFound("donor", nil)
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDonorRepo) GetByEmail(_ context.Context, email string) (*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.donors {
		if d.Email == email {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errors.NewNotFound("donor", nil)
}

func (r *fakeDonorRepo) Update(_ context.Context, d *model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.donors[d.ID] = &cp
	return nil
}

func (r *fakeDonorRepo) List(_ context.Context, _ *model.DonorFilters) ([]*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Donor, 0, len(r.donors))
	for _, d := range r.donors {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDonorRepo) FindCompatible(_ context.Context, donorTypes []model.BloodType, lat, lng, radiusKm float64, lastDonationBefore time.Time, excludeIDs []uuid.UUID) ([]*model.Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make(map[model.BloodType]bool, len(donorTypes))
	for _, t := range donorTypes {
		types[t] = true
	}
	excluded := make(map[uuid.UUID]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var out []*model.Donor
	for _, d := range r.donors {
		if !d.Available || !types[d.BloodType] || excluded[d.ID] {
			continue
		}
		if d.LastDonation != nil && !d.LastDonation.Before(lastDonationBefore) {
			continue
		}
		if HaversineKM(lat, lng, d.Latitude, d.Longitude) > radiusKm {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDonorRepo) MarkDonated(_ context.Context, id uuid.UUID, donatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return errors.NewNotFound("donor", nil)
	}
	d.Available = false
	d.LastDonation = &donatedAt
	return nil
}

func (r *fakeDonorRepo) setAvailable(id uuid.UUID, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.donors[id]; ok {
		d.Available = available
	}
}

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*model.BloodRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[uuid.UUID]*model.BloodRequest)}
}

func (r *fakeRequestRepo) Create(_ context.Context, req *model.BloodRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *fakeRequestRepo) Get(_ context.Context, id uuid.UUID) (*model.BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, errors.NewNotFound("request", nil)
	}
	cp := *req
	return &cp, nil
}

func (r *fakeRequestRepo) ListActive(_ context.Context) ([]*model.BloodRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.BloodRequest
	for _, req := range r.requests {
		if req.Status.Active() {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRequestRepo) UpdateStatusFrom(_ context.Context, id uuid.UUID, to model.RequestStatus, from ...model.RequestStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return false, errors.NewNotFound("request", nil)
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			req.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRequestRepo) UpdateWaveState(_ context.Context, id uuid.UUID, wave int, radiusKm float64, deadline *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return errors.NewNotFound("request", nil)
	}
	req.WaveNumber = wave
	req.SearchRadius = radiusKm
	req.WaveDeadline = deadline
	return nil
}

func (r *fakeRequestRepo) IncrementUnitsReceived(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return errors.NewNotFound("request", nil)
	}
	if req.UnitsReceived >= req.UnitsNeeded {
		return errors.NewInvalidState("request already fully covered", nil)
	}
	req.UnitsReceived++
	return nil
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	matches []*model.Match
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{}
}

func (r *fakeMatchRepo) Create(_ context.Context, m *model.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	cp := *m
	r.matches = append(r.matches, &cp)
	return nil
}

func (r *fakeMatchRepo) Get(_ context.Context, requestID, donorID uuid.UUID) (*model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Match
	for _, m := range r.matches {
		if m.RequestID == requestID && m.DonorID == donorID {
			if best == nil || m.Wave > best.Wave {
				best = m
			}
		}
	}
	if best == nil {
		return nil, errors.NewNotFound("match", nil)
	}
	cp := *best
	return &cp, nil
}

func (r *fakeMatchRepo) ListForRequest(_ context.Context, requestID uuid.UUID) ([]*model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Match
	for _, m := range r.matches {
		if m.RequestID == requestID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMatchRepo) UpdateStatusFrom(_ context.Context, id uuid.UUID, to model.MatchStatus, reason *string, from ...model.MatchStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.matches {
		if m.ID != id {
			continue
		}
		for _, f := range from {
			if m.Status == f {
				now := time.Now()
				m.Status = to
				m.StatusReason = reason
				m.RespondedAt = &now
				m.UpdatedAt = now
				return true, nil
			}
		}
		return false, nil
	}
	return false, errors.NewNotFound("match", nil)
}

func (r *fakeMatchRepo) CloseOpen(_ context.Context, requestID uuid.UUID, to model.MatchStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.matches {
		if m.RequestID == requestID &&
			(m.Status == model.MatchStatusPending || m.Status == model.MatchStatusNotified) {
			m.Status = to
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *fakeMatchRepo) CountByStatus(_ context.Context, requestID uuid.UUID, status model.MatchStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.matches {
		if m.RequestID == requestID && m.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeOutboxRepo struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{}
}

func (r *fakeOutboxRepo) Create(_ context.Context, e *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.ID = uuid.New()
	cp.Status = model.OutboxStatusPending
	cp.CreatedAt = time.Now()
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range r.events {
		if e.Status == model.OutboxStatusPending && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Status = status
			e.ErrorMessage = errMsg
			e.RetryAt = retryAt
			return nil
		}
	}
	return errors.NewNotFound("outbox event", nil)
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) eventsOfType(eventType string) []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

type fakeDispatcher struct {
	mu       sync.Mutex
	notified []uuid.UUID
}

func (d *fakeDispatcher) Notify(_ context.Context, donor *model.Donor, _ model.RequestSummary) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, donor.ID)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.notified)
}

func (d *fakeDispatcher) donorIDs() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uuid.UUID, len(d.notified))
	copy(out, d.notified)
	return out
}

type fakeStock struct {
	units int
}

func (s *fakeStock) CheckStock(_ context.Context, _ model.BloodType) (int, error) {
	return s.units, nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func testConfig() config.MatchingConfig {
	return config.MatchingConfig{
		CooldownDays:      56,
		PreferredIdleDays: 14,
		MinCandidates:     1,
		CandidatesPerWave: 2,
		MaxWaves:          2,
		RadiusGrowth:      2,
		MaxRadiusKM:       200,
		BaseRadiusKM:      map[string]float64{"high": 50},
		WaveDeadline:      map[string]time.Duration{"high": 80 * time.Millisecond},
	}
}
