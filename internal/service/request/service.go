package request

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/internal/service/matching"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
)

// Service is the request lifecycle front door: intake validation,
// persistence, then hand-off to the matching engine. Everything after
// hand-off is the engine's business.
type Service struct {
	repo     repository.RequestRepository
	engine   *matching.Engine
	validate *validator.Validate
	logger   *logger.Logger
}

func NewService(repo repository.RequestRepository, engine *matching.Engine, lg *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		validate: validator.New(),
		logger:   lg,
	}
}

// Submit validates and persists a new request, then starts its matching
// episode. The request is visible in CREATED only inside this call;
// callers observe it in MATCHING or later.
func (s *Service) Submit(ctx context.Context, req *model.CreateBloodRequestRequest) (*model.BloodRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidation("invalid blood request", err)
	}

	bloodType, err := model.ParseBloodType(req.BloodType)
	if err != nil {
		return nil, err
	}
	if !req.NeededBy.After(time.Now()) {
		return nil, errors.NewValidation("needed_by must be in the future", nil)
	}

	now := time.Now()
	request := &model.BloodRequest{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		HospitalName: req.HospitalName,
		BloodType:    bloodType,
		Urgency:      model.Urgency(req.Urgency),
		UnitsNeeded:  req.UnitsNeeded,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		NeededBy:     req.NeededBy,
		Status:       model.RequestStatusCreated,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, err
	}

	ok, err := s.repo.UpdateStatusFrom(ctx, request.ID, model.RequestStatusMatching, model.RequestStatusCreated)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Cancelled between insert and hand-off; nothing to match.
		return s.repo.Get(ctx, request.ID)
	}
	request.Status = model.RequestStatusMatching

	if err := s.engine.Start(request); err != nil {
		return nil, err
	}

	s.logger.Info("blood request submitted",
		"request_id", request.ID.String(),
		"blood_type", string(request.BloodType),
		"urgency", string(request.Urgency),
		"units", request.UnitsNeeded)
	return request, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.BloodRequest, error) {
	return s.repo.Get(ctx, id)
}

// Status returns the caller-facing snapshot of a request.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*model.RequestStatusInfo, error) {
	return s.engine.Status(ctx, id)
}

// Respond records a donor's answer to a wave notification.
func (s *Service) Respond(ctx context.Context, requestID, donorID uuid.UUID, response model.DonorResponse) error {
	return s.engine.RecordResponse(ctx, requestID, donorID, response)
}

// Cancel terminates a request at any pending step.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID) error {
	return s.engine.Cancel(ctx, requestID)
}
