package donor

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/security"
)

// Service owns donor registration and self-service profile updates.
type Service struct {
	repo     repository.DonorRepository
	validate *validator.Validate
	logger   *logger.Logger
}

func NewService(repo repository.DonorRepository, lg *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   lg,
	}
}

// Register creates a donor account. New donors start available with no
// donation history.
func (s *Service) Register(ctx context.Context, req *model.RegisterDonorRequest) (*model.Donor, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidation("invalid donor registration", err)
	}

	bloodType, err := model.ParseBloodType(req.BloodType)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, errors.NewValidation("email already registered", nil)
	} else if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{model.ContactChannelEmail}
	}

	now := time.Now()
	donor := &model.Donor{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		PasswordHash:    hash,
		BloodType:       bloodType,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Available:       true,
		ContactChannels: channels,
	}
	if err := s.repo.Create(ctx, donor); err != nil {
		return nil, err
	}

	s.logger.Info("donor registered",
		"donor_id", donor.ID.String(),
		"blood_type", string(donor.BloodType))
	return donor, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Donor, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*model.Donor, error) {
	return s.repo.GetByEmail(ctx, email)
}

// Update applies a partial profile update. Availability toggles take
// effect on the next wave; in-flight notifications are resolved by the
// accept-time eligibility check.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateDonorRequest) (*model.Donor, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidation("invalid donor update", err)
	}

	donor, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Phone != nil {
		donor.Phone = *req.Phone
	}
	if req.Available != nil {
		donor.Available = *req.Available
	}
	if req.Latitude != nil {
		donor.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		donor.Longitude = *req.Longitude
	}
	if len(req.Channels) > 0 {
		donor.ContactChannels = req.Channels
	}
	donor.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, donor); err != nil {
		return nil, err
	}
	return donor, nil
}

func (s *Service) List(ctx context.Context, filters *model.DonorFilters) ([]*model.Donor, error) {
	return s.repo.List(ctx, filters)
}
