package auth

import (
	"context"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/pkg/auth"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/security"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	Donor *model.Donor `json:"donor"`
}

// Service authenticates donors and issues access tokens.
type Service struct {
	donors repository.DonorRepository
	jwt    auth.JWTService
	logger *logger.Logger
}

func NewService(donors repository.DonorRepository, jwt auth.JWTService, lg *logger.Logger) *Service {
	return &Service{
		donors: donors,
		jwt:    jwt,
		logger: lg,
	}
}

// Login verifies credentials and returns a signed token. Invalid email
// and invalid password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	donor, err := s.donors.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}

	if err := security.ComparePassword(donor.PasswordHash, req.Password); err != nil {
		s.logger.Warn("failed login attempt", "email", req.Email)
		return nil, errors.NewUnauthorized("invalid credentials")
	}

	token, err := s.jwt.GenerateToken(donor.ID, donor.Email)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &LoginResponse{Token: token, Donor: donor}, nil
}
