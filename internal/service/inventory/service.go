package inventory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
)

const (
	stockCacheTTL     = 30 * time.Second
	stockCacheCleanup = 5 * time.Minute
)

// Service fronts the blood-bank stock table with a short-lived cache.
// Escalations read stock on the hot path of the engine; a slightly
// stale figure is fine there, stock is advisory for the human
// dispatcher.
type Service struct {
	repo   repository.InventoryRepository
	cache  *cache.Cache
	logger *logger.Logger
}

func NewService(repo repository.InventoryRepository, lg *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache.New(stockCacheTTL, stockCacheCleanup),
		logger: lg,
	}
}

// CheckStock returns the available units for a blood type. Unknown
// types simply have zero stock.
func (s *Service) CheckStock(ctx context.Context, bloodType model.BloodType) (int, error) {
	if cached, found := s.cache.Get(string(bloodType)); found {
		return cached.(int), nil
	}

	stock, err := s.repo.GetStock(ctx, bloodType)
	if err != nil {
		if errors.IsNotFound(err) {
			s.cache.Set(string(bloodType), 0, cache.DefaultExpiration)
			return 0, nil
		}
		return 0, err
	}

	s.cache.Set(string(bloodType), stock.Units, cache.DefaultExpiration)
	return stock.Units, nil
}

// UpdateStock sets the absolute unit count for a blood type.
func (s *Service) UpdateStock(ctx context.Context, bloodType model.BloodType, units int) (*model.StockLevel, error) {
	if !bloodType.Valid() {
		return nil, errors.NewValidation("invalid blood type", nil)
	}
	if units < 0 {
		return nil, errors.NewValidation("units cannot be negative", nil)
	}

	stock := &model.StockLevel{
		BloodType: bloodType,
		Units:     units,
		UpdatedAt: time.Now(),
	}
	if err := s.repo.UpsertStock(ctx, stock); err != nil {
		return nil, err
	}

	s.cache.Set(string(bloodType), units, cache.DefaultExpiration)
	s.logger.Info("stock updated", "blood_type", string(bloodType), "units", units)
	return stock, nil
}

// ListStock returns the full inventory snapshot, uncached.
func (s *Service) ListStock(ctx context.Context) ([]*model.StockLevel, error) {
	return s.repo.ListStock(ctx)
}
