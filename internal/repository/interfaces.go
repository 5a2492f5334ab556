package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
)

// All repository interfaces in one file
type (
	// DonorRepository handles donor rows and the candidate query used by
	// the selector.
	DonorRepository interface {
		Create(ctx context.Context, donor *model.Donor) error
		Get(ctx context.Context, id uuid.UUID) (*model.Donor, error)
		GetByEmail(ctx context.Context, email string) (*model.Donor, error)
		Update(ctx context.Context, donor *model.Donor) error
		List(ctx context.Context, filters *model.DonorFilters) ([]*model.Donor, error)
		// FindCompatible returns available, cooled-down donors of a
		// compatible blood type within radiusKm of the given point,
		// excluding the given ids. lastDonationBefore bounds the most
		// recent donation a candidate may have (cooldown, optionally
		// tightened by the idle buffer).
		FindCompatible(ctx context.Context, donorTypes []model.BloodType, lat, lng, radiusKm float64, lastDonationBefore time.Time, excludeIDs []uuid.UUID) ([]*model.Donor, error)
		// MarkDonated records a confirmed donation: availability off,
		// last-donation stamped.
		MarkDonated(ctx context.Context, id uuid.UUID, donatedAt time.Time) error
	}

	RequestRepository interface {
		Create(ctx context.Context, req *model.BloodRequest) error
		Get(ctx context.Context, id uuid.UUID) (*model.BloodRequest, error)
		// ListActive returns every request the engine must own a runner
		// for; used to rebuild wave timers after a restart.
		ListActive(ctx context.Context) ([]*model.BloodRequest, error)
		// UpdateStatusFrom performs the single-row conditional status
		// update: the write applies only while the current status is one
		// of from. Returns false when the row was already past that
		// point, which callers treat as a lost race, not an error.
		UpdateStatusFrom(ctx context.Context, id uuid.UUID, to model.RequestStatus, from ...model.RequestStatus) (bool, error)
		// UpdateWaveState persists wave bookkeeping so escalation
		// progress survives a restart.
		UpdateWaveState(ctx context.Context, id uuid.UUID, wave int, radiusKm float64, deadline *time.Time) error
		IncrementUnitsReceived(ctx context.Context, id uuid.UUID) error
	}

	MatchRepository interface {
		Create(ctx context.Context, match *model.Match) error
		Get(ctx context.Context, requestID, donorID uuid.UUID) (*model.Match, error)
		ListForRequest(ctx context.Context, requestID uuid.UUID) ([]*model.Match, error)
		// UpdateStatusFrom mirrors the request-side conditional update,
		// keeping duplicate donor responses idempotent.
		UpdateStatusFrom(ctx context.Context, id uuid.UUID, to model.MatchStatus, reason *string, from ...model.MatchStatus) (bool, error)
		// CloseOpen moves every PENDING/NOTIFIED match of a request to
		// the given terminal status (EXPIRED on wave timeout and expiry,
		// CANCELLED on cancellation).
		CloseOpen(ctx context.Context, requestID uuid.UUID, to model.MatchStatus) (int64, error)
		CountByStatus(ctx context.Context, requestID uuid.UUID, status model.MatchStatus) (int, error)
	}

	InventoryRepository interface {
		GetStock(ctx context.Context, bloodType model.BloodType) (*model.StockLevel, error)
		UpsertStock(ctx context.Context, stock *model.StockLevel) error
		ListStock(ctx context.Context) ([]*model.StockLevel, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		Update(ctx context.Context, notification *model.Notification) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
