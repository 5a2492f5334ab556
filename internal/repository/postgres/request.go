package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
)

func (r *requestRepository) Create(ctx context.Context, req *model.BloodRequest) error {
	query := `
		INSERT INTO blood_requests (
			id, hospital_name, blood_type, urgency, units_needed,
			units_received, latitude, longitude, needed_by, status,
			wave_number, search_radius, wave_deadline,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	req.ID = uuid.New()
	req.CreatedAt = time.Now()
	req.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.HospitalName,
		req.BloodType,
		req.Urgency,
		req.UnitsNeeded,
		req.UnitsReceived,
		req.Latitude,
		req.Longitude,
		req.NeededBy,
		req.Status,
		req.WaveNumber,
		req.SearchRadius,
		req.WaveDeadline,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create blood request: %w", err)
	}
	return nil
}

func (r *requestRepository) Get(ctx context.Context, id uuid.UUID) (*model.BloodRequest, error) {
	query := `
		SELECT id, hospital_name, blood_type, urgency, units_needed,
			   units_received, latitude, longitude, needed_by, status,
			   wave_number, search_radius, wave_deadline,
			   created_at, updated_at
		FROM blood_requests
		WHERE id = $1
	`
	var req model.BloodRequest
	err := r.db.GetContext(ctx, &req, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("request", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blood request: %w", err)
	}
	return &req, nil
}

func (r *requestRepository) ListActive(ctx context.Context) ([]*model.BloodRequest, error) {
	query := `
		SELECT id, hospital_name, blood_type, urgency, units_needed,
			   units_received, latitude, longitude, needed_by, status,
			   wave_number, search_radius, wave_deadline,
			   created_at, updated_at
		FROM blood_requests
		WHERE status IN ('matching', 'matched', 'fulfilling')
		ORDER BY created_at ASC
	`
	var requests []*model.BloodRequest
	err := r.db.SelectContext(ctx, &requests, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	return requests, nil
}

// UpdateStatusFrom is the atomic single-row transition write: the status
// changes only if the row is still in one of the expected source states,
// so a response and a timeout racing for the same request resolve to
// exactly one winner.
func (r *requestRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, to model.RequestStatus, from ...model.RequestStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE blood_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`
	result, err := r.db.ExecContext(ctx, query, to, time.Now(), id, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("failed to update request status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *requestRepository) UpdateWaveState(ctx context.Context, id uuid.UUID, wave int, radiusKm float64, deadline *time.Time) error {
	query := `
		UPDATE blood_requests
		SET wave_number = $1, search_radius = $2, wave_deadline = $3, updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, wave, radiusKm, deadline, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update wave state: %w", err)
	}
	return nil
}

func (r *requestRepository) IncrementUnitsReceived(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE blood_requests
		SET units_received = units_received + 1, updated_at = $1
		WHERE id = $2 AND units_received < units_needed
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to increment units received: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewInvalidState("request units already satisfied", nil)
	}
	return nil
}
