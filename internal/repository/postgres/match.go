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

func (r *matchRepository) Create(ctx context.Context, match *model.Match) error {
	query := `
		INSERT INTO matches (
			id, request_id, donor_id, wave, distance_km, status,
			status_reason, notified_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	match.ID = uuid.New()
	match.CreatedAt = time.Now()
	match.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		match.ID,
		match.RequestID,
		match.DonorID,
		match.Wave,
		match.DistanceKM,
		match.Status,
		match.StatusReason,
		match.NotifiedAt,
		match.CreatedAt,
		match.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *matchRepository) Get(ctx context.Context, requestID, donorID uuid.UUID) (*model.Match, error) {
	query := `
		SELECT id, request_id, donor_id, wave, distance_km, status,
			   status_reason, notified_at, responded_at, created_at, updated_at
		FROM matches
		WHERE request_id = $1 AND donor_id = $2
		ORDER BY wave DESC
		LIMIT 1
	`
	var match model.Match
	err := r.db.GetContext(ctx, &match, query, requestID, donorID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("match", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

func (r *matchRepository) ListForRequest(ctx context.Context, requestID uuid.UUID) ([]*model.Match, error) {
	query := `
		SELECT id, request_id, donor_id, wave, distance_km, status,
			   status_reason, notified_at, responded_at, created_at, updated_at
		FROM matches
		WHERE request_id = $1
		ORDER BY wave ASC, distance_km ASC
	`
	var matches []*model.Match
	err := r.db.SelectContext(ctx, &matches, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

func (r *matchRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, to model.MatchStatus, reason *string, from ...model.MatchStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE matches
		SET status = $1, status_reason = $2, responded_at = $3, updated_at = $3
		WHERE id = $4 AND status = ANY($5)
	`
	result, err := r.db.ExecContext(ctx, query, to, reason, time.Now(), id, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("failed to update match status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *matchRepository) CloseOpen(ctx context.Context, requestID uuid.UUID, to model.MatchStatus) (int64, error) {
	query := `
		UPDATE matches
		SET status = $1, updated_at = $2
		WHERE request_id = $3 AND status IN ('pending', 'notified')
	`
	result, err := r.db.ExecContext(ctx, query, to, time.Now(), requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to close open matches: %w", err)
	}
	return result.RowsAffected()
}

func (r *matchRepository) CountByStatus(ctx context.Context, requestID uuid.UUID, status model.MatchStatus) (int, error) {
	query := `SELECT COUNT(*) FROM matches WHERE request_id = $1 AND status = $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, requestID, status); err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return count, nil
}
