package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
)

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, donor_id, request_id, channel, subject, content,
			recipient, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	notification.CreatedAt = time.Now()
	notification.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.DonorID,
		notification.RequestID,
		notification.Channel,
		notification.Subject,
		notification.Content,
		notification.Recipient,
		notification.Status,
		notification.RetryCount,
		notification.CreatedAt,
		notification.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, notification *model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_error = $3,
			next_retry_at = $4, sent_at = $5, updated_at = $6
		WHERE id = $7
	`
	notification.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		notification.Status,
		notification.RetryCount,
		notification.LastError,
		notification.NextRetryAt,
		notification.SentAt,
		notification.UpdatedAt,
		notification.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}
