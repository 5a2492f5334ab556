package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/pkg/errors"
	"github.com/hemolink/donor-api/pkg/logger"
)

// Service persists donor alerts and hands them to the outbox. Actual
// delivery happens in cmd/worker, so a slow SMTP server or broker never
// stalls a matching wave.
type Service struct {
	notifications repository.NotificationRepository
	outbox        repository.OutboxRepository
	logger        *logger.Logger
}

func NewService(notifications repository.NotificationRepository, outbox repository.OutboxRepository, lg *logger.Logger) *Service {
	return &Service{
		notifications: notifications,
		outbox:        outbox,
		logger:        lg,
	}
}

// DonorAlert is the donor.notified outbox payload. It carries the full
// notification row so the worker can deliver without re-reading it.
type DonorAlert struct {
	Notification model.Notification   `json:"notification"`
	Summary      model.RequestSummary `json:"summary"`
}

// Notify records a pending notification for the donor on their
// preferred channel and enqueues it for delivery.
func (s *Service) Notify(ctx context.Context, donor *model.Donor, summary model.RequestSummary) error {
	channel := donor.PreferredChannel()
	recipient := donor.Email
	if channel == model.ContactChannelSMS {
		recipient = donor.Phone
	}

	now := time.Now()
	n := &model.Notification{
		ID:        uuid.New(),
		DonorID:   donor.ID,
		RequestID: summary.RequestID,
		Channel:   channel,
		Subject:   alertSubject(summary),
		Content:   alertContent(donor, summary),
		Recipient: recipient,
		Status:    model.NotificationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return errors.NewDispatchFailure(channel, err)
	}

	payload, err := json.Marshal(DonorAlert{Notification: *n, Summary: summary})
	if err != nil {
		return errors.NewDispatchFailure(channel, err)
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventDonorNotified,
		Payload:   payload,
	}); err != nil {
		return errors.NewDispatchFailure(channel, err)
	}

	s.logger.Info("donor alert queued",
		"notification_id", n.ID.String(),
		"donor_id", donor.ID.String(),
		"request_id", summary.RequestID.String(),
		"channel", channel)
	return nil
}

func alertSubject(summary model.RequestSummary) string {
	if summary.Urgency == model.UrgencyCritical {
		return fmt.Sprintf("URGENT: %s blood needed at %s", summary.BloodType, summary.HospitalName)
	}
	return fmt.Sprintf("%s blood needed at %s", summary.BloodType, summary.HospitalName)
}

func alertContent(donor *model.Donor, summary model.RequestSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", donor.Name)
	fmt.Fprintf(&b, "%s needs %d unit(s) of %s blood, %.1f km from your registered location.\n",
		summary.HospitalName, summary.UnitsNeeded, summary.BloodType, summary.DistanceKM)
	fmt.Fprintf(&b, "The blood is needed by %s.\n\n", summary.NeededBy.Format(time.RFC1123))
	b.WriteString("Please respond in the app to accept or decline.\n")
	return b.String()
}
