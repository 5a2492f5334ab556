package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hemolink/donor-api/internal/email"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
	"github.com/hemolink/donor-api/internal/service/notification"
	"github.com/hemolink/donor-api/pkg/logger"
	"github.com/hemolink/donor-api/pkg/messaging"
	"github.com/hemolink/donor-api/pkg/metrics"
)

const processedRetention = 7 * 24 * time.Hour

type DispatcherConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Dispatcher drains the outbox: donor alerts go out over email or the
// alert channel, request lifecycle events go to the event channel for
// downstream consumers. Delivery failures are retried with backoff via
// the outbox row itself.
type Dispatcher struct {
	outbox        repository.OutboxRepository
	notifications repository.NotificationRepository
	broker        messaging.Broker
	emailSvc      email.Service
	config        DispatcherConfig
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewDispatcher(
	outbox repository.OutboxRepository,
	notifications repository.NotificationRepository,
	broker messaging.Broker,
	emailSvc email.Service,
	config DispatcherConfig,
	lg *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &Dispatcher{
		outbox:        outbox,
		notifications: notifications,
		broker:        broker,
		emailSvc:      emailSvc,
		config:        config,
		logger:        lg,
		metrics:       m,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	d.logger.Info("starting outbox dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down outbox dispatcher")
			return
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil {
				d.logger.Error(err, "failed to process outbox batch")
			}
		case <-cleanup.C:
			deleted, err := d.outbox.DeleteProcessedBefore(ctx, time.Now().Add(-processedRetention))
			if err != nil {
				d.logger.Error(err, "failed to prune processed outbox events")
			} else if deleted > 0 {
				d.logger.Info("pruned processed outbox events", "deleted", deleted)
			}
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(d.metrics.OutboxProcessingTime)
	defer timer.ObserveDuration()

	events, err := d.outbox.GetPendingEventsWithLock(ctx, d.config.BatchSize)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	for _, event := range events {
		if err := d.processEvent(ctx, event); err != nil {
			d.logger.Error(err, "failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

func (d *Dispatcher) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	var err error
	switch event.EventType {
	case model.EventDonorNotified:
		err = d.deliverAlert(ctx, event)
	default:
		err = d.broker.Publish(ctx, messaging.ChannelRequestEvents, event.Payload)
	}

	if err != nil {
		d.metrics.OutboxEventsFailed.Inc()
		errStr := err.Error()
		if event.RetryCount+1 >= d.config.RetryAttempts {
			if updateErr := d.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errStr, nil); updateErr != nil {
				d.logger.Error(updateErr, "failed to update event status", "event_id", event.ID.String())
			}
			return err
		}
		retryAt := time.Now().Add(d.config.RetryDelay * time.Duration(event.RetryCount+1))
		if updateErr := d.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusRetrying, &errStr, &retryAt); updateErr != nil {
			d.logger.Error(updateErr, "failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	d.metrics.OutboxEventsProcessed.Inc()
	if err := d.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		d.logger.Error(err, "failed to mark event processed", "event_id", event.ID.String())
		return err
	}
	return nil
}

// deliverAlert carries one donor alert to its channel and records the
// outcome on the notification row.
func (d *Dispatcher) deliverAlert(ctx context.Context, event *model.OutboxEvent) error {
	var alert notification.DonorAlert
	if err := json.Unmarshal(event.Payload, &alert); err != nil {
		return fmt.Errorf("malformed donor alert payload: %w", err)
	}
	n := alert.Notification

	var err error
	switch n.Channel {
	case model.ContactChannelEmail:
		err = d.emailSvc.Send(ctx, n.Recipient, n.Subject, n.Content)
	case model.ContactChannelSMS, model.ContactChannelPush:
		// SMS and push ride the alert channel; a gateway consumer does
		// the last mile.
		err = d.broker.Publish(ctx, messaging.ChannelDonorAlerts, event.Payload)
	default:
		err = fmt.Errorf("unsupported channel: %s", n.Channel)
	}

	now := time.Now()
	n.UpdatedAt = now
	if err != nil {
		d.metrics.NotificationsFailed.WithLabelValues(n.Channel).Inc()
		n.RetryCount++
		errStr := err.Error()
		n.LastError = &errStr
		if n.RetryCount >= d.config.RetryAttempts {
			n.Status = model.NotificationStatusFailed
			n.NextRetryAt = nil
		} else {
			n.Status = model.NotificationStatusRetrying
			retryAt := now.Add(d.config.RetryDelay * time.Duration(n.RetryCount))
			n.NextRetryAt = &retryAt
		}
		if updateErr := d.notifications.Update(ctx, &n); updateErr != nil {
			d.logger.Error(updateErr, "failed to update notification", "notification_id", n.ID.String())
		}
		return err
	}

	d.metrics.NotificationsSent.WithLabelValues(n.Channel).Inc()
	n.Status = model.NotificationStatusSent
	n.SentAt = &now
	n.LastError = nil
	n.NextRetryAt = nil
	if err := d.notifications.Update(ctx, &n); err != nil {
		d.logger.Error(err, "failed to update notification", "notification_id", n.ID.String())
	}
	return nil
}
