package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
	NotificationStatusRetrying NotificationStatus = "retrying"
)

// Notification is one delivery attempt record for a donor alert. The
// engine only writes these; cmd/worker owns delivery.
type Notification struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	DonorID     uuid.UUID          `db:"donor_id" json:"donor_id"`
	RequestID   uuid.UUID          `db:"request_id" json:"request_id"`
	Channel     string             `db:"channel" json:"channel"`
	Subject     string             `db:"subject" json:"subject"`
	Content     string             `db:"content" json:"content"`
	Recipient   string             `db:"recipient" json:"recipient"`
	Status      NotificationStatus `db:"status" json:"status"`
	RetryCount  int                `db:"retry_count" json:"retry_count"`
	LastError   *string            `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SentAt      *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// RequestSummary is the donor-facing payload of a wave alert.
type RequestSummary struct {
	RequestID    uuid.UUID `json:"request_id"`
	HospitalName string    `json:"hospital_name"`
	BloodType    BloodType `json:"blood_type"`
	Urgency      Urgency   `json:"urgency"`
	UnitsNeeded  int       `json:"units_needed"`
	DistanceKM   float64   `json:"distance_km"`
	NeededBy     time.Time `json:"needed_by"`
}
