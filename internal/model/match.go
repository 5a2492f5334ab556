package model

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusNotified  MatchStatus = "notified"
	MatchStatusAccepted  MatchStatus = "accepted"
	MatchStatusDeclined  MatchStatus = "declined"
	MatchStatusExpired   MatchStatus = "expired"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// DeclineReasonIneligible marks an ACCEPTED response from a donor whose
// availability or cooldown no longer holds at response time.
const DeclineReasonIneligible = "no_longer_eligible"

// Match links one request to one candidate donor for one wave. Rows are
// append-only; only the status (and its reason) ever changes.
type Match struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	RequestID     uuid.UUID   `db:"request_id" json:"request_id"`
	DonorID       uuid.UUID   `db:"donor_id" json:"donor_id"`
	Wave          int         `db:"wave" json:"wave"`
	DistanceKM    float64     `db:"distance_km" json:"distance_km"`
	Status        MatchStatus `db:"status" json:"status"`
	StatusReason  *string     `db:"status_reason" json:"status_reason,omitempty"`
	NotifiedAt    *time.Time  `db:"notified_at" json:"notified_at,omitempty"`
	RespondedAt   *time.Time  `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

type DonorResponse string

const (
	DonorResponseAccepted DonorResponse = "accepted"
	DonorResponseDeclined DonorResponse = "declined"
)

func (r DonorResponse) Valid() bool {
	return r == DonorResponseAccepted || r == DonorResponseDeclined
}

type DonorResponseRequest struct {
	DonorID  uuid.UUID `json:"donor_id" validate:"required"`
	Response string    `json:"response" validate:"required,oneof=accepted declined"`
}
