package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusCreated    RequestStatus = "created"
	RequestStatusMatching   RequestStatus = "matching"
	RequestStatusMatched    RequestStatus = "matched"
	RequestStatusFulfilling RequestStatus = "fulfilling"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusEscalated  RequestStatus = "escalated"
	RequestStatusExpired    RequestStatus = "expired"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// transitions is the single authoritative edge set of the request state
// machine. Anything not listed here is an illegal transition.
var transitions = map[RequestStatus][]RequestStatus{
	RequestStatusCreated:    {RequestStatusMatching, RequestStatusCancelled, RequestStatusExpired},
	RequestStatusMatching:   {RequestStatusMatched, RequestStatusFulfilling, RequestStatusEscalated, RequestStatusExpired, RequestStatusCancelled},
	RequestStatusMatched:    {RequestStatusFulfilling, RequestStatusCompleted, RequestStatusExpired, RequestStatusCancelled},
	RequestStatusFulfilling: {RequestStatusMatched, RequestStatusEscalated, RequestStatusExpired, RequestStatusCancelled},
	RequestStatusEscalated:  {RequestStatusCompleted, RequestStatusExpired, RequestStatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
// Terminal states have no outgoing edges.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the request can never leave this state.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusExpired, RequestStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the engine still owns a runner for the request.
func (s RequestStatus) Active() bool {
	switch s {
	case RequestStatusMatching, RequestStatusMatched, RequestStatusFulfilling:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

type BloodRequest struct {
	Base
	HospitalName  string        `db:"hospital_name" json:"hospital_name"`
	BloodType     BloodType     `db:"blood_type" json:"blood_type"`
	Urgency       Urgency       `db:"urgency" json:"urgency"`
	UnitsNeeded   int           `db:"units_needed" json:"units_needed"`
	UnitsReceived int           `db:"units_received" json:"units_received"`
	Latitude      float64       `db:"latitude" json:"latitude"`
	Longitude     float64       `db:"longitude" json:"longitude"`
	NeededBy      time.Time     `db:"needed_by" json:"needed_by"`
	Status        RequestStatus `db:"status" json:"status"`

	// Wave bookkeeping, persisted so in-flight escalation survives a
	// restart.
	WaveNumber   int        `db:"wave_number" json:"wave_number"`
	SearchRadius float64    `db:"search_radius" json:"search_radius"`
	WaveDeadline *time.Time `db:"wave_deadline" json:"wave_deadline,omitempty"`
}

// OutstandingUnits is the number of units still uncovered by accepted
// donors.
func (r *BloodRequest) OutstandingUnits() int {
	if n := r.UnitsNeeded - r.UnitsReceived; n > 0 {
		return n
	}
	return 0
}

type CreateBloodRequestRequest struct {
	HospitalName string    `json:"hospital_name" validate:"required,max=200"`
	BloodType    string    `json:"blood_type" validate:"required"`
	Urgency      string    `json:"urgency" validate:"required,oneof=low medium high critical"`
	UnitsNeeded  int       `json:"units_needed" validate:"required,min=1,max=20"`
	Latitude     float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64   `json:"longitude" validate:"min=-180,max=180"`
	NeededBy     time.Time `json:"needed_by" validate:"required"`
}

// RequestStatusInfo is the caller-facing snapshot of a request.
type RequestStatusInfo struct {
	ID            uuid.UUID     `json:"id"`
	Status        RequestStatus `json:"status"`
	AcceptedUnits int           `json:"accepted_units"`
	UnitsNeeded   int           `json:"units_needed"`
	WaveNumber    int           `json:"wave_number"`
	SearchRadius  float64       `json:"search_radius_km"`
	NextDeadline  *time.Time    `json:"next_deadline,omitempty"`
}
