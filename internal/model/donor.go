package model

import (
	"time"

	"github.com/lib/pq"
)

const (
	ContactChannelEmail = "email"
	ContactChannelSMS   = "sms"
	ContactChannelPush  = "push"
)

type Donor struct {
	Base
	Name            string         `db:"name" json:"name"`
	Email           string         `db:"email" json:"email"`
	Phone           string         `db:"phone" json:"phone,omitempty"`
	PasswordHash    string         `db:"password_hash" json:"-"`
	BloodType       BloodType      `db:"blood_type" json:"blood_type"`
	Latitude        float64        `db:"latitude" json:"latitude"`
	Longitude       float64        `db:"longitude" json:"longitude"`
	Available       bool           `db:"available" json:"available"`
	LastDonation    *time.Time     `db:"last_donation" json:"last_donation,omitempty"`
	ContactChannels pq.StringArray `db:"contact_channels" json:"contact_channels"`
}

// Eligible reports whether the donor may be selected for a request:
// available and past the medical cooldown window.
func (d *Donor) Eligible(cooldown time.Duration, now time.Time) bool {
	if !d.Available {
		return false
	}
	if d.LastDonation != nil && now.Sub(*d.LastDonation) < cooldown {
		return false
	}
	return true
}

// PreferredChannel picks the first configured contact channel, falling
// back to email.
func (d *Donor) PreferredChannel() string {
	if len(d.ContactChannels) > 0 {
		return d.ContactChannels[0]
	}
	return ContactChannelEmail
}

type RegisterDonorRequest struct {
	Name      string   `json:"name" validate:"required,max=200"`
	Email     string   `json:"email" validate:"required,email"`
	Phone     string   `json:"phone" validate:"max=20"`
	Password  string   `json:"password" validate:"required,min=8"`
	BloodType string   `json:"blood_type" validate:"required"`
	Latitude  float64  `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64  `json:"longitude" validate:"min=-180,max=180"`
	Channels  []string `json:"channels" validate:"dive,oneof=email sms push"`
}

type UpdateDonorRequest struct {
	Phone     *string  `json:"phone"`
	Available *bool    `json:"available"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Channels  []string `json:"channels" validate:"dive,oneof=email sms push"`
}

type DonorFilters struct {
	BloodType BloodType
	Available *bool
}
