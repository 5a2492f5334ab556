package model

import "time"

// StockLevel is one blood-bank inventory row, keyed by blood type.
type StockLevel struct {
	BloodType BloodType `db:"blood_type" json:"blood_type"`
	Units     int       `db:"units" json:"units"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type UpdateStockRequest struct {
	Units int `json:"units" validate:"min=0"`
}
