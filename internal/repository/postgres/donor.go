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

func (r *donorRepository) Create(ctx context.Context, donor *model.Donor) error {
	query := `
		INSERT INTO donors (
			id, name, email, phone, password_hash, blood_type,
			latitude, longitude, available, last_donation,
			contact_channels, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	donor.ID = uuid.New()
	donor.CreatedAt = time.Now()
	donor.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		donor.ID,
		donor.Name,
		donor.Email,
		donor.Phone,
		donor.PasswordHash,
		donor.BloodType,
		donor.Latitude,
		donor.Longitude,
		donor.Available,
		donor.LastDonation,
		donor.ContactChannels,
		donor.CreatedAt,
		donor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create donor: %w", err)
	}
	return nil
}

func (r *donorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Donor, error) {
	query := `
		SELECT id, name, email, phone, password_hash, blood_type,
			   latitude, longitude, available, last_donation,
			   contact_channels, created_at, updated_at
		FROM donors
		WHERE id = $1
	`
	var donor model.Donor
	err := r.db.GetContext(ctx, &donor, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("donor", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}
	return &donor, nil
}

func (r *donorRepository) GetByEmail(ctx context.Context, email string) (*model.Donor, error) {
	query := `
		SELECT id, name, email, phone, password_hash, blood_type,
			   latitude, longitude, available, last_donation,
			   contact_channels, created_at, updated_at
		FROM donors
		WHERE email = $1
	`
	var donor model.Donor
	err := r.db.GetContext(ctx, &donor, query, email)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("donor", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get donor by email: %w", err)
	}
	return &donor, nil
}

func (r *donorRepository) Update(ctx context.Context, donor *model.Donor) error {
	query := `
		UPDATE donors
		SET phone = $1, latitude = $2, longitude = $3, available = $4,
			contact_channels = $5, updated_at = $6
		WHERE id = $7
	`
	donor.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		donor.Phone,
		donor.Latitude,
		donor.Longitude,
		donor.Available,
		donor.ContactChannels,
		donor.UpdatedAt,
		donor.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update donor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewNotFound("donor", nil)
	}
	return nil
}

func (r *donorRepository) List(ctx context.Context, filters *model.DonorFilters) ([]*model.Donor, error) {
	query := `
		SELECT id, name, email, phone, password_hash, blood_type,
			   latitude, longitude, available, last_donation,
			   contact_channels, created_at, updated_at
		FROM donors
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filters != nil && filters.BloodType != "" {
		query += fmt.Sprintf(" AND blood_type = $%d", argCount)
		args = append(args, filters.BloodType)
		argCount++
	}
	if filters != nil && filters.Available != nil {
		query += fmt.Sprintf(" AND available = $%d", argCount)
		args = append(args, *filters.Available)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	var donors []*model.Donor
	err := r.db.SelectContext(ctx, &donors, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list donors: %w", err)
	}
	return donors, nil
}

// FindCompatible evaluates the haversine distance in SQL so the radius
// filter runs next to the data. Availability and cooldown are filtered
// here too; the selector re-checks them before ranking.
func (r *donorRepository) FindCompatible(ctx context.Context, donorTypes []model.BloodType, lat, lng, radiusKm float64, lastDonationBefore time.Time, excludeIDs []uuid.UUID) ([]*model.Donor, error) {
	types := make([]string, len(donorTypes))
	for i, bt := range donorTypes {
		types[i] = string(bt)
	}
	exclude := make([]string, len(excludeIDs))
	for i, id := range excludeIDs {
		exclude[i] = id.String()
	}

	query := `
		SELECT id, name, email, phone, password_hash, blood_type,
			   latitude, longitude, available, last_donation,
			   contact_channels, created_at, updated_at
		FROM donors
		WHERE available = true
		  AND blood_type = ANY($1)
		  AND (last_donation IS NULL OR last_donation <= $2)
		  AND id != ALL($3)
		  AND 6371 * 2 * asin(sqrt(
				pow(sin(radians(latitude - $4) / 2), 2) +
				cos(radians($4)) * cos(radians(latitude)) *
				pow(sin(radians(longitude - $5) / 2), 2)
		  )) <= $6
	`
	var donors []*model.Donor
	err := r.db.SelectContext(ctx, &donors, query,
		pq.Array(types),
		lastDonationBefore,
		pq.Array(exclude),
		lat,
		lng,
		radiusKm,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find compatible donors: %w", err)
	}
	return donors, nil
}

func (r *donorRepository) MarkDonated(ctx context.Context, id uuid.UUID, donatedAt time.Time) error {
	query := `
		UPDATE donors
		SET available = false, last_donation = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, donatedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark donor as donated: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NewNotFound("donor", nil)
	}
	return nil
}
