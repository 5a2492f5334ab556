package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/errors"
)

func (r *inventoryRepository) GetStock(ctx context.Context, bloodType model.BloodType) (*model.StockLevel, error) {
	query := `SELECT blood_type, units, updated_at FROM inventory WHERE blood_type = $1`

	var stock model.StockLevel
	err := r.db.GetContext(ctx, &stock, query, bloodType)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("stock level", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock level: %w", err)
	}
	return &stock, nil
}

func (r *inventoryRepository) UpsertStock(ctx context.Context, stock *model.StockLevel) error {
	query := `
		INSERT INTO inventory (blood_type, units, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blood_type)
		DO UPDATE SET units = EXCLUDED.units, updated_at = EXCLUDED.updated_at
	`
	stock.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query, stock.BloodType, stock.Units, stock.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stock level: %w", err)
	}
	return nil
}

func (r *inventoryRepository) ListStock(ctx context.Context) ([]*model.StockLevel, error) {
	query := `SELECT blood_type, units, updated_at FROM inventory ORDER BY blood_type`

	var stock []*model.StockLevel
	if err := r.db.SelectContext(ctx, &stock, query); err != nil {
		return nil, fmt.Errorf("failed to list stock levels: %w", err)
	}
	return stock, nil
}
