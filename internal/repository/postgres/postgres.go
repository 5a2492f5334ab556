package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/hemolink/donor-api/internal/repository"
)

type donorRepository struct {
	db *sqlx.DB
}

type requestRepository struct {
	db *sqlx.DB
}

type matchRepository struct {
	db *sqlx.DB
}

type inventoryRepository struct {
	db *sqlx.DB
}

type notificationRepository struct {
	db *sqlx.DB
}

type outboxRepository struct {
	db *sqlx.DB
}

func NewDonorRepository(db *sqlx.DB) repository.DonorRepository {
	return &donorRepository{db: db}
}

func NewRequestRepository(db *sqlx.DB) repository.RequestRepository {
	return &requestRepository{db: db}
}

func NewMatchRepository(db *sqlx.DB) repository.MatchRepository {
	return &matchRepository{db: db}
}

func NewInventoryRepository(db *sqlx.DB) repository.InventoryRepository {
	return &inventoryRepository{db: db}
}

func NewNotificationRepository(db *sqlx.DB) repository.NotificationRepository {
	return &notificationRepository{db: db}
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}
