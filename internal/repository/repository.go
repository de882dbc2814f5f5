package repository

import (
	"context"
	"database/sql"
	"time"

	"pellet_dispenser/internal/models"
)

type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// EventRepo stores the dispenser journal. DeviceState itself is never
// persisted; only discrete events are.
type EventRepo interface {
	Append(ctx context.Context, e models.DispenserEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.DispenserEvent, error)
}

type Repository struct {
	EventRepo EventRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
