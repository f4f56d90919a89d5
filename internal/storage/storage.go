package storage

import (
	"context"
	"database/sql"
	"time"

	"fixly-booking/internal/models"
)

// Tx is the slice of *sql.Tx the service layer drives. Keeping it an
// interface lets tests commit bookings without a live database.
type Tx interface {
	Commit() error
	Rollback() error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type BookingFilters struct {
	ProviderID  *string
	HomeownerID *string
	From        *time.Time
	To          *time.Time
	Status      *string
}

// HolidayWithPreference is a holiday row joined with a provider's opt-in.
// BlocksAvailability is nil when no provider scope was requested.
type HolidayWithPreference struct {
	models.Holiday
	BlocksAvailability *bool
}
