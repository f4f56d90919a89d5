package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fixly-booking/internal/models"
	"fixly-booking/internal/storage"
	"fixly-booking/pkg/response"

	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Storage) BeginTx(ctx context.Context) (storage.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// #### availability windows ####

func (s *Storage) CreateAvailabilityWindow(ctx context.Context, w *models.AvailabilityWindow) (string, error) {
	const op = "storage.postgres.CreateAvailabilityWindow"

	var id string

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO availability_windows
		(provider_id, day_of_week, start_time, end_time, buffer_minutes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		w.ProviderID,
		w.DayOfWeek,
		w.StartTime,
		w.EndTime,
		w.BufferMinutes,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) GetAvailabilityWindow(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	const op = "storage.postgres.GetAvailabilityWindow"

	var w models.AvailabilityWindow
	var start, end time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, day_of_week, start_time, end_time, buffer_minutes
		FROM availability_windows WHERE id=$1`, id).
		Scan(&w.ID, &w.ProviderID, &w.DayOfWeek, &start, &end, &w.BufferMinutes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w.StartTime = start.Format("15:04")
	w.EndTime = end.Format("15:04")

	return &w, nil
}

func (s *Storage) ListAvailabilityWindows(ctx context.Context, providerID string) ([]*models.AvailabilityWindow, error) {
	const op = "storage.postgres.ListAvailabilityWindows"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, day_of_week, start_time, end_time, buffer_minutes
		FROM availability_windows
		WHERE provider_id=$1
		ORDER BY day_of_week, start_time`, providerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var windows []*models.AvailabilityWindow
	for rows.Next() {
		var w models.AvailabilityWindow
		var start, end time.Time

		err := rows.Scan(&w.ID, &w.ProviderID, &w.DayOfWeek, &start, &end, &w.BufferMinutes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		w.StartTime = start.Format("15:04")
		w.EndTime = end.Format("15:04")

		windows = append(windows, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return windows, nil
}

func (s *Storage) UpdateAvailabilityWindow(ctx context.Context, w *models.AvailabilityWindow) error {
	const op = "storage.postgres.UpdateAvailabilityWindow"

	res, err := s.db.ExecContext(ctx,
		`UPDATE availability_windows
		SET provider_id=$1, day_of_week=$2, start_time=$3, end_time=$4, buffer_minutes=$5
		WHERE id=$6`,
		w.ProviderID,
		w.DayOfWeek,
		w.StartTime,
		w.EndTime,
		w.BufferMinutes,
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func (s *Storage) DeleteAvailabilityWindow(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteAvailabilityWindow"

	res, err := s.db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

// #### holidays ####

func (s *Storage) ListHolidays(ctx context.Context, providerID *string) ([]*storage.HolidayWithPreference, error) {
	const op = "storage.postgres.ListHolidays"

	var rows *sql.Rows
	var err error

	if providerID != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT h.id, h.holiday_date, h.name, COALESCE(hp.blocks_availability, FALSE)
			FROM holidays h
			LEFT JOIN holiday_preferences hp
				ON hp.holiday_id = h.id AND hp.provider_id = $1
			ORDER BY h.holiday_date`, *providerID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, holiday_date, name, NULL FROM holidays ORDER BY holiday_date`)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var holidays []*storage.HolidayWithPreference
	for rows.Next() {
		var h storage.HolidayWithPreference

		err := rows.Scan(&h.ID, &h.Date, &h.Name, &h.BlocksAvailability)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		holidays = append(holidays, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return holidays, nil
}

func (s *Storage) UpsertHolidayPreference(ctx context.Context, pref *models.HolidayPreference) error {
	const op = "storage.postgres.UpsertHolidayPreference"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO holiday_preferences (provider_id, holiday_id, blocks_availability)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id, holiday_id)
		DO UPDATE SET blocks_availability = EXCLUDED.blocks_availability`,
		pref.ProviderID,
		pref.HolidayID,
		pref.BlocksAvailability,
	)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && sqlErr.Code == "23503" {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ListBlockedDates returns the calendar dates inside [from, to] that the
// provider has opted to block.
func (s *Storage) ListBlockedDates(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error) {
	const op = "storage.postgres.ListBlockedDates"

	rows, err := s.db.QueryContext(ctx,
		`SELECT h.holiday_date
		FROM holidays h
		JOIN holiday_preferences hp ON hp.holiday_id = h.id
		WHERE hp.provider_id = $1
			AND hp.blocks_availability = TRUE
			AND h.holiday_date BETWEEN $2::date AND $3::date
		ORDER BY h.holiday_date`,
		providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time

		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		dates = append(dates, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return dates, nil
}

// #### bookings ####

// InsertBooking relies on the bookings_no_overlap exclusion constraint as the
// last line of defence: a concurrent committer that slipped past the in-tx
// re-check surfaces here as ErrSlotTaken.
func (s *Storage) InsertBooking(ctx context.Context, tx storage.Tx, b *models.Booking) error {
	const op = "storage.postgres.InsertBooking"

	_, err := tx.ExecContext(ctx,
		`INSERT INTO bookings
		(id, provider_id, homeowner_id, start_ts, end_ts, status, service_type, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		b.ID,
		b.ProviderID,
		b.HomeownerID,
		b.Start,
		b.End,
		string(b.Status),
		b.ServiceType,
		b.Description,
	)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && (sqlErr.Code == "23P01" || sqlErr.Code == "23505") {
			return fmt.Errorf("%s: %w", op, response.ErrSlotTaken)
		}
		if ok && sqlErr.Code == "23503" {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// FindOverlapping locks and reports any non-cancelled booking of the provider
// intersecting [start, end). Must run inside the committing transaction.
func (s *Storage) FindOverlapping(ctx context.Context, tx storage.Tx, providerID string, start, end time.Time) (bool, error) {
	const op = "storage.postgres.FindOverlapping"

	var id string

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_ts < $3
			AND end_ts > $2
		LIMIT 1
		FOR UPDATE`,
		providerID, start, end).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.postgres.GetBooking"

	var b models.Booking
	var status string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, homeowner_id, start_ts, end_ts, status,
			service_type, description, cancel_reason, created_at, updated_at
		FROM bookings WHERE id=$1`, id).
		Scan(
			&b.ID,
			&b.ProviderID,
			&b.HomeownerID,
			&b.Start,
			&b.End,
			&status,
			&b.ServiceType,
			&b.Description,
			&b.CancelReason,
			&b.CreatedAt,
			&b.UpdatedAt,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b.Status = models.BookingStatus(status)

	return &b, nil
}

func (s *Storage) ListBookings(ctx context.Context, f *storage.BookingFilters) ([]*models.Booking, error) {
	const op = "storage.postgres.ListBookings"

	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ProviderID != nil {
		add("provider_id = $%d", *f.ProviderID)
	}
	if f.HomeownerID != nil {
		add("homeowner_id = $%d", *f.HomeownerID)
	}
	if f.From != nil {
		add("end_ts > $%d", *f.From)
	}
	if f.To != nil {
		add("start_ts < $%d", *f.To)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}

	query := `SELECT id, provider_id, homeowner_id, start_ts, end_ts, status,
		service_type, description, cancel_reason, created_at, updated_at
	FROM bookings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_ts"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		var b models.Booking
		var status string

		err := rows.Scan(
			&b.ID,
			&b.ProviderID,
			&b.HomeownerID,
			&b.Start,
			&b.End,
			&status,
			&b.ServiceType,
			&b.Description,
			&b.CancelReason,
			&b.CreatedAt,
			&b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		b.Status = models.BookingStatus(status)

		bookings = append(bookings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookings, nil
}

// ListActiveBookings returns the provider's pending and confirmed bookings
// intersecting [from, to) — the occupancy input of the slot generator.
func (s *Storage) ListActiveBookings(ctx context.Context, providerID string, from, to time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListActiveBookings"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_ts, end_ts, status
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_ts < $3
			AND end_ts > $2
		ORDER BY start_ts`,
		providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		var b models.Booking
		var status string

		if err := rows.Scan(&b.ID, &b.Start, &b.End, &status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		b.ProviderID = providerID
		b.Status = models.BookingStatus(status)

		bookings = append(bookings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookings, nil
}

func (s *Storage) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, reason *string) error {
	const op = "storage.postgres.UpdateBookingStatus"

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status=$1, cancel_reason=COALESCE($2, cancel_reason), updated_at=NOW()
		WHERE id=$3`,
		string(status), reason, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

// CancelStalePending cancels pending bookings created before the cutoff so
// abandoned checkouts stop occupying the calendar.
func (s *Storage) CancelStalePending(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.CancelStalePending"

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings
		SET status='cancelled', cancel_reason='expired', updated_at=NOW()
		WHERE status='pending' AND created_at < $1`,
		before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
