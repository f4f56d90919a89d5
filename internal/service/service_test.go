package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"fixly-booking/api"
	"fixly-booking/internal/config"
	"fixly-booking/internal/models"
	"fixly-booking/internal/schedule"
	"fixly-booking/internal/storage"
	"fixly-booking/pkg/response"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-09-07 is a Monday.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 9, 7, hour, min, 0, 0, time.UTC)
}

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error   { t.committed = true; return nil }
func (t *fakeTx) Rollback() error { t.rolledBack = true; return nil }
func (t *fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

type fakeStore struct {
	mu       sync.Mutex
	windows  map[string]*models.AvailabilityWindow
	blocked  map[string][]time.Time
	bookings map[string]*models.Booking
	lastTx   *fakeTx
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		windows:  map[string]*models.AvailabilityWindow{},
		blocked:  map[string][]time.Time{},
		bookings: map[string]*models.Booking{},
	}
}

func (f *fakeStore) BeginTx(context.Context) (storage.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

func (f *fakeStore) CreateAvailabilityWindow(_ context.Context, w *models.AvailabilityWindow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	cp.ID = uuid.NewString()
	f.windows[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeStore) GetAvailabilityWindow(_ context.Context, id string) (*models.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) ListAvailabilityWindows(_ context.Context, providerID string) ([]*models.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AvailabilityWindow
	for _, w := range f.windows {
		if w.ProviderID == providerID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateAvailabilityWindow(_ context.Context, w *models.AvailabilityWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.windows[w.ID]; !ok {
		return response.ErrNotFound
	}
	cp := *w
	f.windows[w.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteAvailabilityWindow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.windows[id]; !ok {
		return response.ErrNotFound
	}
	delete(f.windows, id)
	return nil
}

func (f *fakeStore) ListHolidays(context.Context, *string) ([]*storage.HolidayWithPreference, error) {
	return nil, nil
}

func (f *fakeStore) UpsertHolidayPreference(context.Context, *models.HolidayPreference) error {
	return nil
}

func (f *fakeStore) ListBlockedDates(_ context.Context, providerID string, from, to time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fromKey := schedule.DateKey(from)
	toKey := schedule.DateKey(to)
	var out []time.Time
	for _, d := range f.blocked[providerID] {
		key := schedule.DateKey(d)
		if key >= fromKey && key <= toKey {
			out = append(out, d)
		}
	}
	return out, nil
}

// InsertBooking mimics the exclusion constraint: the overlap re-check and the
// insert happen atomically.
func (f *fakeStore) InsertBooking(_ context.Context, _ storage.Tx, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlapsLocked(b.ProviderID, b.Start, b.End) {
		return response.ErrSlotTaken
	}
	cp := *b
	cp.CreatedAt = time.Now()
	f.bookings[cp.ID] = &cp
	return nil
}

func (f *fakeStore) FindOverlapping(_ context.Context, _ storage.Tx, providerID string, start, end time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlapsLocked(providerID, start, end), nil
}

func (f *fakeStore) overlapsLocked(providerID string, start, end time.Time) bool {
	for _, b := range f.bookings {
		if b.ProviderID != providerID {
			continue
		}
		if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
			continue
		}
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}

func (f *fakeStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ListBookings(_ context.Context, filters *storage.BookingFilters) ([]*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Booking
	for _, b := range f.bookings {
		if filters.ProviderID != nil && b.ProviderID != *filters.ProviderID {
			continue
		}
		if filters.HomeownerID != nil && b.HomeownerID != *filters.HomeownerID {
			continue
		}
		if filters.Status != nil && string(b.Status) != *filters.Status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListActiveBookings(_ context.Context, providerID string, from, to time.Time) ([]*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Booking
	for _, b := range f.bookings {
		if b.ProviderID != providerID {
			continue
		}
		if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
			continue
		}
		if b.Start.Before(to) && b.End.After(from) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateBookingStatus(_ context.Context, id string, status models.BookingStatus, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return response.ErrNotFound
	}
	b.Status = status
	if reason != nil {
		b.CancelReason = reason
	}
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	grant bool // when true the lock is always granted
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.grant {
		return true, nil
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func newTestService(store Store, locker *fakeLocker) *Service {
	s := NewService(store, locker, config.Booking{
		MaxLookaheadDays: 90,
		LockTTL:          10 * time.Second,
		PendingTTL:       30 * time.Minute,
	})
	s.loc = time.UTC
	s.now = func() time.Time { return monday.AddDate(0, 0, -7) }
	return s
}

func addWindow(t *testing.T, store *fakeStore, providerID string, day int, start, end string, buffer int) {
	t.Helper()

	_, err := store.CreateAvailabilityWindow(context.Background(), &models.AvailabilityWindow{
		ProviderID:    providerID,
		DayOfWeek:     day,
		StartTime:     start,
		EndTime:       end,
		BufferMinutes: buffer,
	})
	require.NoError(t, err)
}

func addBooking(store *fakeStore, providerID string, start, end time.Time, status models.BookingStatus) {
	store.mu.Lock()
	defer store.mu.Unlock()
	id := uuid.NewString()
	store.bookings[id] = &models.Booking{
		ID:         id,
		ProviderID: providerID,
		Start:      start,
		End:        end,
		Status:     status,
	}
}

func bookingRequest(start, end time.Time) *api.BookingRequest {
	return &api.BookingRequest{
		ProviderID:  "prov-1",
		HomeownerID: "home-1",
		Start:       start.Format(time.RFC3339),
		End:         end.Format(time.RFC3339),
		ServiceType: "plumbing",
	}
}

// Slots

func TestListSlots_Scenario(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)
	addBooking(store, "prov-1", mondayAt(10, 0), mondayAt(10, 30), models.BookingConfirmed)

	s := newTestService(store, newFakeLocker())

	slots, err := s.ListSlots(context.Background(), &SlotQuery{
		ProviderID: "prov-1",
		From:       monday,
		To:         mondayAt(23, 59),
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, mondayAt(9, 0), slots[0].Start)
	assert.Equal(t, mondayAt(11, 0), slots[1].Start)
}

func TestListSlots_NoWindowsIsEmptyNotError(t *testing.T) {
	s := newTestService(newFakeStore(), newFakeLocker())

	slots, err := s.ListSlots(context.Background(), &SlotQuery{
		ProviderID: "nobody",
		From:       monday,
		To:         mondayAt(23, 59),
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	assert.Empty(t, slots)
}

func TestListSlots_Validation(t *testing.T) {
	s := newTestService(newFakeStore(), newFakeLocker())

	cases := []struct {
		name string
		q    SlotQuery
	}{
		{"missing provider", SlotQuery{From: monday, To: mondayAt(23, 59), Duration: time.Hour}},
		{"zero duration", SlotQuery{ProviderID: "p", From: monday, To: mondayAt(23, 59)}},
		{"inverted range", SlotQuery{ProviderID: "p", From: mondayAt(23, 59), To: monday, Duration: time.Hour}},
		{"lookahead exceeded", SlotQuery{ProviderID: "p", From: monday, To: monday.AddDate(0, 0, 120), Duration: time.Hour}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ListSlots(context.Background(), &tc.q)
			assert.ErrorIs(t, err, response.ErrValidation)
		})
	}
}

func TestListSlotsByDate(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "11:00", 0)
	addWindow(t, store, "prov-1", 2, "14:00", "16:00", 0)

	s := newTestService(store, newFakeLocker())

	days, err := s.ListSlotsByDate(context.Background(), &SlotQuery{
		ProviderID: "prov-1",
		From:       monday,
		To:         monday.AddDate(0, 0, 6),
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	require.Len(t, days, 2)
	assert.Equal(t, "2026-09-07", days[0].Date)
	assert.Len(t, days[0].Slots, 2)
	assert.Equal(t, "2026-09-08", days[1].Date)
}

// Bookings

func TestCreateBooking_Success(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)

	s := newTestService(store, newFakeLocker())

	booking, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, string(models.BookingPending), booking.Status)
	assert.Equal(t, "prov-1", booking.ProviderID)
	assert.True(t, store.lastTx.committed)
}

func TestCreateBooking_Conflict(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)
	addBooking(store, "prov-1", mondayAt(9, 30), mondayAt(10, 30), models.BookingPending)

	s := newTestService(store, newFakeLocker())

	_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
	assert.ErrorIs(t, err, response.ErrSlotTaken)
	assert.True(t, store.lastTx.rolledBack)
}

func TestCreateBooking_BufferConflict(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 15)
	addBooking(store, "prov-1", mondayAt(10, 0), mondayAt(10, 30), models.BookingConfirmed)

	s := newTestService(store, newFakeLocker())

	// 10:30-11:00 sits inside the 15-minute post-booking buffer.
	_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(10, 30), mondayAt(11, 0)))
	assert.ErrorIs(t, err, response.ErrSlotTaken)

	// 10:45-11:15 clears the buffer.
	booking, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(10, 45), mondayAt(11, 15)))
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingPending), booking.Status)
}

func TestCreateBooking_OutsideAvailability(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)

	s := newTestService(store, newFakeLocker())

	_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(13, 0), mondayAt(14, 0)))
	assert.ErrorIs(t, err, response.ErrSlotTaken)
}

func TestCreateBooking_HolidayBlocked(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)
	store.blocked["prov-1"] = []time.Time{monday}

	s := newTestService(store, newFakeLocker())

	_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
	assert.ErrorIs(t, err, response.ErrSlotTaken)
}

func TestCreateBooking_Locked(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)

	locker := newFakeLocker()
	locker.held["provider:prov-1"] = true

	s := newTestService(store, locker)

	_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
	assert.ErrorIs(t, err, response.ErrLocked)
}

func TestCreateBooking_Validation(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)

	s := newTestService(store, newFakeLocker())

	req := bookingRequest(mondayAt(9, 0), mondayAt(10, 0))
	req.Start = "not-a-time"
	_, err := s.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = s.CreateBooking(context.Background(), bookingRequest(mondayAt(10, 0), mondayAt(9, 0)))
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0).AddDate(-1, 0, 0), mondayAt(10, 0).AddDate(-1, 0, 0)))
	assert.ErrorIs(t, err, response.ErrValidation)
}

// TestCreateBooking_Race drives concurrent commits for the same range with a
// permissive locker, so the atomic insert is the only defence left — exactly
// one attempt may win.
func TestCreateBooking_Race(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)

	locker := newFakeLocker()
	locker.grant = true

	s := newTestService(store, locker)

	const attempts = 8

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, response.ErrSlotTaken):
			conflicts++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
}

func TestConfirmBooking(t *testing.T) {
	store := newFakeStore()
	addBooking(store, "prov-1", mondayAt(9, 0), mondayAt(10, 0), models.BookingPending)

	var id string
	for k := range store.bookings {
		id = k
	}

	s := newTestService(store, newFakeLocker())

	booking, err := s.ConfirmBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingConfirmed), booking.Status)

	// confirmed cannot be confirmed again
	_, err = s.ConfirmBooking(context.Background(), id)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestCancelBooking(t *testing.T) {
	store := newFakeStore()
	addBooking(store, "prov-1", mondayAt(9, 0), mondayAt(10, 0), models.BookingConfirmed)

	var id string
	for k := range store.bookings {
		id = k
	}

	s := newTestService(store, newFakeLocker())

	_, err := s.CancelBooking(context.Background(), id, "")
	assert.ErrorIs(t, err, response.ErrCancelReasonRequired)

	booking, err := s.CancelBooking(context.Background(), id, "homeowner changed plans")
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingCancelled), booking.Status)
	require.NotNil(t, booking.CancelReason)
	assert.Equal(t, "homeowner changed plans", *booking.CancelReason)

	// cancelled is terminal
	_, err = s.CancelBooking(context.Background(), id, "again")
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
	_, err = s.ConfirmBooking(context.Background(), id)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestCompleteBooking(t *testing.T) {
	store := newFakeStore()
	addBooking(store, "prov-1", mondayAt(9, 0), mondayAt(10, 0), models.BookingPending)

	var id string
	for k := range store.bookings {
		id = k
	}

	s := newTestService(store, newFakeLocker())

	// pending cannot be completed directly
	_, err := s.CompleteBooking(context.Background(), id)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)

	_, err = s.ConfirmBooking(context.Background(), id)
	require.NoError(t, err)

	booking, err := s.CompleteBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingCompleted), booking.Status)

	// completed is terminal
	_, err = s.CompleteBooking(context.Background(), id)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestCancelledBookingFreesRange(t *testing.T) {
	store := newFakeStore()
	addWindow(t, store, "prov-1", 1, "09:00", "12:00", 0)
	addBooking(store, "prov-1", mondayAt(9, 0), mondayAt(10, 0), models.BookingCancelled)

	s := newTestService(store, newFakeLocker())

	booking, err := s.CreateBooking(context.Background(), bookingRequest(mondayAt(9, 0), mondayAt(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingPending), booking.Status)
}

// Availability windows

func TestCreateAvailabilityWindow_Validation(t *testing.T) {
	s := newTestService(newFakeStore(), newFakeLocker())

	cases := []api.AvailabilityWindowRequest{
		{ProviderID: "p", DayOfWeek: 1, StartTime: "12:00", EndTime: "09:00"},
		{ProviderID: "p", DayOfWeek: 1, StartTime: "09:00", EndTime: "09:00"},
		{ProviderID: "p", DayOfWeek: 7, StartTime: "09:00", EndTime: "12:00"},
		{ProviderID: "p", DayOfWeek: 1, StartTime: "9am", EndTime: "12:00"},
		{ProviderID: "p", DayOfWeek: 1, StartTime: "09:00", EndTime: "25:00"},
		{ProviderID: "p", DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", BufferMinutes: -5},
	}

	for _, req := range cases {
		_, err := s.CreateAvailabilityWindow(context.Background(), &req)
		assert.ErrorIs(t, err, response.ErrValidation, "request %+v", req)
	}
}

func TestAvailabilityWindowLifecycle(t *testing.T) {
	s := newTestService(newFakeStore(), newFakeLocker())

	created, err := s.CreateAvailabilityWindow(context.Background(), &api.AvailabilityWindowRequest{
		ProviderID: "prov-1",
		DayOfWeek:  1,
		StartTime:  "09:00",
		EndTime:    "12:00",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	updated, err := s.UpdateAvailabilityWindow(context.Background(), created.ID, &api.AvailabilityWindowRequest{
		ProviderID:    "prov-1",
		DayOfWeek:     1,
		StartTime:     "10:00",
		EndTime:       "14:00",
		BufferMinutes: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, "10:00", updated.StartTime)
	assert.Equal(t, 15, updated.BufferMinutes)

	listed, err := s.ListAvailabilityWindows(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, s.DeleteAvailabilityWindow(context.Background(), created.ID))

	err = s.DeleteAvailabilityWindow(context.Background(), created.ID)
	assert.ErrorIs(t, err, response.ErrNotFound)
}
