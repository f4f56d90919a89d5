package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixly-booking/api"
	"fixly-booking/internal/config"
	"fixly-booking/internal/lock"
	"fixly-booking/internal/models"
	"fixly-booking/internal/schedule"
	"fixly-booking/internal/storage"
	"fixly-booking/pkg/response"

	"github.com/google/uuid"
)

type Service struct {
	store  Store
	locker lock.Locker
	cfg    config.Booking
	loc    *time.Location
	now    func() time.Time
}

func NewService(store Store, locker lock.Locker, cfg config.Booking) *Service {
	return &Service{
		store:  store,
		locker: locker,
		cfg:    cfg,
		loc:    time.Local,
		now:    time.Now,
	}
}

type Store interface {
	BeginTx(ctx context.Context) (storage.Tx, error)

	// Availability Windows
	CreateAvailabilityWindow(ctx context.Context, w *models.AvailabilityWindow) (string, error)
	GetAvailabilityWindow(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	ListAvailabilityWindows(ctx context.Context, providerID string) ([]*models.AvailabilityWindow, error)
	UpdateAvailabilityWindow(ctx context.Context, w *models.AvailabilityWindow) error
	DeleteAvailabilityWindow(ctx context.Context, id string) error

	// Holidays
	ListHolidays(ctx context.Context, providerID *string) ([]*storage.HolidayWithPreference, error)
	UpsertHolidayPreference(ctx context.Context, pref *models.HolidayPreference) error
	ListBlockedDates(ctx context.Context, providerID string, from, to time.Time) ([]time.Time, error)

	// Bookings
	InsertBooking(ctx context.Context, tx storage.Tx, b *models.Booking) error
	FindOverlapping(ctx context.Context, tx storage.Tx, providerID string, start, end time.Time) (bool, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, f *storage.BookingFilters) ([]*models.Booking, error)
	ListActiveBookings(ctx context.Context, providerID string, from, to time.Time) ([]*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, reason *string) error
}

type SlotQuery struct {
	ProviderID string
	From       time.Time
	To         time.Time
	Duration   time.Duration
}

// Availability Windows

func (s *Service) CreateAvailabilityWindow(ctx context.Context, req *api.AvailabilityWindowRequest) (*api.AvailabilityWindowResponse, error) {
	const op = "service.CreateAvailabilityWindow"

	w, err := windowFromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.store.CreateAvailabilityWindow(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetAvailabilityWindow(ctx, id)
}

func (s *Service) GetAvailabilityWindow(ctx context.Context, id string) (*api.AvailabilityWindowResponse, error) {
	const op = "service.GetAvailabilityWindow"

	w, err := s.store.GetAvailabilityWindow(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return windowResponse(w), nil
}

func (s *Service) ListAvailabilityWindows(ctx context.Context, providerID string) ([]*api.AvailabilityWindowResponse, error) {
	const op = "service.ListAvailabilityWindows"

	windows, err := s.store.ListAvailabilityWindows(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.AvailabilityWindowResponse, 0, len(windows))
	for _, w := range windows {
		result = append(result, windowResponse(w))
	}

	return result, nil
}

func (s *Service) UpdateAvailabilityWindow(ctx context.Context, id string, req *api.AvailabilityWindowRequest) (*api.AvailabilityWindowResponse, error) {
	const op = "service.UpdateAvailabilityWindow"

	if _, err := s.store.GetAvailabilityWindow(ctx, id); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w, err := windowFromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w.ID = id

	if err := s.store.UpdateAvailabilityWindow(ctx, w); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetAvailabilityWindow(ctx, id)
}

func (s *Service) DeleteAvailabilityWindow(ctx context.Context, id string) error {
	const op = "service.DeleteAvailabilityWindow"

	err := s.store.DeleteAvailabilityWindow(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func windowFromRequest(req *api.AvailabilityWindowRequest) (*models.AvailabilityWindow, error) {
	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		return nil, fmt.Errorf("invalid day_of_week: %w", response.ErrValidation)
	}
	if req.BufferMinutes < 0 {
		return nil, fmt.Errorf("invalid buffer_minutes: %w", response.ErrValidation)
	}

	start, err := schedule.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start_time: %w", response.ErrValidation)
	}

	end, err := schedule.ParseTimeOfDay(req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("invalid end_time: %w", response.ErrValidation)
	}

	if start >= end {
		return nil, fmt.Errorf("start_time must be before end_time: %w", response.ErrValidation)
	}

	return &models.AvailabilityWindow{
		ProviderID:    req.ProviderID,
		DayOfWeek:     req.DayOfWeek,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		BufferMinutes: req.BufferMinutes,
	}, nil
}

func windowResponse(w *models.AvailabilityWindow) *api.AvailabilityWindowResponse {
	return &api.AvailabilityWindowResponse{
		ID:            w.ID,
		ProviderID:    w.ProviderID,
		DayOfWeek:     w.DayOfWeek,
		StartTime:     w.StartTime,
		EndTime:       w.EndTime,
		BufferMinutes: w.BufferMinutes,
	}
}

// Holidays

func (s *Service) ListHolidays(ctx context.Context, providerID *string) ([]*api.HolidayResponse, error) {
	const op = "service.ListHolidays"

	holidays, err := s.store.ListHolidays(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.HolidayResponse, 0, len(holidays))
	for _, h := range holidays {
		result = append(result, &api.HolidayResponse{
			ID:                 h.ID,
			Date:               h.Date.Format("2006-01-02"),
			Name:               h.Name,
			BlocksAvailability: h.BlocksAvailability,
		})
	}

	return result, nil
}

func (s *Service) SetHolidayPreference(ctx context.Context, holidayID string, req *api.HolidayPreferenceRequest) error {
	const op = "service.SetHolidayPreference"

	if req.ProviderID == "" {
		return fmt.Errorf("%s: provider_id is required: %w", op, response.ErrValidation)
	}

	pref := &models.HolidayPreference{
		ProviderID:         req.ProviderID,
		HolidayID:          holidayID,
		BlocksAvailability: req.BlocksAvailability,
	}

	if err := s.store.UpsertHolidayPreference(ctx, pref); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Slots

func (s *Service) ListSlots(ctx context.Context, q *SlotQuery) ([]*api.SlotResponse, error) {
	const op = "service.ListSlots"

	slots, err := s.generateSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.SlotResponse, 0, len(slots))
	for _, slot := range slots {
		result = append(result, &api.SlotResponse{Start: slot.Start, End: slot.End})
	}

	return result, nil
}

func (s *Service) ListSlotsByDate(ctx context.Context, q *SlotQuery) ([]*api.DaySlotsResponse, error) {
	const op = "service.ListSlotsByDate"

	slots, err := s.generateSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	days := schedule.GroupByDate(slots, s.loc)

	result := make([]*api.DaySlotsResponse, 0, len(days))
	for _, day := range days {
		dayResp := &api.DaySlotsResponse{Date: day.Date, Slots: make([]api.SlotResponse, 0, len(day.Slots))}
		for _, slot := range day.Slots {
			dayResp.Slots = append(dayResp.Slots, api.SlotResponse{Start: slot.Start, End: slot.End})
		}
		result = append(result, dayResp)
	}

	return result, nil
}

// generateSlots is the read side of the optimistic model: a stale result is
// acceptable because CreateBooking re-validates inside its transaction.
func (s *Service) generateSlots(ctx context.Context, q *SlotQuery) ([]schedule.Slot, error) {
	if q.ProviderID == "" {
		return nil, fmt.Errorf("provider_id is required: %w", response.ErrValidation)
	}
	if q.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive: %w", response.ErrValidation)
	}
	if !q.From.Before(q.To) {
		return nil, fmt.Errorf("to must be after from: %w", response.ErrValidation)
	}

	maxRange := time.Duration(s.cfg.MaxLookaheadDays) * 24 * time.Hour
	if q.To.Sub(q.From) > maxRange {
		return nil, fmt.Errorf("range exceeds %d day lookahead: %w", s.cfg.MaxLookaheadDays, response.ErrValidation)
	}

	stored, err := s.store.ListAvailabilityWindows(ctx, q.ProviderID)
	if err != nil {
		return nil, err
	}

	// A provider with no configuration simply has nothing bookable.
	if len(stored) == 0 {
		return []schedule.Slot{}, nil
	}

	windows, err := scheduleWindows(stored)
	if err != nil {
		return nil, err
	}

	blockedDates, err := s.store.ListBlockedDates(ctx, q.ProviderID, q.From, q.To)
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]struct{}, len(blockedDates))
	for _, d := range blockedDates {
		blocked[schedule.DateKey(d)] = struct{}{}
	}

	// Widen occupancy reads by a day so buffer expansion near the range
	// edges still sees neighbouring bookings.
	bookings, err := s.store.ListActiveBookings(ctx, q.ProviderID, q.From.AddDate(0, 0, -1), q.To.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	occupied := make([]schedule.Interval, 0, len(bookings))
	for _, b := range bookings {
		occupied = append(occupied, schedule.Interval{Start: b.Start, End: b.End})
	}

	slots, err := schedule.Generate(schedule.Request{
		Windows:  windows,
		Blocked:  blocked,
		Bookings: occupied,
		From:     q.From,
		To:       q.To,
		Duration: q.Duration,
		Now:      s.now(),
		Location: s.loc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", response.ErrValidation, err)
	}

	return slots, nil
}

func scheduleWindows(stored []*models.AvailabilityWindow) ([]schedule.Window, error) {
	windows := make([]schedule.Window, 0, len(stored))
	for _, w := range stored {
		start, err := schedule.ParseTimeOfDay(w.StartTime)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.ID, err)
		}

		end, err := schedule.ParseTimeOfDay(w.EndTime)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.ID, err)
		}

		windows = append(windows, schedule.Window{
			Weekday: time.Weekday(w.DayOfWeek),
			Start:   start,
			End:     end,
			Buffer:  time.Duration(w.BufferMinutes) * time.Minute,
		})
	}

	return windows, nil
}

// Bookings

// CreateBooking is the commit side: the requested range is re-derived against
// live windows, holidays and the booking ledger inside one transaction, under
// a per-provider lock. At most one committer wins any overlapping range.
func (s *Service) CreateBooking(ctx context.Context, req *api.BookingRequest) (*api.BookingResponse, error) {
	const op = "service.CreateBooking"

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid start: %w", op, response.ErrValidation)
	}

	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid end: %w", op, response.ErrValidation)
	}

	if !start.Before(end) {
		return nil, fmt.Errorf("%s: end must be after start: %w", op, response.ErrValidation)
	}

	if start.Before(s.now()) {
		return nil, fmt.Errorf("%s: start is in the past: %w", op, response.ErrValidation)
	}

	lockKey := fmt.Sprintf("provider:%s", req.ProviderID)

	locked, err := s.locker.Lock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey)
	}()

	stored, err := s.store.ListAvailabilityWindows(ctx, req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	windows, err := scheduleWindows(stored)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	start = start.In(s.loc)
	end = end.In(s.loc)

	buffer, ok := schedule.Covers(windows, start, end, s.loc)
	if !ok {
		return nil, fmt.Errorf("%s: outside availability: %w", op, response.ErrSlotTaken)
	}

	blockedDates, err := s.store.ListBlockedDates(ctx, req.ProviderID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(blockedDates) > 0 {
		return nil, fmt.Errorf("%s: holiday blocked: %w", op, response.ErrSlotTaken)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	taken, err := s.store.FindOverlapping(ctx, tx, req.ProviderID, start.Add(-buffer), end.Add(buffer))
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%s: %w", op, response.ErrSlotTaken)
	}

	booking := &models.Booking{
		ID:          uuid.NewString(),
		ProviderID:  req.ProviderID,
		HomeownerID: req.HomeownerID,
		Start:       start,
		End:         end,
		Status:      models.BookingPending,
		ServiceType: req.ServiceType,
		Description: req.Description,
	}

	if err := s.store.InsertBooking(ctx, tx, booking); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, response.ErrSlotTaken) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrSlotTaken)
		}
		return nil, fmt.Errorf("%s: create booking: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return s.GetBooking(ctx, booking.ID)
}

func (s *Service) GetBooking(ctx context.Context, id string) (*api.BookingResponse, error) {
	const op = "service.GetBooking"

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookingResponse(booking), nil
}

func (s *Service) ListBookings(ctx context.Context, f *storage.BookingFilters) ([]*api.BookingResponse, error) {
	const op = "service.ListBookings"

	bookings, err := s.store.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.BookingResponse, 0, len(bookings))
	for _, booking := range bookings {
		result = append(result, bookingResponse(booking))
	}

	return result, nil
}

func (s *Service) ConfirmBooking(ctx context.Context, bookingID string) (*api.BookingResponse, error) {
	const op = "service.ConfirmBooking"

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if booking.Status != models.BookingPending {
		return nil, fmt.Errorf("%s: %s cannot be confirmed: %w", op, booking.Status, response.ErrInvalidTransition)
	}

	if err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingConfirmed, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetBooking(ctx, bookingID)
}

func (s *Service) CancelBooking(ctx context.Context, bookingID, reason string) (*api.BookingResponse, error) {
	const op = "service.CancelBooking"

	if reason == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrCancelReasonRequired)
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if booking.Status != models.BookingPending && booking.Status != models.BookingConfirmed {
		return nil, fmt.Errorf("%s: %s cannot be cancelled: %w", op, booking.Status, response.ErrInvalidTransition)
	}

	if err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingCancelled, &reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetBooking(ctx, bookingID)
}

func (s *Service) CompleteBooking(ctx context.Context, bookingID string) (*api.BookingResponse, error) {
	const op = "service.CompleteBooking"

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if booking.Status != models.BookingConfirmed {
		return nil, fmt.Errorf("%s: %s cannot be completed: %w", op, booking.Status, response.ErrInvalidTransition)
	}

	if err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingCompleted, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetBooking(ctx, bookingID)
}

func bookingResponse(b *models.Booking) *api.BookingResponse {
	return &api.BookingResponse{
		ID:           b.ID,
		ProviderID:   b.ProviderID,
		HomeownerID:  b.HomeownerID,
		Start:        b.Start,
		End:          b.End,
		Status:       string(b.Status),
		ServiceType:  b.ServiceType,
		Description:  b.Description,
		CancelReason: b.CancelReason,
		CreatedAt:    b.CreatedAt,
	}
}
