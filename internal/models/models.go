package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// AvailabilityWindow is a recurring weekly block during which a provider
// takes bookings. StartTime/EndTime are local times of day in "15:04" form.
type AvailabilityWindow struct {
	ID            string `db:"id"`
	ProviderID    string `db:"provider_id"`
	DayOfWeek     int    `db:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime     string `db:"start_time"`
	EndTime       string `db:"end_time"`
	BufferMinutes int    `db:"buffer_minutes"`
}

type Holiday struct {
	ID   string    `db:"id"`
	Date time.Time `db:"holiday_date"`
	Name string    `db:"name"`
}

// HolidayPreference is the per-provider opt-in. A holiday suppresses a
// provider's availability only when BlocksAvailability is true.
type HolidayPreference struct {
	ProviderID         string `db:"provider_id"`
	HolidayID          string `db:"holiday_id"`
	BlocksAvailability bool   `db:"blocks_availability"`
}

type Booking struct {
	ID           string        `db:"id"`
	ProviderID   string        `db:"provider_id"`
	HomeownerID  string        `db:"homeowner_id"`
	Start        time.Time     `db:"start_ts"`
	End          time.Time     `db:"end_ts"`
	Status       BookingStatus `db:"status"`
	ServiceType  string        `db:"service_type"`
	Description  string        `db:"description"`
	CancelReason *string       `db:"cancel_reason"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}
