package api

import "time"

type AvailabilityWindowRequest struct {
	ProviderID    string `json:"provider_id" validate:"required"`
	DayOfWeek     int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime     string `json:"start_time" validate:"required"`
	EndTime       string `json:"end_time" validate:"required"`
	BufferMinutes int    `json:"buffer_minutes" validate:"min=0"`
}

type AvailabilityWindowResponse struct {
	ID            string `json:"id"`
	ProviderID    string `json:"provider_id"`
	DayOfWeek     int    `json:"day_of_week"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	BufferMinutes int    `json:"buffer_minutes"`
}

type HolidayResponse struct {
	ID                 string `json:"id"`
	Date               string `json:"date"`
	Name               string `json:"name"`
	BlocksAvailability *bool  `json:"blocks_availability,omitempty"`
}

type HolidayPreferenceRequest struct {
	ProviderID         string `json:"provider_id" validate:"required"`
	BlocksAvailability bool   `json:"blocks_availability"`
}

type SlotResponse struct {
	Start time.Time `json:"slot_start"`
	End   time.Time `json:"slot_end"`
}

type DaySlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type BookingRequest struct {
	ProviderID  string `json:"provider_id" validate:"required"`
	HomeownerID string `json:"homeowner_id" validate:"required"`
	Start       string `json:"start" validate:"required"`
	End         string `json:"end" validate:"required"`
	ServiceType string `json:"service_type"`
	Description string `json:"description"`
}

type BookingResponse struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"provider_id"`
	HomeownerID  string    `json:"homeowner_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Status       string    `json:"status"`
	ServiceType  string    `json:"service_type,omitempty"`
	Description  string    `json:"description,omitempty"`
	CancelReason *string   `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type BookingCancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}
