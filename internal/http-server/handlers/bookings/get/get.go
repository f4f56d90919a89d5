package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fixly-booking/api"
	"fixly-booking/internal/storage"
	"fixly-booking/pkg/response"
	"fixly-booking/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type BookingGetter interface {
	GetBooking(ctx context.Context, id string) (*api.BookingResponse, error)
	ListBookings(ctx context.Context, f *storage.BookingFilters) ([]*api.BookingResponse, error)
}

type Response struct {
	response.Response
	Booking  *api.BookingResponse  `json:"booking,omitempty"`
	Bookings []api.BookingResponse `json:"bookings,omitempty"`
}

func New(log *slog.Logger, getter BookingGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")

		if id != "" {
			booking, err := getter.GetBooking(r.Context(), id)

			if errors.Is(err, response.ErrNotFound) {
				log.Error("resource not found")
				w.WriteHeader(http.StatusNotFound)
				render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
				return
			}

			if err != nil {
				log.Error("Failed to get booking", sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get booking"))
				return
			}

			log.Info("Booking retrieved", slog.Any("booking", booking))
			render.JSON(w, r, Response{Booking: booking})
			return
		}

		filters := &storage.BookingFilters{}

		if providerID := r.URL.Query().Get("provider_id"); providerID != "" {
			filters.ProviderID = &providerID
		}

		if homeownerID := r.URL.Query().Get("homeowner_id"); homeownerID != "" {
			filters.HomeownerID = &homeownerID
		}

		if fromStr := r.URL.Query().Get("from"); fromStr != "" {
			if t, err := time.Parse("2006-01-02", fromStr); err == nil {
				filters.From = &t
			} else if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
				filters.From = &t
			}
		}

		if toStr := r.URL.Query().Get("to"); toStr != "" {
			if t, err := time.Parse("2006-01-02", toStr); err == nil {
				filters.To = &t
			} else if t, err := time.Parse(time.RFC3339, toStr); err == nil {
				filters.To = &t
			}
		}

		if status := r.URL.Query().Get("status"); status != "" {
			filters.Status = &status
		}

		bookings, err := getter.ListBookings(r.Context(), filters)
		if err != nil {
			log.Error("Failed to list bookings", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list bookings"))
			return
		}

		log.Info("Bookings retrieved", slog.Int("count", len(bookings)))

		bookingsResponse := make([]api.BookingResponse, len(bookings))
		for i, b := range bookings {
			bookingsResponse[i] = *b
		}

		render.JSON(w, r, Response{Bookings: bookingsResponse})
	}
}
