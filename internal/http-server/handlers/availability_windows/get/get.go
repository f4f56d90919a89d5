package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"fixly-booking/api"
	"fixly-booking/pkg/response"
	"fixly-booking/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type WindowGetter interface {
	GetAvailabilityWindow(ctx context.Context, id string) (*api.AvailabilityWindowResponse, error)
	ListAvailabilityWindows(ctx context.Context, providerID string) ([]*api.AvailabilityWindowResponse, error)
}

type Response struct {
	response.Response
	Window  *api.AvailabilityWindowResponse  `json:"window,omitempty"`
	Windows []api.AvailabilityWindowResponse `json:"windows,omitempty"`
}

func New(log *slog.Logger, getter WindowGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability_windows.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")

		if id != "" {
			window, err := getter.GetAvailabilityWindow(r.Context(), id)

			if errors.Is(err, response.ErrNotFound) {
				log.Error("resource not found")
				w.WriteHeader(http.StatusNotFound)
				render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
				return
			}

			if err != nil {
				log.Error("Failed to get availability window", sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get availability window"))
				return
			}

			log.Info("Availability window retrieved", slog.Any("window", window))
			render.JSON(w, r, Response{Window: window})
			return
		}

		providerID := r.URL.Query().Get("provider_id")
		if providerID == "" {
			log.Error("provider_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "provider_id is required"))
			return
		}

		windows, err := getter.ListAvailabilityWindows(r.Context(), providerID)
		if err != nil {
			log.Error("Failed to list availability windows", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list availability windows"))
			return
		}

		log.Info("Availability windows retrieved", slog.Int("count", len(windows)))

		windowsResponse := make([]api.AvailabilityWindowResponse, len(windows))
		for i, win := range windows {
			windowsResponse[i] = *win
		}

		render.JSON(w, r, Response{Windows: windowsResponse})
	}
}
