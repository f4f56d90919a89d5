package get

import (
	"context"
	"log/slog"
	"net/http"

	"fixly-booking/api"
	"fixly-booking/pkg/response"
	"fixly-booking/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type HolidayLister interface {
	ListHolidays(ctx context.Context, providerID *string) ([]*api.HolidayResponse, error)
}

type Response struct {
	response.Response
	Holidays []api.HolidayResponse `json:"holidays,omitempty"`
}

func New(log *slog.Logger, lister HolidayLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.holidays.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var providerID *string
		if p := r.URL.Query().Get("provider_id"); p != "" {
			providerID = &p
		}

		holidays, err := lister.ListHolidays(r.Context(), providerID)
		if err != nil {
			log.Error("Failed to list holidays", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list holidays"))
			return
		}

		log.Info("Holidays retrieved", slog.Int("count", len(holidays)))

		holidaysResponse := make([]api.HolidayResponse, len(holidays))
		for i, h := range holidays {
			holidaysResponse[i] = *h
		}

		render.JSON(w, r, Response{Holidays: holidaysResponse})
	}
}
