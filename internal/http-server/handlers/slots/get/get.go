package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fixly-booking/api"
	"fixly-booking/internal/service"
	"fixly-booking/pkg/response"
	"fixly-booking/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type SlotLister interface {
	ListSlots(ctx context.Context, q *service.SlotQuery) ([]*api.SlotResponse, error)
	ListSlotsByDate(ctx context.Context, q *service.SlotQuery) ([]*api.DaySlotsResponse, error)
}

type Response struct {
	response.Response
	Slots []api.SlotResponse     `json:"slots,omitempty"`
	Days  []api.DaySlotsResponse `json:"days,omitempty"`
}

func New(log *slog.Logger, lister SlotLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		providerID := r.URL.Query().Get("provider_id")
		if providerID == "" {
			log.Error("provider_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "provider_id is required"))
			return
		}

		from, ok := parseTimeParam(r.URL.Query().Get("from"), false)
		if !ok {
			log.Error("invalid from")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from is required (RFC3339 or date)"))
			return
		}

		to, ok := parseTimeParam(r.URL.Query().Get("to"), true)
		if !ok {
			log.Error("invalid to")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "to is required (RFC3339 or date)"))
			return
		}

		duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
		if err != nil {
			log.Error("invalid duration")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "duration (minutes) is required"))
			return
		}

		q := &service.SlotQuery{
			ProviderID: providerID,
			From:       from,
			To:         to,
			Duration:   time.Duration(duration) * time.Minute,
		}

		if r.URL.Query().Get("group_by") == "date" {
			days, err := lister.ListSlotsByDate(r.Context(), q)
			if handleErr(w, r, log, err, "failed to list slots") {
				return
			}

			log.Info("Slots retrieved", slog.Int("days", len(days)))

			daysResponse := make([]api.DaySlotsResponse, len(days))
			for i, d := range days {
				daysResponse[i] = *d
			}

			render.JSON(w, r, Response{Days: daysResponse})
			return
		}

		slots, err := lister.ListSlots(r.Context(), q)
		if handleErr(w, r, log, err, "failed to list slots") {
			return
		}

		log.Info("Slots retrieved", slog.Int("count", len(slots)))

		slotsResponse := make([]api.SlotResponse, len(slots))
		for i, s := range slots {
			slotsResponse[i] = *s
		}

		render.JSON(w, r, Response{Slots: slotsResponse})
	}
}

func handleErr(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, msg string) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, response.ErrValidation) {
		log.Error("Invalid slot query", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(string(response.VALIDATION_FAILED), err.Error()))
		return true
	}

	log.Error(msg, sl.Err(err))
	w.WriteHeader(http.StatusInternalServerError)
	render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), msg))
	return true
}

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as the
// range end means the whole of that day.
func parseTimeParam(s string, endOfDay bool) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}

	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		if endOfDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.Local)
		}
		return t, true
	}

	return time.Time{}, false
}
