package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	mw "innerpath/internal/middleware"
	"innerpath/internal/store"
)

type CheckinHandler struct {
	store store.Store
}

func NewCheckinHandler(st store.Store) *CheckinHandler {
	return &CheckinHandler{store: st}
}

// List returns the user's check-in sessions, newest first. Optional query
// params: start_date, end_date (YYYY-MM-DD).
func (h *CheckinHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	q := r.URL.Query()
	from := q.Get("start_date")
	to := q.Get("end_date")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			http.Error(w, "invalid date; expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	sessions, err := h.store.ListSessions(r.Context(), userID, from, to)
	if err != nil {
		http.Error(w, "could not fetch", http.StatusInternalServerError)
		return
	}
	out := make([]CheckinDTO, 0, len(sessions))
	for i := range sessions {
		out = append(out, ToCheckinDTO(&sessions[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Messages returns the full transcript for one of the user's sessions.
func (h *CheckinHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	sessionID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || sessionID <= 0 {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if sess.UserID != userID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "could not fetch", http.StatusInternalServerError)
		return
	}
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, ToMessageDTO(&msgs[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Reflections returns the user's weekly aggregations, newest first.
func (h *CheckinHandler) Reflections(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	aggs, err := h.store.ListAggregations(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not fetch", http.StatusInternalServerError)
		return
	}
	out := make([]ReflectionDTO, 0, len(aggs))
	for _, a := range aggs {
		dto := ReflectionDTO{
			ID:          a.ID,
			Type:        a.Type,
			PeriodStart: a.PeriodStart,
			PeriodEnd:   a.PeriodEnd,
			Summary:     a.Summary,
		}
		if len(a.Data) > 0 {
			var data any
			if json.Unmarshal(a.Data, &data) == nil {
				dto.Data = data
			}
		}
		out = append(out, dto)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
