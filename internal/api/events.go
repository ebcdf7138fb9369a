package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/store"
)

// ListEvents handles GET /events?source=&name=&limit=
// Returns the newest matching events from the store, oldest first.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{Source: q.Get("source"), Name: q.Get("name")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	evs, err := s.store.ListEvents(r.Context(), f)
	if err != nil {
		slog.Error("list events", "err", err)
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}
