package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/costwise/pricingjobs/internal/notify"
	"github.com/costwise/pricingjobs/internal/store"
)

// handleJobEvents streams job lifecycle events via Server-Sent Events.
//
// The stream opens with a snapshot event carrying the job's current state, so
// a client that connects mid-run (or reconnects) does not need a separate
// fetch to catch up. The stream closes after a terminal event or when the
// client disconnects; unsubscribing is tied to handler return.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "jobID must be a valid UUID")
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "could not load job")
		return
	}

	// Subscribe before writing the snapshot so no event between the read and
	// the subscription is lost silently; at worst the client sees an event
	// older than the snapshot.
	events, cancel := s.events.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	writeEvent(w, flusher, "snapshot", job)

	if job.Status.IsTerminal() {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, flusher, string(ev.Kind), ev)
			if ev.Kind == notify.EventCompleted || ev.Kind == notify.EventFailed {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent emits one SSE frame and flushes it immediately.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
