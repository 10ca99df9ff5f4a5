package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"vidsniff/work/logger"
	"vidsniff/work/metrics"
	"vidsniff/work/types"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// WriteEvent writes one server-sent event frame carrying state
func WriteEvent(w io.Writer, state types.ProgressState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// ServeEvents streams progress for key as text/event-stream until the
// session is terminal or the client goes away. The sniff itself is never
// affected by the viewer disconnecting.
func ServeEvents(w http.ResponseWriter, r *http.Request, t *Tracker, key string, interval time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return ErrStreamingUnsupported
	}

	viewer := uuid.NewString()[:8]
	writeStreamHeaders(w)

	metrics.ProgressViewers.Inc()
	defer metrics.ProgressViewers.Dec()

	logger.Debug("{progress/sse - ServeEvents} viewer %s attached to %s", viewer, key)

	err := t.Stream(r.Context(), key, interval, func(state types.ProgressState) error {
		if err := WriteEvent(w, state); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("{progress/sse - ServeEvents} viewer %s on %s ended: %v", viewer, key, err)
		return err
	}
	logger.Debug("{progress/sse - ServeEvents} viewer %s on %s closed", viewer, key)
	return nil
}

// ServeSnapshot answers an event stream request with a single frame, used
// when the result is already known and no session runs.
func ServeSnapshot(w http.ResponseWriter, state types.ProgressState) error {
	writeStreamHeaders(w)
	if err := WriteEvent(w, state); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}
