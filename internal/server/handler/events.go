package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// EventSource defines the stream access the events handler requires.
type EventSource interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves the durable ledger event stream so consumers that
// missed the live pub/sub delivery can replay committed events in order.
type EventsHandler struct {
	source EventSource
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from the given stream.
func NewEventsHandler(source EventSource, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		stream: stream,
		logger: logHandler(logger, "events"),
	}
}

// streamEventResponse pairs a stream cursor with the event it carries.
type streamEventResponse struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// listEventsResponse wraps the replay output. Next is the cursor for the
// following page; it is empty when this page was not full.
type listEventsResponse struct {
	Events []streamEventResponse `json:"events"`
	Next   string                `json:"next,omitempty"`
}

// ListEvents replays committed ledger events from the durable stream,
// oldest first, starting after the given cursor.
// GET /api/events?after=0-0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0-0"
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	msgs, err := h.source.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read event stream")
		return
	}

	out := make([]streamEventResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEventResponse{
			ID:    m.ID,
			Event: json.RawMessage(m.Payload),
		})
	}

	resp := listEventsResponse{Events: out}
	if len(msgs) == limit {
		resp.Next = msgs[len(msgs)-1].ID
	}

	writeJSON(w, http.StatusOK, resp)
}
