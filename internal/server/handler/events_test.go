package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// fakeEventSource replays canned stream pages and records the cursor it
// was asked for.
type fakeEventSource struct {
	msgs      []domain.StreamMessage
	err       error
	lastAfter string
	lastCount int
}

func (f *fakeEventSource) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	f.lastAfter = lastID
	f.lastCount = count
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > count {
		return f.msgs[:count], nil
	}
	return f.msgs, nil
}

func streamMessages(n int) []domain.StreamMessage {
	out := make([]domain.StreamMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.StreamMessage{
			ID:      fmt.Sprintf("170000000000%d-0", i),
			Payload: []byte(fmt.Sprintf(`{"type":"bet_placed","market_id":%d}`, i)),
		})
	}
	return out
}

func TestListEventsReplaysStream(t *testing.T) {
	src := &fakeEventSource{msgs: streamMessages(2)}
	h := NewEventsHandler(src, "events", testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0-0", src.lastAfter)
	assert.Equal(t, 100, src.lastCount)

	out := rec.Body.String()
	assert.Contains(t, out, `"id":"1700000000000-0"`)
	assert.Contains(t, out, `"type":"bet_placed"`)
	// A short page carries no resume cursor.
	assert.NotContains(t, out, `"next"`)
}

func TestListEventsPagination(t *testing.T) {
	src := &fakeEventSource{msgs: streamMessages(3)}
	h := NewEventsHandler(src, "events", testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after=1700000000000-0&limit=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1700000000000-0", src.lastAfter)
	assert.Equal(t, 3, src.lastCount)
	// A full page points at the last returned id.
	assert.Contains(t, rec.Body.String(), `"next":"1700000000002-0"`)
}

func TestListEventsClampsLimit(t *testing.T) {
	src := &fakeEventSource{}
	h := NewEventsHandler(src, "events", testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=99999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, src.lastCount)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestListEventsSourceFailure(t *testing.T) {
	src := &fakeEventSource{err: errors.New("redis: connection refused")}
	h := NewEventsHandler(src, "events", testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}
