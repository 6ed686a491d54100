package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/anonchat/anonchat/internal/store"
	"github.com/anonchat/anonchat/internal/types"
)

func TestEventWriterFraming(t *testing.T) {
	rr := httptest.NewRecorder()
	ew := newEventWriter(rr, rr)

	msg := types.Message{ID: "m1", RoomID: "r1", Content: "hello"}
	assert.NoError(t, ew.writeEvent(eventMessage, msg))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: message\n"), "expected event line first")
	assert.Contains(t, body, "data: {")
	assert.True(t, strings.HasSuffix(body, "\n\n"), "expected blank-line terminator")

	// the data payload round-trips
	dataLine := ""
	for _, line := range strings.Split(body, "\n") {
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			dataLine = after
		}
	}
	var decoded types.Message
	assert.NoError(t, json.Unmarshal([]byte(dataLine), &decoded))
	assert.Equal(t, "m1", decoded.ID)
}

// readEvent consumes one framed event from the stream, skipping pings.
func readEvent(t *testing.T, br *bufio.Reader) (string, []byte) {
	t.Helper()

	for {
		var event string
		var data []byte
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read event stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				break
			}
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				event = name
				continue
			}
			if d, ok := strings.CutPrefix(line, "data: "); ok {
				data = append(data, d...)
			}
		}
		if event == eventPing {
			continue
		}
		return event, data
	}
}

func openStream(t *testing.T, ctx context.Context, baseURL, roomID string) *bufio.Reader {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/rooms/"+roomID+"/stream", nil)
	assert.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestStreamRoomBacklogAndLive(t *testing.T) {
	mockRepo := &store.MockRepository{}
	defer mockRepo.AssertExpectations(t)

	ta := newTestApp(t, mockRepo, 30, nil)
	srv := httptest.NewServer(ta.mux)
	defer srv.Close()

	// seed the recency buffer so replay comes from there, not the store
	backlogMsg := types.Message{ID: "m1", RoomID: "r1", UserID: "u2", UserName: "SwiftLynx", Content: "earlier", CreatedAt: types.Now()}
	assert.NoError(t, ta.buffer.Append(context.Background(), "r1", backlogMsg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	br := openStream(t, ctx, srv.URL, "r1")

	event, _ := readEvent(t, br)
	assert.Equal(t, eventConnection, event, "expected the connection event first")

	event, data := readEvent(t, br)
	assert.Equal(t, eventMessage, event)
	var replayed types.Message
	assert.NoError(t, json.Unmarshal(data, &replayed))
	assert.Equal(t, "m1", replayed.ID, "expected the backlog replayed")

	// a live publish for the room reaches the open stream
	liveMsg := types.Message{ID: "m2", RoomID: "r1", UserID: "u1", Content: "live", CreatedAt: types.Now()}
	assert.NoError(t, ta.fanout.Publish(context.Background(), "r1", types.NewEnvelope(liveMsg)))

	event, data = readEvent(t, br)
	assert.Equal(t, eventMessage, event)
	var live types.Message
	assert.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, "m2", live.ID)

	// re-publishing an already-delivered message is suppressed; the next
	// event received is the following new message
	assert.NoError(t, ta.fanout.Publish(context.Background(), "r1", types.NewEnvelope(backlogMsg)))
	nextMsg := types.Message{ID: "m3", RoomID: "r1", UserID: "u1", Content: "after dup", CreatedAt: types.Now()}
	assert.NoError(t, ta.fanout.Publish(context.Background(), "r1", types.NewEnvelope(nextMsg)))

	event, data = readEvent(t, br)
	assert.Equal(t, eventMessage, event)
	var next types.Message
	assert.NoError(t, json.Unmarshal(data, &next))
	assert.Equal(t, "m3", next.ID, "expected the duplicate skipped")
}

func TestStreamRoomStoreFallback(t *testing.T) {
	stored := []types.Message{
		{ID: "m1", RoomID: "r1", Content: "from store", CreatedAt: types.Now()},
	}

	mockRepo := &store.MockRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListRecentMessages", mock.Anything, "r1", backlogLimit).Return(stored, nil).Once()

	ta := newTestApp(t, mockRepo, 30, nil)
	srv := httptest.NewServer(ta.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	br := openStream(t, ctx, srv.URL, "r1")

	event, _ := readEvent(t, br)
	assert.Equal(t, eventConnection, event)

	event, data := readEvent(t, br)
	assert.Equal(t, eventMessage, event)
	var replayed types.Message
	assert.NoError(t, json.Unmarshal(data, &replayed))
	assert.Equal(t, "m1", replayed.ID, "expected replay from the durable store")
}

func TestStreamRoomDisconnectCleansUp(t *testing.T) {
	mockRepo := &store.MockRepository{}
	mockRepo.On("ListRecentMessages", mock.Anything, "r1", backlogLimit).Return(nil, nil).Once()

	ta := newTestApp(t, mockRepo, 30, nil)
	srv := httptest.NewServer(ta.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	br := openStream(t, ctx, srv.URL, "r1")

	event, _ := readEvent(t, br)
	assert.Equal(t, eventConnection, event)

	assert.Eventually(t, func() bool {
		return ta.fanout.registry.Count("r1") == 1
	}, time.Second, 10*time.Millisecond, "expected a live subscription")

	cancel()

	assert.Eventually(t, func() bool {
		return ta.fanout.registry.Count("r1") == 0
	}, 2*time.Second, 10*time.Millisecond, "expected the subscription removed on disconnect")
}

func TestStreamRoomExitsOnShutdown(t *testing.T) {
	mockRepo := &store.MockRepository{}
	mockRepo.On("ListRecentMessages", mock.Anything, "r1", backlogLimit).Return(nil, nil).Once()

	ta := newTestApp(t, mockRepo, 30, nil)
	srv := httptest.NewServer(ta.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	br := openStream(t, ctx, srv.URL, "r1")

	event, _ := readEvent(t, br)
	assert.Equal(t, eventConnection, event)

	assert.Eventually(t, func() bool {
		return ta.fanout.registry.Count("r1") == 1
	}, time.Second, 10*time.Millisecond, "expected a live subscription")

	// Shutdown must not wait for the client to disconnect; the stream
	// handler has to exit on its own.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	assert.NoError(t, ta.app.Shutdown(shutdownCtx))

	assert.Eventually(t, func() bool {
		return ta.fanout.registry.Count("r1") == 0
	}, 2*time.Second, 10*time.Millisecond, "expected the stream handler to exit on shutdown")
}

func TestStreamFanOutToMultipleSubscribers(t *testing.T) {
	confirmed := types.Message{
		ID:        "507f1f77bcf86cd799439012",
		RoomID:    "r1",
		UserID:    "u1",
		UserName:  "QuietOtter",
		Content:   "hi",
		CreatedAt: types.Now(),
	}

	mockRepo := &store.MockRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListRecentMessages", mock.Anything, "r1", backlogLimit).Return(nil, nil).Twice()
	mockRepo.On("SaveMessage", mock.Anything, mock.Anything).Return(confirmed, nil).Once()

	ta := newTestApp(t, mockRepo, 30, nil)
	srv := httptest.NewServer(ta.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	br1 := openStream(t, ctx, srv.URL, "r1")
	br2 := openStream(t, ctx, srv.URL, "r1")

	for _, br := range []*bufio.Reader{br1, br2} {
		event, _ := readEvent(t, br)
		assert.Equal(t, eventConnection, event)
	}

	body := strings.NewReader(`{"userId":"u1","userName":"QuietOtter","content":"hi"}`)
	resp, err := http.Post(srv.URL+"/api/rooms/r1/messages", "application/json", body)
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, br := range []*bufio.Reader{br1, br2} {
		event, data := readEvent(t, br)
		assert.Equal(t, eventMessage, event)
		var msg types.Message
		assert.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, confirmed.ID, msg.ID)
		assert.Equal(t, "hi", msg.Content)
	}
}
