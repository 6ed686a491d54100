package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anonchat/anonchat/internal/stream"
	"github.com/anonchat/anonchat/internal/types"
)

const (
	eventConnection = "connection"
	eventPing       = "ping"
	eventMessage    = "message"

	// pingInterval keeps intermediary proxies from idling out a stream
	// that happens to carry no messages.
	pingInterval = 15 * time.Second

	// seenCap bounds the per-connection de-duplication set.
	seenCap = 1000
)

type connectionEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type pingEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// eventWriter frames typed events for a text/event-stream response. Each
// payload line gets its own data: prefix and every event ends with a blank
// line, per the protocol.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter, flusher http.Flusher) *eventWriter {
	return &eventWriter{w: w, flusher: flusher}
}

func (ew *eventWriter) writeEvent(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')

	if _, err := ew.w.Write(buf.Bytes()); err != nil {
		return err
	}
	ew.flusher.Flush()
	return nil
}

// streamRoom is the delivery stream endpoint: a long-lived GET whose
// response multiplexes the initial backlog replay, live fan-out messages,
// and periodic keepalives. It closes only when the client disconnects or
// the server shuts down.
func (app *AnonChatApp) streamRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		errResp := NewInternalServerError(fmt.Errorf("streaming unsupported"))
		app.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	sub := app.fanout.Subscribe(ctx, roomID)
	defer app.fanout.Unsubscribe(sub)

	ew := newEventWriter(w, flusher)

	// the connection event lets the client tell "stream opened" apart from
	// "first real message"
	if err := ew.writeEvent(eventConnection, connectionEvent{
		Type:      eventConnection,
		Status:    "connected",
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return
	}

	seen := stream.NewSeenSet(seenCap)
	app.replayBacklog(r, ew, roomID, seen)

	app.log.Debug().Str("room", roomID).Msg("stream connected")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			app.log.Debug().Str("room", roomID).Msg("stream disconnected")
			return
		case <-app.done:
			app.log.Debug().Str("room", roomID).Msg("stream closed for shutdown")
			return
		case <-ping.C:
			if err := ew.writeEvent(eventPing, pingEvent{Type: eventPing, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if !seen.Add(env.Message.ID) {
				continue
			}
			if err := ew.writeEvent(eventMessage, env.Message); err != nil {
				return
			}
		}
	}
}

// replayBacklog seeds a fresh connection from the recency buffer, falling
// back to the durable store when the buffer is unreachable or empty.
func (app *AnonChatApp) replayBacklog(r *http.Request, ew *eventWriter, roomID string, seen *stream.SeenSet) {
	ctx := r.Context()

	var messages []types.Message
	envelopes, err := app.buffer.ReadRecent(ctx, roomID, 0)
	if err != nil {
		app.log.Warn().Err(err).Str("room", roomID).Msg("recency buffer unavailable, replaying from store")
	}
	if err != nil || len(envelopes) == 0 {
		stored, storeErr := app.store.ListRecentMessages(ctx, roomID, backlogLimit)
		if storeErr != nil {
			app.log.Warn().Err(storeErr).Str("room", roomID).Msg("backlog replay degraded, no history available")
			return
		}
		messages = stored
	} else {
		messages = make([]types.Message, len(envelopes))
		for i, env := range envelopes {
			messages[i] = env.Message
		}
	}

	for _, msg := range messages {
		if !seen.Add(msg.ID) {
			continue
		}
		if err := ew.writeEvent(eventMessage, msg); err != nil {
			return
		}
	}
}
