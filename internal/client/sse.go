package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/types"
)

// reconnectBackoff is the fixed delay before re-establishing a dropped
// stream. Reconnection replays the full backlog, which the reconciler's
// de-duplication absorbs.
const reconnectBackoff = 5 * time.Second

// Consumer maintains one room's long-lived delivery stream: it connects,
// feeds incoming messages to a handler, and reconnects after transport
// errors until the context is cancelled.
type Consumer struct {
	log     zerolog.Logger
	httpc   *http.Client
	baseURL string
	roomID  string
	backoff time.Duration

	// OnMessage receives every application message, including backlog
	// replays; de-duplication is the handler's concern.
	OnMessage func(types.Message)
}

func NewConsumer(log zerolog.Logger, httpc *http.Client, baseURL, roomID string, onMessage func(types.Message)) *Consumer {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Consumer{
		log:       log,
		httpc:     httpc,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		roomID:    roomID,
		backoff:   reconnectBackoff,
		OnMessage: onMessage,
	}
}

// Run blocks until ctx is cancelled. A transport error tears the connection
// down and re-establishes it after the backoff; it is not surfaced to the
// caller.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Str("room", c.roomID).Dur("backoff", c.backoff).Msg("stream dropped, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) connectOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/rooms/%s/stream", c.baseURL, c.roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	return parseEventStream(resp.Body, c.handleEvent)
}

func (c *Consumer) handleEvent(event string, data []byte) {
	switch event {
	case "connection":
		c.log.Debug().Str("room", c.roomID).Msg("stream connected")
	case "ping":
		// keepalive only
	default:
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Str("room", c.roomID).Msg("undecodable stream message")
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

// parseEventStream reads a line-oriented text event stream, invoking emit
// once per event with the event name (empty for the default event) and the
// joined data payload.
func parseEventStream(r io.Reader, emit func(event string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var event string
	var dataLines [][]byte
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				emit(event, bytes.Join(dataLines, []byte("\n")))
			}
			event = ""
			dataLines = nil
			continue
		}

		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			dataLines = append(dataLines, []byte(data))
		}
	}
	return scanner.Err()
}
