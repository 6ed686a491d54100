package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/types"
)

const identityTokenHeader = "X-Identity-Token"

// Client is the delivery-side counterpart of the server: it validates an
// identity, submits messages with optimistic local echo, consumes room
// streams, and queues messages to the outbox while offline.
type Client struct {
	log     zerolog.Logger
	httpc   *http.Client
	streamc *http.Client
	baseURL string

	identity Identity
	outbox   *Outbox

	// online reports whether the network is believed reachable. Submissions
	// while offline go straight to the outbox.
	online func() bool

	mu          sync.Mutex
	token       string
	reconcilers map[string]*Reconciler
}

func NewClient(log zerolog.Logger, httpc *http.Client, baseURL string, identity Identity, outbox *Outbox, online func() bool) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	if online == nil {
		online = func() bool { return true }
	}
	// http.Client.Timeout covers reading the response body, which would cut
	// down a healthy delivery stream. The stream path gets its own client
	// without an overall deadline, sharing the transport.
	streamc := &http.Client{Transport: httpc.Transport}
	return &Client{
		log:         log,
		httpc:       httpc,
		streamc:     streamc,
		baseURL:     baseURL,
		identity:    identity,
		outbox:      outbox,
		online:      online,
		reconcilers: make(map[string]*Reconciler),
	}
}

func (c *Client) Identity() Identity {
	return c.identity
}

// Reconciler returns the per-room message state, creating it on first use.
func (c *Client) Reconciler(roomID string) *Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reconcilers[roomID]
	if !ok {
		r = NewReconciler(c.identity.ID)
		c.reconcilers[roomID] = r
	}
	return r
}

type identityRequest struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmoji string `json:"userEmoji"`
}

type identityResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// Validate checks the identity against the server and stores the issued
// token for subsequent submissions.
func (c *Client) Validate(ctx context.Context) error {
	body := identityRequest{
		UserID:    c.identity.ID,
		UserName:  c.identity.Name,
		UserEmoji: c.identity.Emoji,
	}

	var resp identityResponse
	if err := c.post(ctx, "/api/auth/validate", body, &resp); err != nil {
		return fmt.Errorf("validate identity: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// FetchBacklog loads the room's recent history into the reconciler.
func (c *Client) FetchBacklog(ctx context.Context, roomID string) ([]types.Message, error) {
	url := fmt.Sprintf("%s/api/rooms/%s/messages", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch backlog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch backlog: unexpected status %d", resp.StatusCode)
	}

	var msgs []types.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode backlog: %w", err)
	}

	r := c.Reconciler(roomID)
	for _, m := range msgs {
		r.Apply(m)
	}
	return r.Messages(), nil
}

type submitMessageRequest struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmoji string    `json:"userEmoji"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Send submits content to a room. The message is echoed locally under a
// temporary id before the request is made; the stream event carrying the
// server id later promotes it in place. Offline sends and transient
// failures land in the outbox instead of being lost.
func (c *Client) Send(ctx context.Context, roomID, content string) (types.Message, error) {
	msg := types.Message{
		ID:        NewTempID(),
		RoomID:    roomID,
		UserID:    c.identity.ID,
		UserName:  c.identity.Name,
		UserEmoji: c.identity.Emoji,
		Content:   content,
		CreatedAt: types.Now(),
	}

	r := c.Reconciler(roomID)
	r.AddOptimistic(msg)

	if !c.online() {
		if _, err := c.outbox.Enqueue(msg); err != nil {
			return msg, err
		}
		r.MarkPending(msg.ID)
		return msg, nil
	}

	confirmed, err := c.submit(ctx, msg)
	if err != nil {
		if _, qerr := c.outbox.Enqueue(msg); qerr != nil {
			return msg, fmt.Errorf("submit failed and enqueue failed: %w", qerr)
		}
		r.MarkPending(msg.ID)
		return msg, fmt.Errorf("submit message: %w", err)
	}

	r.Apply(confirmed)
	return confirmed, nil
}

// submit posts a single message and returns the server-confirmed copy.
func (c *Client) submit(ctx context.Context, msg types.Message) (types.Message, error) {
	body := submitMessageRequest{
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		UserEmoji: msg.UserEmoji,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}

	path := fmt.Sprintf("/api/rooms/%s/messages", msg.RoomID)
	var confirmed types.Message
	if err := c.post(ctx, path, body, &confirmed); err != nil {
		return types.Message{}, err
	}
	return confirmed, nil
}

// SyncOutbox drains queued messages through the normal submit path and
// applies the confirmations to each room's reconciler.
func (c *Client) SyncOutbox(ctx context.Context) (int, error) {
	confirmed, err := c.outbox.Sync(ctx, c.submit)
	for _, msg := range confirmed {
		c.Reconciler(msg.RoomID).Apply(msg)
	}
	return len(confirmed), err
}

// Stream consumes the room's event stream until the context is cancelled,
// feeding every delivered message through the reconciler.
func (c *Client) Stream(ctx context.Context, roomID string) error {
	r := c.Reconciler(roomID)
	consumer := NewConsumer(c.log, c.streamc, c.baseURL, roomID, func(msg types.Message) {
		r.Apply(msg)
	})
	return consumer.Run(ctx)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set(identityTokenHeader, token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
