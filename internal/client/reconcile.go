// Package client implements the consumer side of the delivery stream: a
// reconciler that merges optimistic, confirmed, and streamed messages into
// one ordered duplicate-free view, an event-stream consumer with automatic
// reconnect, and a durable outbox for messages written while offline.
package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anonchat/anonchat/internal/types"
)

const (
	tempIDPrefix = "temp_"

	// promotionWindow is how far apart an optimistic message and its
	// server-confirmed counterpart may be and still be treated as the
	// same message. A heuristic, not a guarantee: under clock skew two
	// genuinely distinct identical-content messages inside the window
	// would be merged. Accepted for this system's stakes.
	promotionWindow = 30 * time.Second

	// duplicateWindow guards against the submit response and the stream
	// delivering the same own-message twice. Same caveat as above.
	duplicateWindow = 5 * time.Second
)

// NewTempID returns a client-side temporary message id. Temp ids are never
// authoritative and never sent to the server.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Reconciler merges the three concurrent sources of messages (optimistic
// local echo, submit response, delivery stream) into a single ordered list.
// Safe for concurrent use.
type Reconciler struct {
	selfID string

	mu       sync.Mutex
	messages []types.Message
	seen     map[string]struct{}
}

func NewReconciler(selfID string) *Reconciler {
	return &Reconciler{
		selfID: selfID,
		seen:   make(map[string]struct{}),
	}
}

// AddOptimistic appends a locally created message immediately, before any
// server confirmation.
func (r *Reconciler) AddOptimistic(msg types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[msg.ID]; ok {
		return
	}
	r.seen[msg.ID] = struct{}{}
	r.messages = append(r.messages, msg)
}

// Apply merges an incoming server message. Reports whether the visible list
// changed (a new entry or a temp-to-real promotion).
func (r *Reconciler) Apply(msg types.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// exact-duplicate suppression
	if _, ok := r.seen[msg.ID]; ok {
		return false
	}

	// temp-to-real promotion: replace a matching optimistic entry in
	// place, preserving its list position
	for i, existing := range r.messages {
		if !IsTempID(existing.ID) {
			continue
		}
		if existing.UserID == msg.UserID && existing.Content == msg.Content &&
			absDelta(existing.CreatedAt, msg.CreatedAt) < promotionWindow {
			delete(r.seen, existing.ID)
			r.messages[i] = msg
			r.seen[msg.ID] = struct{}{}
			return true
		}
	}

	// own message arriving a second time through another path: suppress
	// freshly created copies of content we already display
	if msg.UserID == r.selfID {
		for _, existing := range r.messages {
			if existing.UserID == msg.UserID && existing.Content == msg.Content &&
				absDelta(time.Now(), msg.CreatedAt) < duplicateWindow {
				r.seen[msg.ID] = struct{}{}
				return false
			}
		}
	}

	r.messages = append(r.messages, msg)
	r.seen[msg.ID] = struct{}{}
	return true
}

// Messages returns a copy of the reconciled list in display order.
func (r *Reconciler) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// MarkPending flags an optimistic entry as queued for later delivery.
func (r *Reconciler) MarkPending(tempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.messages {
		if existing.ID == tempID {
			r.messages[i].Pending = true
			return
		}
	}
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// Identity is the anonymous persona a client posts under.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

var (
	identityAdjectives = []string{"Quiet", "Swift", "Curious", "Bright", "Gentle", "Bold", "Clever", "Calm"}
	identityAnimals    = []string{"Otter", "Falcon", "Badger", "Lynx", "Heron", "Marmot", "Raven", "Fox"}
	identityEmojis     = []string{"🦊", "🦉", "🐙", "🦜", "🐢", "🦔", "🐳", "🦝"}
)

// NewRandomIdentity generates a fresh anonymous persona with a stable
// random id.
func NewRandomIdentity() Identity {
	id := uuid.New()
	raw := id[:]
	return Identity{
		ID:    id.String(),
		Name:  fmt.Sprintf("%s%s", identityAdjectives[int(raw[0])%len(identityAdjectives)], identityAnimals[int(raw[1])%len(identityAnimals)]),
		Emoji: identityEmojis[int(raw[2])%len(identityEmojis)],
	}
}
