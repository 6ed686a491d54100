package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anonchat/anonchat/internal/types"
)

type OutboxEntry struct {
	ID       string        `json:"id"`
	RoomID   string        `json:"roomId"`
	Message  types.Message `json:"message"`
	QueuedAt time.Time     `json:"queuedAt"`
	Synced   bool          `json:"synced"`
}

// SubmitFunc posts one queued message and returns the server-confirmed
// message.
type SubmitFunc func(ctx context.Context, msg types.Message) (types.Message, error)

// Outbox is the durable queue for messages written while offline. Entries
// are drained FIFO per room; an entry is only removed once the server has
// confirmed it, and a sync trigger firing while a drain is in flight is a
// no-op rather than a duplicate submission.
type Outbox struct {
	log  zerolog.Logger
	path string

	mu      sync.Mutex
	entries []OutboxEntry
	syncing bool
}

func NewOutbox(log zerolog.Logger, path string) (*Outbox, error) {
	o := &Outbox{log: log, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return o, nil
		}
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	if err := json.Unmarshal(data, &o.entries); err != nil {
		return nil, fmt.Errorf("decode outbox: %w", err)
	}
	return o, nil
}

// persist writes atomically so a crash mid-write never corrupts the queue.
// Callers hold o.mu.
func (o *Outbox) persist() error {
	data, err := json.MarshalIndent(o.entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(o.path), fmt.Sprintf(".%s.tmp", filepath.Base(o.path)))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, o.path)
}

func (o *Outbox) Enqueue(msg types.Message) (OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry := OutboxEntry{
		ID:       uuid.NewString(),
		RoomID:   msg.RoomID,
		Message:  msg,
		QueuedAt: time.Now().UTC(),
	}
	o.entries = append(o.entries, entry)

	if err := o.persist(); err != nil {
		o.entries = o.entries[:len(o.entries)-1]
		return OutboxEntry{}, fmt.Errorf("persist outbox: %w", err)
	}
	return entry, nil
}

// Pending returns the unsynced entries in queue order.
func (o *Outbox) Pending() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	var pending []OutboxEntry
	for _, e := range o.entries {
		if !e.Synced {
			pending = append(pending, e)
		}
	}
	return pending
}

// Sync drains the queue FIFO per room through submit. Entries are marked
// synced on success and left queued on failure; a failure blocks the rest
// of that room's queue to preserve ordering. Returns the confirmed messages.
func (o *Outbox) Sync(ctx context.Context, submit SubmitFunc) ([]types.Message, error) {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return nil, nil
	}
	o.syncing = true
	pending := make([]OutboxEntry, 0, len(o.entries))
	for _, e := range o.entries {
		if !e.Synced {
			pending = append(pending, e)
		}
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.mu.Unlock()
	}()

	var confirmed []types.Message
	var firstErr error
	blocked := make(map[string]bool)

	for _, entry := range pending {
		if blocked[entry.RoomID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		msg, err := submit(ctx, entry.Message)
		if err != nil {
			o.log.Warn().Err(err).Str("room", entry.RoomID).Msg("outbox sync failed, leaving entry queued")
			blocked[entry.RoomID] = true
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		o.markSynced(entry.ID)
		confirmed = append(confirmed, msg)
	}

	o.compact()
	return confirmed, firstErr
}

func (o *Outbox) markSynced(entryID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.entries {
		if o.entries[i].ID == entryID {
			o.entries[i].Synced = true
			break
		}
	}
	if err := o.persist(); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist outbox state")
	}
}

// compact drops synced entries.
func (o *Outbox) compact() {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.entries[:0]
	for _, e := range o.entries {
		if !e.Synced {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(o.entries) {
		return
	}
	o.entries = kept
	if err := o.persist(); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist outbox state")
	}
}
