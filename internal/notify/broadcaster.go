// Package notify fans ledger appends out to in-process subscribers.
// Delivery is best-effort: the ledger row is the durable record, the
// stream only exists for operators watching live activity.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"opsgate/internal/domain"
)

// Broadcaster distributes ledger entries to subscribers. A slow
// subscriber drops entries rather than blocking dispatch.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan domain.LedgerEntry
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]chan domain.LedgerEntry),
		logger: logger.With("component", "notify"),
	}
}

// Publish delivers the entry to every subscriber without blocking.
func (b *Broadcaster) Publish(e domain.LedgerEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping ledger notification for slow subscriber",
				"subscriber", id, "command_id", e.CommandID)
		}
	}
}

// Subscribe registers a buffered subscription that is torn down when ctx
// is done. The returned channel is closed on teardown.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan domain.LedgerEntry {
	ch := make(chan domain.LedgerEntry, 64)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// LogVerdicts consumes a subscription and writes one structured log line
// per ledger entry until ctx is done.
func (b *Broadcaster) LogVerdicts(ctx context.Context) {
	for e := range b.Subscribe(ctx) {
		b.logger.Info("ledger entry recorded",
			"command_id", e.CommandID,
			"actor", e.Actor,
			"action", e.Action,
			"resource_id", e.ResourceID,
			"verdict", e.Verdict,
			"reason", e.Reason)
	}
}
