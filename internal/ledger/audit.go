package ledger

import (
	"context"
	"sync"

	"github.com/jwalitptl/health-ledger/internal/model"
)

// AuditLog is an append-only sequence of audit events. Appends come from the
// controller in commit order; readers poll with Events or follow with Subscribe.
type AuditLog struct {
	mu      sync.RWMutex
	events  []model.AuditEvent
	changed chan struct{}
}

func NewAuditLog() *AuditLog {
	return &AuditLog{changed: make(chan struct{})}
}

func (l *AuditLog) append(ev model.AuditEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

// Len returns the number of events appended so far.
func (l *AuditLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Events returns up to limit events starting at offset from. A limit <= 0
// returns everything after from.
func (l *AuditLog) Events(from uint64, limit int) []model.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from >= uint64(len(l.events)) {
		return []model.AuditEvent{}
	}
	end := uint64(len(l.events))
	if limit > 0 && from+uint64(limit) < end {
		end = from + uint64(limit)
	}
	out := make([]model.AuditEvent, end-from)
	copy(out, l.events[from:end])
	return out
}

// Subscribe streams every event at offset from and later, in order, until ctx
// is cancelled. The returned channel is closed when the subscription ends.
func (l *AuditLog) Subscribe(ctx context.Context, from uint64) <-chan model.AuditEvent {
	out := make(chan model.AuditEvent, 64)

	go func() {
		defer close(out)
		next := from
		for {
			l.mu.RLock()
			var batch []model.AuditEvent
			if next < uint64(len(l.events)) {
				batch = make([]model.AuditEvent, uint64(len(l.events))-next)
				copy(batch, l.events[next:])
			}
			wait := l.changed
			l.mu.RUnlock()

			for _, ev := range batch {
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(batch) > 0 {
				continue
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
