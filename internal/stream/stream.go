// Package stream fan-outs audit events to live subscribers. It backs the
// admin audit feed; delivery is best effort and slow subscribers are dropped
// rather than allowed to block mutations.
package stream

import (
	"context"
	"sync"

	"orgcore.io/internal/rbac"
)

// Stream broadcasts audit entries to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan rbac.AuditEntry
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan rbac.AuditEntry),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan rbac.AuditEntry {
	ch := make(chan rbac.AuditEntry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the entry to all subscribers.
func (s *Stream) Publish(entry rbac.AuditEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
