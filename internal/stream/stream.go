package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Event types published on the stream.
const (
	TypeCreated = "transaction.created"
	TypeDecided = "transaction.decided"
)

// Event notifies dashboards that a transaction was submitted or decided.
type Event struct {
	Type          string           `json:"type"`
	TransactionID int64            `json:"transactionId"`
	UnitID        int64            `json:"unitId"`
	Status        string           `json:"status"`
	Action        string           `json:"action,omitempty"`
	ActorUserID   int64            `json:"actorUserId"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Stream fans events out to active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

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

// Subscribers reports the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish delivers evt to every subscriber without blocking; slow ones miss it.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
