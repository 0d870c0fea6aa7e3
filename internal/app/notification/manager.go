// Package notification fans coordinator events out to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/app/stream"
)

// ErrSubscriberFull is returned by a channel subscriber that cannot keep up.
var ErrSubscriberFull = errors.New("subscriber buffer is full")

const sendTimeout = 500 * time.Millisecond

// Notification is a sequenced playback event.
type Notification struct {
	SequenceNo uint64
	SessionID  string
	Event      stream.Event
}

// Subscriber receives notifications.
type Subscriber interface {
	Send(Notification) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Notification) error

// Send calls f.
func (f SubscriberFunc) Send(n Notification) error {
	return f(n)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id         string
	subscriber Subscriber
}

// Manager manages subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	sessionID     string
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager for a playback session.
func NewManager(sessionID string) *Manager {
	return &Manager{
		sessionID:     sessionID,
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(s Subscriber) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:         id,
		subscriber: s,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends ev to all subscribers. Sends run in parallel, and a
// subscriber that does not return within the send timeout is skipped.
func (m *Manager) Broadcast(ev stream.Event) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n := Notification{SequenceNo: m.sequenceNo, SessionID: m.sessionID, Event: ev}
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- s.subscriber.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed: subscription=%s seq=%d error=%v", s.id, n.SequenceNo, err)
				}
			case <-time.After(sendTimeout):
				zlog.Debug().Msgf("notification: send timed out: subscription=%s seq=%d", s.id, n.SequenceNo)
			}
		}(sub)
	}
	wg.Wait()
}

// Run broadcasts every event read from events until ctx is done or the
// channel is closed.
func (m *Manager) Run(ctx context.Context, events <-chan stream.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Broadcast(ev)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}

// ChanSubscriber buffers notifications on a channel.
type ChanSubscriber struct {
	c chan Notification
}

// NewChanSubscriber creates a subscriber with the given buffer size.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{c: make(chan Notification, buffer)}
}

// Send enqueues n without blocking.
func (s *ChanSubscriber) Send(n Notification) error {
	select {
	case s.c <- n:
		return nil
	default:
		return ErrSubscriberFull
	}
}

// C returns the notification channel.
func (s *ChanSubscriber) C() <-chan Notification {
	return s.c
}
