// Package events carries task and pool lifecycle notifications from the
// pool managers and the scheduler to in-process consumers (the daemon's
// debug log).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridops/ferryd/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventTaskQueued    EventType = "task.queued"
	EventTaskActive    EventType = "task.active"
	EventTaskDone      EventType = "task.done"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
	EventPoolCreated   EventType = "pool.created"
	EventPoolRecycled  EventType = "pool.recycled"
)

// TerminalEvent maps a terminal task status to its event type
func TerminalEvent(status types.TaskStatus) EventType {
	switch status {
	case types.StatusDone:
		return EventTaskDone
	case types.StatusFailed:
		return EventTaskFailed
	default:
		return EventTaskCancelled
	}
}

// Event describes one task or pool lifecycle change
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Kind      types.TaskKind
	Link      string
	TaskID    int64
	ExitCode  int
	Message   string
}

// Subscriber is a channel that receives events
type Subscriber chan Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. The event ID and
// timestamp are filled in when absent.
func (b *Broker) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
