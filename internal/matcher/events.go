package matcher

import (
	"sync"
	"time"

	"github.com/anaelectric/powermatcher/pkg/market"
)

// EventType names something that happened at a node or agent.
type EventType string

const (
	EventBidReceived    EventType = "bid_received"
	EventBidRejected    EventType = "bid_rejected"
	EventAggregatedBid  EventType = "aggregated_bid"
	EventBidPublished   EventType = "bid_published"
	EventPriceReceived  EventType = "price_received"
	EventPriceRejected  EventType = "price_rejected"
	EventPricePublished EventType = "price_published"
	EventCleared        EventType = "cleared"
)

// Event describes one state change or rejection. Bids are immutable and
// Price is a copy owned by the receiver.
type Event struct {
	Type      EventType     `json:"type"`
	NodeID    string        `json:"node_id"`
	ChildID   string        `json:"child_id,omitempty"`
	Bid       *market.Bid   `json:"bid,omitempty"`
	Price     *market.Price `json:"price,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer is notified synchronously after a node's state has changed.
// Implementations must not block and must not call back into the node.
type Observer interface {
	Update(event Event)
}

// Observable keeps a set of observers. Safe for concurrent use.
type Observable struct {
	mu        sync.RWMutex
	observers []Observer
}

// AddObserver registers o. Registering the same observer twice is a no-op.
// Observers are compared by identity, so use pointer types.
func (ob *Observable) AddObserver(o Observer) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for _, existing := range ob.observers {
		if existing == o {
			return
		}
	}
	ob.observers = append(ob.observers, o)
}

// RemoveObserver unregisters o.
func (ob *Observable) RemoveObserver(o Observer) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for i, existing := range ob.observers {
		if existing == o {
			ob.observers = append(ob.observers[:i], ob.observers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every registered observer.
func (ob *Observable) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ob.mu.RLock()
	observers := make([]Observer, len(ob.observers))
	copy(observers, ob.observers)
	ob.mu.RUnlock()

	for _, o := range observers {
		o.Update(event)
	}
}
