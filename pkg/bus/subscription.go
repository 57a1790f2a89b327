package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Subscription is an active Pub/Sub subscription delivering decoded messages.
// Caller must call Close() when done.
type Subscription[T any] struct {
	events <-chan T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Errors returns the channel of non-fatal errors. Messages that fail to decode
// or validate are reported here and skipped.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer. Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// EventSubscription delivers market events.
type EventSubscription = Subscription[*Event]

// OverrideSubscription delivers price overrides.
type OverrideSubscription = Subscription[*PriceOverride]

// SubscribeEvents subscribes to pm:{cluster}:market_events.
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a slow subscriber may miss events.
func (c *Client) SubscribeEvents(ctx context.Context) (*EventSubscription, error) {
	return subscribe(ctx, c, MarketEventsChannel(c.cluster), func(payload []byte) (*Event, error) {
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal market event: %w", err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid market event: %w", err)
		}
		return &e, nil
	})
}

// SubscribeOverrides subscribes to pm:{cluster}:price_override.
func (c *Client) SubscribeOverrides(ctx context.Context) (*OverrideSubscription, error) {
	return subscribe(ctx, c, PriceOverrideChannel(c.cluster), func(payload []byte) (*PriceOverride, error) {
		var o PriceOverride
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price override: %w", err)
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("invalid price override: %w", err)
		}
		return &o, nil
	})
}

func subscribe[T any](ctx context.Context, c *Client, channel string, decode func([]byte) (T, error)) (*Subscription[T], error) {
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so nothing published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				decoded, err := decode([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- decoded:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
