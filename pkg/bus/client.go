package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides cluster-scoped Redis operations for the bus.
// All keys and channels are namespaced with the cluster name.
// The client is safe for concurrent use.
type Client struct {
	rdb     *redis.Client
	cluster string
}

// NewClient creates a bus client for the given cluster.
// Returns an error if cluster is empty.
func NewClient(redisOpts *redis.Options, cluster string) (*Client, error) {
	if cluster == "" {
		return nil, fmt.Errorf("cluster name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		cluster: cluster,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a bus client.
func NewClientFromURL(url, cluster string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewClient(opts, cluster)
}

// Cluster returns the cluster name keys are namespaced with.
func (c *Client) Cluster() string {
	return c.cluster
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// NewEvent returns an envelope with a fresh ID and the client's cluster name.
func (c *Client) NewEvent(eventType, nodeID string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Cluster:   c.cluster,
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
	}
}

// PublishEvent validates e and publishes it to pm:{cluster}:market_events.
// Delivery is at-most-once: subscribers that are not connected miss it.
func (c *Client) PublishEvent(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.rdb.Publish(ctx, MarketEventsChannel(c.cluster), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish market event: %w", err)
	}
	return nil
}

// StorePrice replaces the price snapshot of nodeID.
func (c *Client) StorePrice(ctx context.Context, nodeID string, price *market.Price) error {
	hash, err := PriceToHash(&PriceSnapshot{NodeID: nodeID, Price: price, UpdatedAtMs: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to serialize price: %w", err)
	}
	return c.storeSnapshot(ctx, nodeID, PriceKey(c.cluster, nodeID), hash)
}

// GetPrice returns the price snapshot of nodeID.
// Returns (nil, redis.Nil) if no snapshot exists; use IsNotFound to check.
func (c *Client) GetPrice(ctx context.Context, nodeID string) (*PriceSnapshot, error) {
	hash, err := c.readSnapshot(ctx, PriceKey(c.cluster, nodeID))
	if err != nil {
		return nil, err
	}

	snapshot, err := HashToPrice(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize price: %w", err)
	}
	return snapshot, nil
}

// StoreBid replaces the bid snapshot of nodeID.
func (c *Client) StoreBid(ctx context.Context, nodeID string, bid *market.Bid) error {
	hash, err := BidToHash(&BidSnapshot{NodeID: nodeID, Bid: bid, UpdatedAtMs: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to serialize bid: %w", err)
	}
	return c.storeSnapshot(ctx, nodeID, BidKey(c.cluster, nodeID), hash)
}

// GetBid returns the bid snapshot of nodeID.
// Returns (nil, redis.Nil) if no snapshot exists; use IsNotFound to check.
func (c *Client) GetBid(ctx context.Context, nodeID string) (*BidSnapshot, error) {
	hash, err := c.readSnapshot(ctx, BidKey(c.cluster, nodeID))
	if err != nil {
		return nil, err
	}

	snapshot, err := HashToBid(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize bid: %w", err)
	}
	return snapshot, nil
}

// Nodes returns the sorted identifiers of every node with a snapshot.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	nodes, err := c.rdb.SMembers(ctx, NodesKey(c.cluster)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node set: %w", err)
	}
	sort.Strings(nodes)
	return nodes, nil
}

// PublishOverride publishes a manual price for the auctioneer. A nil price is
// published as a null override.
func (c *Client) PublishOverride(ctx context.Context, price *float64) error {
	override := &PriceOverride{ID: uuid.New().String(), Price: price}
	if err := override.Validate(); err != nil {
		return fmt.Errorf("invalid price override: %w", err)
	}

	payload, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to marshal price override: %w", err)
	}

	if err := c.rdb.Publish(ctx, PriceOverrideChannel(c.cluster), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish price override: %w", err)
	}
	return nil
}

// Previous snapshot fields are replaced in full; the pipeline keeps the
// snapshot and the node set in step.
func (c *Client) storeSnapshot(ctx context.Context, nodeID, key string, hash map[string]interface{}) error {
	if nodeID == "" {
		return fmt.Errorf("node id cannot be empty")
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		pipe.SAdd(ctx, NodesKey(c.cluster), nodeID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}
	return nil
}

func (c *Client) readSnapshot(ctx context.Context, key string) (map[string]string, error) {
	hash, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from Redis: %w", err)
	}
	// HGetAll returns an empty map for a missing key
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return hash, nil
}

// IsNotFound reports whether err is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
