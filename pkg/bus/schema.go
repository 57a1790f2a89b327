package bus

import "fmt"

// Key pattern: pm:{cluster}:{entity}:{id}
// Channel pattern: pm:{cluster}:{name}

// PriceKey returns the Redis key of a node's price snapshot.
// Pattern: pm:{cluster}:node:{node_id}:price
func PriceKey(cluster, nodeID string) string {
	return fmt.Sprintf("pm:%s:node:%s:price", cluster, nodeID)
}

// BidKey returns the Redis key of a node's bid snapshot.
// Pattern: pm:{cluster}:node:{node_id}:bid
func BidKey(cluster, nodeID string) string {
	return fmt.Sprintf("pm:%s:node:%s:bid", cluster, nodeID)
}

// NodesKey returns the Redis key of the set of nodes that have a snapshot.
// Pattern: pm:{cluster}:nodes
func NodesKey(cluster string) string {
	return fmt.Sprintf("pm:%s:nodes", cluster)
}

// MarketEventsChannel returns the Pub/Sub channel carrying market events.
// Pattern: pm:{cluster}:market_events
func MarketEventsChannel(cluster string) string {
	return fmt.Sprintf("pm:%s:market_events", cluster)
}

// PriceOverrideChannel returns the Pub/Sub channel carrying manual price overrides.
// Pattern: pm:{cluster}:price_override
func PriceOverrideChannel(cluster string) string {
	return fmt.Sprintf("pm:%s:price_override", cluster)
}
