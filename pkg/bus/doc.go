// Package bus is the Redis-backed monitoring and administration surface of a
// powermatcher cluster.
//
// # Overview
//
// A running cluster mirrors its market events onto a Pub/Sub channel and keeps
// a snapshot of the last bid and price of every node. Operators and tools read
// that snapshot, stream the events, and inject price overrides, all without a
// direct connection to the cluster process.
//
// Only the latest value per node is kept. The bus is not a history store.
//
// # Multi-Cluster Support
//
// Keys and channels are namespaced by cluster name so several clusters can share
// one Redis server.
//
// # Redis Schema
//
// Node price snapshot: pm:{cluster}:node:{node_id}:price (hash)
// Node bid snapshot:   pm:{cluster}:node:{node_id}:bid (hash)
// Known nodes:         pm:{cluster}:nodes (set)
//
// Market events:   pm:{cluster}:market_events
// Price overrides: pm:{cluster}:price_override
//
// # Usage Example
//
//	client, err := bus.NewClientFromURL("redis://localhost:6379/0", "demo")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub, err := client.SubscribeEvents(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for event := range sub.Events() {
//		fmt.Println(event.Type, event.NodeID)
//	}
package bus
