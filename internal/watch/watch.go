// Package watch streams market events from the bus to a terminal or a file.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/pkg/bus"
)

// OutputFormat selects how streamed events are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes each event envelope as line-delimited JSON.
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a user-supplied format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Filter restricts the streamed events. Empty fields match everything.
type Filter struct {
	NodeID string
	Types  []string
}

func (f *Filter) matches(e *bus.Event) bool {
	if f == nil {
		return true
	}
	if f.NodeID != "" && e.NodeID != f.NodeID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

type formatter interface {
	FormatEvent(e *bus.Event) error
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault:
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// StreamEvents writes the cluster's market events to w until ctx is done or
// the subscription ends. Malformed messages are reported to errW and skipped.
func StreamEvents(ctx context.Context, client *bus.Client, format OutputFormat, filter *Filter, w, errW io.Writer) error {
	f, err := newFormatter(format, w)
	if err != nil {
		return err
	}

	sub, err := client.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to market events: %w", err)
	}
	defer sub.Close()

	if format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching market events for cluster '%s'...\n", client.Cluster())
	}

	events := sub.Events()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.matches(e) {
				continue
			}
			if err := f.FormatEvent(e); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}

		case err, ok := <-errs:
			if !ok {
				// Keep draining events; a nil channel blocks forever.
				errs = nil
				continue
			}
			fmt.Fprintf(errW, "⚠️  Skipping malformed event: %v\n", err)
		}
	}
}

// PollForPrice polls the price snapshot of nodeID every 200ms until accept
// returns true for it or timeout elapses.
func PollForPrice(ctx context.Context, client *bus.Client, nodeID string, timeout time.Duration, accept func(*bus.PriceSnapshot) bool) (*bus.PriceSnapshot, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for price of '%s' after %v", nodeID, timeout)

		case <-ticker.C:
			snapshot, err := client.GetPrice(ctx, nodeID)
			if err != nil {
				if bus.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query price snapshot: %w", err)
			}
			if accept == nil || accept(snapshot) {
				return snapshot, nil
			}
		}
	}
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatEvent(e *bus.Event) error {
	return f.encoder.Encode(e)
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEvent(e *bus.Event) error {
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", e.Timestamp.Local().Format("15:04:05"), describe(e))
	return err
}

// describe renders the body of one event line.
func describe(e *bus.Event) string {
	switch e.Type {
	case "bid_received":
		return fmt.Sprintf("📥 Bid received: node=%s, child=%s, demand=%s", e.NodeID, e.ChildID, printer.Demand(e.Bid, 6))
	case "bid_rejected":
		return fmt.Sprintf("❌ Bid rejected: node=%s, child=%s (%s)", e.NodeID, e.ChildID, e.Error)
	case "aggregated_bid":
		return fmt.Sprintf("∑ Aggregated bid: node=%s, demand=%s", e.NodeID, printer.Demand(e.Bid, 6))
	case "bid_published":
		return fmt.Sprintf("📤 Bid published: agent=%s, demand=%s", e.NodeID, printer.Demand(e.Bid, 6))
	case "price_received":
		return fmt.Sprintf("📨 Price received: node=%s, price=%s", e.NodeID, printer.Price(e.Price))
	case "price_rejected":
		return fmt.Sprintf("⛔ Price rejected: node=%s (%s)", e.NodeID, e.Error)
	case "price_published":
		return fmt.Sprintf("💶 Price published: node=%s, price=%s", e.NodeID, printer.Price(e.Price))
	case "cleared":
		return fmt.Sprintf("⚖️  Market cleared: node=%s, price=%s", e.NodeID, printer.Price(e.Price))
	default:
		return fmt.Sprintf("• %s: node=%s", e.Type, e.NodeID)
	}
}
