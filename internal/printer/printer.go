// Package printer writes the CLI's human-readable output: coloured status
// lines, multi-part errors for cobra commands, and compact renderings of
// prices and bids.
package printer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/fatih/color"
)

func init() {
	// Colour even without a TTY; NO_COLOR disables it.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Stdout and Stderr are the destinations of all printer output. Tests swap them.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Success prints a green line prefixed with a checkmark.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a yellow message prefixed with a warning sign.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stdout, msg)
}

// Step prints one step of a multi-step operation.
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints title, explanation and suggestions to Stderr and returns an
// error carrying only the title. Commands return it with SilenceErrors set so
// cobra does not print it again.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions, in the order given.
func ErrorWithContext(title string, explanation string, context [][2]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintln(Stderr)
		for _, kv := range context {
			fmt.Fprintf(Stderr, "  %s: %s\n", kv[0], kv[1])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// Price renders p as "25 EUR", or "null". Prices outside the basis range are
// marked so they stand out in a stream.
func Price(p *market.Price) string {
	if p == nil {
		return "null"
	}
	s := strconv.FormatFloat(p.CurrentPrice, 'f', -1, 64)
	if p.MarketBasis.Currency != "" {
		s += " " + p.MarketBasis.Currency
	}
	if !p.InRange() {
		s += " (out of range)"
	}
	return s
}

// Demand renders the demand curve of b as "[2000 1500 … 0]" with at most
// maxSamples values; the middle is elided.
func Demand(b *market.Bid, maxSamples int) string {
	if b == nil {
		return "null"
	}
	demand := b.Demand()
	if maxSamples < 2 || len(demand) <= maxSamples {
		return formatSamples(demand)
	}

	head := demand[:maxSamples-1]
	tail := demand[len(demand)-1]
	return strings.TrimSuffix(formatSamples(head), "]") + " … " + strconv.FormatFloat(tail, 'f', -1, 64) + "]"
}

func formatSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, v := range samples {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
