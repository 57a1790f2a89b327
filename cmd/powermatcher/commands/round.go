package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anaelectric/powermatcher/internal/constraint"
	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/spf13/cobra"
)

var (
	roundRanges      []string
	roundIncludeZero bool
	roundFloor       bool
	roundCeil        bool
)

var roundCmd = &cobra.Command{
	Use:   "round <watts>",
	Short: "Round a wanted power onto a device's allowed power levels",
	Long: `Round a wanted power in watts onto a list of allowed ranges, the way a
device agent does before running at the market price.

Ranges are given as lower:upper, or as a single value. Ties go to the
range given first.

Examples:
  powermatcher round --range 500:2000 --range 3000 2600
  powermatcher round --range 500:2000 --include-zero 200
  powermatcher round --range 500:2000 --range 3000 --floor 2600`,
	Args: cobra.ExactArgs(1),
	RunE: runRound,
}

func init() {
	roundCmd.Flags().StringArrayVar(&roundRanges, "range", nil, "Allowed range lower:upper or single value (repeatable)")
	roundCmd.Flags().BoolVar(&roundIncludeZero, "include-zero", false, "Also allow 0W")
	roundCmd.Flags().BoolVar(&roundFloor, "floor", false, "Largest allowed value at or below the wanted power")
	roundCmd.Flags().BoolVar(&roundCeil, "ceil", false, "Smallest allowed value at or above the wanted power")
	roundCmd.MarkFlagsMutuallyExclusive("floor", "ceil")
	rootCmd.AddCommand(roundCmd)
}

// parseRange parses "500:2000" or "3000".
func parseRange(s string) (constraint.Range, error) {
	lower, upper, found := strings.Cut(s, ":")
	lo, err := strconv.ParseFloat(strings.TrimSpace(lower), 64)
	if err != nil {
		return constraint.Range{}, fmt.Errorf("invalid range '%s': lower bound is not a number", s)
	}
	if !found {
		return constraint.Single(lo), nil
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(upper), 64)
	if err != nil {
		return constraint.Range{}, fmt.Errorf("invalid range '%s': upper bound is not a number", s)
	}
	return constraint.Range{Lower: lo, Upper: hi}, nil
}

func runRound(cmd *cobra.Command, args []string) error {
	wanted, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return printer.Error("invalid power", fmt.Sprintf("'%s' is not a number", args[0]), nil)
	}

	if len(roundRanges) == 0 {
		return printer.Error(
			"no allowed ranges",
			"At least one --range is required.",
			[]string{"Example: powermatcher round --range 500:2000 1200"},
		)
	}

	ranges := make([]constraint.Range, 0, len(roundRanges))
	for _, s := range roundRanges {
		r, err := parseRange(s)
		if err != nil {
			return printer.Error("invalid range", err.Error(), []string{"Use lower:upper, e.g. 500:2000"})
		}
		ranges = append(ranges, r)
	}

	list, err := constraint.NewList(ranges...)
	if err != nil {
		return printer.Error("invalid ranges", err.Error(), nil)
	}

	var result float64
	switch {
	case roundFloor:
		if roundIncludeZero {
			list = list.WithZero()
		}
		result, err = constraint.Floor(list, wanted)
	case roundCeil:
		if roundIncludeZero {
			list = list.WithZero()
		}
		result, err = constraint.Ceil(list, wanted)
	default:
		result, err = constraint.Round(list, wanted, roundIncludeZero)
	}
	if err != nil {
		return printer.Error("no allowed power", err.Error(), nil)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%g\n", result)
	return nil
}
