package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anaelectric/powermatcher/internal/config"
	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `version: "1.0"
cluster: demo
market_basis:
  commodity: electricity
  currency: EUR
  min_price: 0
  max_price: 50
  price_steps: 5
  significance: 2
auctioneer:
  id: auctioneer
concentrators:
  street:
    parent: auctioneer
  house:
    parent: street
agents:
  pv:
    parent: house
    kind: pvpanel
  heatpump:
    parent: house
    kind: device
    max_power: 2000
  ev:
    parent: street
    kind: device
    max_power: 11000
`

// execute runs the real root command with args and returns everything the
// command and the printer wrote.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	// Flag variables outlive a single Execute.
	roundRanges, roundIncludeZero, roundFloor, roundCeil = nil, false, false, false
	priceWait, priceAuctioneer, priceTimeout = false, "auctioneer", 10*time.Second
	nodesOutputFormat, nodesPattern = "default", ""
	configPath = "powermatcher.yml"
	forceInit, initCluster = false, ""
	resetChanged(rootCmd)

	var out, errOut bytes.Buffer
	prevOut, prevErr, prevNoColor := printer.Stdout, printer.Stderr, color.NoColor
	printer.Stdout, printer.Stderr, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { printer.Stdout, printer.Stderr, color.NoColor = prevOut, prevErr, prevNoColor })

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	// A nil slice makes cobra fall back to os.Args.
	rootCmd.SetArgs(append([]string{}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := Execute()
	return out.String(), errOut.String(), err
}

// resetChanged clears the Changed marks cobra leaves on flags, which
// MarkFlagsMutuallyExclusive would otherwise see on the next run.
func resetChanged(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, sub := range cmd.Commands() {
		resetChanged(sub)
	}
}

func setupRedis(t *testing.T) (*bus.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.NewClient(&redis.Options{Addr: mr.Addr()}, "demo")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, _, err := execute(t)

	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:", "Help should be displayed")
	assert.Contains(t, out, "powermatcher", "Help should show command name")
	for _, sub := range []string{"init", "validate", "run", "watch", "nodes", "price", "round"} {
		assert.Contains(t, out, sub)
	}
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags
// passed to the root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, _, err := execute(t, "--unknown-flag", "value")
	require.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands are rejected when passed to the root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use: "powermatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}
	sub := &cobra.Command{
		Use:  "round",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	sub.Flags().Bool("floor", false, "")
	testRoot.AddCommand(sub)

	testRoot.SetArgs([]string{"--floor"})
	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag: --floor")
}

func TestParsePriceArg(t *testing.T) {
	v, err := parsePriceArg("25")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 25.0, *v)

	v, err = parsePriceArg("-3.5")
	require.NoError(t, err)
	assert.Equal(t, -3.5, *v)

	v, err = parsePriceArg("null")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parsePriceArg("NULL")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parsePriceArg("cheap")
	assert.EqualError(t, err, "'cheap' is not a number")

	_, err = parsePriceArg("NaN")
	assert.EqualError(t, err, "'NaN' is not a finite number")
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("500:2000")
	require.NoError(t, err)
	assert.Equal(t, 500.0, r.Lower)
	assert.Equal(t, 2000.0, r.Upper)

	r, err = parseRange("3000")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, r.Lower)
	assert.Equal(t, 3000.0, r.Upper)

	_, err = parseRange("low:2000")
	assert.ErrorContains(t, err, "lower bound is not a number")

	_, err = parseRange("500:high")
	assert.ErrorContains(t, err, "upper bound is not a number")
}

func TestRoundCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"closest", []string{"round", "--range", "500:2000", "--range", "3000", "2600"}, "3000\n"},
		{"inside", []string{"round", "--range", "500:2000", "1200"}, "1200\n"},
		{"tie goes to first range", []string{"round", "--range", "1000", "--range", "2000", "1500"}, "1000\n"},
		{"include zero", []string{"round", "--range", "500:2000", "--include-zero", "200"}, "0\n"},
		{"floor", []string{"round", "--range", "500:2000", "--range", "3000", "--floor", "2600"}, "2000\n"},
		{"ceil", []string{"round", "--range", "500:2000", "--range", "3000", "--ceil", "2100"}, "3000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	t.Run("overlapping ranges are rejected", func(t *testing.T) {
		_, errOut, err := execute(t, "round", "--range", "500:2000", "--range", "1500:3000", "1000")
		require.EqualError(t, err, "invalid ranges")
		assert.Contains(t, errOut, "overlaps")
	})

	t.Run("nothing at or below", func(t *testing.T) {
		_, _, err := execute(t, "round", "--range", "500:2000", "--floor", "100")
		assert.EqualError(t, err, "no allowed power")
	})

	t.Run("range required", func(t *testing.T) {
		_, _, err := execute(t, "round", "100")
		assert.EqualError(t, err, "no allowed ranges")
	})

	t.Run("floor and ceil exclude each other", func(t *testing.T) {
		_, _, err := execute(t, "round", "--range", "0:10", "--floor", "--ceil", "5")
		assert.Error(t, err)
	})
}

func TestWriteTopology(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	writeTopology(&buf, cfg)

	expected := strings.Join([]string{
		"Cluster 'demo' (electricity, EUR 0..50, 5 steps)",
		"auctioneer (auctioneer, clearing every 5s)",
		"└── street (concentrator)",
		"    ├── house (concentrator)",
		"    │   ├── heatpump (device, bids every 30s)",
		"    │   └── pv (pvpanel, bids every 30s)",
		"    └── ev (device, bids every 30s)",
		"",
	}, "\n")
	assert.Equal(t, expected, buf.String())
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "powermatcher.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))

	out, _, err := execute(t, "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "└── street (concentrator)")

	_, errOut, err := execute(t, "validate", "-f", filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, errOut, "powermatcher init")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte(`version: "2.0"`), 0644))
	_, errOut, err = execute(t, "validate", "-f", bad)
	assert.EqualError(t, err, "invalid configuration")
	assert.Contains(t, errOut, "unsupported version")
}

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := execute(t, "init", "-c", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "powermatcher.yml")

	cfg, err := config.Load("powermatcher.yml")
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Cluster)

	_, _, err = execute(t, "init")
	assert.EqualError(t, err, "initialization failed")

	_, _, err = execute(t, "init", "--force")
	require.NoError(t, err)

	out, _, err = execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "powermatcher.yml is valid")
}

func TestPriceSetCommand(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	sub, err := client.SubscribeOverrides(ctx)
	require.NoError(t, err)
	defer sub.Close()
	channel := bus.PriceOverrideChannel("demo")
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] > 0
	}, time.Second, 10*time.Millisecond)

	redisURL := "redis://" + mr.Addr()

	t.Run("publishes value", func(t *testing.T) {
		out, _, err := execute(t, "price", "set", "52", "--redis", redisURL, "-c", "demo")
		require.NoError(t, err)
		assert.Contains(t, out, "Published price 52 to cluster 'demo'")

		select {
		case o := <-sub.Events():
			require.NotNil(t, o.Price)
			assert.Equal(t, 52.0, *o.Price)
		case <-time.After(time.Second):
			t.Fatal("override not received")
		}
	})

	t.Run("publishes null", func(t *testing.T) {
		out, _, err := execute(t, "price", "set", "null", "--redis", redisURL, "-c", "demo")
		require.NoError(t, err)
		assert.Contains(t, out, "keep its previous price")

		select {
		case o := <-sub.Events():
			assert.Nil(t, o.Price)
		case <-time.After(time.Second):
			t.Fatal("override not received")
		}
	})

	t.Run("waits for the auctioneer", func(t *testing.T) {
		go func() {
			o := <-sub.Events()
			client.StorePrice(context.Background(), "auctioneer", market.NewPrice(
				market.MarketBasis{Currency: "EUR", MinPrice: 0, MaxPrice: 50, PriceSteps: 5, Significance: 2}, *o.Price))
		}()

		out, _, err := execute(t, "price", "set", "30", "--redis", redisURL, "-c", "demo", "--wait", "--timeout", "2s")
		require.NoError(t, err)
		assert.Contains(t, out, "'auctioneer' published 30 EUR")
	})

	t.Run("invalid value", func(t *testing.T) {
		_, _, err := execute(t, "price", "set", "cheap", "--redis", redisURL)
		assert.EqualError(t, err, "invalid price")
	})
}

func TestNodesCommand(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	redisURL := "redis://" + mr.Addr()

	basis := market.MarketBasis{Currency: "EUR", MinPrice: 0, MaxPrice: 50, PriceSteps: 5, Significance: 2}
	require.NoError(t, client.StorePrice(ctx, "auctioneer", market.NewPrice(basis, 25)))
	require.NoError(t, client.StorePrice(ctx, "house", market.NewPrice(basis, 25)))

	out, _, err := execute(t, "nodes", "--redis", redisURL, "-c", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "auctioneer")
	assert.Contains(t, out, "house")
	assert.Contains(t, out, "2 nodes found")

	out, _, err = execute(t, "nodes", "--redis", redisURL, "-c", "demo", "--match", "h*")
	require.NoError(t, err)
	assert.NotContains(t, out, "auctioneer")
	assert.Contains(t, out, "1 node found")

	out, _, err = execute(t, "nodes", "--redis", redisURL, "-c", "demo", "auctioneer")
	require.NoError(t, err)
	assert.Contains(t, out, `"node_id": "auctioneer"`)

	_, _, err = execute(t, "nodes", "--redis", redisURL, "-c", "demo", "nowhere")
	assert.EqualError(t, err, "node 'nowhere' not found")

	_, _, err = execute(t, "nodes", "--redis", redisURL, "-o", "xml")
	assert.EqualError(t, err, "invalid output format")
}

func TestBusFlags_RedisUnavailable(t *testing.T) {
	_, errOut, err := execute(t, "nodes", "--redis", "redis://127.0.0.1:1/0")
	assert.EqualError(t, err, "Redis connection failed")
	assert.Contains(t, errOut, "powermatcher nodes --redis")
}
