package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/anaelectric/powermatcher/internal/config"
	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/pkg/bus"
	"github.com/spf13/cobra"
)

const defaultRedisURL = "redis://localhost:6379/0"

// busFlags are shared by every command that talks to a running cluster
// through Redis.
type busFlags struct {
	redisURL string
	cluster  string
}

func (f *busFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.redisURL, "redis", "", fmt.Sprintf("Redis URL (default $%s or %s)", config.RedisURLEnv, defaultRedisURL))
	cmd.Flags().StringVarP(&f.cluster, "cluster", "c", config.DefaultCluster, "Cluster name")
}

func (f *busFlags) url() string {
	if f.redisURL != "" {
		return f.redisURL
	}
	if env := os.Getenv(config.RedisURLEnv); env != "" {
		return env
	}
	return defaultRedisURL
}

// connect opens a bus client and verifies connectivity. command names the
// subcommand in suggestions.
func (f *busFlags) connect(ctx context.Context, command string) (*bus.Client, error) {
	url := f.url()
	client, err := bus.NewClientFromURL(url, f.cluster)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Error: %v", err),
			[]string{"Use the form redis://host:port/db"},
		)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis: %v", err),
			[][2]string{{"URL", url}, {"Cluster", f.cluster}},
			[]string{
				"Check that Redis is running and reachable",
				fmt.Sprintf("Pass the address explicitly:\n     powermatcher %s --redis redis://host:6379/0", command),
			},
		)
	}

	return client, nil
}
