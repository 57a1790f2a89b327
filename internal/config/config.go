package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/anaelectric/powermatcher/internal/agent"
	"github.com/anaelectric/powermatcher/internal/constraint"
	"github.com/anaelectric/powermatcher/pkg/market"
	"gopkg.in/yaml.v3"
)

// RedisURLEnv overrides redis.url when set.
const RedisURLEnv = "POWERMATCHER_REDIS_URL"

// Agent kinds.
const (
	KindPVPanel = "pvpanel"
	KindDevice  = "device"
)

// Defaults applied by Validate.
const (
	DefaultCluster          = "default"
	DefaultClearingInterval = 5 * time.Second
	DefaultBidUpdateRate    = 30 * time.Second
	DefaultLogMode          = "development"
)

// Config represents the top-level powermatcher.yml configuration
type Config struct {
	Version       string                        `yaml:"version"`
	Cluster       string                        `yaml:"cluster,omitempty"`
	MarketBasis   market.MarketBasis            `yaml:"market_basis"`
	Auctioneer    AuctioneerConfig              `yaml:"auctioneer"`
	Concentrators map[string]ConcentratorConfig `yaml:"concentrators,omitempty"`
	Agents        map[string]AgentConfig        `yaml:"agents"`
	Redis         *RedisConfig                  `yaml:"redis,omitempty"`
	API           *APIConfig                    `yaml:"api,omitempty"`
	Log           LogConfig                     `yaml:"log,omitempty"`
}

// AuctioneerConfig configures the root of the tree.
type AuctioneerConfig struct {
	ID               string        `yaml:"id"`
	ClearingInterval time.Duration `yaml:"clearing_interval,omitempty"` // Default: 5s
}

// ConcentratorConfig configures an inner node.
type ConcentratorConfig struct {
	Parent string `yaml:"parent"`
}

// AgentConfig configures a leaf participant.
type AgentConfig struct {
	Parent        string        `yaml:"parent"`
	Kind          string        `yaml:"kind"`                      // pvpanel or device
	BidUpdateRate time.Duration `yaml:"bid_update_rate,omitempty"` // Default: 30s

	// pvpanel
	MinimumDemand *float64 `yaml:"minimum_demand,omitempty"` // Default: -700
	MaximumDemand *float64 `yaml:"maximum_demand,omitempty"` // Default: -600
	Seed          *uint64  `yaml:"seed,omitempty"`           // Random when omitted

	// device
	MinPower    float64            `yaml:"min_power,omitempty"`
	MaxPower    float64            `yaml:"max_power,omitempty"`
	Constraints []constraint.Range `yaml:"constraints,omitempty"`
	IncludeZero bool               `yaml:"include_zero,omitempty"`
}

// RedisConfig enables the bus.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// APIConfig enables the HTTP status API.
type APIConfig struct {
	Listen       string   `yaml:"listen"`
	AllowOrigins []string `yaml:"allow_origins,omitempty"` // Default: ["*"]
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Mode string `yaml:"mode,omitempty"` // development or production
}

// Validate performs strict validation on the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Cluster == "" {
		c.Cluster = DefaultCluster
	}

	if err := c.MarketBasis.Validate(); err != nil {
		return fmt.Errorf("market_basis: %w", err)
	}

	if c.Auctioneer.ID == "" {
		return fmt.Errorf("auctioneer.id is required")
	}
	if c.Auctioneer.ClearingInterval == 0 {
		c.Auctioneer.ClearingInterval = DefaultClearingInterval
	}
	if c.Auctioneer.ClearingInterval < 0 {
		return fmt.Errorf("auctioneer.clearing_interval must be positive, got %s", c.Auctioneer.ClearingInterval)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	// Node identifiers share one namespace.
	for _, name := range sortedKeys(c.Concentrators) {
		if name == c.Auctioneer.ID {
			return fmt.Errorf("duplicate node id '%s': concentrator uses the auctioneer id", name)
		}
	}
	for _, name := range sortedKeys(c.Agents) {
		if name == c.Auctioneer.ID {
			return fmt.Errorf("duplicate node id '%s': agent uses the auctioneer id", name)
		}
		if _, exists := c.Concentrators[name]; exists {
			return fmt.Errorf("duplicate node id '%s': defined as both concentrator and agent", name)
		}
	}

	for _, name := range sortedKeys(c.Concentrators) {
		if err := c.validateConcentrator(name); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(c.Agents) {
		a := c.Agents[name]
		if err := a.Validate(name); err != nil {
			return err
		}
		if !c.isMatcher(a.Parent) {
			return fmt.Errorf("agent '%s': parent '%s' is not the auctioneer or a concentrator", name, a.Parent)
		}
		c.Agents[name] = a
	}

	if c.Redis != nil && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is configured")
	}

	if c.API != nil {
		if c.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is configured")
		}
		if len(c.API.AllowOrigins) == 0 {
			c.API.AllowOrigins = []string{"*"}
		}
	}

	if c.Log.Mode == "" {
		c.Log.Mode = DefaultLogMode
	}
	if c.Log.Mode != "development" && c.Log.Mode != "production" {
		return fmt.Errorf("invalid log.mode: %s (must be 'development' or 'production')", c.Log.Mode)
	}

	return nil
}

// validateConcentrator checks the parent of name and walks up to the
// auctioneer to reject cycles.
func (c *Config) validateConcentrator(name string) error {
	if c.Concentrators[name].Parent == "" {
		return fmt.Errorf("concentrator '%s': parent is required", name)
	}

	visited := map[string]bool{name: true}
	current := name
	for {
		parent := c.Concentrators[current].Parent
		if parent == c.Auctioneer.ID {
			return nil
		}
		if _, ok := c.Concentrators[parent]; !ok {
			return fmt.Errorf("concentrator '%s': parent '%s' is not the auctioneer or a concentrator", current, parent)
		}
		if visited[parent] {
			return fmt.Errorf("concentrator '%s': parent chain contains a cycle through '%s'", name, parent)
		}
		visited[parent] = true
		current = parent
	}
}

func (c *Config) isMatcher(id string) bool {
	if id == c.Auctioneer.ID {
		return true
	}
	_, ok := c.Concentrators[id]
	return ok
}

// Validate performs validation on a single agent configuration and applies
// per-kind defaults.
func (a *AgentConfig) Validate(name string) error {
	if a.Parent == "" {
		return fmt.Errorf("agent '%s': parent is required", name)
	}

	if a.BidUpdateRate == 0 {
		a.BidUpdateRate = DefaultBidUpdateRate
	}
	if a.BidUpdateRate < 0 {
		return fmt.Errorf("agent '%s': bid_update_rate must be positive, got %s", name, a.BidUpdateRate)
	}

	switch a.Kind {
	case KindPVPanel:
		if a.MinimumDemand == nil {
			v := agent.DefaultPVMinimumDemand
			a.MinimumDemand = &v
		}
		if a.MaximumDemand == nil {
			v := agent.DefaultPVMaximumDemand
			a.MaximumDemand = &v
		}
		if *a.MinimumDemand > *a.MaximumDemand {
			return fmt.Errorf("agent '%s': minimum_demand %g exceeds maximum_demand %g", name, *a.MinimumDemand, *a.MaximumDemand)
		}

	case KindDevice:
		if a.MinPower > a.MaxPower {
			return fmt.Errorf("agent '%s': min_power %g exceeds max_power %g", name, a.MinPower, a.MaxPower)
		}
		if _, err := constraint.NewList(a.Constraints...); err != nil {
			return fmt.Errorf("agent '%s': invalid constraints: %w", name, err)
		}

	case "":
		return fmt.Errorf("agent '%s': kind is required", name)

	default:
		return fmt.Errorf("agent '%s': invalid kind: %s (must be '%s' or '%s')", name, a.Kind, KindPVPanel, KindDevice)
	}

	return nil
}

// ConcentratorOrder returns concentrator ids with every parent before its
// children. Siblings are sorted. Only meaningful after Validate.
func (c *Config) ConcentratorOrder() []string {
	depth := make(map[string]int, len(c.Concentrators))
	var depthOf func(string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 1
		if parent := c.Concentrators[id].Parent; parent != c.Auctioneer.ID {
			d = depthOf(parent) + 1
		}
		depth[id] = d
		return d
	}

	ids := sortedKeys(c.Concentrators)
	for _, id := range ids {
		depthOf(id)
	}
	sort.SliceStable(ids, func(i, j int) bool { return depth[ids[i]] < depth[ids[j]] })
	return ids
}

// AgentIDs returns the sorted agent identifiers.
func (c *Config) AgentIDs() []string {
	return sortedKeys(c.Agents)
}

// ApplyEnvironment applies environment overrides using getenv.
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	if url := getenv(RedisURLEnv); url != "" {
		c.Redis = &RedisConfig{URL: url}
	}
}

// Load reads and validates powermatcher.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
