package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/dispatchops/dispatch"
	"github.com/jonwraymond/dispatchops/queue"
	"github.com/jonwraymond/dispatchops/resilience"
	"github.com/jonwraymond/dispatchops/workflow"
)

// EnvConfigPath overrides the config file path passed to Load.
const EnvConfigPath = "DISPATCHOPS_CONFIG"

// Duration parses YAML duration strings like "50ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LimiterConfig holds adaptive limiter knobs.
type LimiterConfig struct {
	RequestsPerWindow int      `yaml:"requests_per_window"`
	CostPerWindow     float64  `yaml:"cost_per_window"`
	BurstPerSecond    int      `yaml:"burst_per_second"`
	Window            Duration `yaml:"window"`
	BurstWindow       Duration `yaml:"burst_window"`
}

// BreakerConfig holds circuit breaker knobs.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	CallTimeout      Duration `yaml:"call_timeout"`
}

// PoolConfig holds resource pool knobs. The handle factory is code, not
// configuration; it is supplied at wiring time.
type PoolConfig struct {
	Size           int      `yaml:"size"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
}

// DispatcherConfig holds drain loop knobs.
type DispatcherConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	BatchSize    int      `yaml:"batch_size"`
	BreakerName  string   `yaml:"breaker_name"`
	DefaultCost  float64  `yaml:"default_cost"`
	WaitSamples  int      `yaml:"wait_samples"`
}

// WorkflowConfig holds workflow engine knobs.
type WorkflowConfig struct {
	// Stages overrides the default stage list for linear/parallel workflows.
	Stages []string `yaml:"stages,omitempty"`

	// StorePath is the SQLite database path for session persistence.
	// Empty means sessions live in memory only.
	StorePath string `yaml:"store_path,omitempty"`

	// Priority is the queue priority for stage calls:
	// low, normal, high or critical.
	Priority string `yaml:"priority"`
}

// EventsConfig holds event bus knobs.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Config is the root configuration document.
type Config struct {
	Limiter    LimiterConfig    `yaml:"limiter"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Pool       PoolConfig       `yaml:"pool"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Events     EventsConfig     `yaml:"events"`
	LogLevel   string           `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Limiter: LimiterConfig{
			RequestsPerWindow: 60,
			CostPerWindow:     100000,
			BurstPerSecond:    10,
			Window:            Duration(time.Minute),
			BurstWindow:       Duration(time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(30 * time.Second),
			CallTimeout:      Duration(30 * time.Second),
		},
		Pool: PoolConfig{
			Size:           10,
			AcquireTimeout: Duration(5 * time.Second),
		},
		Dispatcher: DispatcherConfig{
			PollInterval: Duration(50 * time.Millisecond),
			BatchSize:    5,
			BreakerName:  "compute",
			DefaultCost:  1,
			WaitSamples:  100,
		},
		Workflow: WorkflowConfig{
			Priority: "normal",
		},
		Events: EventsConfig{
			Buffer: 64,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path, layered over Default. A missing file is
// not an error; the defaults stand. The DISPATCHOPS_CONFIG environment
// variable overrides path when set.
func Load(path string) (Config, error) {
	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components would reject.
func (c Config) Validate() error {
	if c.Limiter.RequestsPerWindow < 0 {
		return fmt.Errorf("config: limiter.requests_per_window must be >= 0")
	}
	if c.Limiter.CostPerWindow < 0 {
		return fmt.Errorf("config: limiter.cost_per_window must be >= 0")
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("config: breaker.failure_threshold must be >= 0")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("config: pool.size must be >= 0")
	}
	if c.Dispatcher.BatchSize < 0 {
		return fmt.Errorf("config: dispatcher.batch_size must be >= 0")
	}
	if _, err := ParsePriority(c.Workflow.Priority); err != nil {
		return err
	}
	return nil
}

// ParsePriority maps a priority name to its queue level.
func ParsePriority(name string) (queue.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normal":
		return queue.PriorityNormal, nil
	case "low":
		return queue.PriorityLow, nil
	case "high":
		return queue.PriorityHigh, nil
	case "critical":
		return queue.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("config: unknown priority %q", name)
	}
}

// LimiterConfig translates to the resilience package's limiter config.
func (c Config) LimiterConfig() resilience.AdaptiveLimiterConfig {
	return resilience.AdaptiveLimiterConfig{
		RequestsPerWindow: c.Limiter.RequestsPerWindow,
		CostPerWindow:     c.Limiter.CostPerWindow,
		BurstPerSecond:    c.Limiter.BurstPerSecond,
		Window:            time.Duration(c.Limiter.Window),
		BurstWindow:       time.Duration(c.Limiter.BurstWindow),
	}
}

// BreakerConfig translates to the resilience package's breaker config.
func (c Config) BreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(c.Breaker.ResetTimeout),
		CallTimeout:      time.Duration(c.Breaker.CallTimeout),
	}
}

// DispatchConfig assembles a dispatcher config around the given invoker
// factory. Observability sinks are wired by the caller.
func (c Config) DispatchConfig(factory func(ctx context.Context) (dispatch.Invoker, error)) dispatch.Config {
	return dispatch.Config{
		PollInterval: time.Duration(c.Dispatcher.PollInterval),
		BatchSize:    c.Dispatcher.BatchSize,
		BreakerName:  c.Dispatcher.BreakerName,
		DefaultCost:  c.Dispatcher.DefaultCost,
		WaitSamples:  c.Dispatcher.WaitSamples,
		Limiter:      c.LimiterConfig(),
		Breaker:      c.BreakerConfig(),
		Pool: resilience.PoolConfig[dispatch.Invoker]{
			Size:           c.Pool.Size,
			AcquireTimeout: time.Duration(c.Pool.AcquireTimeout),
			Factory:        factory,
		},
	}
}

// WorkflowStore opens the configured session store. An empty store_path
// yields an in-memory store.
func (c Config) WorkflowStore() (workflow.Store, error) {
	if c.Workflow.StorePath == "" {
		return workflow.NewMemoryStore(), nil
	}
	return workflow.NewSQLiteStore(c.Workflow.StorePath)
}
