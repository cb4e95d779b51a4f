package ratelimiter

import (
	"fmt"
	"os"
	"time"

	libredis "github.com/go-redis/redis"
	"gopkg.in/yaml.v3"

	"github.com/ratelimitcore/go-ratelimiter/drivers/algorithm"
	"github.com/ratelimitcore/go-ratelimiter/drivers/circuit"
	"github.com/ratelimitcore/go-ratelimiter/drivers/health"
	"github.com/ratelimitcore/go-ratelimiter/drivers/store/memory"
	"github.com/ratelimitcore/go-ratelimiter/drivers/store/multi"
	"github.com/ratelimitcore/go-ratelimiter/drivers/store/redis"
)

// BackendSpec names one backend and the connection details it needs.
// Name is either "memory" or "remote"; Addr/DB/Password are only
// meaningful for "remote".
type BackendSpec struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// CircuitConfig mirrors spec.md §6.3's circuit.* options.
type CircuitConfig struct {
	FailureThreshold int64         `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	FailureWindow    time.Duration `yaml:"failure_window"`
}

// MemoryConfig mirrors spec.md §6.3's memory.* options.
type MemoryConfig struct {
	MaxKeys         int           `yaml:"max_keys"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MinRetain       time.Duration `yaml:"min_retain"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// RemoteConfig mirrors spec.md §6.3's remote.* options.
type RemoteConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"pool_size"`
}

// Config is the top-level YAML shape spec.md §6.3 recognizes. Backend
// selects a single backend by name; Backends (if non-empty) activates
// the multi-backend composite instead and Backend is ignored.
type Config struct {
	Backend             string        `yaml:"backend"`
	Backends            []BackendSpec `yaml:"backends"`
	MultiStrategy       string        `yaml:"multi_strategy"`
	DefaultRate         string        `yaml:"default_rate"`
	Algorithm           string        `yaml:"algorithm"`
	AlignWindowToClock  *bool         `yaml:"align_window_to_clock"`
	FailOpen            bool          `yaml:"fail_open"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	KeyPrefix           string        `yaml:"key_prefix"`

	Circuit CircuitConfig `yaml:"circuit"`
	Memory  MemoryConfig  `yaml:"memory"`
	Remote  RemoteConfig  `yaml:"remote"`
}

func (c *Config) applyDefaults() {
	if c.Backend == "" && len(c.Backends) == 0 {
		c.Backend = "memory"
	}
	if c.MultiStrategy == "" {
		c.MultiStrategy = string(multi.FirstHealthy)
	}
	if c.Algorithm == "" {
		c.Algorithm = string(Fixed)
	}
	if c.AlignWindowToClock == nil {
		t := true
		c.AlignWindowToClock = &t
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "rl"
	}
}

// LoadConfig reads and parses a YAML config file, applying spec.md
// §6.3's defaults to every option left unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratelimiter: reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ratelimiter: parsing config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultPolicy builds the Policy a route should use when it doesn't
// specify its own rate, from cfg's default_rate/algorithm/
// align_window_to_clock/fail_open options.
func (c *Config) DefaultPolicy() (Policy, error) {
	c.applyDefaults()
	if c.DefaultRate == "" {
		return Policy{}, &configError{"default_rate is not set"}
	}
	limit, period, err := ParseRateSpec(c.DefaultRate)
	if err != nil {
		return Policy{}, err
	}

	algo := Algorithm(c.Algorithm)
	var opts []PolicyOption
	if c.FailOpen {
		opts = append(opts, WithFailOpen())
	}

	if algo == TokenBucket {
		return NewTokenBucketPolicy(limit, float64(limit)/period.Seconds(), 0, opts...)
	}
	policy, err := NewPolicy(limit, period, algo, opts...)
	if err != nil {
		return Policy{}, err
	}
	policy.AlignToClock = *c.AlignWindowToClock
	return policy, nil
}

// Build assembles a ready-to-use Limiter from cfg: constructs the
// backend(s) it names, wires each into a circuit breaker, and returns
// the facade. The returned Limiter's health monitor is already
// running in the background (see New) — call Limiter.Close when done
// with it to stop that goroutine.
func (c *Config) Build() (*Limiter, error) {
	c.applyDefaults()

	breakerOpts := circuit.Options{
		FailureThreshold: c.Circuit.FailureThreshold,
		OpenDuration:     c.Circuit.OpenDuration,
		FailureWindow:    c.Circuit.FailureWindow,
	}

	var children []multi.Child
	if len(c.Backends) > 0 {
		for _, spec := range c.Backends {
			be, err := c.buildNamed(spec)
			if err != nil {
				return nil, err
			}
			children = append(children, multi.Child{
				Name:    spec.Name,
				Backend: be,
				Breaker: circuit.New(breakerOpts),
			})
		}
	} else {
		be, err := c.buildNamed(BackendSpec{Name: c.Backend})
		if err != nil {
			return nil, err
		}
		children = append(children, multi.Child{
			Name:    c.Backend,
			Backend: be,
			Breaker: circuit.New(breakerOpts),
		})
	}

	composite := multi.New(multi.Strategy(c.MultiStrategy), children...)

	probers := make([]health.Prober, 0, len(children))
	for _, p := range composite.Probers() {
		probers = append(probers, p)
	}
	monitor := health.NewMonitor(c.HealthCheckInterval, probers, composite.Breakers())

	return New(Options{
		Backend:   composite,
		KeyPrefix: c.KeyPrefix,
		Monitor:   monitor,
	}), nil
}

func (c *Config) buildNamed(spec BackendSpec) (algorithm.Backend, error) {
	switch spec.Name {
	case "memory", "":
		return memory.New(memory.Options{
			MaxKeys:         c.Memory.MaxKeys,
			CleanupInterval: c.Memory.CleanupInterval,
			MinRetain:       c.Memory.MinRetain,
			ShutdownGrace:   c.Memory.ShutdownGrace,
		}), nil
	case "remote", "redis":
		client := libredis.NewClient(&libredis.Options{
			Addr:         spec.Addr,
			DB:           spec.DB,
			Password:     spec.Password,
			PoolSize:     c.Remote.PoolSize,
			ReadTimeout:  c.Remote.Timeout,
			WriteTimeout: c.Remote.Timeout,
		})
		return redis.New(client, redis.Options{Timeout: c.Remote.Timeout})
	default:
		return nil, &configError{"unknown backend: " + spec.Name}
	}
}
