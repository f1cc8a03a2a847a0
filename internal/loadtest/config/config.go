// Package config provides the YAML configuration schema, loader and
// validation for a load-test run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one load-test run.
//
// Example YAML:
//
//	name: "Batch API Load Test"
//	host: "https://api.example.com"
//	users: 50
//	spawnRate: 10
//	duration: 2m
//	dataset:
//	  path: testdata/batch_input.jsonl
//	thresholds:
//	  p95: 1s
//	  errorRate: 0.01
type Config struct {
	// Name of the test (for reporting).
	Name string `yaml:"name"`

	// Host is the target API base URL.
	Host string `yaml:"host"`

	// Auth configures credential acquisition.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Dataset is the source of work-unit payloads.
	Dataset DatasetConfig `yaml:"dataset,omitempty"`

	// Users is the target concurrent virtual-user population.
	Users int `yaml:"users"`

	// SpawnRate is new users started per second.
	SpawnRate float64 `yaml:"spawnRate,omitempty"`

	// Duration bounds the run in time (e.g. "2m"). Mutually exclusive
	// with Iterations.
	Duration Duration `yaml:"duration,omitempty"`

	// Iterations is WorkflowRuns per virtual user.
	Iterations int64 `yaml:"iterations,omitempty"`

	// GracefulStop is how long to wait for in-flight requests after
	// the stop signal.
	GracefulStop Duration `yaml:"gracefulStop,omitempty"`

	// Pacing is the optional wait between a user's iterations.
	Pacing PacingConfig `yaml:"pacing,omitempty"`

	// Poll configures the backoff poller.
	Poll PollConfig `yaml:"poll,omitempty"`

	// HTTP configures the shared connection pool.
	HTTP HTTPConfig `yaml:"http,omitempty"`

	// Thresholds define the pass/fail limits.
	Thresholds ThresholdsConfig `yaml:"thresholds,omitempty"`

	// Headless disables the interactive console and prints the final
	// summary only.
	Headless bool `yaml:"headless,omitempty"`

	// Output is an optional path for the raw metrics JSON export.
	Output string `yaml:"output,omitempty"`
}

// AuthConfig configures the credential endpoint.
type AuthConfig struct {
	// CredentialPath is the credential endpoint path on the host.
	CredentialPath string `yaml:"credentialPath,omitempty"`

	// Username and Password for the basic-auth credential request.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Retries is how many acquisition attempts are made before the
	// run aborts.
	Retries int `yaml:"retries,omitempty"`
}

// DatasetConfig points at the JSONL work-unit source.
type DatasetConfig struct {
	// Path to a JSONL file, one record per line. Empty uses a minimal
	// built-in record.
	Path string `yaml:"path,omitempty"`

	// Schema is an optional JSON-schema file every record must match.
	Schema string `yaml:"schema,omitempty"`
}

// PacingConfig bounds the random wait between iterations.
type PacingConfig struct {
	Min Duration `yaml:"min,omitempty"`
	Max Duration `yaml:"max,omitempty"`
}

// PollConfig configures the backoff poll loop.
type PollConfig struct {
	InitialDelay           Duration `yaml:"initialDelay,omitempty"`
	MaxDelay               Duration `yaml:"maxDelay,omitempty"`
	Deadline               Duration `yaml:"deadline,omitempty"`
	MaxConsecutiveFailures int      `yaml:"maxConsecutiveFailures,omitempty"`
}

// HTTPConfig configures the shared HTTP connection pool.
type HTTPConfig struct {
	Timeout             Duration `yaml:"timeout,omitempty"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `yaml:"maxConnsPerHost,omitempty"`
	InsecureSkipVerify  bool     `yaml:"insecureSkipVerify,omitempty"`
}

// ThresholdsConfig holds the verdict limits. The fields are pointers
// so an explicit zero, which disables the check, is distinguishable
// from an unset field, which takes the default.
type ThresholdsConfig struct {
	// P95 is the maximum acceptable p95 latency (e.g. "1s", "500ms").
	// An explicit 0 disables the check.
	P95 *Duration `yaml:"p95,omitempty"`

	// ErrorRate is the maximum acceptable failed/total fraction. An
	// explicit 0 disables the check.
	ErrorRate *float64 `yaml:"errorRate,omitempty"`
}

// P95Limit returns the p95 latency limit, zero when disabled or unset.
func (t ThresholdsConfig) P95Limit() time.Duration {
	if t.P95 == nil {
		return 0
	}
	return time.Duration(*t.P95)
}

// ErrorRateLimit returns the error-rate limit, zero when disabled or
// unset.
func (t ThresholdsConfig) ErrorRateLimit() float64 {
	if t.ErrorRate == nil {
		return 0
	}
	return *t.ErrorRate
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "Batch API Load Test"
	}
	if c.Users == 0 {
		c.Users = 1
	}
	if c.SpawnRate == 0 {
		c.SpawnRate = float64(c.Users)
	}
	if c.Duration == 0 && c.Iterations == 0 {
		c.Iterations = 1
	}
	if c.GracefulStop == 0 {
		c.GracefulStop = Duration(30 * time.Second)
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.Auth.Password == "" {
		c.Auth.Password = "password"
	}
	if c.Auth.Retries == 0 {
		c.Auth.Retries = 3
	}
	if c.Poll.InitialDelay == 0 {
		c.Poll.InitialDelay = Duration(2 * time.Second)
	}
	if c.Poll.MaxDelay == 0 {
		c.Poll.MaxDelay = Duration(30 * time.Second)
	}
	if c.Poll.Deadline == 0 {
		c.Poll.Deadline = Duration(5 * time.Minute)
	}
	if c.Poll.MaxConsecutiveFailures == 0 {
		c.Poll.MaxConsecutiveFailures = 3
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = Duration(30 * time.Second)
	}
	if c.HTTP.MaxIdleConnsPerHost == 0 {
		c.HTTP.MaxIdleConnsPerHost = 100
	}
	if c.Thresholds.P95 == nil {
		p95 := Duration(time.Second)
		c.Thresholds.P95 = &p95
	}
	if c.Thresholds.ErrorRate == nil {
		errorRate := 0.01
		c.Thresholds.ErrorRate = &errorRate
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Users < 1 {
		return fmt.Errorf("users must be at least 1")
	}
	if c.SpawnRate <= 0 {
		return fmt.Errorf("spawnRate must be positive")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative")
	}
	if c.Duration == 0 && c.Iterations == 0 {
		return fmt.Errorf("either duration or iterations must be set")
	}
	if rate := c.Thresholds.ErrorRate; rate != nil && (*rate < 0 || *rate > 1) {
		return fmt.Errorf("thresholds.errorRate must be between 0 and 1")
	}
	if c.Pacing.Min > c.Pacing.Max {
		return fmt.Errorf("pacing.min cannot exceed pacing.max")
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
