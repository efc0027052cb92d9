package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/piperunner/internal/retry"
	"git.home.luguber.info/inful/piperunner/internal/secrets"
)

// Config is the runner's own configuration: workspace placement, defaults
// applied to pipeline definitions, credential sources and the daemon
// surface. It is distinct from a pipeline definition, which describes one
// pipeline.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Secrets   SecretsConfig   `yaml:"secrets,omitempty"`
	Daemon    *DaemonConfig   `yaml:"daemon,omitempty"`
	Events    *EventsConfig   `yaml:"events,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WorkspaceConfig controls where runs execute.
type WorkspaceConfig struct {
	Root       string `yaml:"root,omitempty"` // base directory; empty means the system temp dir
	Persistent bool   `yaml:"persistent"`     // reuse one fixed directory across runs
}

// DefaultsConfig holds values applied to definitions that omit them.
type DefaultsConfig struct {
	StepTimeout       string `yaml:"step_timeout"`        // for steps without their own timeout
	OutputCap         int    `yaml:"output_cap"`          // per-step capture limit in bytes
	Branch            string `yaml:"branch"`              // when the trigger carries none
	RetryBackoff      string `yaml:"retry_backoff"`       // fixed|linear|exponential
	RetryInitialDelay string `yaml:"retry_initial_delay"` // delay before the first re-attempt
	RetryMaxDelay     string `yaml:"retry_max_delay"`     // backoff cap
}

// SecretsConfig declares credential sources. The environment resolver
// (PIPERUNNER_SECRET_*) is always active; static entries and the directory
// are layered in front of it when configured.
type SecretsConfig struct {
	Static map[string]string `yaml:"static,omitempty"` // inline credentials, typically ${VAR} references
	Dir    string            `yaml:"dir,omitempty"`    // one file per credential (secret-mount layout)
}

// DaemonConfig configures the long-running mode.
type DaemonConfig struct {
	Listen    string           `yaml:"listen"`     // HTTP API address
	APIKey    string           `yaml:"api_key"`    // optional bearer token guarding the API endpoints
	QueueSize int              `yaml:"queue_size"` // max pending runs
	Workers   int              `yaml:"workers"`    // concurrent runs
	History   int              `yaml:"history"`    // finished runs kept in memory
	Watch     bool             `yaml:"watch"`      // reload the definition file on change
	WatchRun  bool             `yaml:"watch_run"`  // also enqueue a run after a reload
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// ScheduleConfig is one periodic trigger.
type ScheduleConfig struct {
	Every  string `yaml:"every"`            // interval, e.g. "4h"
	Branch string `yaml:"branch,omitempty"` // branch the scheduled run reports
}

// EventsConfig configures the NATS report sink.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"` // subject run events are published to
}

// MetricsConfig toggles the Prometheus recorder and the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults applies default values to configuration.
func applyDefaults(config *Config) {
	if config.Defaults.StepTimeout == "" {
		config.Defaults.StepTimeout = "10m"
	}
	if config.Defaults.OutputCap == 0 {
		config.Defaults.OutputCap = 64 << 10
	}
	if config.Defaults.Branch == "" {
		config.Defaults.Branch = "main"
	}
	if config.Defaults.RetryBackoff == "" {
		config.Defaults.RetryBackoff = string(retry.BackoffLinear)
	}
	if config.Defaults.RetryInitialDelay == "" {
		config.Defaults.RetryInitialDelay = "1s"
	}
	if config.Defaults.RetryMaxDelay == "" {
		config.Defaults.RetryMaxDelay = "30s"
	}

	if config.Daemon != nil {
		if config.Daemon.Listen == "" {
			config.Daemon.Listen = ":8082"
		}
		if config.Daemon.QueueSize == 0 {
			config.Daemon.QueueSize = 100
		}
		if config.Daemon.Workers == 0 {
			config.Daemon.Workers = 2
		}
		if config.Daemon.History == 0 {
			config.Daemon.History = 50
		}
	}

	if config.Events != nil && config.Events.Subject == "" {
		config.Events.Subject = "piperunner.runs"
	}
}

// EnsureDaemon fills in an empty daemon section with defaults so the daemon
// can start from a configuration that never mentions one.
func (c *Config) EnsureDaemon() {
	if c.Daemon == nil {
		c.Daemon = &DaemonConfig{}
	}
	applyDefaults(c)
}

// StepTimeout returns the parsed default step timeout. Validate guarantees
// the string parses, so errors here fall back to ten minutes.
func (c *Config) StepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Defaults.StepTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// RetryPolicy builds the step backoff policy from the defaults section.
func (c *Config) RetryPolicy() retry.Policy {
	initial, err := time.ParseDuration(c.Defaults.RetryInitialDelay)
	if err != nil {
		return retry.DefaultPolicy()
	}
	maxDelay, err := time.ParseDuration(c.Defaults.RetryMaxDelay)
	if err != nil {
		return retry.DefaultPolicy()
	}
	return retry.NewPolicy(retry.BackoffMode(c.Defaults.RetryBackoff), initial, maxDelay)
}

// Resolver builds the credential resolver chain: static entries first, then
// the credential directory when configured, then process environment
// variables.
func (c *Config) Resolver() secrets.Resolver {
	chain := secrets.Chain{}
	if len(c.Secrets.Static) > 0 {
		chain = append(chain, secrets.Static(c.Secrets.Static))
	}
	if c.Secrets.Dir != "" {
		chain = append(chain, secrets.Dir{Path: c.Secrets.Dir})
	}
	chain = append(chain, secrets.Env{})
	return chain
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		Workspace: WorkspaceConfig{
			Root:       "./workspaces",
			Persistent: false,
		},
		Defaults: DefaultsConfig{
			StepTimeout:       "10m",
			OutputCap:         64 << 10,
			Branch:            "main",
			RetryBackoff:      string(retry.BackoffLinear),
			RetryInitialDelay: "1s",
			RetryMaxDelay:     "30s",
		},
		Secrets: SecretsConfig{
			Static: map[string]string{
				"sonar-token": "${SONAR_TOKEN}",
			},
		},
		Daemon: &DaemonConfig{
			Listen:    ":8082",
			QueueSize: 100,
			Workers:   2,
			History:   50,
			Watch:     true,
			Schedules: []ScheduleConfig{
				{Every: "4h", Branch: "main"},
			},
		},
		Events: &EventsConfig{
			NATSURL: "nats://localhost:4222",
			Subject: "piperunner.runs",
		},
		Metrics: MetricsConfig{Enabled: true},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
