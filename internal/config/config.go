// Package config loads dupmill's YAML configuration file and applies
// command-line flag overrides on top of it, the same two-phase pattern
// the teacher's own config.Load used.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is dupmill's top-level configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Policy   PolicyConfig   `yaml:"policy"`
	Producer ProducerConfig `yaml:"producer"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PolicyConfig locates the tenant policy snapshot.
type PolicyConfig struct {
	File string `yaml:"file"`
}

// ProducerConfig configures the LoopingTaskProducer.
type ProducerConfig struct {
	ProducerID       string        `yaml:"producer_id"`
	CredentialsFile  string        `yaml:"credentials_file"`
	StateFile        string        `yaml:"state_file"`
	MaxTaskQueueSize int           `yaml:"max_task_queue_size"`
	Frequency        time.Duration `yaml:"frequency"`
	InclusionList    string        `yaml:"inclusion_list"`
	ExclusionList    string        `yaml:"exclusion_list"`
	ScratchDir       string        `yaml:"scratch_dir"`
}

// QueueConfig configures the durable task queue.
type QueueConfig struct {
	Name string `yaml:"name"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Retries           int           `yaml:"retries"`
	RetryBackoffMs    int           `yaml:"retry_backoff_ms"`
}

// MetricsConfig configures the Prometheus metrics server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from file and command line flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Producer: ProducerConfig{
			ProducerID:       "dupmill-producer",
			StateFile:        "./dupmill-state.db",
			MaxTaskQueueSize: 10000,
			Frequency:        time.Hour,
			ScratchDir:       os.TempDir(),
		},
		Queue: QueueConfig{
			Name: "./dupmill-queue.db",
		},
		Worker: WorkerConfig{
			Concurrency:       16,
			VisibilityTimeout: 5 * time.Minute,
			PollInterval:      time.Second,
			Retries:           3,
			RetryBackoffMs:    250,
		},
		Metrics: MetricsConfig{
			Addr: ":8080",
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("policy-file") {
		cfg.Policy.File, _ = flags.GetString("policy-file")
	}
	if flags.Changed("credentials-file") {
		cfg.Producer.CredentialsFile, _ = flags.GetString("credentials-file")
	}
	if flags.Changed("producer-id") {
		cfg.Producer.ProducerID, _ = flags.GetString("producer-id")
	}
	if flags.Changed("state-file") {
		cfg.Producer.StateFile, _ = flags.GetString("state-file")
	}
	if flags.Changed("max-task-queue-size") {
		cfg.Producer.MaxTaskQueueSize, _ = flags.GetInt("max-task-queue-size")
	}
	if flags.Changed("frequency") {
		cfg.Producer.Frequency, _ = flags.GetDuration("frequency")
	}
	if flags.Changed("inclusion-list") {
		cfg.Producer.InclusionList, _ = flags.GetString("inclusion-list")
	}
	if flags.Changed("exclusion-list") {
		cfg.Producer.ExclusionList, _ = flags.GetString("exclusion-list")
	}
	if flags.Changed("scratch-dir") {
		cfg.Producer.ScratchDir, _ = flags.GetString("scratch-dir")
	}
	if flags.Changed("task-queue-name") {
		cfg.Queue.Name, _ = flags.GetString("task-queue-name")
	}
	if flags.Changed("concurrency") {
		cfg.Worker.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("visibility-timeout") {
		cfg.Worker.VisibilityTimeout, _ = flags.GetDuration("visibility-timeout")
	}
	if flags.Changed("poll-interval") {
		cfg.Worker.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("retries") {
		cfg.Worker.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Worker.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Policy.File == "" {
		return fmt.Errorf("policy file is required")
	}
	if c.Producer.CredentialsFile == "" {
		return fmt.Errorf("credentials file is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	return nil
}
