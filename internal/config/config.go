// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/lsst-dm/ctrl-joboffice/internal/idfilter"
)

// Persist controls where the Blackboard's filesystem queues live.
type Persist struct {
	Dir string `mapstructure:"dir"`
}

// Listen controls event-receive timing, watermarks, and broker wiring.
type Listen struct {
	InitialWait    time.Duration `mapstructure:"initial_wait"`
	EmptyWait      time.Duration `mapstructure:"empty_wait"`
	HighWatermark  int           `mapstructure:"high_watermark"`
	DataReadyEvent []string      `mapstructure:"data_ready_event"`
	PipelineEvent  string        `mapstructure:"pipeline_event"`
	StopEvent      string        `mapstructure:"stop_event"`
	JobOfficeEvent string        `mapstructure:"job_office_event"`
	BrokerHostName string        `mapstructure:"broker_host_name"`
	BrokerHostPort int           `mapstructure:"broker_host_port"`
	StopWaitTime   time.Duration `mapstructure:"stop_wait_time"`
}

// JobIdentity configures how a job's synthetic identity Dataset is derived.
type JobIdentity struct {
	TemplateType string   `mapstructure:"template_type"`
	Type         string   `mapstructure:"type"`
	ID           []string `mapstructure:"id"`
}

// JobName configures a job's human-readable name.
type JobName struct {
	Default     string `mapstructure:"default"`
	Template    string `mapstructure:"template"`
	InitCounter int    `mapstructure:"init_counter"`
}

// TriggerSpec is one configured trigger record. Each entry in ID is a full
// idfilter.Config, not a bare name — this is what lets a deployment
// configure a closed or Integer-range recognition/enumeration filter
// (className/min/lim/values), rather than only ever getting an
// unconstrained string filter per identifier.
type TriggerSpec struct {
	ClassName   string            `mapstructure:"class_name"`
	DatasetType string            `mapstructure:"dataset_type"`
	ID          []idfilter.Config `mapstructure:"id"`
}

// Schedule configures the scheduler algorithm and its triggers.
type Schedule struct {
	ClassName string        `mapstructure:"class_name"`
	Trigger   []TriggerSpec `mapstructure:"trigger"`
	Input     []TriggerSpec `mapstructure:"input"`
	Output    []TriggerSpec `mapstructure:"output"`
	Identity  JobIdentity   `mapstructure:"identity"`
	Name      JobName       `mapstructure:"name"`
}

// Retry controls how many times a failed job is rescheduled before being
// marked permanently failed.
type Retry struct {
	Max int `mapstructure:"max"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled            bool              `mapstructure:"enabled"`
	Endpoint           string            `mapstructure:"endpoint"`
	Environment        string            `mapstructure:"environment"`
	SamplingStrategy   string            `mapstructure:"sampling_strategy"`
	SamplingRate       float64           `mapstructure:"sampling_rate"`
	BatchTimeout       time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize int               `mapstructure:"max_export_batch_size"`
	Headers            map[string]string `mapstructure:"headers"`
	Insecure           bool              `mapstructure:"insecure"`
	PropagationFormat  string            `mapstructure:"propagation_format"`
	AttributeAllowlist []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive    bool              `mapstructure:"redact_sensitive"`
}

type Cache struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFile             string        `mapstructure:"log_file"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
	// SummaryCron is a five-or-six-field cron expression (seconds field
	// optional) controlling how often a Blackboard queue-depth summary is
	// logged. Empty disables the summary entirely.
	SummaryCron string `mapstructure:"summary_cron"`
}

// Config is the root Job Office configuration: one instance per process.
type Config struct {
	Name           string              `mapstructure:"name"`
	RunID          string              `mapstructure:"run_id"`
	Persist        Persist             `mapstructure:"persist"`
	Listen         Listen              `mapstructure:"listen"`
	Schedule       Schedule            `mapstructure:"schedule"`
	Retry          Retry               `mapstructure:"retry"`
	CircuitBreaker CircuitBreaker      `mapstructure:"circuit_breaker"`
	Cache          Cache               `mapstructure:"cache"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Name:  "joboffice",
		RunID: "default",
		Persist: Persist{
			Dir: "./data/blackboard",
		},
		Listen: Listen{
			InitialWait:    60 * time.Second,
			EmptyWait:      0,
			HighWatermark:  100,
			DataReadyEvent: []string{"data:ready"},
			PipelineEvent:  "pipeline:event",
			StopEvent:      "job:office:stop",
			JobOfficeEvent: "job:office",
			BrokerHostPort: 4222,
			StopWaitTime:   60 * time.Second,
		},
		Schedule: Schedule{
			ClassName: "DataTriggeredScheduler",
			Name:      JobName{Default: "Job", InitCounter: 0},
		},
		Retry: Retry{Max: 0},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           30 * time.Second,
			CooldownPeriod:   10 * time.Second,
			MinSamples:       5,
		},
		Cache: Cache{
			Addr:    "localhost:6379",
			Enabled: false,
		},
		Observability: ObservabilityConfig{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             TracingConfig{Enabled: false},
			QueueSampleInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file and env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JOBOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("name", def.Name)
	v.SetDefault("run_id", def.RunID)

	v.SetDefault("persist.dir", def.Persist.Dir)

	v.SetDefault("listen.initial_wait", def.Listen.InitialWait)
	v.SetDefault("listen.empty_wait", def.Listen.EmptyWait)
	v.SetDefault("listen.high_watermark", def.Listen.HighWatermark)
	v.SetDefault("listen.data_ready_event", def.Listen.DataReadyEvent)
	v.SetDefault("listen.pipeline_event", def.Listen.PipelineEvent)
	v.SetDefault("listen.stop_event", def.Listen.StopEvent)
	v.SetDefault("listen.job_office_event", def.Listen.JobOfficeEvent)
	v.SetDefault("listen.broker_host_port", def.Listen.BrokerHostPort)
	v.SetDefault("listen.stop_wait_time", def.Listen.StopWaitTime)

	v.SetDefault("schedule.class_name", def.Schedule.ClassName)
	v.SetDefault("schedule.name.default", def.Schedule.Name.Default)
	v.SetDefault("schedule.name.init_counter", def.Schedule.Name.InitCounter)

	v.SetDefault("retry.max", def.Retry.Max)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("cache.addr", def.Cache.Addr)
	v.SetDefault("cache.enabled", def.Cache.Enabled)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)
	v.SetDefault("observability.summary_cron", def.Observability.SummaryCron)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Persist.Dir == "" {
		return fmt.Errorf("persist.dir must be set")
	}
	if cfg.Listen.HighWatermark < 1 {
		return fmt.Errorf("listen.high_watermark must be >= 1")
	}
	if cfg.Listen.InitialWait <= 0 {
		return fmt.Errorf("listen.initial_wait must be > 0")
	}
	if cfg.Listen.StopWaitTime <= 0 {
		return fmt.Errorf("listen.stop_wait_time must be > 0")
	}
	if cfg.Retry.Max < 0 {
		return fmt.Errorf("retry.max must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Observability.SummaryCron != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Observability.SummaryCron); err != nil {
			return fmt.Errorf("observability.summary_cron: %w", err)
		}
	}
	return nil
}
