package config

import (
	"fmt"
)

// PersistenceMode selects the conversation store backend.
type PersistenceMode string

const (
	PersistenceMemory PersistenceMode = "memory"
	PersistenceFile   PersistenceMode = "file"
	PersistenceSQLite PersistenceMode = "sqlite"
)

// SessionConfig configures per-session persistence and the context-window
// watchdog.
type SessionConfig struct {
	// Directory holds history.json, events.json and related session files.
	Directory string `yaml:"directory,omitempty" json:"directory,omitempty"`

	// Persistence is memory, file or sqlite.
	Persistence PersistenceMode `yaml:"persistence,omitempty" json:"persistence,omitempty"`

	// WarnThreshold is the context-window usage ratio that triggers a
	// warning. SummaryThreshold triggers auto-summary.
	WarnThreshold    float64 `yaml:"warn_threshold,omitempty" json:"warn_threshold,omitempty"`
	SummaryThreshold float64 `yaml:"summary_threshold,omitempty" json:"summary_threshold,omitempty"`

	// TopicAnalysis keeps conversation topics updated via a transient
	// summarizer.
	TopicAnalysis *bool `yaml:"topic_analysis,omitempty" json:"topic_analysis,omitempty"`
}

func (s *SessionConfig) SetDefaults() {
	if s.Persistence == "" {
		s.Persistence = PersistenceMemory
	}
	if s.WarnThreshold == 0 {
		s.WarnThreshold = 0.85
	}
	if s.SummaryThreshold == 0 {
		s.SummaryThreshold = 0.95
	}
	if s.TopicAnalysis == nil {
		enabled := true
		s.TopicAnalysis = &enabled
	}
}

func (s *SessionConfig) Validate() error {
	switch s.Persistence {
	case PersistenceMemory, PersistenceFile, PersistenceSQLite:
	default:
		return fmt.Errorf("invalid persistence mode %q (valid: memory, file, sqlite)", s.Persistence)
	}
	if s.Persistence != PersistenceMemory && s.Directory == "" {
		return fmt.Errorf("persistence mode %q requires a session directory", s.Persistence)
	}
	if s.WarnThreshold <= 0 || s.WarnThreshold > 1 {
		return fmt.Errorf("warn_threshold must be in (0, 1]")
	}
	if s.SummaryThreshold < s.WarnThreshold || s.SummaryThreshold > 1 {
		return fmt.Errorf("summary_threshold must be in [warn_threshold, 1]")
	}
	return nil
}

// RetryConfig shapes the user-facing send retry loop.
type RetryConfig struct {
	// MaxAttempts caps retries of one send. Zero means 10.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// DelaySeconds is the fixed spacing between attempts. Zero means 10.
	DelaySeconds int `yaml:"delay_seconds,omitempty" json:"delay_seconds,omitempty"`
}

func (r *RetryConfig) SetDefaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 10
	}
	if r.DelaySeconds <= 0 {
		r.DelaySeconds = 10
	}
}

// ObservabilityConfig enables tracing and metrics export.
type ObservabilityConfig struct {
	TracingEnabled  bool    `yaml:"tracing_enabled,omitempty" json:"tracing_enabled,omitempty"`
	TracingEndpoint string  `yaml:"tracing_endpoint,omitempty" json:"tracing_endpoint,omitempty"`
	SamplingRate    float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`

	MetricsEnabled bool `yaml:"metrics_enabled,omitempty" json:"metrics_enabled,omitempty"`
	MetricsPort    int  `yaml:"metrics_port,omitempty" json:"metrics_port,omitempty"`
}

func (o *ObservabilityConfig) SetDefaults() {
	if o.SamplingRate == 0 {
		o.SamplingRate = 1.0
	}
	if o.MetricsPort == 0 {
		o.MetricsPort = 9090
	}
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// File, when set, duplicates logs to the given path.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

func (l *LoggerConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func (l *LoggerConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}
