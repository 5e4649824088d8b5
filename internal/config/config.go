package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

type SourceType string

const (
	SourceTypeSQL  SourceType = "sql"
	SourceTypeFile SourceType = "file"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

const (
	DefaultTotal        = 4
	DefaultConcurrency  = 2
	DefaultQuery        = "SELECT url FROM urls LIMIT ?"
	DefaultMaxURLLength = 261
	DefaultUserAgent    = "B52 Load Tester/1.0"
	DefaultURLField     = "url"
)

type Config struct {
	Total       int             `mapstructure:"total"`
	Concurrency int             `mapstructure:"concurrency"`
	BatchRate   float64         `mapstructure:"batch_rate"`
	JSONOutput  bool            `mapstructure:"json_output"`
	LogErrors   bool            `mapstructure:"log_errors"`
	LockFile    string          `mapstructure:"lock_file"`
	ConfigFile  string          `mapstructure:"-"`
	Source      SourceConfig    `mapstructure:"source"`
	Transport   TransportConfig `mapstructure:"transport"`
	Log         LogConfig       `mapstructure:"log"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// SourceConfig selects and parameterizes the URL source.
type SourceConfig struct {
	Type         SourceType `mapstructure:"type"`
	Driver       string     `mapstructure:"driver"`         // "mysql" or "postgres"
	DSN          string     `mapstructure:"dsn"`            // driver-specific data source name
	Query        string     `mapstructure:"query"`          // must take one integer limit parameter
	File         string     `mapstructure:"file"`           // path for the file source
	Format       string     `mapstructure:"format"`         // text, csv, json, yaml; inferred from extension when empty
	URLField     string     `mapstructure:"url_field"`      // CSV column, JSON (gjson) path or YAML key
	MaxURLLength int        `mapstructure:"max_url_length"` // 0 disables truncation
}

type TransportConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

type TracingConfig struct {
	Endpoint           string  `mapstructure:"endpoint"`
	Protocol           string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName        string  `mapstructure:"service_name"`
	SampleRate         float64 `mapstructure:"sample_rate"`
	Insecure           bool    `mapstructure:"insecure"`
	DisablePropagation bool    `mapstructure:"disable_propagation"`
}

// Enabled reports whether an OTLP endpoint was configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && !t.DisablePropagation
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Total:       DefaultTotal,
		Concurrency: DefaultConcurrency,
		Source: SourceConfig{
			Type:         SourceTypeSQL,
			Driver:       DriverMySQL,
			Query:        DefaultQuery,
			URLField:     DefaultURLField,
			MaxURLLength: DefaultMaxURLLength,
		},
		Transport: TransportConfig{
			UserAgent: DefaultUserAgent,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.Total < 0 {
		issues = append(issues, "total must be >= 0")
	}
	if c.BatchRate < 0 {
		issues = append(issues, "batch_rate must be >= 0")
	}

	// A run of zero URLs never opens the source.
	if c.Total > 0 {
		issues = append(issues, validateSourceConfig(c.Source)...)
	}
	issues = append(issues, validateTransportConfig(c.Transport)...)
	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but deserve operator attention.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("High concurrency configured (%d transfers per batch). Ensure you have authorization to test the target system.", c.Concurrency))
	}
	if c.Transport.InsecureSkipVerify {
		warnings = append(warnings, "TLS certificate and hostname verification is DISABLED. Use this only against test systems you control.")
	}
	if c.Tracing.Enabled() && c.Tracing.Insecure {
		warnings = append(warnings, "Tracing exporter uses an insecure connection.")
	}
	return warnings
}

func validateSourceConfig(src SourceConfig) []string {
	var issues []string
	if src.MaxURLLength < 0 {
		issues = append(issues, "source: max_url_length must be >= 0")
	}

	switch src.Type {
	case SourceTypeSQL:
		switch src.Driver {
		case DriverMySQL, DriverPostgres:
		default:
			issues = append(issues, fmt.Sprintf("source: driver must be 'mysql' or 'postgres', got %q", src.Driver))
		}
		if strings.TrimSpace(src.DSN) == "" {
			issues = append(issues, "source: dsn is required for the sql source")
		}
		query := strings.TrimSpace(src.Query)
		if query == "" {
			issues = append(issues, "source: query is required for the sql source")
		} else if !strings.Contains(query, "?") && !strings.Contains(query, "$1") {
			issues = append(issues, "source: query must take the limit as a parameter ('?' or '$1')")
		}
	case SourceTypeFile:
		if strings.TrimSpace(src.File) == "" {
			issues = append(issues, "source: file is required for the file source")
		}
		switch strings.ToLower(src.Format) {
		case "", "text", "txt", "csv", "json", "yaml", "yml":
		default:
			issues = append(issues, fmt.Sprintf("source: format must be 'text', 'csv', 'json' or 'yaml', got %q", src.Format))
		}
	default:
		issues = append(issues, fmt.Sprintf("source: type must be 'sql' or 'file', got %q", src.Type))
	}
	return issues
}

func validateTransportConfig(tr TransportConfig) []string {
	if strings.ContainsAny(tr.UserAgent, "\r\n") {
		return []string{"transport: user_agent must not contain line breaks"}
	}
	return nil
}

func validateLogConfig(lc LogConfig) []string {
	var issues []string
	if _, err := zapcore.ParseLevel(lc.Level); err != nil {
		issues = append(issues, fmt.Sprintf("log: %v", err))
	}
	switch lc.Format {
	case "", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'json' or 'console', got %q", lc.Format))
	}
	return issues
}

func validateTracingConfig(tc TracingConfig) []string {
	var issues []string
	switch strings.ToLower(tc.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", tc.Protocol))
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", tc.SampleRate))
	}
	return issues
}
