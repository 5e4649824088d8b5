package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured. Help is
// written to out.
func newFlagCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "b52 [total_count=4] [concurrency=2]",
		Args:          cobra.MaximumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(out)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")

	// URL source flags
	flags.String("source", string(SourceTypeSQL), "URL source: 'sql' or 'file'")
	flags.String("driver", DriverMySQL, "SQL driver: 'mysql' or 'postgres'")
	flags.String("dsn", "", "SQL data source name")
	flags.String("query", DefaultQuery, "SQL query returning one URL column; takes the request count as its only parameter")
	flags.String("file", "", "Path to a file of URLs (text, CSV, JSON or YAML)")
	flags.String("file-format", "", "File format: 'text', 'csv', 'json' or 'yaml' (default: from extension)")
	flags.String("url-field", DefaultURLField, "CSV column, JSON path or YAML key holding the URL")
	flags.Int("max-url-length", DefaultMaxURLLength, "Truncate URLs longer than this many characters (0 disables)")

	// Transfer flags
	flags.Bool("insecure", false, "Disable TLS certificate and hostname verification (test systems only)")
	flags.String("user-agent", DefaultUserAgent, "User-Agent sent with every request")
	flags.Float64("batch-rate", 0, "Maximum batches started per second (0 means unlimited)")

	// Output flags
	flags.Bool("json", false, "Emit one JSON object per event instead of text")
	flags.Bool("log-errors", false, "Log each failed transfer to stderr")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "json", "Log format: 'json' or 'console'")
	flags.String("lock-file", "", "Hold an exclusive lock on this file for the duration of the run")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in traces (default: b52)")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Use an insecure connection to the OTLP collector")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := map[string]*string{
		"driver":               &cfg.Source.Driver,
		"dsn":                  &cfg.Source.DSN,
		"query":                &cfg.Source.Query,
		"file":                 &cfg.Source.File,
		"file-format":          &cfg.Source.Format,
		"url-field":            &cfg.Source.URLField,
		"user-agent":           &cfg.Transport.UserAgent,
		"log-level":            &cfg.Log.Level,
		"log-format":           &cfg.Log.Format,
		"lock-file":            &cfg.LockFile,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range stringFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	boolFlags := map[string]*bool{
		"insecure":         &cfg.Transport.InsecureSkipVerify,
		"json":             &cfg.JSONOutput,
		"log-errors":       &cfg.LogErrors,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range boolFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("source") {
		val, err := fs.GetString("source")
		if err != nil {
			return err
		}
		cfg.Source.Type = SourceType(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("max-url-length") {
		val, err := fs.GetInt("max-url-length")
		if err != nil {
			return err
		}
		cfg.Source.MaxURLLength = val
	}
	if fs.Changed("batch-rate") {
		val, err := fs.GetFloat64("batch-rate")
		if err != nil {
			return err
		}
		cfg.BatchRate = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}
