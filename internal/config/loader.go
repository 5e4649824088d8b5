package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads, e.g. B52_SOURCE_DSN.
const EnvPrefix = "B52"

// settingKeys are the nested keys that may be supplied through the environment.
var settingKeys = []string{
	"total",
	"concurrency",
	"batch_rate",
	"json_output",
	"log_errors",
	"lock_file",
	"source.type",
	"source.driver",
	"source.dsn",
	"source.query",
	"source.file",
	"source.format",
	"source.url_field",
	"source.max_url_length",
	"transport.user_agent",
	"transport.insecure_skip_verify",
	"log.level",
	"log.format",
	"tracing.endpoint",
	"tracing.protocol",
	"tracing.service_name",
	"tracing.sample_rate",
	"tracing.insecure",
	"tracing.disable_propagation",
}

// envFallbacks lists standard variables consulted when the B52_ form of a
// key is unset.
var envFallbacks = map[string][]string{
	"tracing.endpoint":     {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"tracing.service_name": {"OTEL_SERVICE_NAME"},
}

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct {
	// EnvFile is a dotenv file loaded into the process environment before
	// anything else. A missing file is not an error. Empty disables it.
	EnvFile string
	// Stdout receives --help output. Nil means os.Stdout.
	Stdout io.Writer
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{EnvFile: ".env"}
}

// Load parses command-line arguments, the environment and an optional
// configuration file to produce a Config. Precedence, highest first:
// positional arguments and flags, environment, config file, defaults.
func (l Loader) Load(args []string) (*Config, error) {
	out := l.Stdout
	if out == nil {
		out = os.Stdout
	}
	cmd := newFlagCommand(out)
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	positional := flagSet.Args()
	if err := cmd.ValidateArgs(positional); err != nil {
		return nil, fmt.Errorf("%w (usage: %s)", err, cmd.UseLine())
	}

	if err := loadEnvFile(l.EnvFile); err != nil {
		return nil, err
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := newViper()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	// Decoding onto the defaults leaves every key the file and environment
	// do not mention untouched.
	if err := cfgViper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	if err := applyPositionalArgs(cfg, positional); err != nil {
		return nil, err
	}

	cfg.Source.Type = SourceType(strings.ToLower(strings.TrimSpace(string(cfg.Source.Type))))
	cfg.Source.Driver = strings.ToLower(strings.TrimSpace(cfg.Source.Driver))
	cfg.Source.Format = strings.ToLower(strings.TrimSpace(cfg.Source.Format))
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range settingKeys {
		_ = v.BindEnv(append([]string{key, envName(key)}, envFallbacks[key]...)...)
	}
	return v
}

// envName returns the B52_ variable for a nested key, e.g. B52_SOURCE_DSN.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// applyPositionalArgs applies [total_count] [concurrency].
func applyPositionalArgs(cfg *Config, args []string) error {
	if len(args) > 0 {
		total, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("total_count: %q is not an integer", args[0])
		}
		cfg.Total = total
	}
	if len(args) > 1 {
		concurrency, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("concurrency: %q is not an integer", args[1])
		}
		cfg.Concurrency = concurrency
	}
	return nil
}
