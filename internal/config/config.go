package config

import (
	"os"

	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultConfigName = "fieldlink"
	defaultInterval   = 1
)

// Config holds all tunables. Durations are seconds unless noted; the wire
// format is a TOML file overridable per-key by flags.
type Config struct {
	StationID      string `mapstructure:"station_id"`
	Collector      string `mapstructure:"collector"`
	Interval       int    `mapstructure:"interval"`
	CaptureTimeout int    `mapstructure:"capture_timeout"`
	LogLevel       string `mapstructure:"log_level"`
	Database       string `mapstructure:"database"`

	QueueMaxEntries   int64  `mapstructure:"queue_max_entries"`
	QueueMaxBytes     int64  `mapstructure:"queue_max_bytes"`
	QueueMaxPerSource int64  `mapstructure:"queue_max_per_source"`
	QueuePolicy       string `mapstructure:"queue_policy"`

	BatchSize         int `mapstructure:"batch_size"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	HandshakeTimeout  int `mapstructure:"handshake_timeout"`
	BatchAckTimeout   int `mapstructure:"batch_ack_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	DrainGrace        int `mapstructure:"drain_grace"`
	BackoffMin        int `mapstructure:"backoff_min"`
	BackoffMax        int `mapstructure:"backoff_max"`

	CommandWindow int `mapstructure:"command_window"`
}

// Load reads configuration from flags, the FIELDLINK_CONFIG file (or
// /etc/fieldlink.toml), and defaults, in that precedence order.
func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("fieldlink", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	configPath := flags.String("config", "", "Path to the config file")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.String("collector", "", "Collector address")
	flags.String("database", "", "Path to the queue database")
	flags.String("station-id", "", "Station identifier")
	flags.Int("interval", 0, "Scheduler tick interval in seconds")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("FIELDLINK_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
			}
		}
	}

	// Explicitly set flags override file values
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			v.Set("log_level", f.Value.String())
		case "collector":
			v.Set("collector", f.Value.String())
		case "database":
			v.Set("database", f.Value.String())
		case "station-id":
			v.Set("station_id", f.Value.String())
		case "interval":
			if n, err := flags.GetInt("interval"); err == nil {
				v.Set("interval", n)
			}
		}
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = defaultConfigName
	}

	v.SetDefault("station_id", hostname)
	v.SetDefault("collector", "127.0.0.1:7331")
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("capture_timeout", 5)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("database", "/var/lib/fieldlink/queue.db")
	v.SetDefault("queue_max_entries", 50000)
	v.SetDefault("queue_max_bytes", 32<<20)
	v.SetDefault("queue_max_per_source", 10000)
	v.SetDefault("queue_policy", "reject-newest")
	v.SetDefault("batch_size", 64)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("handshake_timeout", 10)
	v.SetDefault("batch_ack_timeout", 15)
	v.SetDefault("heartbeat_interval", 30)
	v.SetDefault("drain_grace", 5)
	v.SetDefault("backoff_min", 1)
	v.SetDefault("backoff_max", 300)
	v.SetDefault("command_window", 256)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "warn", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Interval <= 0 || c.CaptureTimeout <= 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}
	if c.HandshakeTimeout <= 0 || c.BatchAckTimeout <= 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "backoff bounds are inconsistent")
	}
	if c.StationID == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "station_id must not be empty")
	}
	if c.Database == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "database path must not be empty")
	}

	return nil
}
