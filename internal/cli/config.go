package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Defaults applied when neither flag, environment nor config file set a
// value.
const (
	DefaultDatabase      = "retrace.db"
	DefaultFormat        = "text"
	DefaultListen        = ":8321"
	DefaultConfig        = "retrace.yaml"
	DefaultQueueSize     = 1000
	DefaultFlushBatch    = 100
	DefaultFlushInterval = time.Second
)

// Config holds the resolved global settings. Precedence, highest first:
// explicit flag, RETRACE_* environment variable, config file, default.
type Config struct {
	Database      string        `mapstructure:"database"`
	Format        string        `mapstructure:"format"`
	Verbose       bool          `mapstructure:"verbose"`
	Listen        string        `mapstructure:"listen"`
	QueueSize     int           `mapstructure:"queue_size"`
	FlushBatch    int           `mapstructure:"flush_batch"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Policy        string        `mapstructure:"policy"`
}

// loadConfig builds the layered configuration. path names an explicit
// config file; empty means the default file, which may be absent.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("format", DefaultFormat)
	v.SetDefault("verbose", false)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("flush_batch", DefaultFlushBatch)
	v.SetDefault("flush_interval", DefaultFlushInterval)
	v.SetDefault("policy", "")

	v.SetEnvPrefix("RETRACE")
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfig
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// The default file is optional; an explicitly named one is not,
		// and a malformed file is always an error.
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// applyConfig fills root options from the resolved configuration for
// every flag the user did not set explicitly.
func applyConfig(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if !flags.Changed("db") {
		opts.Database = cfg.Database
	}
	if !flags.Changed("format") {
		opts.Format = cfg.Format
	}
	if !flags.Changed("verbose") && cfg.Verbose {
		opts.Verbose = true
	}
	opts.Listen = cfg.Listen
	opts.QueueSize = cfg.QueueSize
	opts.FlushBatch = cfg.FlushBatch
	opts.FlushInterval = cfg.FlushInterval
	opts.PolicyFile = cfg.Policy
	return nil
}
