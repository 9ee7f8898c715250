package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind        string
	configFile  string
	corsOrigins []string
	port        int
	prefix      string
	profile     bool
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool

	roundDuration        time.Duration
	intermissionDuration time.Duration
	tickInterval         time.Duration
	markLifetime         time.Duration
	maxMarks             int

	maxMessageSize int64
	pingInterval   time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.tickInterval <= 0 {
		return fmt.Errorf("invalid tick interval (must be positive): %s", c.tickInterval)
	}
	if c.roundDuration < c.tickInterval {
		return fmt.Errorf("invalid round duration (must be at least one tick, %s): %s", c.tickInterval, c.roundDuration)
	}
	if c.intermissionDuration < c.tickInterval {
		return fmt.Errorf("invalid intermission duration (must be at least one tick, %s): %s", c.tickInterval, c.intermissionDuration)
	}
	if c.markLifetime <= 0 {
		return fmt.Errorf("invalid mark lifetime (must be positive): %s", c.markLifetime)
	}
	if c.maxMarks < 1 {
		return fmt.Errorf("invalid max marks (must be at least 1): %d", c.maxMarks)
	}
	if c.maxMessageSize < 1 {
		return fmt.Errorf("invalid max message size (must be at least 1): %d", c.maxMessageSize)
	}
	if c.pingInterval <= 0 || c.pingInterval >= c.readTimeout {
		return fmt.Errorf("invalid ping interval (must be positive and shorter than --read-timeout %s): %s", c.readTimeout, c.pingInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadOverrides fills every flag not given on the command line from the
// environment, then from the config file, if one was named.
func loadOverrides(v *viper.Viper, cfg *Config, fs *pflag.FlagSet) error {
	_ = v.BindEnv("config")
	if cfg.configFile == "" {
		cfg.configFile = v.GetString("config")
	}

	if cfg.configFile != "" {
		v.SetConfigFile(cfg.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfg.configFile, err)
		}
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if list, ok := val.([]any); ok {
				parts := make([]string, len(list))
				for i, item := range list {
					parts[i] = fmt.Sprint(item)
				}
				val = strings.Join(parts, ",")
			}
			if err := fs.Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
			}
		}
	})

	return errors.Join(errs...)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SUPERSTARS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "superstars",
		Short:         "A shared canvas where everyone races to place the most stars before the round ends.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadOverrides(v, cfg, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			setupLogging(cfg, os.Stderr)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SUPERSTARS_BIND)")
	fs.StringVarP(&cfg.configFile, "config", "c", "", "path to a yaml, toml or json config file (env: SUPERSTARS_CONFIG)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", nil, "origins allowed to make cross-origin requests, all if empty (env: SUPERSTARS_CORS_ORIGINS)")
	fs.DurationVar(&cfg.intermissionDuration, "intermission-duration", 15*time.Second, "length of the break between rounds (env: SUPERSTARS_INTERMISSION_DURATION)")
	fs.DurationVar(&cfg.markLifetime, "mark-lifetime", 4*time.Second, "how long a placed star is replayed to new players (env: SUPERSTARS_MARK_LIFETIME)")
	fs.IntVar(&cfg.maxMarks, "max-marks", 256, "maximum number of stars remembered for new players (env: SUPERSTARS_MAX_MARKS)")
	fs.Int64Var(&cfg.maxMessageSize, "max-message-size", 4096, "largest websocket frame accepted from a client, in bytes (env: SUPERSTARS_MAX_MESSAGE_SIZE)")
	fs.DurationVar(&cfg.pingInterval, "ping-interval", 30*time.Second, "time between websocket pings (env: SUPERSTARS_PING_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SUPERSTARS_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SUPERSTARS_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SUPERSTARS_PROFILE)")
	fs.DurationVar(&cfg.readTimeout, "read-timeout", 60*time.Second, "time before a silent websocket is dropped (env: SUPERSTARS_READ_TIMEOUT)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", 35*time.Second, "length of each round (env: SUPERSTARS_ROUND_DURATION)")
	fs.DurationVar(&cfg.tickInterval, "tick-interval", 100*time.Millisecond, "how often the round timer advances and is broadcast (env: SUPERSTARS_TICK_INTERVAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SUPERSTARS_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SUPERSTARS_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SUPERSTARS_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SUPERSTARS_VERSION)")
	fs.DurationVar(&cfg.writeTimeout, "write-timeout", 10*time.Second, "time allowed for a single websocket write (env: SUPERSTARS_WRITE_TIMEOUT)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("superstars v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
