package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/fanout/internal/config"
	"github.com/zjrosen/fanout/internal/log"
)

const defaultConfigPath = ".fanout/config.yaml"

var (
	version     = "dev"
	cfgFile     string
	cfg         config.Config
	debugFlag   bool
	logFile     string
	metricsAddr string

	logCleanup = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "In-process observer and publish-subscribe demos",
	Long: `fanout runs small programs built on an in-process observer / publish-subscribe
core: subjects fan messages out to observers that each run on their own
goroutine with a bounded mailbox.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.fanout/config.yaml or ~/.config/fanout/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write a debug log (also FANOUT_DEBUG=1)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"debug log path (overrides log.path)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address while running")
}

func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("bus.mailbox_size", d.Bus.MailboxSize)
	v.SetDefault("bus.overflow", d.Bus.Overflow)
	v.SetDefault("bus.diagnostics_buffer", d.Bus.DiagnosticsBuffer)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.patterns", d.Watch.Patterns)
	v.SetDefault("ticker.symbols", d.Ticker.Symbols)
	v.SetDefault("ticker.start", d.Ticker.Start)
	v.SetDefault("ticker.high", d.Ticker.High)
	v.SetDefault("ticker.low", d.Ticker.Low)
	v.SetDefault("ticker.ticks", d.Ticker.Ticks)
	v.SetDefault("ticker.interval", d.Ticker.Interval)
	v.SetDefault("ticker.state_ttl", d.Ticker.StateTTL)
	v.SetDefault("ticker.seed", d.Ticker.Seed)
}

func initConfig() {
	setDefaults(viper.GetViper(), config.Defaults())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .fanout/config.yaml (current directory)
		// 2. ~/.config/fanout/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "fanout"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .fanout/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
				viper.SetConfigFile(defaultConfigPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func setup(cmd *cobra.Command, _ []string) error {
	cleanup, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	logCleanup = cleanup

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Info(log.CatConfig, "fanout starting", "version", version, "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	logCleanup()
	logCleanup = func() {}
	return nil
}

// setupLogging installs the file logger when debug mode is on (flag or
// FANOUT_DEBUG). The path resolves from --log-file, FANOUT_LOG, then log.path.
func setupLogging(lc config.LogConfig) (func(), error) {
	if !debugFlag && os.Getenv("FANOUT_DEBUG") == "" {
		return func() {}, nil
	}

	path := logFile
	if path == "" {
		path = os.Getenv("FANOUT_LOG")
	}
	if path == "" {
		path = lc.Path
	}
	if path == "" {
		path = "debug.log"
	}

	cleanup, err := log.Init(path)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	if level, err := log.ParseLevel(lc.Level); err == nil {
		log.SetMinLevel(level)
	}
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
