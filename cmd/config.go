package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/fanout/internal/config"
	"github.com/zjrosen/fanout/internal/queue"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the fanout config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runConfigInit(cmd.OutOrStdout(), configInitPath, configInitForce)
	},
}

var configBusCmd = &cobra.Command{
	Use:   "bus",
	Short: "Change mailbox settings in the config file",
	Example: `  fanout config bus --mailbox-size 1024
  fanout config bus --overflow drop-newest
  fanout config bus --mailbox-size 0      # unbounded`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bus := cfg.Bus
		if cmd.Flags().Changed("mailbox-size") {
			bus.MailboxSize = busMailboxSize
		}
		if cmd.Flags().Changed("overflow") {
			bus.Overflow = busOverflow
		}
		if cmd.Flags().Changed("diagnostics-buffer") {
			bus.DiagnosticsBuffer = busDiagBuffer
		}
		return runConfigBus(cmd.OutOrStdout(), configFilePath(), bus)
	},
}

var configThresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Change the ticker alert thresholds in the config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		high, low := cfg.Ticker.High, cfg.Ticker.Low
		if cmd.Flags().Changed("high") {
			high = thresholdHigh
		}
		if cmd.Flags().Changed("low") {
			low = thresholdLow
		}
		path := configFilePath()
		if err := config.SaveTickerThresholds(path, high, low); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ticker thresholds set to high=%v low=%v in %s\n", high, low, path)
		return nil
	},
}

var (
	configInitPath  string
	configInitForce bool
	busMailboxSize  int
	busOverflow     string
	busDiagBuffer   int
	thresholdHigh   float64
	thresholdLow    float64
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configBusCmd, configThresholdsCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", defaultConfigPath, "where to write the config")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configBusCmd.Flags().IntVar(&busMailboxSize, "mailbox-size", queue.DefaultMaxSize, "messages queued per observer; 0 = unbounded")
	configBusCmd.Flags().StringVar(&busOverflow, "overflow", string(queue.DropOldest), "drop-oldest or drop-newest")
	configBusCmd.Flags().IntVar(&busDiagBuffer, "diagnostics-buffer", 64, "per-listener diagnostics buffer")

	configThresholdsCmd.Flags().Float64Var(&thresholdHigh, "high", 0, "alert at or above this price")
	configThresholdsCmd.Flags().Float64Var(&thresholdLow, "low", 0, "alert at or below this price")
}

// configFilePath is the file config edits apply to: the one loaded, or the
// default location when none was.
func configFilePath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return defaultConfigPath
}

func runConfigInit(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		_, _ = fmt.Fprintf(out, "config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

func runConfigBus(out io.Writer, path string, bus config.BusConfig) error {
	if err := config.SaveBus(path, bus); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "bus settings saved to %s: mailbox_size=%d overflow=%s diagnostics_buffer=%d\n",
		path, bus.MailboxSize, bus.Overflow, bus.DiagnosticsBuffer)
	return nil
}
