package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rfchat/internal/config"
	"rfchat/internal/logging"
)

var (
	// Global flags
	cfgFile     string
	dataDir     string
	radioDir    string
	deviceName  string
	serviceName string
	logLevel    string

	// Set during PersistentPreRunE
	cfg     *config.Config
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "rfchat",
	Short: "Point-to-point chat over an RFCOMM-style service link",
	Long: `rfchat advertises or joins a chat service and exchanges text messages
with exactly one peer. Devices meet on a simulated radio: a directory shared
by every rfchat process on the machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		// CLI flags override config file values
		if dataDir != "" {
			cfg.Device.DataDir = dataDir
		}
		if radioDir != "" {
			cfg.Radio.Dir = radioDir
		}
		if deviceName != "" {
			cfg.Device.Name = deviceName
		}
		if serviceName != "" {
			cfg.Service.Name = serviceName
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir(), 0700); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		return openLog(cfg.LogFile())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&radioDir, "radio-dir", "", "shared radio directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&deviceName, "name", "", "device name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serviceName, "service-name", "", "advertised service name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(hostCmd, scanCmd, joinCmd, historyCmd)
}

// openLog sends logs to path. The console owns the terminal, so nothing is
// logged to stderr during a session.
func openLog(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f
	logging.Init(cfg.Logging.Level, cfg.Logging.Format, f)
	return nil
}

func closeLog() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
