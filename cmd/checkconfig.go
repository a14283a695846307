package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/adalundhe/ensemble/core/config"
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a configuration file",
	Long:  `Load a configuration file, validate it, and print the effective settings.`,
	RunE:  runCheckConfig,
}

var checkConfigPath string

func init() {
	rootCmd.AddCommand(checkConfigCmd)
	checkConfigCmd.Flags().StringVarP(&checkConfigPath, "config", "c", "", "Path to config file (defaults used when empty)")
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	manager := config.NewManager(newLogger("error"))
	if checkConfigPath != "" {
		if err := manager.Load(checkConfigPath); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
	}
	cfg := manager.Get()

	intervals, err := cfg.ThrottleIntervals()
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	idle, err := cfg.LockIdleTimeout()
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	sweep, err := cfg.LockSweepInterval()
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	fmt.Println("Configuration OK")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println("Throttle intervals:")
	for channel, interval := range intervals {
		fmt.Printf("  %-20s %v\n", channel, interval)
	}
	fmt.Printf("Lock idle timeout:   %v\n", idle)
	fmt.Printf("Lock sweep interval: %v\n", sweep)
	fmt.Printf("Journal hot tier:    %d bytes, %d counters\n", cfg.Journal.MaxCost, cfg.Journal.NumCounters)
	fmt.Printf("Log level:           %s\n", cfg.Log.Level)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
