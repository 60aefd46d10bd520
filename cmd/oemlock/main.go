// Command oemlock serves the OEM lock trusted application and queries it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kardianos/oemlock/config"
	"github.com/spf13/cobra"
)

var (
	configPath string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "oemlock",
	Short: "OEM unlock authorization flags",
	Long: `oemlock keeps the carrier and device unlock authorization flags in a
trusted application and lets callers read and change them.

Run "oemlock serve" on the isolated side. The other commands connect to it,
or keep the flags in memory when mode is "memory".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("OEMLOCK_CONFIG"), "path to a TOML config file")

	rootCmd.AddGroup(
		&cobra.Group{ID: "flags", Title: "Flags:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	// Flags
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fingerprintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
