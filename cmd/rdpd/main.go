// Command rdpd is the RDP server-side streaming daemon: it captures the
// local X11 desktop, encodes changed regions, and serves them to connected
// RDP clients over the graphics pipeline (or the Surface Bits fallback).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanternops/rdpd/internal/config"
)

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rdpd",
		Short: "RDP server-side streaming daemon",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML configuration file")
	root.Flags().String("listen.address", "", "listen address, e.g. :3389")
	root.Flags().Int("display.index", 0, "X11 screen number to capture on the display named by $DISPLAY")
	root.Flags().String("encoding.mode", "", "auto|force-rfx|force-progressive|force-avc")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newValidateConfigCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("rdpd (development build)")
			return nil
		},
	}
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", cfg)
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err == nil {
		slog.SetLogLoggerLevel(level)
	}
	log := slog.Default()
	log.Info("starting rdpd",
		"listen", cfg.Listen.Address,
		"display_index", cfg.Display.Index,
		"encoding_mode", cfg.Encoding.Mode,
	)

	return daemon(cfg, log)
}
