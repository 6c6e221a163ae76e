package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/probekit/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "probekit",
	Short: "probekit - a distributed monitoring probe engine",
	Long: `probekit runs a population of parameterized tests against HTTP,
TCP, subprocess, and SNMP targets, dedupes identical sub-queries, filters
the results into Nagios-style states, and exposes both a Nagios-compatible
XML introspection endpoint and Prometheus metrics.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"probekit version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Uint32("log-sample", 0, "Emit only 1 in N log events (0 disables sampling); useful once the test population is large enough that every tick logging at debug would flood the output")
	rootCmd.PersistentFlags().String("config", "probekit.yaml", "Path to the YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logSample, _ := rootCmd.PersistentFlags().GetUint32("log-sample")

	log.Init(log.Config{
		Level:       log.Level(logLevel),
		JSONOutput:  logJSON,
		SampleEvery: logSample,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("probekit version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a config file and exit",
	Long:  `Parses the config file, builds every query/test/group it describes, and reports any error without starting the scheduler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		eng, err := buildEngine(configPath, log.Logger)
		if err != nil {
			return err
		}
		fmt.Printf("OK: %d group(s), %d distinct quer(y/ies), %d test(s)\n",
			len(eng.scheduler.Stats().Groups), eng.registry.Len(), eng.testCount)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and monitoring endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		addr, _ := cmd.Flags().GetString("addr")

		eng, err := buildEngine(configPath, log.Logger)
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := eng.scheduler.Prepare(ctx); err != nil {
			return fmt.Errorf("preparing scheduler: %w", err)
		}
		log.Logger.Info().Int("tests", eng.testCount).Msg("scheduler prepared, ticking")

		errCh := make(chan error, 1)
		go func() {
			log.Logger.Info().Str("addr", addr).Msg("monitoring endpoint listening")
			errCh <- eng.server.Run(ctx, addr)
		}()

		select {
		case <-ctx.Done():
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("monitoring endpoint: %w", err)
			}
		}

		eng.scheduler.Stop()
		return nil
	},
}

func init() {
	runCmd.Flags().String("addr", "127.0.0.1:9112", "Monitoring endpoint listen address")
}
