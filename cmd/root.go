package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transit-sim/transit-sim/sim"
)

var (
	cfgFile  string
	logLevel string

	// CLI flags overriding the config file
	seed     int64
	horizon  int64
	mode     string
	numBuses int
	numStops int
	gridSize int
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "transit-sim",
	Short: "Tick-based synthetic-city transit simulator for adaptive bus dispatch",
}

// runCmd executes one full episode and prints the end-of-episode report.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation episode",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		s := sim.NewSimulator(cfg)
		snap, err := s.Reset(seed)
		if err != nil {
			return err
		}
		if err := s.SwitchMode(sim.Mode(mode)); err != nil {
			return err
		}
		logrus.Infof("starting episode: seed=%d mode=%s horizon=%d", seed, mode, cfg.MaxHorizon)

		bar := progressbar.Default(cfg.MaxHorizon, "simulating")
		var lastReward float64
		for {
			var truncated, done bool
			snap, lastReward, done, truncated, _, err = s.Step(nil)
			if err != nil {
				return err
			}
			_ = bar.Add(1)
			if done || truncated {
				break
			}
		}
		_ = bar.Finish()

		printReport(snap, lastReward)
		return nil
	},
}

// printReport displays the end-of-episode KPIs and comparison block.
func printReport(snap *sim.Snapshot, lastReward float64) {
	fmt.Println("=== Episode Report ===")
	fmt.Printf("Simulated time       : %.0f s (%d ticks)\n", snap.SimulationTime, snap.Tick)
	fmt.Printf("Avg wait             : %.2f s\n", snap.KPIs.AvgWaitTime)
	fmt.Printf("P90 wait             : %.2f s\n", snap.KPIs.P90Wait)
	fmt.Printf("Load stddev          : %.2f\n", snap.KPIs.LoadStd)
	fmt.Printf("Overcrowd ratio      : %.2f\n", snap.KPIs.OvercrowdRatio)
	fmt.Printf("Passengers waiting   : %d\n", snap.KPIs.TotalPassengersWaiting)
	fmt.Printf("Passengers on buses  : %d\n", snap.KPIs.TotalPassengersOnBuses)
	fmt.Printf("Baseline avg wait    : %.2f s\n", snap.Comparison.BaselineAvgWait)
	fmt.Printf("Optimized avg wait   : %.2f s\n", snap.Comparison.OptimizedAvgWait)
	fmt.Printf("Improvement          : %.1f %%\n", snap.Comparison.ImprovementPercentage)
	fmt.Printf("Final tick reward    : %.4f\n", lastReward)
}

// loadConfig reads the config file and environment, then applies any
// explicitly-set CLI flags on top.
func loadConfig(cmd *cobra.Command) (sim.Config, error) {
	cfg, err := sim.LoadConfig(cfgFile)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("horizon") {
		cfg.MaxHorizon = horizon
	}
	if cmd.Flags().Changed("buses") {
		cfg.NumBuses = numBuses
	}
	if cmd.Flags().Changed("stops") {
		cfg.NumStops = numStops
	}
	if cmd.Flags().Changed("grid-size") {
		cfg.GridSize = gridSize
	}
	return cfg, cfg.Validate()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	for _, c := range []*cobra.Command{runCmd, compareCmd} {
		c.Flags().Int64Var(&seed, "seed", 42, "Seed for random demand and layout generation")
		c.Flags().Int64Var(&horizon, "horizon", 3600, "Episode horizon (in ticks)")
		c.Flags().IntVar(&numBuses, "buses", 6, "Number of buses per fleet")
		c.Flags().IntVar(&numStops, "stops", 32, "Number of stops")
		c.Flags().IntVar(&gridSize, "grid-size", 20, "Grid side length")
	}
	runCmd.Flags().StringVar(&mode, "mode", "adaptive", "Dispatch mode (static, adaptive)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compareCmd)
}

func initLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}
