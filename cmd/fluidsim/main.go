package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/san-kum/fluidsim/internal/config"
)

var (
	dataDir  string
	logLevel string

	// run
	configFile   string
	preset       string
	scriptFile   string
	port         int
	wsPort       int
	wireMode     string
	realtime     bool
	frame        float64
	terminate    float64
	numParticles int
	scenarioMode string
	solverName   string
	integName    string
	record       bool
	recordVars   []string
	recordEvery  int
	clientCmd    string

	// client commands
	host        string
	serverPort  int
	binaryMode  bool
	cycle       float64
	streamCount int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fluidsim",
		Short:        "particle fluid simulation with a variable server",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".fluidsim", "data directory for recorded runs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the simulation and serve its variables",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "preset as scenario/name")
	runCmd.Flags().StringVar(&scriptFile, "script", "", "input script applied before the run")
	runCmd.Flags().IntVar(&port, "port", config.DefaultPort, "variable server port (0 picks a free port)")
	runCmd.Flags().IntVar(&wsPort, "ws-port", -1, "websocket endpoint port (-1 disables, 0 picks a free port)")
	runCmd.Flags().StringVar(&wireMode, "mode", "ascii", "default wire mode (ascii, binary)")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "pace frames to wall-clock time")
	runCmd.Flags().Float64Var(&frame, "frame", config.DefaultDt, "software frame in seconds")
	runCmd.Flags().Float64Var(&terminate, "terminate", 0, "terminate time in seconds (0 runs until stopped)")
	runCmd.Flags().IntVar(&numParticles, "particles", config.DefaultParticles, "number of particles")
	runCmd.Flags().StringVar(&scenarioMode, "scenario", "none", "initial layout (none, paraboloid, cosine, rings, lattice or -1..3)")
	runCmd.Flags().StringVar(&solverName, "solver", "sph", "interaction solver")
	runCmd.Flags().StringVar(&integName, "integrator", "symplectic", "integrator")
	runCmd.Flags().BoolVar(&record, "record", false, "record variables to a CSV log under the data directory")
	runCmd.Flags().StringSliceVar(&recordVars, "record-vars", nil, "variables to record (default: time and metrics)")
	runCmd.Flags().IntVar(&recordEvery, "record-every", 1, "record every N frames")
	runCmd.Flags().StringVar(&clientCmd, "client", "", "command to launch once listening; {port} is replaced with the bound port")

	getCmd := &cobra.Command{
		Use:   "get [name...]",
		Short: "read variables from a running simulation",
		Args:  cobra.MinimumNArgs(1),
		RunE:  getVars,
	}

	setCmd := &cobra.Command{
		Use:   "set [name] [value]",
		Short: "write a variable in a running simulation",
		Args:  cobra.ExactArgs(2),
		RunE:  setVar,
	}

	streamCmd := &cobra.Command{
		Use:   "stream [name...]",
		Short: "print streamed variable updates",
		Args:  cobra.MinimumNArgs(1),
		RunE:  streamVars,
	}
	streamCmd.Flags().Float64Var(&cycle, "cycle", 0.1, "update cycle in seconds")
	streamCmd.Flags().IntVar(&streamCount, "count", 0, "stop after N updates (0 streams until terminated)")

	watchCmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "terminal monitor of streamed variables",
		RunE:  watchVars,
	}
	watchCmd.Flags().Float64Var(&cycle, "cycle", 0.1, "update cycle in seconds")

	varsCmd := &cobra.Command{
		Use:   "vars",
		Short: "list the variables a running simulation exposes",
		Args:  cobra.NoArgs,
		RunE:  listVars,
	}

	terminateCmd := &cobra.Command{
		Use:   "terminate",
		Short: "stop a running simulation",
		Args:  cobra.NoArgs,
		RunE:  terminateRun,
	}

	for _, c := range []*cobra.Command{getCmd, setCmd, streamCmd, watchCmd, varsCmd, terminateCmd} {
		c.Flags().StringVar(&host, "host", "localhost", "variable server host")
		c.Flags().IntVar(&serverPort, "port", 0, "variable server port")
		c.Flags().BoolVar(&binaryMode, "binary", false, "use binary wire mode")
		c.MarkFlagRequired("port")
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id] [name...]",
		Short: "plot recorded variables",
		Args:  cobra.MinimumNArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [scenario]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := config.ListScenarios()
			if len(args) > 0 {
				scenarios = args
			}
			for _, sc := range scenarios {
				presets := config.ListPresets(sc)
				if len(presets) == 0 {
					fmt.Printf("no presets for scenario: %s\n", sc)
					continue
				}
				fmt.Printf("%s: %s\n", sc, strings.Join(presets, ", "))
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, getCmd, setCmd, streamCmd, watchCmd, varsCmd, terminateCmd, listCmd, plotCmd, exportCmd, presetsCmd)
	return rootCmd
}
