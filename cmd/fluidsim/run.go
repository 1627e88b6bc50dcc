package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/fluidsim/internal/config"
	"github.com/san-kum/fluidsim/internal/experiment"
	"github.com/san-kum/fluidsim/internal/scenario"
	"github.com/san-kum/fluidsim/internal/script"
	"github.com/san-kum/fluidsim/internal/sim"
	"github.com/san-kum/fluidsim/internal/storage"
	"github.com/san-kum/fluidsim/internal/varserver"
)

// clientGrace is how long a launched client may keep running after the
// simulation has ended.
const clientGrace = 5 * time.Second

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "fluidsim",
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// loadConfig layers preset, config file, script directives and explicitly
// set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, *script.Script, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		sc, name, ok := strings.Cut(preset, "/")
		if !ok {
			return nil, nil, fmt.Errorf("preset must be scenario/name, got %q", preset)
		}
		p := config.GetPreset(sc, name)
		if p == nil {
			return nil, nil, fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(sc), ", "))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	var scr *script.Script
	if scriptFile != "" {
		var err error
		scr, err = script.Load(scriptFile)
		if err != nil {
			return nil, nil, err
		}
		scr.Configure(cfg)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("ws-port") {
		cfg.Server.WSPort = wsPort
	}
	if flags.Changed("mode") {
		cfg.Server.Mode = wireMode
	}
	if flags.Changed("realtime") {
		cfg.RealTime = realtime
	}
	if flags.Changed("frame") {
		cfg.Dt = frame
	}
	if flags.Changed("terminate") {
		cfg.TerminateTime = terminate
	}
	if flags.Changed("particles") {
		cfg.Fluid.NumParticles = numParticles
	}
	if flags.Changed("scenario") {
		cfg.Scenario.Mode = scenarioMode
	}
	if flags.Changed("solver") {
		cfg.Solver = solverName
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integName
	}
	if record {
		cfg.Record.Dir = dataDir
	}
	if flags.Changed("record-vars") {
		cfg.Record.Vars = recordVars
	}
	if flags.Changed("record-every") {
		cfg.Record.Every = recordEvery
	}
	if cmd.Root().PersistentFlags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, scr, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, scr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}
	simCfg, _ := cfg.SimConfig()
	srvCfg, _ := cfg.ServerConfig()

	reg := experiment.NewRegistry()
	solver, err := reg.GetSolver(cfg.Solver, simCfg.Params)
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(reg.ListSolvers(), ", "))
	}
	integ, err := reg.GetIntegrator(cfg.Integrator, simCfg.Boundary)
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(reg.ListIntegrators(), ", "))
	}

	engine, err := sim.New(simCfg, solver, integ, logger)
	if err != nil {
		return err
	}
	if scr != nil {
		if err := scr.Apply(engine); err != nil {
			return fmt.Errorf("%s: %w", scr.Path, err)
		}
	}
	if err := engine.Setup(); err != nil {
		return err
	}

	var rec *storage.Recorder
	if cfg.Record.Dir != "" {
		store := storage.New(cfg.Record.Dir)
		if err := store.Init(); err != nil {
			return err
		}
		rec, err = store.Open(storage.RunMetadata{
			Scenario:      scenario.ModeName(simCfg.Scenario.Mode),
			Solver:        cfg.Solver,
			Integrator:    cfg.Integrator,
			Dt:            simCfg.Dt,
			TerminateTime: simCfg.TerminateTime,
			NumParticles:  len(engine.Snapshot()),
		}, engine, cfg.Record.Vars, cfg.Record.Every)
		if err != nil {
			return err
		}
		engine.AddObserver(rec)
	}

	srv, err := varserver.New(srvCfg, engine, logger)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Printf("variable server listening on port %d\n", srv.Port())
	if p := srv.WSPort(); p != 0 {
		fmt.Printf("websocket endpoint ws://localhost:%d/varserver\n", p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	clientCtx, cancelClient := context.WithCancel(context.Background())
	defer cancelClient()
	if clientCmd != "" {
		client := launchClient(clientCtx, clientCmd, srv.Port(), logger)
		if client != nil {
			g.Go(func() error {
				if err := client.Wait(); err != nil && clientCtx.Err() == nil {
					logger.Warn("client exited", "err", err)
				}
				return nil
			})
		}
	}

	start := time.Now()
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		runErr := engine.Run(gctx)
		status := engine.Status()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), clientGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx, status.Reason); err != nil {
			logger.Warn("shutdown incomplete", "err", err)
		}
		time.AfterFunc(clientGrace, cancelClient)

		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	})
	runErr := g.Wait()
	elapsed := time.Since(start)

	status := engine.Status()
	results := engine.Metrics()
	if rec != nil {
		if err := rec.Close(status.Clock, status.Reason, results); err != nil {
			logger.Error("failed to write recording", "err", err)
		} else {
			fmt.Printf("recorded run %s in %s\n", rec.ID(), rec.Dir())
		}
	}

	fmt.Printf("%s: %s after %d frames (t=%.4g) in %v\n",
		status.State, status.Reason, status.Clock.Frame, status.Clock.Time, elapsed.Round(time.Millisecond))
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %.6g\n", name, results[name])
	}

	if status.State == sim.Failed {
		if runErr == nil {
			runErr = status.Err
		}
		return fmt.Errorf("simulation failed: %w", runErr)
	}
	return runErr
}

// launchClient starts cmdline through the shell with {port} replaced by the
// bound port. A client that fails to start is logged and ignored.
func launchClient(ctx context.Context, cmdline string, port int, logger *log.Logger) *exec.Cmd {
	cmdline = strings.ReplaceAll(cmdline, "{port}", strconv.Itoa(port))
	c := exec.CommandContext(ctx, "sh", "-c", cmdline)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = append(os.Environ(), "FLUIDSIM_PORT="+strconv.Itoa(port))
	if err := c.Start(); err != nil {
		logger.Error("failed to launch client", "cmd", cmdline, "err", err)
		return nil
	}
	logger.Info("client launched", "cmd", cmdline, "pid", c.Process.Pid)
	return c
}
