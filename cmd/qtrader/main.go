package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"qtrader/internal/config"
	"qtrader/internal/engine"
	"qtrader/internal/monitor"
	"qtrader/internal/provider"
	"qtrader/internal/snapshot"
	"qtrader/internal/strategy"
)

const (
	exitFinished    = 0
	exitInterrupted = 1
	exitUsage       = 2
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	strategyName := flag.String("strategy", "", "Registered strategy name (default: config strategyName)")
	dataPath := flag.String("data", "", "Path to JSON market data file")
	resumePath := flag.String("resume", "", "Resume from a PAUSED state file")
	forkPath := flag.String("fork", "", "Fork from a PAUSED state file")
	forkDate := flag.String("fork-date", "", "Fork date YYYY-MM-DD (default: snapshot date)")
	reinitialize := flag.Bool("reinitialize", true, "Run the new strategy's initialize after a fork")
	startPaused := flag.Bool("start-paused", false, "Start in the paused state")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if *resumePath != "" && *forkPath != "" {
		fmt.Fprintln(os.Stderr, "-resume and -fork are mutually exclusive")
		os.Exit(exitUsage)
	}
	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "-data is required")
		os.Exit(exitUsage)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "qtrader",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %+v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	os.Exit(run(*configPath, *strategyName, *dataPath, *resumePath, *forkPath, *forkDate, *reinitialize, *startPaused))
}

func run(configPath, strategyName, dataPath, resumePath, forkPath, forkDate string, reinitialize, startPaused bool) int {
	prov, err := provider.LoadFile(dataPath)
	if err != nil {
		logs.Errorf("load market data: %+v", err)
		return exitInterrupted
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return exitUsage
		}
	}

	opts := engine.Options{StartPaused: startPaused}

	var eng *engine.Engine
	switch {
	case resumePath != "":
		name := strategyName
		if name == "" && cfg != nil {
			name = cfg.Engine.StrategyName
		}
		strat, err := resolveStrategy(name, resumePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		eng, err = engine.Resume(resumePath, prov, strat, cfg, opts)
		if err != nil {
			logs.Errorf("resume: %+v", err)
			return exitInterrupted
		}

	case forkPath != "":
		if strategyName == "" {
			fmt.Fprintln(os.Stderr, "-fork requires -strategy")
			return exitUsage
		}
		strat, err := strategy.New(strategyName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v (registered: %v)\n", err, strategy.Names())
			return exitUsage
		}
		date := forkDate
		if date == "" {
			env, err := snapshot.Load(forkPath)
			if err != nil {
				logs.Errorf("load fork snapshot: %+v", err)
				return exitInterrupted
			}
			date = env.Context.CurrentDT.Format("2006-01-02")
		}
		eng, err = engine.Fork(forkPath, snapshot.ForkOptions{
			Date:         date,
			StrategyName: strategyName,
			Reinitialize: reinitialize,
		}, prov, strat, cfg, opts)
		if err != nil {
			logs.Errorf("fork: %+v", err)
			return exitInterrupted
		}

	default:
		if cfg == nil {
			fmt.Fprintln(os.Stderr, "-config is required for a fresh run")
			return exitUsage
		}
		name := strategyName
		if name == "" {
			name = cfg.Engine.StrategyName
		}
		cfg.Engine.StrategyName = name
		strat, err := strategy.New(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v (registered: %v)\n", err, strategy.Names())
			return exitUsage
		}
		eng, err = engine.New(cfg, prov, strat, opts)
		if err != nil {
			logs.Errorf("build engine: %+v", err)
			return exitInterrupted
		}
	}

	if srvCfg := eng.Context().Config().Server; srvCfg.Enable {
		srv := monitor.NewServer(srvCfg.Addr, eng)
		srv.Start()
		defer srv.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logs.Warn("interrupt received, stopping gracefully")
		eng.Stop()
	}()

	status, err := eng.Run()
	if err != nil {
		logs.Errorf("run: %+v", err)
	}
	logs.Infof("run ended with status %s, artifacts in %s", status, eng.Workspace().Dir)
	if status == snapshot.StatusFinished {
		return exitFinished
	}
	return exitInterrupted
}

// resolveStrategy picks the strategy for a resume: the explicit name wins,
// otherwise the name stored in the snapshot.
func resolveStrategy(name, statePath string) (engine.Strategy, error) {
	if name == "" {
		env, err := snapshot.Load(statePath)
		if err != nil {
			return nil, err
		}
		name = env.Context.StrategyName
	}
	strat, err := strategy.New(name)
	if err != nil {
		return nil, fmt.Errorf("%w (registered: %v)", err, strategy.Names())
	}
	return strat, nil
}
