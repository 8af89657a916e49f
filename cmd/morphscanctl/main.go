package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"morphscan/internal/evo"
	"morphscan/internal/genotype"
	"morphscan/internal/model"
	"morphscan/internal/oracle"
	"morphscan/internal/probe"
	"morphscan/internal/replay"
	"morphscan/internal/stats"
	"morphscan/internal/storage"
)

const (
	defaultSourceAddr = "192.168.56.101"
	defaultAlertFile  = "/var/log/snort/alert"
	defaultRunsDir    = "runs"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "scan":
		return runScan(ctx, args[1:])
	case "evolve":
		return runEvolve(ctx, args[1:])
	case "replay":
		return runReplay(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	target := fs.String("target", "", "destination address (required)")
	ports := fs.String("ports", "20-25", "port or port range, e.g. 80 or 20-25")
	source := fs.String("source", defaultSourceAddr, "source address for probes")
	pps := fs.Int("pps", 0, "max packets per second (0 = unlimited)")
	waitMS := fs.Int("wait-ms", 1000, "response wait per probe in milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return errors.New("target is required")
	}
	low, high, err := parsePortRange(*ports)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	transport, err := probe.NewRawTransport(probe.RawTransportOptions{
		PacketsPerSecond: *pps,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	wait := time.Duration(*waitMS) * time.Millisecond
	var summary replay.Summary
	for port := low; port <= high; port++ {
		st := probe.NewState(*source, *target, port)
		resp, err := transport.SendAndWait(ctx, st, wait)
		if err != nil {
			return fmt.Errorf("probe %s:%d: %w", *target, port, err)
		}
		c := replay.Classify(resp)
		summary.Add(c)
		fmt.Printf("port=%d state=%s\n", port, c)
	}
	fmt.Println(summary)
	return nil
}

func runEvolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	target := fs.String("target", "", "destination address")
	ports := fs.String("ports", "20-25", "target port or port range")
	source := fs.String("source", defaultSourceAddr, "source address for probes")
	alertFile := fs.String("alert-file", defaultAlertFile, "IDS alert file to watch")
	population := fs.Int("pop", evo.DefaultPopulationSize, "population size")
	generations := fs.Int("gens", evo.DefaultGenerations, "generation count")
	minGenerations := fs.Int("min-gens", evo.DefaultMinGenerations, "generations required before a win can be declared")
	threshold := fs.Float64("threshold", evo.DefaultFitnessThreshold, "fitness threshold for success")
	elite := fs.Float64("elite", evo.DefaultElitePercent, "elite fraction carried over unmodified")
	tournament := fs.Int("tournament", evo.DefaultTournamentSize, "tournament size")
	mutationRate := fs.Float64("mutation-rate", evo.DefaultBaseMutationRate, "base per-gene mutation rate")
	pageCount := fs.Int("pages", evo.DefaultPageCount, "pages per genome")
	pageSize := fs.Int("page-size", evo.DefaultPageSize, "instructions per page")
	seed := fs.Int64("seed", time.Now().UnixNano(), "rng seed")
	workers := fs.Int("workers", 1, "evaluation workers (>1 weakens alert attribution)")
	evalTimeoutMS := fs.Int("eval-timeout-ms", int(evo.DefaultEvalTimeout/time.Millisecond), "per-individual evaluation timeout when workers > 1")
	pps := fs.Int("pps", 0, "max packets per second (0 = unlimited)")
	runsDir := fs.String("runs-dir", defaultRunsDir, "directory for run artifacts")
	experiment := fs.String("experiment", "morphscan", "experiment name prefix for the run directory")
	runID := fs.String("run-id", "", "explicit run id (defaults to the run directory name)")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "morphscan.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	opts := evolveOptions{
		Target:         *target,
		Ports:          *ports,
		Source:         *source,
		AlertFile:      *alertFile,
		Population:     *population,
		Generations:    *generations,
		MinGenerations: *minGenerations,
		Threshold:      *threshold,
		Elite:          *elite,
		Tournament:     *tournament,
		MutationRate:   *mutationRate,
		PageCount:      *pageCount,
		PageSize:       *pageSize,
		Seed:           *seed,
		Workers:        *workers,
		EvalTimeoutMS:  *evalTimeoutMS,
		PPS:            *pps,
		RunsDir:        *runsDir,
		Experiment:     *experiment,
		RunID:          *runID,
	}
	if *configPath != "" {
		loaded, err := loadEvolveConfig(*configPath)
		if err != nil {
			return err
		}
		opts = mergeOptions(loaded, opts, setFlags)
	}
	if opts.Target == "" {
		return errors.New("target is required")
	}
	low, high, err := parsePortRange(opts.Ports)
	if err != nil {
		return err
	}
	tgt := model.Target{Addr: opts.Target, PortLow: low, PortHigh: high}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	transport, err := probe.NewRawTransport(probe.RawTransportOptions{
		PacketsPerSecond: opts.PPS,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	runLogger, err := stats.NewRunLogger(opts.RunsDir, opts.Experiment)
	if err != nil {
		return err
	}
	if opts.RunID == "" {
		opts.RunID = filepath.Base(runLogger.Dir())
	}
	runLogger.LogMetadata("run_id", opts.RunID)
	runLogger.LogMetadata("target", opts.Target)
	runLogger.LogMetadata("ports", opts.Ports)
	runLogger.LogMetadata("seed", opts.Seed)
	runLogger.LogMetadata("population", opts.Population)
	runLogger.LogMetadata("generations", opts.Generations)

	evaluator := &evo.Evaluator{
		Transport: transport,
		Oracle:    oracle.NewFileOracle(opts.AlertFile, logger),
		Defaults:  probe.NewState(opts.Source, opts.Target, low),
		Sink:      runLogger,
		Logger:    logger,
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Evaluator:        evaluator,
		Target:           tgt,
		PopulationSize:   opts.Population,
		PageCount:        opts.PageCount,
		PageSize:         opts.PageSize,
		Generations:      opts.Generations,
		MinGenerations:   opts.MinGenerations,
		FitnessThreshold: opts.Threshold,
		ElitePercent:     opts.Elite,
		TournamentSize:   opts.Tournament,
		BaseMutationRate: opts.MutationRate,
		Workers:          opts.Workers,
		EvalTimeout:      time.Duration(opts.EvalTimeoutMS) * time.Millisecond,
		Seed:             opts.Seed,
		Sink:             runLogger,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	initial, err := genotype.NewPopulation(rng, opts.Population, tgt, opts.PageCount*opts.PageSize)
	if err != nil {
		return err
	}

	result, err := monitor.Run(ctx, initial)
	if err != nil {
		return err
	}
	if err := runLogger.Export(); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}
	summary := runLogger.Summary(opts.RunID, tgt, result.Solved, result.SolvedGeneration)
	if err := store.SaveRun(ctx, summary); err != nil {
		return err
	}
	if result.Solved {
		if err := store.SaveWinner(ctx, opts.RunID, result.SolvedGeneration, result.Best.Genome); err != nil {
			return err
		}
	}

	fmt.Printf("run completed run_id=%s target=%s pop=%d gens=%d seed=%d\n",
		opts.RunID, opts.Target, opts.Population, opts.Generations, opts.Seed)
	for _, rec := range result.Records {
		fmt.Printf("generation=%d best_fitness=%.6f avg_fitness=%.6f alerts=%d probes=%d\n",
			rec.Generation, rec.BestFitness, rec.AvgFitness, rec.Best.Alerts, rec.Best.Probes)
	}
	if result.Solved {
		fmt.Printf("solved generation=%d fitness=%.6f\n", result.SolvedGeneration, result.Best.Fitness)
	} else {
		fmt.Printf("not solved final_best_fitness=%.6f\n", result.Best.Fitness)
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(runLogger.Dir()))
	return nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	genomePath := fs.String("genome", "", "persisted genome file")
	runID := fs.String("run-id", "", "replay the stored winner of this run instead of a genome file")
	target := fs.String("target", "", "override destination address")
	port := fs.Int("port", 0, "override destination port")
	source := fs.String("source", defaultSourceAddr, "source address for probes")
	stepDelayMS := fs.Int("step-delay-ms", int(replay.DefaultStepDelay/time.Millisecond), "pause after every instruction in milliseconds")
	waitMS := fs.Int("wait-ms", int(replay.DefaultWaitTimeout/time.Millisecond), "response wait per probe in milliseconds")
	pps := fs.Int("pps", 0, "max packets per second (0 = unlimited)")
	storeKind := fs.String("store", "memory", "store backend for -run-id: memory|sqlite")
	dbPath := fs.String("db-path", "morphscan.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		genome model.Genome
		err    error
	)
	switch {
	case *genomePath != "":
		genome, err = replay.LoadGenome(*genomePath)
		if err != nil {
			return err
		}
	case *runID != "":
		store, serr := storage.NewStore(*storeKind, *dbPath)
		if serr != nil {
			return serr
		}
		defer func() {
			_ = storage.CloseIfSupported(store)
		}()
		if serr := store.Init(ctx); serr != nil {
			return serr
		}
		var stored model.Target
		genome, stored, err = winnerFromStore(ctx, store, *runID)
		if err != nil {
			return err
		}
		if *target == "" {
			*target = stored.Addr
		}
		if *port == 0 {
			*port = stored.PortLow
		}
	default:
		return errors.New("genome or run-id is required")
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	transport, err := probe.NewRawTransport(probe.RawTransportOptions{
		PacketsPerSecond: *pps,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	engine := &replay.Engine{
		Transport:    transport,
		Defaults:     probe.NewState(*source, *target, *port),
		OverrideAddr: *target,
		OverridePort: *port,
		StepDelay:    time.Duration(*stepDelayMS) * time.Millisecond,
		WaitTimeout:  time.Duration(*waitMS) * time.Millisecond,
		Logger:       logger,
	}
	fmt.Printf("replaying %d instructions (%d probes)\n", len(genome), genome.SendCount())
	summary, err := engine.Run(ctx, genome)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// winnerFromStore loads the persisted winner genome of a run, plus the
// run's original target so the replay can fall back to it when no
// override is given.
func winnerFromStore(ctx context.Context, store storage.Store, runID string) (model.Genome, model.Target, error) {
	genome, _, ok, err := store.GetWinner(ctx, runID)
	if err != nil {
		return nil, model.Target{}, err
	}
	if !ok {
		return nil, model.Target{}, fmt.Errorf("no stored winner for run %s", runID)
	}
	summary, ok, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, model.Target{}, err
	}
	if !ok {
		return genome, model.Target{}, nil
	}
	return genome, summary.Target, nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "morphscan.db", "sqlite database path")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(runs) > *limit {
		runs = runs[:*limit]
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s target=%s solved=%t solved_generation=%d best_fitness=%.6f generations=%d\n",
			r.RunID, r.Target.Addr, r.Solved, r.SolvedAt, r.BestFitness, len(r.Generations))
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: morphscanctl <scan|evolve|replay|runs> [flags]", msg)
}
