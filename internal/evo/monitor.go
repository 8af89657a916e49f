package evo

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"morphscan/internal/model"
)

// Defaults for the generation loop.
const (
	DefaultPopulationSize   = 5
	DefaultGenerations      = 3
	DefaultMinGenerations   = 1
	DefaultFitnessThreshold = 0.98
	DefaultElitePercent     = 0.05
	DefaultTournamentSize   = 4
	DefaultBaseMutationRate = 0.5
	DefaultPageCount        = 20
	DefaultPageSize         = 5
	DefaultEvalTimeout      = 10 * time.Second
)

// RunSink receives generation summaries and the winning individual.
type RunSink interface {
	LogGeneration(rec model.GenerationRecord)
	SaveIndividual(ind *model.Individual, generation int) error
}

type MonitorConfig struct {
	Evaluator *Evaluator
	Target    model.Target

	PopulationSize   int
	PageCount        int
	PageSize         int
	Generations      int
	MinGenerations   int
	FitnessThreshold float64
	ElitePercent     float64
	TournamentSize   int
	BaseMutationRate float64

	// Workers > 1 opts into parallel evaluation with a per-individual
	// wall-clock timeout. Parallel dispatch invalidates the alert
	// oracle's before/after attribution: the checkpoint is shared, not
	// partitioned per worker. Sequential is the default.
	Workers     int
	EvalTimeout time.Duration

	Seed   int64
	Sink   RunSink
	Logger *log.Logger
}

// GenomeLength is the fixed instruction count every genome must have.
func (c MonitorConfig) GenomeLength() int {
	return c.PageCount * c.PageSize
}

// RunResult reports the finished run. Best is the final best individual
// whether or not the threshold was met; Solved says whether a winner was
// persisted.
type RunResult struct {
	Records          []model.GenerationRecord
	Best             *model.Individual
	Solved           bool
	SolvedGeneration int
}

// PopulationMonitor owns the generation loop: evaluate, record, check
// termination, select elites, breed, replace.
type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.PageCount <= 0 || cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page count and page size must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.MinGenerations < 0 {
		return nil, fmt.Errorf("min generations must be >= 0")
	}
	if cfg.FitnessThreshold < 0 || cfg.FitnessThreshold > 1 {
		return nil, fmt.Errorf("fitness threshold must be in [0,1]")
	}
	if cfg.ElitePercent < 0 || cfg.ElitePercent > 1 {
		return nil, fmt.Errorf("elite percent must be in [0,1]")
	}
	if cfg.TournamentSize < 2 {
		return nil, ErrTournamentSize
	}
	if cfg.TournamentSize > cfg.PopulationSize {
		return nil, fmt.Errorf("%w: population=%d tournament=%d", ErrPopulationTooSmall, cfg.PopulationSize, cfg.TournamentSize)
	}
	if cfg.BaseMutationRate < 0 || cfg.BaseMutationRate > 1 {
		return nil, fmt.Errorf("base mutation rate must be in [0,1]")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultEvalTimeout
	}

	return &PopulationMonitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run drives the population through the configured number of generations.
// The run ends early with Solved=true when the best fitness reaches the
// threshold at or after MinGenerations; the winner is then handed to the
// sink for persistence. Exhausting the configured generations ends the run
// without a declared success.
func (m *PopulationMonitor) Run(ctx context.Context, initial []*model.Individual) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}
	want := m.cfg.GenomeLength()
	for i, ind := range initial {
		if len(ind.Genome) != want {
			return RunResult{}, fmt.Errorf("individual %d genome length %d, want %d", i, len(ind.Genome), want)
		}
	}
	if m.cfg.Workers > 1 {
		m.warnf("parallel evaluation enabled (workers=%d): alert attribution per individual is unreliable", m.cfg.Workers)
	}

	population := make([]*model.Individual, len(initial))
	copy(population, initial)

	records := make([]model.GenerationRecord, 0, m.cfg.Generations)
	var best *model.Individual

	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		if err := m.evaluatePopulation(ctx, population, gen); err != nil {
			return RunResult{}, err
		}

		best = population[0]
		total := 0.0
		for _, ind := range population {
			total += ind.Fitness
			if ind.Fitness > best.Fitness {
				best = ind
			}
		}
		rec := model.GenerationRecord{
			Generation:  gen,
			BestFitness: best.Fitness,
			AvgFitness:  total / float64(len(population)),
			Best:        best.Stats,
		}
		records = append(records, rec)
		if m.cfg.Sink != nil {
			m.cfg.Sink.LogGeneration(rec)
		}

		if best.Fitness >= m.cfg.FitnessThreshold && gen >= m.cfg.MinGenerations {
			if m.cfg.Sink != nil {
				if err := m.cfg.Sink.SaveIndividual(best, gen); err != nil {
					return RunResult{}, fmt.Errorf("persist winner: %w", err)
				}
			}
			return RunResult{Records: records, Best: best, Solved: true, SolvedGeneration: gen}, nil
		}

		if gen == m.cfg.Generations-1 {
			break
		}
		next, err := m.breed(population, gen)
		if err != nil {
			return RunResult{}, err
		}
		population = next
	}

	return RunResult{Records: records, Best: best, Solved: false, SolvedGeneration: -1}, nil
}

// breed fills the next generation: elites survive unmodified, the rest
// are tournament-selected from the full current population, crossed
// over, mutated with the generation-decayed rate and swap-perturbed.
func (m *PopulationMonitor) breed(population []*model.Individual, generation int) ([]*model.Individual, error) {
	size := len(population)
	eliteCount := int(math.Ceil(float64(size) * m.cfg.ElitePercent))
	if eliteCount < 1 {
		eliteCount = 1
	}

	ranked := make([]*model.Individual, size)
	copy(ranked, population)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})

	next := make([]*model.Individual, 0, size+1)
	next = append(next, ranked[:eliteCount]...)

	for len(next) < size {
		p1, p2, err := TournamentSelect(m.rng, population, m.cfg.TournamentSize)
		if err != nil {
			return nil, err
		}
		g1, g2, err := PageCrossover(m.rng, p1.Genome, p2.Genome, m.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, g := range []*model.Genome{&g1, &g2} {
			mutated, err := MutateDecay(m.rng, *g, m.cfg.Target, m.cfg.BaseMutationRate, generation, m.cfg.Generations)
			if err != nil {
				return nil, err
			}
			swapped, err := SwapGenes(m.rng, mutated)
			if err != nil {
				return nil, err
			}
			*g = swapped
		}
		next = append(next,
			&model.Individual{Target: m.cfg.Target, Genome: g1},
			&model.Individual{Target: m.cfg.Target, Genome: g2},
		)
	}
	return next[:size], nil
}

func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []*model.Individual, generation int) error {
	if m.cfg.Workers <= 1 {
		for i, ind := range population {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.cfg.Evaluator.Evaluate(ctx, ind, generation, i)
		}
		return nil
	}

	type job struct {
		idx int
		ind *model.Individual
	}

	jobs := make(chan job)
	workerCount := m.cfg.Workers
	if workerCount > len(population) {
		workerCount = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				m.evaluateWithTimeout(ctx, j.ind, generation, j.idx)
			}
		}()
	}
	for i := range population {
		jobs <- job{idx: i, ind: population[i]}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

// entropyGate stands between one timed evaluation and the shared
// entropy sink. Once the monitor discards the evaluation, a late
// record from its abandoned goroutine is dropped instead of logged.
type entropyGate struct {
	mu        sync.Mutex
	sink      EntropySink
	discarded bool
}

func (g *entropyGate) LogEntropy(rec model.EntropyRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.discarded || g.sink == nil {
		return
	}
	g.sink.LogEntropy(rec)
}

func (g *entropyGate) discard() {
	g.mu.Lock()
	g.discarded = true
	g.mu.Unlock()
}

// evaluateWithTimeout races the evaluation against the per-individual
// wall clock. On expiry or worker panic the result is discarded and the
// fitness forced to 0; the generation always continues. The evaluation
// runs on a clone with a gated sink, so an abandoned goroutine can
// neither corrupt the individual nor log a discarded result.
func (m *PopulationMonitor) evaluateWithTimeout(ctx context.Context, ind *model.Individual, generation, index int) {
	evalCtx, cancel := context.WithTimeout(ctx, m.cfg.EvalTimeout)
	defer cancel()

	gate := &entropyGate{sink: m.cfg.Evaluator.Sink}
	gated := *m.cfg.Evaluator
	gated.Sink = gate

	clone := ind.Clone()
	done := make(chan struct{})
	failed := make(chan any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				failed <- r
			}
		}()
		gated.Evaluate(evalCtx, clone, generation, index)
		close(done)
	}()

	select {
	case <-done:
		ind.Fitness = clone.Fitness
		ind.Stats = clone.Stats
	case r := <-failed:
		gate.discard()
		ind.Fitness = 0
		ind.Stats = model.EvalStats{}
		m.warnf("individual %d evaluation failed: %v", index, r)
	case <-evalCtx.Done():
		gate.discard()
		ind.Fitness = 0
		ind.Stats = model.EvalStats{}
		m.warnf("individual %d timed out after %s", index, m.cfg.EvalTimeout)
	}
}

func (m *PopulationMonitor) warnf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf("[WARNING] "+format, args...)
	}
}
