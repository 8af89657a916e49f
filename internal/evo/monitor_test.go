package evo

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"morphscan/internal/genotype"
	"morphscan/internal/model"
	"morphscan/internal/oracle"
	"morphscan/internal/probe"
)

func monitorConfig(tr probe.Transport, o oracle.AlertOracle, sink *recordingSink) MonitorConfig {
	target := model.Target{Addr: "10.0.0.9", PortLow: 80, PortHigh: 80}
	return MonitorConfig{
		Evaluator: &Evaluator{
			Transport: tr,
			Oracle:    o,
			Defaults:  probe.NewState("192.168.56.101", target.Addr, 80),
			Sink:      sink,
		},
		Target:           target,
		PopulationSize:   5,
		PageCount:        4,
		PageSize:         5,
		Generations:      3,
		MinGenerations:   1,
		FitnessThreshold: 0.98,
		ElitePercent:     0.05,
		TournamentSize:   4,
		BaseMutationRate: 0.5,
		Seed:             42,
		Sink:             sink,
	}
}

func seedPopulation(t *testing.T, cfg MonitorConfig) []*model.Individual {
	t.Helper()
	rng := rand.New(rand.NewSource(cfg.Seed))
	population, err := genotype.NewPopulation(rng, cfg.PopulationSize, cfg.Target, cfg.GenomeLength())
	if err != nil {
		t.Fatal(err)
	}
	return population
}

func TestRunEmitsOneRecordPerGenerationWithoutSuccess(t *testing.T) {
	// Every probe raises an alert, so base fitness stays 0 and the
	// 0.98 threshold is unreachable: the loop must terminate after the
	// last generation, emit 3 records and persist nothing.
	sink := &recordingSink{}
	alwaysAlert := oracle.NewStaticOracle(1000, 1000, 1000, 1000, 1000,
		1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000)
	cfg := monitorConfig(&fakeTransport{}, alwaysAlert, sink)
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Run(context.Background(), seedPopulation(t, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if result.Solved {
		t.Fatal("run must not be solved")
	}
	if result.SolvedGeneration != -1 {
		t.Fatalf("solved generation: got %d want -1", result.SolvedGeneration)
	}
	if len(result.Records) != 3 {
		t.Fatalf("generation records: got %d want 3", len(result.Records))
	}
	for i, rec := range result.Records {
		if rec.Generation != i {
			t.Fatalf("record %d has generation %d", i, rec.Generation)
		}
	}
	if len(sink.saved) != 0 {
		t.Fatal("no genome may be persisted without a success")
	}
	if len(sink.generations) != 3 {
		t.Fatalf("sink generation records: got %d want 3", len(sink.generations))
	}
	if result.Best == nil {
		t.Fatal("final generation's best must still be reported")
	}
}

func TestRunPersistsWinnerWhenThresholdMet(t *testing.T) {
	// A quiet oracle and a zero threshold make the first eligible
	// generation (MinGenerations=1) terminate the run.
	sink := &recordingSink{}
	cfg := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)
	cfg.FitnessThreshold = 0
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Run(context.Background(), seedPopulation(t, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Solved {
		t.Fatal("expected a solved run")
	}
	if result.SolvedGeneration != cfg.MinGenerations {
		t.Fatalf("solved generation: got %d want %d", result.SolvedGeneration, cfg.MinGenerations)
	}
	if result.Best.Fitness < cfg.FitnessThreshold {
		t.Fatalf("winner below threshold: %v", result.Best.Fitness)
	}
	if len(sink.saved) != 1 {
		t.Fatalf("persisted winners: got %d want 1", len(sink.saved))
	}
	if sink.savedAt[0] != result.SolvedGeneration {
		t.Fatalf("persisted at generation %d, solved at %d", sink.savedAt[0], result.SolvedGeneration)
	}
	if len(sink.saved[0].Genome) != cfg.GenomeLength() {
		t.Fatalf("persisted genome length %d", len(sink.saved[0].Genome))
	}
}

func TestRunNeverSolvesBeforeMinGenerations(t *testing.T) {
	sink := &recordingSink{}
	cfg := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)
	cfg.FitnessThreshold = 0
	cfg.MinGenerations = 2
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Run(context.Background(), seedPopulation(t, cfg))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Solved {
		t.Fatal("expected a solved run")
	}
	if result.SolvedGeneration != 2 {
		t.Fatalf("solved generation: got %d want 2", result.SolvedGeneration)
	}
}

func TestRunKeepsPopulationSizeAndGenomeLengthInvariant(t *testing.T) {
	sink := &recordingSink{}
	alwaysAlert := oracle.NewStaticOracle(1000, 1000, 1000, 1000, 1000,
		1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000)
	cfg := monitorConfig(&fakeTransport{}, alwaysAlert, sink)
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	population := seedPopulation(t, cfg)
	next := population
	for gen := 0; gen < 4; gen++ {
		if err := m.evaluatePopulation(context.Background(), next, gen); err != nil {
			t.Fatal(err)
		}
		next, err = m.breed(next, gen%cfg.Generations)
		if err != nil {
			t.Fatal(err)
		}
		if len(next) != cfg.PopulationSize {
			t.Fatalf("generation %d: population size %d", gen, len(next))
		}
		for i, ind := range next {
			if len(ind.Genome) != cfg.GenomeLength() {
				t.Fatalf("generation %d individual %d: genome length %d", gen, i, len(ind.Genome))
			}
		}
	}
}

func TestBreedEliteSurvivesUnmodified(t *testing.T) {
	sink := &recordingSink{}
	cfg := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	population := seedPopulation(t, cfg)
	for i, ind := range population {
		ind.Fitness = float64(i) / 10
	}
	best := population[len(population)-1]
	bestGenome := best.Genome.Clone()

	next, err := m.breed(population, 0)
	if err != nil {
		t.Fatal(err)
	}
	if next[0] != best {
		t.Fatal("top individual must survive as the elite")
	}
	for i := range bestGenome {
		if next[0].Genome[i] != bestGenome[i] {
			t.Fatalf("elite genome modified at gene %d", i)
		}
	}
}

func TestRunRejectsMismatchedInitialPopulation(t *testing.T) {
	sink := &recordingSink{}
	cfg := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	short := seedPopulation(t, cfg)[:3]
	if _, err := m.Run(context.Background(), short); err == nil {
		t.Fatal("undersized initial population must fail")
	}

	bad := seedPopulation(t, cfg)
	bad[2].Genome = bad[2].Genome[:7]
	if _, err := m.Run(context.Background(), bad); err == nil {
		t.Fatal("wrong genome length must fail")
	}
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	sink := &recordingSink{}
	base := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)

	cases := []struct {
		name   string
		mutate func(*MonitorConfig)
	}{
		{"nil evaluator", func(c *MonitorConfig) { c.Evaluator = nil }},
		{"zero population", func(c *MonitorConfig) { c.PopulationSize = 0 }},
		{"zero generations", func(c *MonitorConfig) { c.Generations = 0 }},
		{"zero page size", func(c *MonitorConfig) { c.PageSize = 0 }},
		{"threshold above one", func(c *MonitorConfig) { c.FitnessThreshold = 1.5 }},
		{"tournament of one", func(c *MonitorConfig) { c.TournamentSize = 1 }},
		{"tournament above population", func(c *MonitorConfig) { c.TournamentSize = 6 }},
		{"negative mutation rate", func(c *MonitorConfig) { c.BaseMutationRate = -0.1 }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if _, err := NewPopulationMonitor(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

// slowTransport sleeps without honoring the context, so an abandoned
// evaluation keeps running past its deadline.
type slowTransport struct {
	delay time.Duration
}

func (t *slowTransport) Send(_ context.Context, _ probe.State) error {
	time.Sleep(t.delay)
	return nil
}

func (t *slowTransport) SendAndWait(ctx context.Context, st probe.State, _ time.Duration) (*probe.Response, error) {
	return nil, t.Send(ctx, st)
}

func TestParallelEvaluationLogsEveryEntropyRecord(t *testing.T) {
	sink := &recordingSink{}
	cfg := monitorConfig(&fakeTransport{}, oracle.NewStaticOracle(), sink)
	cfg.PopulationSize = 32
	cfg.Workers = 8
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Every genome sends, so every evaluation must log exactly one
	// entropy record through the shared sink.
	population := make([]*model.Individual, cfg.PopulationSize)
	for i := range population {
		population[i] = &model.Individual{
			Target: cfg.Target,
			Genome: model.Genome{
				{Kind: model.KindSetFlags, Flags: "S"},
				{Kind: model.KindSendProbe},
			},
		}
	}
	if err := m.evaluatePopulation(context.Background(), population, 0); err != nil {
		t.Fatal(err)
	}

	records := sink.entropyRecords()
	if len(records) != cfg.PopulationSize {
		t.Fatalf("entropy records: got %d, want %d", len(records), cfg.PopulationSize)
	}
	seen := make(map[int]bool)
	for _, rec := range records {
		if seen[rec.Index] {
			t.Fatalf("duplicate entropy record for individual %d", rec.Index)
		}
		seen[rec.Index] = true
	}
}

func TestParallelTimeoutDropsLateEntropyRecord(t *testing.T) {
	sink := &recordingSink{}
	// The send outlives the evaluation deadline, so the evaluation is
	// discarded while its goroutine is still running.
	cfg := monitorConfig(&slowTransport{delay: 50 * time.Millisecond}, oracle.NewStaticOracle(), sink)
	cfg.Workers = 2
	cfg.EvalTimeout = 10 * time.Millisecond
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ind := &model.Individual{
		Target: cfg.Target,
		Genome: model.Genome{
			{Kind: model.KindSetFlags, Flags: "S"},
			{Kind: model.KindSendProbe},
		},
	}
	m.evaluateWithTimeout(context.Background(), ind, 0, 0)
	if ind.Fitness != 0 {
		t.Fatalf("fitness %v after timeout, want 0", ind.Fitness)
	}

	// Give the abandoned goroutine time to finish and attempt its log.
	time.Sleep(200 * time.Millisecond)
	if got := sink.entropyRecords(); len(got) != 0 {
		t.Fatalf("discarded evaluation still logged %d entropy records", len(got))
	}
}

func TestParallelEvaluationTimeoutForcesZeroFitness(t *testing.T) {
	sink := &recordingSink{}
	// The transport blocks far past the evaluation timeout.
	tr := &fakeTransport{block: 5 * time.Second}
	cfg := monitorConfig(tr, oracle.NewStaticOracle(), sink)
	cfg.Workers = 2
	cfg.EvalTimeout = 20 * time.Millisecond
	m, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatal(err)
	}

	population := seedPopulation(t, cfg)
	for _, ind := range population {
		ind.Fitness = 0.77 // stale value that must be overwritten
	}
	if err := m.evaluatePopulation(context.Background(), population, 0); err != nil {
		t.Fatal(err)
	}
	for i, ind := range population {
		if ind.Fitness != 0 {
			t.Fatalf("individual %d: fitness %v after timeout, want 0", i, ind.Fitness)
		}
	}
}
