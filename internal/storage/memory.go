package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"morphscan/internal/model"
)

type winnerRecord struct {
	generation int
	payload    string
}

type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]model.RunSummary
	winners map[string][]winnerRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]model.RunSummary)
	s.winners = make(map[string][]winnerRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := summary
	copied.Generations = append([]model.GenerationRecord(nil), summary.Generations...)
	s.runs[summary.RunID] = copied
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.runs[runID]
	if !ok {
		return model.RunSummary{}, false, nil
	}
	copied := summary
	copied.Generations = append([]model.GenerationRecord(nil), summary.Generations...)
	return copied, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		copied := summary
		copied.Generations = append([]model.GenerationRecord(nil), summary.Generations...)
		runs = append(runs, copied)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

func (s *MemoryStore) SaveWinner(_ context.Context, runID string, generation int, genome model.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.winners[runID] = append(s.winners[runID], winnerRecord{
		generation: generation,
		payload:    model.EncodeGenome(genome),
	})
	return nil
}

// GetWinner returns the most recent winner saved for a run. Later winners
// supersede earlier ones because fitness only improves across saves.
func (s *MemoryStore) GetWinner(_ context.Context, runID string) (model.Genome, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.winners[runID]
	if len(records) == 0 {
		return nil, 0, false, nil
	}
	best := records[0]
	for _, rec := range records[1:] {
		if rec.generation >= best.generation {
			best = rec
		}
	}
	genome, err := model.ParseGenome(strings.NewReader(best.payload))
	if err != nil {
		return nil, 0, false, err
	}
	return genome, best.generation, true, nil
}
