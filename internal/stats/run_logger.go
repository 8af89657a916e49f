package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"morphscan/internal/model"
)

const (
	summaryFile = "run_summary.json"
	entropyFile = "entropy.log"
)

// RunLogger accumulates generation records and per-evaluation entropy
// diagnostics for one evolution run and flushes them to a timestamped
// run directory on Export. Winner genomes are saved as they appear, so a
// crash after a success still leaves the evolved genome on disk.
// Safe for concurrent use; parallel evaluation workers log entropy
// records through it simultaneously.
type RunLogger struct {
	dir string

	mu          sync.Mutex
	metadata    map[string]any
	generations []model.GenerationRecord
	entropy     []model.EntropyRecord
}

// NewRunLogger creates the run directory <baseDir>/<experiment>_<stamp>.
func NewRunLogger(baseDir, experiment string) (*RunLogger, error) {
	stamp := time.Now().Format("20060102-150405")
	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", experiment, stamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &RunLogger{dir: dir, metadata: map[string]any{}}, nil
}

// Dir returns the run directory path.
func (l *RunLogger) Dir() string {
	return l.dir
}

func (l *RunLogger) LogMetadata(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.metadata[key] = value
}

func (l *RunLogger) LogGeneration(rec model.GenerationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.generations = append(l.generations, rec)
}

func (l *RunLogger) LogEntropy(rec model.EntropyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entropy = append(l.entropy, rec)
}

// SaveIndividual persists the individual's genome in its textual form.
func (l *RunLogger) SaveIndividual(ind *model.Individual, generation int) error {
	path := filepath.Join(l.dir, fmt.Sprintf("stealthy_individual_gen%d.txt", generation))
	return os.WriteFile(path, []byte(model.EncodeGenome(ind.Genome)), 0o644)
}

// Export writes the accumulated records: run_summary.json with metadata
// and generation history, entropy.log with one JSON object per line.
func (l *RunLogger) Export() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := struct {
		Metadata    map[string]any           `json:"metadata"`
		Generations []model.GenerationRecord `json:"generations"`
	}{
		Metadata:    l.metadata,
		Generations: l.generations,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(l.dir, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	f, err := os.Create(filepath.Join(l.dir, entropyFile))
	if err != nil {
		return fmt.Errorf("write entropy log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range l.entropy {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write entropy log: %w", err)
		}
	}
	return nil
}

// Summary assembles the persisted run outcome for the store.
func (l *RunLogger) Summary(runID string, target model.Target, solved bool, solvedAt int) model.RunSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	best := 0.0
	for _, rec := range l.generations {
		if rec.BestFitness > best {
			best = rec.BestFitness
		}
	}
	return model.RunSummary{
		RunID:       runID,
		Target:      target,
		Solved:      solved,
		SolvedAt:    solvedAt,
		BestFitness: best,
		Generations: append([]model.GenerationRecord(nil), l.generations...),
	}
}
