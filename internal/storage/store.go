package storage

import (
	"context"

	"morphscan/internal/model"
)

// Store defines persistence operations for run outcomes and the evolved
// genomes they produced. Winner genomes are kept in the same textual form
// the replay engine loads, so a stored payload can be replayed directly.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	SaveWinner(ctx context.Context, runID string, generation int, genome model.Genome) error
	GetWinner(ctx context.Context, runID string) (model.Genome, int, bool, error)
}
