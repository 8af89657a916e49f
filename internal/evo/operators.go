package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"morphscan/internal/genotype"
	"morphscan/internal/model"
)

var (
	ErrLengthMismatch = errors.New("parent genomes differ in length")
	ErrPageAlignment  = errors.New("genome length does not divide evenly into pages")
	ErrGenomeTooShort = errors.New("genome needs at least two genes")
)

// mutationKinds is the restricted replacement vocabulary of the mutation
// operator. Unlike genome initialization it never reintroduces TTL,
// window, payload, IP-flag or delay instructions.
var mutationKinds = []model.Kind{
	model.KindSetFlags,
	model.KindSetEndpoints,
	model.KindSetPorts,
	model.KindSendProbe,
}

// PageCrossover swaps one uniformly chosen page-sized block between
// clones of the parents. Parents are never mutated and the genome length
// is preserved exactly.
func PageCrossover(rng *rand.Rand, a, b model.Genome, pageSize int) (model.Genome, model.Genome, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	pages, err := pageCount(a, b, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return PageCrossoverAt(a, b, pageSize, rng.Intn(pages))
}

// PageCrossoverAt swaps the page at the given index. Applying it twice
// with the same index returns copies of the original parents.
func PageCrossoverAt(a, b model.Genome, pageSize, page int) (model.Genome, model.Genome, error) {
	pages, err := pageCount(a, b, pageSize)
	if err != nil {
		return nil, nil, err
	}
	if page < 0 || page >= pages {
		return nil, nil, fmt.Errorf("page index %d out of range [0,%d)", page, pages)
	}

	childA := a.Clone()
	childB := b.Clone()
	start := page * pageSize
	for i := start; i < start+pageSize; i++ {
		childA[i], childB[i] = childB[i], childA[i]
	}
	return childA, childB, nil
}

func pageCount(a, b model.Genome, pageSize int) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	if pageSize <= 0 {
		return 0, fmt.Errorf("page size must be > 0, got %d", pageSize)
	}
	if len(a) == 0 || len(a)%pageSize != 0 {
		return 0, fmt.Errorf("%w: length=%d page=%d", ErrPageAlignment, len(a), pageSize)
	}
	return len(a) / pageSize, nil
}

// MutateDecay replaces each gene independently with probability
// baseRate × (1 − generation/maxGenerations): mutation pressure is
// highest at generation 0 and reaches zero at the final generation.
// Replacements come from the restricted mutation vocabulary. The input
// genome is never modified.
func MutateDecay(rng *rand.Rand, g model.Genome, target model.Target, baseRate float64, generation, maxGenerations int) (model.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if maxGenerations <= 0 {
		return nil, fmt.Errorf("max generations must be > 0, got %d", maxGenerations)
	}

	p := baseRate * (1 - float64(generation)/float64(maxGenerations))
	out := g.Clone()
	for i := range out {
		if rng.Float64() < p {
			out[i] = genotype.RandomInstruction(rng, target, mutationKinds)
		}
	}
	return out, nil
}

// SwapGenes exchanges two distinct uniformly chosen gene positions in a
// clone of the genome.
func SwapGenes(rng *rand.Rand, g model.Genome) (model.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(g) < 2 {
		return nil, ErrGenomeTooShort
	}

	i := rng.Intn(len(g))
	j := rng.Intn(len(g) - 1)
	if j >= i {
		j++
	}

	out := g.Clone()
	out[i], out[j] = out[j], out[i]
	return out, nil
}
