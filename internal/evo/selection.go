package evo

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"morphscan/internal/model"
)

var (
	ErrTournamentSize     = errors.New("tournament size must be at least 2")
	ErrPopulationTooSmall = errors.New("population is smaller than the tournament size")
)

// TournamentSelect samples size distinct individuals without replacement
// and returns the two fittest, best first. Ties keep sampling order, so
// the first-encountered competitor wins. Higher size means more
// selection pressure.
func TournamentSelect(rng *rand.Rand, population []*model.Individual, size int) (*model.Individual, *model.Individual, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	if size < 2 {
		return nil, nil, ErrTournamentSize
	}
	if len(population) < size {
		return nil, nil, fmt.Errorf("%w: population=%d tournament=%d", ErrPopulationTooSmall, len(population), size)
	}

	competitors := make([]*model.Individual, 0, size)
	for _, idx := range rng.Perm(len(population))[:size] {
		competitors = append(competitors, population[idx])
	}
	sort.SliceStable(competitors, func(i, j int) bool {
		return competitors[i].Fitness > competitors[j].Fitness
	})
	return competitors[0], competitors[1], nil
}
