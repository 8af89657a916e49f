package genotype

import (
	"fmt"
	"math"
	"math/rand"

	"morphscan/internal/model"
)

// TCPFlags is the flag vocabulary the generator draws SetFlags values
// from. The empty set is deliberately included.
var TCPFlags = []string{"S", "A", "F", "R", "P", "SA", "FA", "RA", "PA", ""}

// IPFlagValues is the IP-level flag vocabulary.
var IPFlagValues = []string{"DF", "MF", ""}

// Field-generation ranges for randomized instructions.
const (
	SrcPortMin = 1024
	SrcPortMax = 65535
	TTLMin     = 32
	TTLMax     = 128
	WindowMax  = 65535
	PayloadMax = 1500
	DelayMax   = 2.0
)

// RandomGenome builds a genome of exactly length instructions: one safe
// baseline instruction for every field-setter kind, the remainder drawn
// uniformly from the full vocabulary including SendProbe, then a uniform
// shuffle of the whole sequence. Every genome therefore exercises every
// field setter at least once while the operation order and send density
// stay random.
func RandomGenome(rng *rand.Rand, target model.Target, length int) (model.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if length < len(model.SetterKinds) {
		return nil, fmt.Errorf("genome length %d is shorter than the %d baseline setters", length, len(model.SetterKinds))
	}

	genome := make(model.Genome, 0, length)
	for _, kind := range model.SetterKinds {
		genome = append(genome, randomInstructionOfKind(rng, target, kind))
	}
	for len(genome) < length {
		genome = append(genome, RandomInstruction(rng, target, model.Kinds))
	}
	rng.Shuffle(len(genome), func(i, j int) {
		genome[i], genome[j] = genome[j], genome[i]
	})
	return genome, nil
}

// RandomInstruction draws one instruction uniformly from the given kinds.
func RandomInstruction(rng *rand.Rand, target model.Target, kinds []model.Kind) model.Instruction {
	return randomInstructionOfKind(rng, target, kinds[rng.Intn(len(kinds))])
}

func randomInstructionOfKind(rng *rand.Rand, target model.Target, kind model.Kind) model.Instruction {
	switch kind {
	case model.KindSetFlags:
		return model.Instruction{Kind: kind, Flags: TCPFlags[rng.Intn(len(TCPFlags))]}
	case model.KindSetEndpoints:
		return model.Instruction{
			Kind:    kind,
			SrcAddr: fmt.Sprintf("192.168.1.%d", 1+rng.Intn(254)),
			DstAddr: target.Addr,
		}
	case model.KindSetPorts:
		return model.Instruction{
			Kind:    kind,
			SrcPort: SrcPortMin + rng.Intn(SrcPortMax-SrcPortMin+1),
			DstPort: randomTargetPort(rng, target),
		}
	case model.KindSetTTL:
		return model.Instruction{Kind: kind, TTL: TTLMin + rng.Intn(TTLMax-TTLMin+1)}
	case model.KindSetWindowSize:
		return model.Instruction{Kind: kind, Window: rng.Intn(WindowMax + 1)}
	case model.KindSetPayloadLen:
		return model.Instruction{Kind: kind, PayloadLen: rng.Intn(PayloadMax + 1)}
	case model.KindSetIPFlags:
		return model.Instruction{Kind: kind, IPFlags: IPFlagValues[rng.Intn(len(IPFlagValues))]}
	case model.KindSetDelay:
		return model.Instruction{Kind: kind, Delay: math.Round(rng.Float64()*DelayMax*100) / 100}
	}
	return model.Instruction{Kind: model.KindSendProbe}
}

func randomTargetPort(rng *rand.Rand, target model.Target) int {
	if target.PortHigh <= target.PortLow {
		return target.PortLow
	}
	return target.PortLow + rng.Intn(target.PortHigh-target.PortLow+1)
}

// NewPopulation seeds size individuals with independent random genomes.
func NewPopulation(rng *rand.Rand, size int, target model.Target, length int) ([]*model.Individual, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	population := make([]*model.Individual, 0, size)
	for i := 0; i < size; i++ {
		genome, err := RandomGenome(rng, target, length)
		if err != nil {
			return nil, err
		}
		population = append(population, &model.Individual{Target: target, Genome: genome})
	}
	return population, nil
}
