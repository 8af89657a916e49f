package genotype

import (
	"math/rand"
	"testing"

	"morphscan/internal/model"
)

var testTarget = model.Target{Addr: "10.0.0.9", PortLow: 20, PortHigh: 80}

func TestRandomGenomeHasExactLength(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, length := range []int{8, 20, 100} {
		genome, err := RandomGenome(rng, testTarget, length)
		if err != nil {
			t.Fatalf("length %d: %v", length, err)
		}
		if len(genome) != length {
			t.Fatalf("length %d: got %d", length, len(genome))
		}
	}
}

func TestRandomGenomeRejectsLengthBelowBaseline(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := RandomGenome(rng, testTarget, len(model.SetterKinds)-1); err == nil {
		t.Fatal("expected error for genome shorter than the baseline setters")
	}
}

func TestRandomGenomeContainsEverySetterKind(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	genome, err := RandomGenome(rng, testTarget, 100)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[model.Kind]bool{}
	for _, in := range genome {
		seen[in.Kind] = true
	}
	for _, kind := range model.SetterKinds {
		if !seen[kind] {
			t.Errorf("baseline kind %s missing from generated genome", kind)
		}
	}
}

func TestRandomGenomeFieldRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	genome, err := RandomGenome(rng, testTarget, 500)
	if err != nil {
		t.Fatal(err)
	}
	for i, in := range genome {
		switch in.Kind {
		case model.KindSetPorts:
			if in.SrcPort < SrcPortMin || in.SrcPort > SrcPortMax {
				t.Fatalf("instruction %d: source port %d out of range", i, in.SrcPort)
			}
			if in.DstPort < testTarget.PortLow || in.DstPort > testTarget.PortHigh {
				t.Fatalf("instruction %d: destination port %d outside target range", i, in.DstPort)
			}
		case model.KindSetTTL:
			if in.TTL < TTLMin || in.TTL > TTLMax {
				t.Fatalf("instruction %d: ttl %d out of range", i, in.TTL)
			}
		case model.KindSetWindowSize:
			if in.Window < 0 || in.Window > WindowMax {
				t.Fatalf("instruction %d: window %d out of range", i, in.Window)
			}
		case model.KindSetPayloadLen:
			if in.PayloadLen < 0 || in.PayloadLen > PayloadMax {
				t.Fatalf("instruction %d: payload length %d out of range", i, in.PayloadLen)
			}
		case model.KindSetDelay:
			if in.Delay < 0 || in.Delay > DelayMax {
				t.Fatalf("instruction %d: delay %f out of range", i, in.Delay)
			}
			cents := in.Delay * 100
			if cents != float64(int(cents)) {
				t.Fatalf("instruction %d: delay %f not two-decimal", i, in.Delay)
			}
		case model.KindSetEndpoints:
			if in.DstAddr != testTarget.Addr {
				t.Fatalf("instruction %d: destination %s is not the target", i, in.DstAddr)
			}
		}
	}
}

func TestNewPopulationSeedsIndependentGenomes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	population, err := NewPopulation(rng, 5, testTarget, 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(population) != 5 {
		t.Fatalf("population size: got %d want 5", len(population))
	}
	for i, ind := range population {
		if len(ind.Genome) != 40 {
			t.Fatalf("individual %d: genome length %d", i, len(ind.Genome))
		}
		if ind.Fitness != 0 {
			t.Fatalf("individual %d: fitness should start at 0", i)
		}
	}

	population[0].Genome[0] = model.Instruction{Kind: model.KindSetTTL, TTL: 1}
	if population[1].Genome[0] == population[0].Genome[0] && population[1].Genome[0].TTL == 1 {
		t.Fatal("individuals appear to share genome storage")
	}
}

func TestSinglePortTargetAlwaysYieldsThatPort(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	single := model.Target{Addr: "10.0.0.9", PortLow: 443, PortHigh: 443}
	for i := 0; i < 50; i++ {
		in := randomInstructionOfKind(rng, single, model.KindSetPorts)
		if in.DstPort != 443 {
			t.Fatalf("expected destination port 443, got %d", in.DstPort)
		}
	}
}
