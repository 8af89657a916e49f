package evo

import (
	"context"
	"log"

	"morphscan/internal/model"
	"morphscan/internal/oracle"
	"morphscan/internal/probe"
)

// EntropySink receives the per-evaluation flag-diversity diagnostic.
type EntropySink interface {
	LogEntropy(rec model.EntropyRecord)
}

// Morphology bonus thresholds. Each satisfied category adds BonusStep to
// the base fitness.
const (
	BonusStep        = 0.05
	ttlBonusFloor    = 64
	payloadBonusMin  = 200
	windowBonusBelow = 5000
	delayBonusFloor  = 0.5
)

// flagPenalties is charged once per occurrence of the flag value in the
// genome's flag-setting instructions. Entries that the default flag
// vocabulary rarely or never produces are kept deliberately: the penalty
// applies to whatever values actually appear.
var flagPenalties = map[string]float64{
	"":   0.01,
	"F":  0.01,
	"SF": 0.02,
	"RA": 0.02,
	"SA": 0.02,
	"FA": 0.02,
	"PA": 0.01,
}

// Evaluator replays a genome's instructions against a transport while
// watching the alert oracle, and scores the result: low alert rate and
// stealthy packet morphology raise fitness, suspicious flag values lower
// it. The scoring policy is fixed, not learned.
type Evaluator struct {
	Transport probe.Transport
	Oracle    oracle.AlertOracle
	// Defaults is the template for the fresh probe state each
	// evaluation starts from.
	Defaults probe.State
	Sink     EntropySink
	Logger   *log.Logger
}

// Evaluate executes the individual's genome, stores fitness and the
// stats snapshot on it, and returns the fitness. Transport failures on
// individual sends are logged and skipped; they never abort the
// evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, ind *model.Individual, generation, index int) float64 {
	before := e.Oracle.Checkpoint()

	st := e.Defaults
	var (
		ttlSum, ttlN         float64
		payloadSum, payloadN float64
		windowSum, windowN   float64
		delaySum, delayN     float64
		flagHist             []string
		sent                 int
	)

	for _, in := range ind.Genome {
		if ctx.Err() != nil {
			break
		}
		switch in.Kind {
		case model.KindSendProbe:
			if err := e.Transport.Send(ctx, st); err != nil {
				e.warnf("send probe failed: %v", err)
				continue
			}
			sent++
		case model.KindSetFlags:
			st.Apply(in)
			flagHist = append(flagHist, in.Flags)
		case model.KindSetTTL:
			st.Apply(in)
			ttlSum += float64(in.TTL)
			ttlN++
		case model.KindSetWindowSize:
			st.Apply(in)
			windowSum += float64(in.Window)
			windowN++
		case model.KindSetPayloadLen:
			st.Apply(in)
			payloadSum += float64(in.PayloadLen)
			payloadN++
		case model.KindSetDelay:
			st.Apply(in)
			delaySum += in.Delay
			delayN++
		case model.KindSetEndpoints, model.KindSetPorts, model.KindSetIPFlags:
			st.Apply(in)
		}
	}

	alerts := e.Oracle.CountSince(before)

	if sent == 0 {
		// A genome that never sends accomplishes nothing; it cannot
		// be stealthy.
		ind.Fitness = 0
		ind.Stats = model.EvalStats{Alerts: alerts}
		return 0
	}

	base := 1 - float64(alerts)/float64(sent)

	ttlAvg := avgOrDefault(ttlSum, ttlN, 0)
	payloadAvg := avgOrDefault(payloadSum, payloadN, 0)
	// No window observations default to the maximum window: absent
	// data never earns the small-window bonus.
	windowAvg := avgOrDefault(windowSum, windowN, 65535)
	delayAvg := avgOrDefault(delaySum, delayN, 0)

	bonus := 0.0
	if ttlAvg > ttlBonusFloor {
		bonus += BonusStep
	}
	if payloadAvg > payloadBonusMin {
		bonus += BonusStep
	}
	if windowAvg < windowBonusBelow {
		bonus += BonusStep
	}
	if delayAvg >= delayBonusFloor {
		bonus += BonusStep
	}

	flagPenalty := 0.0
	for _, flags := range flagHist {
		flagPenalty += flagPenalties[flags]
	}

	flagEntropy := 0.0
	if len(flagHist) > 0 {
		distinct := map[string]struct{}{}
		for _, flags := range flagHist {
			distinct[flags] = struct{}{}
		}
		flagEntropy = float64(len(distinct)) / float64(len(flagHist))
	}
	entropyBonus := BonusStep * flagEntropy

	fitness := clamp01(base + bonus + entropyBonus - flagPenalty)

	ind.Fitness = fitness
	ind.Stats = model.EvalStats{
		Alerts:     alerts,
		Probes:     sent,
		TTLAvg:     ttlAvg,
		PayloadAvg: payloadAvg,
		WindowAvg:  windowAvg,
		DelayAvg:   delayAvg,
	}

	if e.Sink != nil {
		e.Sink.LogEntropy(model.EntropyRecord{
			Generation:   generation,
			Index:        index,
			Fitness:      fitness,
			FlagEntropy:  flagEntropy,
			EntropyBonus: entropyBonus,
			FlagPenalty:  flagPenalty,
			Flags:        append([]string(nil), flagHist...),
		})
	}

	return fitness
}

func avgOrDefault(sum, n, fallback float64) float64 {
	if n == 0 {
		return fallback
	}
	return sum / n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Evaluator) warnf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf("[WARNING] "+format, args...)
	}
}
