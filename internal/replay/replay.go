package replay

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"morphscan/internal/model"
	"morphscan/internal/probe"
)

// Classification of a single replayed probe's outcome.
type Classification string

const (
	Open     Classification = "open"
	Closed   Classification = "closed"
	Filtered Classification = "filtered"
	Unknown  Classification = "unknown"
)

// Summary tallies probe classifications across a replay run.
type Summary struct {
	Open     int `json:"open"`
	Closed   int `json:"closed"`
	Filtered int `json:"filtered"`
	Unknown  int `json:"unknown"`
}

// Add tallies one classified probe outcome.
func (s *Summary) Add(c Classification) {
	switch c {
	case Open:
		s.Open++
	case Closed:
		s.Closed++
	case Filtered:
		s.Filtered++
	case Unknown:
		s.Unknown++
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("open: %d, closed: %d, filtered: %d, unknown: %d",
		s.Open, s.Closed, s.Filtered, s.Unknown)
}

// Classify maps a response to the scan-result taxonomy: SYN+ACK means the
// port accepted the probe, RST+ACK means it refused it, no response within
// the wait window means something dropped it.
func Classify(resp *probe.Response) Classification {
	switch {
	case resp == nil:
		return Filtered
	case resp.SYN && resp.ACK:
		return Open
	case resp.RST && resp.ACK:
		return Closed
	default:
		return Unknown
	}
}

const (
	// DefaultStepDelay paces replay uniformly after every instruction,
	// independent of any SetDelay instructions in the genome.
	DefaultStepDelay = 500 * time.Millisecond
	// DefaultWaitTimeout bounds the response wait per probe.
	DefaultWaitTimeout = time.Second
)

// Engine re-executes a persisted genome against a live transport and
// classifies every probe's outcome.
type Engine struct {
	Transport probe.Transport
	// Defaults is the fresh probe state the replay starts from.
	Defaults probe.State
	// OverrideAddr and OverridePort, when set, pin the destination
	// regardless of what the genome's endpoint instructions say.
	OverrideAddr string
	OverridePort int

	StepDelay   time.Duration
	WaitTimeout time.Duration
	Logger      *log.Logger
}

// LoadGenome reads a persisted genome file. Malformed files are fatal to
// the replay run; there is no partial load.
func LoadGenome(path string) (model.Genome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	genome, err := model.ParseGenome(f)
	if err != nil {
		return nil, fmt.Errorf("parse genome %s: %w", path, err)
	}
	return genome, nil
}

// Run executes the genome sequentially. Field setters mutate the probe
// state exactly as during evolution; SendProbe waits for and classifies a
// response instead of firing blind. The configured step delay applies
// after every instruction.
func (e *Engine) Run(ctx context.Context, genome model.Genome) (Summary, error) {
	stepDelay := e.StepDelay
	if stepDelay <= 0 {
		stepDelay = DefaultStepDelay
	}
	waitTimeout := e.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}

	st := e.Defaults
	e.applyOverride(&st)

	var summary Summary
	for _, in := range genome {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if in.Kind == model.KindSendProbe {
			resp, err := e.Transport.SendAndWait(ctx, st, waitTimeout)
			if err != nil {
				return summary, fmt.Errorf("replay probe: %w", err)
			}
			c := Classify(resp)
			summary.Add(c)
			e.logf("probe %s:%d -> %s:%d flags=%q result=%s",
				st.SrcAddr, st.SrcPort, st.DstAddr, st.DstPort, st.Flags, c)
		} else {
			st.Apply(in)
			e.applyOverride(&st)
		}

		if err := sleepCtx(ctx, stepDelay); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) applyOverride(st *probe.State) {
	if e.OverrideAddr != "" {
		st.DstAddr = e.OverrideAddr
	}
	if e.OverridePort > 0 {
		st.DstPort = e.OverridePort
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
