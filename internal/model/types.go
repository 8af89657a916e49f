package model

// Kind identifies one probe-crafting instruction variant. The set is
// closed: the evaluator and the replay engine switch exhaustively on it.
type Kind string

const (
	KindSetFlags      Kind = "set_flags"
	KindSetEndpoints  Kind = "set_ips"
	KindSetPorts      Kind = "set_ports"
	KindSetTTL        Kind = "set_ttl"
	KindSetWindowSize Kind = "set_window_size"
	KindSetPayloadLen Kind = "set_payload_length"
	KindSetIPFlags    Kind = "set_ip_flags"
	KindSetDelay      Kind = "set_delay"
	KindSendProbe     Kind = "send_probe"
)

// Kinds lists every instruction variant in a stable order.
var Kinds = []Kind{
	KindSetFlags,
	KindSetEndpoints,
	KindSetPorts,
	KindSetTTL,
	KindSetWindowSize,
	KindSetPayloadLen,
	KindSetIPFlags,
	KindSetDelay,
	KindSendProbe,
}

// SetterKinds lists the field-setting variants, excluding SendProbe.
var SetterKinds = []Kind{
	KindSetFlags,
	KindSetEndpoints,
	KindSetPorts,
	KindSetTTL,
	KindSetWindowSize,
	KindSetPayloadLen,
	KindSetIPFlags,
	KindSetDelay,
}

// Instruction is a tagged value: Kind selects which parameter fields are
// meaningful. All fields are value types, so copying an Instruction (or a
// slice of them) never aliases another genome's storage.
type Instruction struct {
	Kind       Kind    `json:"kind"`
	Flags      string  `json:"flags,omitempty"`
	SrcAddr    string  `json:"src_addr,omitempty"`
	DstAddr    string  `json:"dst_addr,omitempty"`
	SrcPort    int     `json:"src_port,omitempty"`
	DstPort    int     `json:"dst_port,omitempty"`
	TTL        int     `json:"ttl,omitempty"`
	Window     int     `json:"window,omitempty"`
	PayloadLen int     `json:"payload_length,omitempty"`
	IPFlags    string  `json:"ip_flags,omitempty"`
	Delay      float64 `json:"delay,omitempty"`
}

// Genome is a fixed-length ordered instruction sequence. Execution is
// strictly sequential; variation operators must preserve the length.
type Genome []Instruction

// Clone returns an independent copy of the genome.
func (g Genome) Clone() Genome {
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

// SendCount reports how many SendProbe instructions the genome contains.
func (g Genome) SendCount() int {
	n := 0
	for _, in := range g {
		if in.Kind == KindSendProbe {
			n++
		}
	}
	return n
}

// Target is the scan destination an individual is evolved against.
type Target struct {
	Addr     string `json:"addr"`
	PortLow  int    `json:"port_low"`
	PortHigh int    `json:"port_high"`
}

// EvalStats is the snapshot the evaluator leaves on an individual after
// scoring it.
type EvalStats struct {
	Alerts     int     `json:"alerts"`
	Probes     int     `json:"probes"`
	TTLAvg     float64 `json:"ttl_avg"`
	PayloadAvg float64 `json:"payload_avg"`
	WindowAvg  float64 `json:"window_avg"`
	DelayAvg   float64 `json:"delay_avg"`
}

// Individual pairs a genome with its target and the most recent
// evaluation results. Fitness and Stats are rewritten every generation;
// the genome is only ever replaced wholesale by the variation operators.
type Individual struct {
	Target  Target    `json:"target"`
	Genome  Genome    `json:"genome"`
	Fitness float64   `json:"fitness"`
	Stats   EvalStats `json:"stats"`
}

// Clone returns an individual whose genome shares no storage with the
// receiver's.
func (ind *Individual) Clone() *Individual {
	out := *ind
	out.Genome = ind.Genome.Clone()
	return &out
}

// GenerationRecord summarizes one completed generation.
type GenerationRecord struct {
	Generation  int       `json:"generation"`
	BestFitness float64   `json:"best_fitness"`
	AvgFitness  float64   `json:"avg_fitness"`
	Best        EvalStats `json:"best_stats"`
}

// EntropyRecord is the per-evaluation diagnostic emitted by the fitness
// evaluator.
type EntropyRecord struct {
	Generation   int      `json:"generation"`
	Index        int      `json:"individual_index"`
	Fitness      float64  `json:"fitness"`
	FlagEntropy  float64  `json:"flag_entropy"`
	EntropyBonus float64  `json:"entropy_bonus"`
	FlagPenalty  float64  `json:"flag_penalty"`
	Flags        []string `json:"flags"`
}

// RunSummary is the persisted outcome of an evolution run.
type RunSummary struct {
	RunID       string             `json:"run_id"`
	Target      Target             `json:"target"`
	Solved      bool               `json:"solved"`
	SolvedAt    int                `json:"solved_generation"`
	BestFitness float64            `json:"best_fitness"`
	Generations []GenerationRecord `json:"generations"`
}
