package probe

import (
	"context"
	"time"

	"morphscan/internal/model"
)

// State holds the currently configured probe fields. A fresh State is
// created per evaluation or replay; field-setting instructions mutate it
// and SendProbe snapshots it onto the wire.
type State struct {
	SrcAddr    string
	DstAddr    string
	SrcPort    int
	DstPort    int
	Flags      string
	TTL        int
	Window     int
	PayloadLen int
	IPFlags    string
	Delay      float64
}

// Defaults per the scanner's safe baseline: SYN probe, common TTL and
// window, half-second pacing.
const (
	DefaultSrcPort = 12345
	DefaultFlags   = "S"
	DefaultTTL     = 64
	DefaultWindow  = 8192
	DefaultDelay   = 0.5
)

// NewState returns a probe state pointed at the given destination with
// safe default field values.
func NewState(srcAddr, dstAddr string, dstPort int) State {
	return State{
		SrcAddr: srcAddr,
		DstAddr: dstAddr,
		SrcPort: DefaultSrcPort,
		DstPort: dstPort,
		Flags:   DefaultFlags,
		TTL:     DefaultTTL,
		Window:  DefaultWindow,
		Delay:   DefaultDelay,
	}
}

// Apply mutates the state according to a field-setting instruction and
// reports whether the instruction was a setter. SendProbe is not applied
// here; transmission is the caller's decision.
func (s *State) Apply(in model.Instruction) bool {
	switch in.Kind {
	case model.KindSetFlags:
		s.Flags = in.Flags
	case model.KindSetEndpoints:
		s.SrcAddr = in.SrcAddr
		s.DstAddr = in.DstAddr
	case model.KindSetPorts:
		s.SrcPort = in.SrcPort
		s.DstPort = in.DstPort
	case model.KindSetTTL:
		s.TTL = in.TTL
	case model.KindSetWindowSize:
		s.Window = in.Window
	case model.KindSetPayloadLen:
		s.PayloadLen = in.PayloadLen
	case model.KindSetIPFlags:
		s.IPFlags = in.IPFlags
	case model.KindSetDelay:
		s.Delay = in.Delay
	case model.KindSendProbe:
		return false
	}
	return true
}

// PostSendDelay is the pause the transport honors after transmitting.
func (s State) PostSendDelay() time.Duration {
	if s.Delay <= 0 {
		return 0
	}
	return time.Duration(s.Delay * float64(time.Second))
}

// Response carries the TCP flags of a reply to a probe.
type Response struct {
	SYN bool
	ACK bool
	RST bool
	FIN bool
	PSH bool
}

// Transport sends crafted probes. Send is fire-and-forget and is what
// evolution uses; SendAndWait additionally waits for a reply from the
// target and is what replay classification uses. A nil response with a
// nil error means the wait timed out.
type Transport interface {
	Send(ctx context.Context, st State) error
	SendAndWait(ctx context.Context, st State, timeout time.Duration) (*Response, error)
}
