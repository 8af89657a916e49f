package model

import (
	"strings"
	"testing"
)

func TestEncodeInstructionMatchesPersistedShape(t *testing.T) {
	cases := []struct {
		in   Instruction
		want string
	}{
		{Instruction{Kind: KindSetFlags, Flags: "S"}, `("set_flags", "S")`},
		{Instruction{Kind: KindSetFlags, Flags: ""}, `("set_flags", "")`},
		{Instruction{Kind: KindSetEndpoints, SrcAddr: "192.168.1.44", DstAddr: "10.0.0.9"}, `("set_ips", ("192.168.1.44", "10.0.0.9"))`},
		{Instruction{Kind: KindSetPorts, SrcPort: 1024, DstPort: 80}, `("set_ports", (1024, 80))`},
		{Instruction{Kind: KindSetTTL, TTL: 64}, `("set_ttl", 64)`},
		{Instruction{Kind: KindSetWindowSize, Window: 4096}, `("set_window_size", 4096)`},
		{Instruction{Kind: KindSetPayloadLen, PayloadLen: 300}, `("set_payload_length", 300)`},
		{Instruction{Kind: KindSetIPFlags, IPFlags: "DF"}, `("set_ip_flags", "DF")`},
		{Instruction{Kind: KindSetDelay, Delay: 0.75}, `("set_delay", 0.75)`},
		{Instruction{Kind: KindSendProbe}, `("send_probe", None)`},
	}
	for _, tc := range cases {
		if got := EncodeInstruction(tc.in); got != tc.want {
			t.Errorf("encode %s: got %s want %s", tc.in.Kind, got, tc.want)
		}
	}
}

func TestGenomeRoundTripsThroughTextFormat(t *testing.T) {
	original := Genome{
		{Kind: KindSetFlags, Flags: "SA"},
		{Kind: KindSetFlags, Flags: ""},
		{Kind: KindSetEndpoints, SrcAddr: "192.168.1.7", DstAddr: "10.20.30.40"},
		{Kind: KindSetPorts, SrcPort: 40000, DstPort: 443},
		{Kind: KindSetTTL, TTL: 117},
		{Kind: KindSetWindowSize, Window: 0},
		{Kind: KindSetPayloadLen, PayloadLen: 1500},
		{Kind: KindSetIPFlags, IPFlags: "MF"},
		{Kind: KindSetIPFlags, IPFlags: ""},
		{Kind: KindSetDelay, Delay: 1.25},
		{Kind: KindSetDelay, Delay: 0},
		{Kind: KindSendProbe},
	}

	parsed, err := ParseGenome(strings.NewReader(EncodeGenome(original)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("length mismatch: got %d want %d", len(parsed), len(original))
	}
	for i := range original {
		if parsed[i] != original[i] {
			t.Errorf("instruction %d: got %+v want %+v", i, parsed[i], original[i])
		}
	}
}

func TestParseGenomeAcceptsSingleQuotesAndPythonSpelling(t *testing.T) {
	text := "('set_flags', 'S')\n('send_probe', None)\n"
	genome, err := ParseGenome(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(genome) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(genome))
	}
	if genome[0].Kind != KindSetFlags || genome[0].Flags != "S" {
		t.Fatalf("unexpected first instruction: %+v", genome[0])
	}
	if genome[1].Kind != KindSendProbe {
		t.Fatalf("unexpected second instruction: %+v", genome[1])
	}
}

func TestParseGenomeAcceptsLegacySendPacketSpelling(t *testing.T) {
	genome, err := ParseGenome(strings.NewReader("('send_packet', None)\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(genome) != 1 || genome[0].Kind != KindSendProbe {
		t.Fatalf("unexpected genome: %+v", genome)
	}
	if got := EncodeInstruction(genome[0]); got != `("send_probe", None)` {
		t.Fatalf("re-encode must use the canonical name, got %s", got)
	}
}

func TestParseGenomeRejectsMalformedLines(t *testing.T) {
	cases := []string{
		`("set_flags")`,
		`("set_flags", "S"`,
		`("set_ttl", "sixty-four")`,
		`("warp_drive", 9)`,
		`("set_ports", (1024))`,
		`set_flags S`,
	}
	for _, line := range cases {
		if _, err := ParseGenome(strings.NewReader(line + "\n")); err == nil {
			t.Errorf("expected parse error for %s", line)
		}
	}
}

func TestParseGenomeSkipsBlankLines(t *testing.T) {
	text := "\n(\"set_ttl\", 99)\n\n"
	genome, err := ParseGenome(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(genome) != 1 || genome[0].TTL != 99 {
		t.Fatalf("unexpected genome: %+v", genome)
	}
}
