package model

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The persisted genome format is one tuple literal per line, in execution
// order, e.g.
//
//	("set_flags", "S")
//	("set_ips", ("192.168.1.44", "10.0.0.9"))
//	("send_probe", None)
//
// The format carries no header, length prefix or checksum; files written
// by earlier runs of the scanner parse unchanged.

// EncodeInstruction renders one instruction as its tuple literal.
func EncodeInstruction(in Instruction) string {
	switch in.Kind {
	case KindSetFlags:
		return fmt.Sprintf("(%q, %q)", string(in.Kind), in.Flags)
	case KindSetEndpoints:
		return fmt.Sprintf("(%q, (%q, %q))", string(in.Kind), in.SrcAddr, in.DstAddr)
	case KindSetPorts:
		return fmt.Sprintf("(%q, (%d, %d))", string(in.Kind), in.SrcPort, in.DstPort)
	case KindSetTTL:
		return fmt.Sprintf("(%q, %d)", string(in.Kind), in.TTL)
	case KindSetWindowSize:
		return fmt.Sprintf("(%q, %d)", string(in.Kind), in.Window)
	case KindSetPayloadLen:
		return fmt.Sprintf("(%q, %d)", string(in.Kind), in.PayloadLen)
	case KindSetIPFlags:
		return fmt.Sprintf("(%q, %q)", string(in.Kind), in.IPFlags)
	case KindSetDelay:
		return fmt.Sprintf("(%q, %s)", string(in.Kind), strconv.FormatFloat(in.Delay, 'f', -1, 64))
	case KindSendProbe:
		return fmt.Sprintf("(%q, None)", string(in.Kind))
	}
	return fmt.Sprintf("(%q, None)", string(in.Kind))
}

// EncodeGenome renders the whole genome, one instruction per line.
func EncodeGenome(g Genome) string {
	var b strings.Builder
	for _, in := range g {
		b.WriteString(EncodeInstruction(in))
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseGenome reads a persisted genome. Any malformed line fails the
// whole parse; there is no partial load.
func ParseGenome(r io.Reader) (Genome, error) {
	var genome Genome
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		in, err := ParseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		genome = append(genome, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return genome, nil
}

// ParseInstruction parses a single tuple literal back into an Instruction.
func ParseInstruction(line string) (Instruction, error) {
	parts, err := splitTuple(line)
	if err != nil {
		return Instruction{}, err
	}
	if len(parts) != 2 {
		return Instruction{}, fmt.Errorf("expected (kind, parameter), got %d elements", len(parts))
	}

	kindName, err := parseString(parts[0])
	if err != nil {
		return Instruction{}, fmt.Errorf("instruction kind: %w", err)
	}
	// Genome files from older runs spell send_probe as "send_packet".
	// Accepted on input; encoding always writes the canonical name.
	if kindName == "send_packet" {
		kindName = string(KindSendProbe)
	}
	param := parts[1]

	switch Kind(kindName) {
	case KindSetFlags:
		flags, err := parseString(param)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetFlags, Flags: flags}, nil
	case KindSetEndpoints:
		pair, err := splitTuple(param)
		if err != nil || len(pair) != 2 {
			return Instruction{}, fmt.Errorf("%s parameter: expected (src, dst)", kindName)
		}
		src, err := parseString(pair[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("%s source: %w", kindName, err)
		}
		dst, err := parseString(pair[1])
		if err != nil {
			return Instruction{}, fmt.Errorf("%s destination: %w", kindName, err)
		}
		return Instruction{Kind: KindSetEndpoints, SrcAddr: src, DstAddr: dst}, nil
	case KindSetPorts:
		pair, err := splitTuple(param)
		if err != nil || len(pair) != 2 {
			return Instruction{}, fmt.Errorf("%s parameter: expected (src, dst)", kindName)
		}
		src, err := strconv.Atoi(pair[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("%s source port: %w", kindName, err)
		}
		dst, err := strconv.Atoi(pair[1])
		if err != nil {
			return Instruction{}, fmt.Errorf("%s destination port: %w", kindName, err)
		}
		return Instruction{Kind: KindSetPorts, SrcPort: src, DstPort: dst}, nil
	case KindSetTTL:
		v, err := strconv.Atoi(param)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetTTL, TTL: v}, nil
	case KindSetWindowSize:
		v, err := strconv.Atoi(param)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetWindowSize, Window: v}, nil
	case KindSetPayloadLen:
		v, err := strconv.Atoi(param)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetPayloadLen, PayloadLen: v}, nil
	case KindSetIPFlags:
		v, err := parseString(param)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetIPFlags, IPFlags: v}, nil
	case KindSetDelay:
		v, err := strconv.ParseFloat(param, 64)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter: %w", kindName, err)
		}
		return Instruction{Kind: KindSetDelay, Delay: v}, nil
	case KindSendProbe:
		if param != "None" && param != "null" {
			return Instruction{}, fmt.Errorf("%s parameter: expected None, got %q", kindName, param)
		}
		return Instruction{Kind: KindSendProbe}, nil
	}
	return Instruction{}, fmt.Errorf("unknown instruction kind %q", kindName)
}

// splitTuple strips one pair of outer parentheses and splits the content
// on top-level commas, respecting nested tuples and quoted strings.
func splitTuple(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("expected tuple literal, got %q", s)
	}
	body := s[1 : len(s)-1]

	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("unterminated tuple in %q", s)
	}
	parts = append(parts, strings.TrimSpace(body[start:]))
	return parts, nil
}

// parseString accepts a single- or double-quoted literal.
func parseString(s string) (string, error) {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1], nil
		}
	}
	return "", fmt.Errorf("expected quoted string, got %q", s)
}
