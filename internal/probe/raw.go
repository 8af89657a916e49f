package probe

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/time/rate"
)

// RawTransport crafts IPv4/TCP probes with gopacket and writes them
// through a raw socket with IP_HDRINCL, so the genome controls the full
// header surface (TTL, IP flags, spoofed source). Replies are read from a
// companion ip4:tcp packet conn. Requires CAP_NET_RAW.
type RawTransport struct {
	fd      int
	rc      net.PacketConn
	limiter *rate.Limiter
	logger  *log.Logger
}

type RawTransportOptions struct {
	// ListenAddr binds the reply socket; empty listens on all addresses.
	ListenAddr string
	// PacketsPerSecond caps the wire rate; <= 0 means unlimited.
	PacketsPerSecond int
	Logger           *log.Logger
}

func NewRawTransport(opts RawTransportOptions) (*RawTransport, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set IP_HDRINCL: %w", err)
	}

	rc, err := net.ListenPacket("ip4:tcp", opts.ListenAddr)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("open reply socket: %w", err)
	}

	limit := rate.Inf
	if opts.PacketsPerSecond > 0 {
		limit = rate.Limit(opts.PacketsPerSecond)
	}

	return &RawTransport{
		fd:      fd,
		rc:      rc,
		limiter: rate.NewLimiter(limit, 1),
		logger:  opts.Logger,
	}, nil
}

func (t *RawTransport) Close() error {
	err := syscall.Close(t.fd)
	if cerr := t.rc.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *RawTransport) Send(ctx context.Context, st State) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.write(st); err != nil {
		return err
	}
	return sleepCtx(ctx, st.PostSendDelay())
}

func (t *RawTransport) SendAndWait(ctx context.Context, st State, timeout time.Duration) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := t.write(st); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if err := t.rc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, addr, err := t.rc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, nil
			}
			return nil, err
		}
		resp, ok := matchReply(buf[:n], addr, st)
		if ok {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
	}
}

func (t *RawTransport) write(st State) error {
	dst := net.ParseIP(st.DstAddr)
	if dst == nil || dst.To4() == nil {
		return fmt.Errorf("invalid destination address %q", st.DstAddr)
	}
	pkt, err := buildProbe(st)
	if err != nil {
		return err
	}

	var sa syscall.SockaddrInet4
	copy(sa.Addr[:], dst.To4())
	if err := syscall.Sendto(t.fd, pkt, 0, &sa); err != nil {
		return fmt.Errorf("sendto %s: %w", st.DstAddr, err)
	}
	if t.logger != nil {
		t.logger.Printf("sent probe %s:%d -> %s:%d flags=%q ttl=%d",
			st.SrcAddr, st.SrcPort, st.DstAddr, st.DstPort, st.Flags, st.TTL)
	}
	return nil
}

// buildProbe serializes the configured fields into a raw IPv4+TCP frame.
func buildProbe(st State) ([]byte, error) {
	src := net.ParseIP(st.SrcAddr)
	dst := net.ParseIP(st.DstAddr)
	if src == nil || src.To4() == nil {
		return nil, fmt.Errorf("invalid source address %q", st.SrcAddr)
	}
	if dst == nil || dst.To4() == nil {
		return nil, fmt.Errorf("invalid destination address %q", st.DstAddr)
	}

	ip := layers.IPv4{
		Version:  4,
		TTL:      uint8(st.TTL),
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.To4(),
		DstIP:    dst.To4(),
	}
	switch st.IPFlags {
	case "DF":
		ip.Flags = layers.IPv4DontFragment
	case "MF":
		ip.Flags = layers.IPv4MoreFragments
	}

	tcp := layers.TCP{
		SrcPort: layers.TCPPort(st.SrcPort),
		DstPort: layers.TCPPort(st.DstPort),
		Window:  uint16(st.Window),
	}
	applyTCPFlags(&tcp, st.Flags)
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}

	payload := bytes.Repeat([]byte{'A'}, st.PayloadLen)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &ip, &tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize probe: %w", err)
	}
	return buf.Bytes(), nil
}

func applyTCPFlags(tcp *layers.TCP, flags string) {
	for _, f := range flags {
		switch f {
		case 'S':
			tcp.SYN = true
		case 'A':
			tcp.ACK = true
		case 'F':
			tcp.FIN = true
		case 'R':
			tcp.RST = true
		case 'P':
			tcp.PSH = true
		case 'U':
			tcp.URG = true
		}
	}
}

// matchReply decodes a TCP segment received on the reply socket and
// checks that it comes from the probed endpoint, addressed back at the
// probe's source port.
func matchReply(data []byte, addr net.Addr, st State) (*Response, bool) {
	ipAddr, ok := addr.(*net.IPAddr)
	if !ok || ipAddr.IP.String() != st.DstAddr {
		return nil, false
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeTCP, gopacket.NoCopy)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp := tcpLayer.(*layers.TCP)
	if int(tcp.SrcPort) != st.DstPort || int(tcp.DstPort) != st.SrcPort {
		return nil, false
	}
	return &Response{
		SYN: tcp.SYN,
		ACK: tcp.ACK,
		RST: tcp.RST,
		FIN: tcp.FIN,
		PSH: tcp.PSH,
	}, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
