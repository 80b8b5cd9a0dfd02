package prospector

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// pinger reports whether a host answers a liveness probe.
type pinger interface {
	Ping(ctx context.Context, address string) bool
}

const protocolICMP = 1

// livenessFallbackPorts are dialed in order when ICMP gets no answer.
// The first accepted connection proves the host is up.
var livenessFallbackPorts = []int{80, 443, 22, 445, 3389, 8080, 23}

// ICMPPinger checks host liveness with one ICMP echo, then falls back to
// dialing a short list of common TCP ports. The echo uses an unprivileged
// datagram socket where the kernel allows it and a raw socket otherwise;
// when neither is available the TCP fallback does the work alone.
type ICMPPinger struct {
	timeout time.Duration
}

func NewICMPPinger(timeout time.Duration) *ICMPPinger {
	return &ICMPPinger{timeout: timeout}
}

func (p *ICMPPinger) Ping(ctx context.Context, address string) bool {
	if p.icmpEcho(ctx, address) {
		return true
	}
	return p.tcpFallback(ctx, address)
}

func (p *ICMPPinger) icmpEcho(ctx context.Context, address string) bool {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return false
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	dst := net.Addr(&net.UDPAddr{IP: ip})
	if err != nil {
		conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		dst = &net.IPAddr{IP: ip}
	}
	if err != nil {
		return false
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("prospector-liveness"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	deadline := time.Now().Add(p.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		var peerIP net.IP
		switch a := peer.(type) {
		case *net.UDPAddr:
			peerIP = a.IP
		case *net.IPAddr:
			peerIP = a.IP
		}
		if reply.Type == ipv4.ICMPTypeEchoReply && peerIP != nil && peerIP.Equal(ip) {
			return true
		}
	}
}

func (p *ICMPPinger) tcpFallback(ctx context.Context, address string) bool {
	for _, port := range livenessFallbackPorts {
		if ctx.Err() != nil {
			return false
		}
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), p.timeout)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}
