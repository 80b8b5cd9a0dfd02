package prospector

import (
	"bytes"
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
)

// -------------- Task and Outcome Types --------------

// Task pairs one address with one port for probing.
type Task struct {
	Address string
	Port    int
}

// PortState classifies what a connection attempt revealed about a port.
type PortState string

const (
	StateOpen     PortState = "open"
	StateClosed   PortState = "closed"
	StateFiltered PortState = "filtered"
	StateError    PortState = "error"
)

// ProbeOutcome carries the raw result of a single port probe.
type ProbeOutcome struct {
	State    PortState
	Banner   []byte
	Err      string
	Duration time.Duration
}

// prober abstracts the network dial so the scheduler can be exercised
// without touching real sockets.
type prober interface {
	Probe(ctx context.Context, task Task) ProbeOutcome
}

// -------------- TCP Prober --------------

// TCPProber performs connect scans with per-port protocol probes.
type TCPProber struct {
	timeout  time.Duration
	sshProbe bool
}

// NewTCPProber builds a prober with the given per-connection timeout.
// When sshProbe is set, silent SSH ports get a protocol-level handshake
// to recover the server version string.
func NewTCPProber(timeout time.Duration, sshProbe bool) *TCPProber {
	return &TCPProber{timeout: timeout, sshProbe: sshProbe}
}

// Probe dials the task's endpoint and exchanges a protocol probe. The
// context gates scheduling upstream; a dispatched probe runs to its own
// timeout so the recorded state is always a real observation.
func (p *TCPProber) Probe(_ context.Context, task Task) ProbeOutcome {
	start := time.Now()
	addr := net.JoinHostPort(task.Address, strconv.Itoa(task.Port))

	conn, err := net.DialTimeout("tcp", addr, p.timeout)
	if err != nil {
		return ProbeOutcome{
			State:    classifyDialError(err),
			Err:      err.Error(),
			Duration: time.Since(start),
		}
	}
	defer conn.Close()

	banner := p.exchange(conn, task.Port)
	if len(banner) == 0 && task.Port == 22 && p.sshProbe {
		banner = p.sshBanner(addr)
	}
	return ProbeOutcome{State: StateOpen, Banner: banner, Duration: time.Since(start)}
}

// exchange writes the port's protocol probe and reads one response.
// A connection that accepts but stays silent yields an empty banner,
// which is still a valid open observation.
func (p *TCPProber) exchange(conn net.Conn, port int) []byte {
	if err := conn.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		return nil
	}

	payload, ok := otProbePayloads[port]
	if !ok {
		payload, ok = serviceProbes[port]
	}
	if !ok {
		payload = []byte("\r\n")
	}
	if _, err := conn.Write(payload); err != nil {
		return nil
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return nil
	}
	return bytes.TrimSpace(buf[:n])
}

// classifyDialError maps a dial failure onto a port state. Timeouts mean
// the probe was silently dropped, a refusal means the port answered with
// a reset, anything else is an operational error.
func classifyDialError(err error) PortState {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return StateFiltered
	}
	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused") {
		return StateClosed
	}
	return StateError
}

// -------------- Service Probes --------------

func httpProbe(host string) []byte {
	return []byte("GET / HTTP/1.1\r\nHost: " + host +
		"\r\nUser-Agent: Prospector/" + Version +
		"\r\nConnection: close\r\n\r\n")
}

// serviceProbes holds the opening payload sent to well-known application
// ports. Ports absent from the table get a bare CRLF nudge.
var serviceProbes = map[int][]byte{
	21:   []byte("USER anonymous\r\n"),
	22:   []byte("SSH-2.0-Prospector\r\n"),
	23:   []byte("\r\n"),
	25:   []byte("EHLO prospector.local\r\n"),
	80:   httpProbe("localhost"),
	110:  []byte("USER anonymous\r\n"),
	143:  []byte("A001 CAPABILITY\r\n"),
	443:  httpProbe("localhost"),
	587:  []byte("EHLO prospector.local\r\n"),
	3389: []byte("\x03\x00\x00\x13\x0e\xe0\x00\x00\x00\x00\x00\x01\x00\x08\x00\x03\x00\x00\x00"),
	5060: []byte("OPTIONS sip:localhost SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP prospector:5060\r\n" +
		"Max-Forwards: 70\r\n" +
		"From: <sip:scanner@prospector>\r\n" +
		"To: <sip:scanner@prospector>\r\n" +
		"Call-ID: scan123\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"Contact: <sip:scanner@prospector>\r\n" +
		"Accept: application/sdp\r\n" +
		"Content-Length: 0\r\n\r\n"),
	8080: httpProbe("localhost:8080"),
	9100: []byte("\x1b%-12345X@PJL INFO STATUS\r\n\x1b%-12345X\r\n"),
}

// -------------- SSH Deep Probe --------------

var sshRemoteVersion = regexp.MustCompile(`remote: (.+)`)

// sshBanner runs a deliberately failing SSH handshake to coax the server
// into revealing its version string. Authentication is expected to fail;
// only the identification exchange matters.
func (p *TCPProber) sshBanner(addr string) []byte {
	cfg := &ssh.ClientConfig{
		User:            "prospector",
		Auth:            []ssh.AuthMethod{ssh.Password("invalid_password")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.timeout,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		if m := sshRemoteVersion.FindStringSubmatch(err.Error()); len(m) > 1 {
			return []byte(strings.TrimSpace(m[1]))
		}
		return nil
	}
	version := client.ServerVersion()
	client.Close()
	return version
}
