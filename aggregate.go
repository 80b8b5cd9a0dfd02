package prospector

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxBannerLength = 512

// -------------- Report Types --------------

// PortEntry is the per-port record inside a HostReport.
type PortEntry struct {
	Port        int                    `json:"port"`
	State       PortState              `json:"state"`
	Banner      string                 `json:"banner,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ElapsedMs   int64                  `json:"elapsed_ms"`
	Fingerprint *ServiceFingerprint    `json:"fingerprint,omitempty"`
	Findings    []VulnerabilityFinding `json:"findings,omitempty"`
}

// Service returns the fingerprinted service name or "unknown".
func (e *PortEntry) Service() string {
	if e.Fingerprint != nil && e.Fingerprint.Service != "" {
		return e.Fingerprint.Service
	}
	return "unknown"
}

// HostReport collects everything learned about one address.
type HostReport struct {
	Address  string      `json:"address"`
	Hostname string      `json:"hostname,omitempty"`
	OSGuess  string      `json:"os_guess,omitempty"`
	Online   bool        `json:"online"`
	Partial  bool        `json:"partial,omitempty"`
	Ports    []PortEntry `json:"ports"`
}

// OpenPorts returns the entries that answered as open, in layout order.
func (h *HostReport) OpenPorts() []PortEntry {
	var open []PortEntry
	for _, e := range h.Ports {
		if e.State == StateOpen {
			open = append(open, e)
		}
	}
	return open
}

// FindingCount sums findings across the host's ports.
func (h *HostReport) FindingCount() int {
	n := 0
	for _, e := range h.Ports {
		n += len(e.Findings)
	}
	return n
}

// ScanReport is the final output of one run.
type ScanReport struct {
	RunID     string       `json:"run_id"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Options   Options      `json:"options"`
	Seed      int64        `json:"seed,omitempty"`
	Degraded  bool         `json:"degraded"`
	Hosts     []HostReport `json:"hosts"`
}

// Duration returns the wall-clock span of the run.
func (r *ScanReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// OnlineHosts counts hosts that answered liveness or any probe.
func (r *ScanReport) OnlineHosts() int {
	n := 0
	for i := range r.Hosts {
		if r.Hosts[i].Online {
			n++
		}
	}
	return n
}

// OpenPortCount sums open ports across all hosts.
func (r *ScanReport) OpenPortCount() int {
	n := 0
	for i := range r.Hosts {
		n += len(r.Hosts[i].OpenPorts())
	}
	return n
}

// FindingCount sums vulnerability findings across all hosts.
func (r *ScanReport) FindingCount() int {
	n := 0
	for i := range r.Hosts {
		n += r.Hosts[i].FindingCount()
	}
	return n
}

// SeverityCounts tallies findings per severity grade.
func (r *ScanReport) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int)
	for i := range r.Hosts {
		for _, e := range r.Hosts[i].Ports {
			for _, f := range e.Findings {
				counts[f.Severity]++
			}
		}
	}
	return counts
}

// -------------- Aggregator --------------

type hostSlot struct {
	report    HostReport
	remaining int
	done      bool
}

// Aggregator reorders worker results into the fixed report layout. The
// host order is the target expansion order and the port order is the
// resolved port-spec order, regardless of task completion order. Each
// result lands in its pre-registered (host, port) slot under one mutex,
// so two workers never interleave writes to the same HostReport.
type Aggregator struct {
	mu        sync.Mutex
	order     []string
	portIndex map[int]int
	hosts     map[string]*hostSlot
}

// NewAggregator pre-registers a slot per (address, port) pair.
func NewAggregator(addresses []string, ports []int) *Aggregator {
	portIndex := make(map[int]int, len(ports))
	for i, p := range ports {
		portIndex[p] = i
	}

	order := make([]string, len(addresses))
	hosts := make(map[string]*hostSlot, len(addresses))
	for i, addr := range addresses {
		order[i] = addr
		entries := make([]PortEntry, len(ports))
		for j, p := range ports {
			entries[j] = PortEntry{Port: p}
		}
		hosts[addr] = &hostSlot{
			report:    HostReport{Address: addr, Ports: entries},
			remaining: len(ports),
		}
	}
	return &Aggregator{order: order, portIndex: portIndex, hosts: hosts}
}

// SetHostMeta records the resolved display name and liveness verdict.
func (a *Aggregator) SetHostMeta(address, hostname string, online bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot, ok := a.hosts[address]
	if !ok {
		return
	}
	slot.report.Hostname = hostname
	if online {
		slot.report.Online = true
	}
}

// MarkHostFiltered records every pending port of a dead host as filtered
// without probing and finalizes the host immediately.
func (a *Aggregator) MarkHostFiltered(address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot, ok := a.hosts[address]
	if !ok || slot.done {
		return
	}
	for i := range slot.report.Ports {
		if slot.report.Ports[i].State == "" {
			slot.report.Ports[i].State = StateFiltered
		}
	}
	slot.remaining = 0
	slot.done = true
}

// Record places one task result into its slot. The host finalizes
// automatically when its last port reports.
func (a *Aggregator) Record(task Task, outcome ProbeOutcome, fp *ServiceFingerprint, findings []VulnerabilityFinding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot, ok := a.hosts[task.Address]
	if !ok || slot.done {
		return
	}
	idx, ok := a.portIndex[task.Port]
	if !ok {
		return
	}
	entry := &slot.report.Ports[idx]
	if entry.State != "" {
		return
	}

	entry.State = outcome.State
	entry.Banner = printableBanner(outcome.Banner)
	entry.Error = outcome.Err
	entry.ElapsedMs = outcome.Duration.Milliseconds()
	entry.Fingerprint = fp
	entry.Findings = findings

	slot.remaining--
	if slot.remaining == 0 {
		a.finalizeLocked(slot)
	}
}

// Finalize closes out every host that has not yet completed. On a
// cancelled run, entries that never got a probe are dropped and the host
// is flagged partial.
func (a *Aggregator) Finalize(cancelled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range a.order {
		slot := a.hosts[addr]
		if slot.done {
			continue
		}
		if cancelled {
			slot.report.Partial = true
			kept := slot.report.Ports[:0]
			for _, e := range slot.report.Ports {
				if e.State != "" {
					kept = append(kept, e)
				}
			}
			slot.report.Ports = kept
		}
		a.finalizeLocked(slot)
	}
}

// Report returns the host reports in expansion order.
func (a *Aggregator) Report() []HostReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	hosts := make([]HostReport, 0, len(a.order))
	for _, addr := range a.order {
		hosts = append(hosts, a.hosts[addr].report)
	}
	return hosts
}

func (a *Aggregator) finalizeLocked(slot *hostSlot) {
	if slot.done {
		return
	}
	slot.done = true

	var banners []string
	for _, e := range slot.report.Ports {
		switch e.State {
		case StateOpen:
			slot.report.Online = true
			if e.Banner != "" {
				banners = append(banners, e.Banner)
			}
		case StateClosed:
			slot.report.Online = true
		}
	}
	if guess := GuessOS(banners); guess != "" {
		slot.report.OSGuess = guess
	}
}

// printableBanner renders raw probe bytes as a single-line string safe for
// reports and logs. Control bytes become dots, newlines collapse to spaces,
// and overly long banners are truncated at a rune boundary.
func printableBanner(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(raw), ".")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsPrint(r):
			b.WriteRune(r)
		default:
			b.WriteByte('.')
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxBannerLength {
		cut := maxBannerLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}
