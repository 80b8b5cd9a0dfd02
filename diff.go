package prospector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Comparison errors
var (
	ErrNoBaseline = errors.New("no baseline report available")
	ErrSameRun    = errors.New("baseline and current report come from the same run")
)

// DiffScanner compares two scan reports and describes what changed. It keeps
// no state between runs; the baseline is a report file the operator kept.
type DiffScanner struct {
	logger *zap.Logger
}

// NewDiffScanner creates a report comparator.
func NewDiffScanner(logger *zap.Logger) *DiffScanner {
	return &DiffScanner{
		logger: logger.With(zap.String("component", "diff_scanner")),
	}
}

// ScanDiffResult represents the difference between two scan runs
type ScanDiffResult struct {
	PreviousRunID string    `json:"previous_run_id"`
	CurrentRunID  string    `json:"current_run_id"`
	PreviousTime  time.Time `json:"previous_time"`
	CurrentTime   time.Time `json:"current_time"`

	// New hosts found in current scan but not in previous
	NewHosts []string `json:"new_hosts"`

	// Hosts missing in current scan that were in previous
	MissingHosts []string `json:"missing_hosts"`

	// Per-host changes
	HostChanges map[string]*HostDiff `json:"host_changes"`

	// Summary stats
	Summary DiffSummary `json:"summary"`
}

// HostDiff represents changes in a single host between scans
type HostDiff struct {
	Host             string   `json:"host"`
	OSChanged        bool     `json:"os_changed,omitempty"`
	PreviousOS       string   `json:"previous_os,omitempty"`
	CurrentOS        string   `json:"current_os,omitempty"`
	NewPorts         []int    `json:"new_ports,omitempty"`
	ClosedPorts      []int    `json:"closed_ports,omitempty"`
	NewServices      []string `json:"new_services,omitempty"`
	RemovedServices  []string `json:"removed_services,omitempty"`
	NewFindings      []string `json:"new_findings,omitempty"`
	ResolvedFindings []string `json:"resolved_findings,omitempty"`
}

// DiffSummary provides summary statistics for a scan diff
type DiffSummary struct {
	TotalHostsChanged     int `json:"total_hosts_changed"`
	TotalNewHosts         int `json:"total_new_hosts"`
	TotalMissingHosts     int `json:"total_missing_hosts"`
	TotalNewPorts         int `json:"total_new_ports"`
	TotalClosedPorts      int `json:"total_closed_ports"`
	TotalNewServices      int `json:"total_new_services"`
	TotalRemovedServices  int `json:"total_removed_services"`
	TotalNewFindings      int `json:"total_new_findings"`
	TotalResolvedFindings int `json:"total_resolved_findings"`
	RiskScore             int `json:"risk_score"`
}

// LoadBaselineReport reads a scan report previously written by the JSON
// renderer. The renderer wraps the report in an envelope under "scan".
func LoadBaselineReport(path string) (*ScanReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline report: %w", err)
	}
	var envelope struct {
		Scan *ScanReport `json:"scan"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing baseline report: %w", err)
	}
	if envelope.Scan == nil || envelope.Scan.RunID == "" {
		return nil, fmt.Errorf("%w: %s carries no scan data", ErrNoBaseline, path)
	}
	return envelope.Scan, nil
}

// Compare diffs the current report against a baseline from an earlier run
func (d *DiffScanner) Compare(previous, current *ScanReport) (*ScanDiffResult, error) {
	if previous == nil || current == nil {
		return nil, ErrNoBaseline
	}
	if previous.RunID == current.RunID {
		return nil, fmt.Errorf("%w: %s", ErrSameRun, current.RunID)
	}

	diff := createDiff(previous, current)

	d.logger.Info("Scan diff completed",
		zap.String("current_run", current.RunID),
		zap.String("previous_run", previous.RunID),
		zap.Int("hosts_changed", diff.Summary.TotalHostsChanged),
		zap.Int("new_hosts", diff.Summary.TotalNewHosts),
		zap.Int("missing_hosts", diff.Summary.TotalMissingHosts),
		zap.Int("risk_score", diff.Summary.RiskScore),
	)

	return diff, nil
}

// createDiff builds the diff between two scan reports
func createDiff(previous, current *ScanReport) *ScanDiffResult {
	diff := &ScanDiffResult{
		PreviousRunID: previous.RunID,
		CurrentRunID:  current.RunID,
		PreviousTime:  previous.EndTime,
		CurrentTime:   current.EndTime,
		HostChanges:   make(map[string]*HostDiff),
	}

	// Create maps for easy lookups
	previousHosts := make(map[string]*HostReport)
	currentHosts := make(map[string]*HostReport)

	for i := range previous.Hosts {
		host := &previous.Hosts[i]
		previousHosts[host.Address] = host
	}
	for i := range current.Hosts {
		host := &current.Hosts[i]
		currentHosts[host.Address] = host
	}

	// Find new and missing hosts. Only online hosts count; a host that
	// stopped answering shows up as missing even when it was probed.
	for addr, host := range currentHosts {
		prev, exists := previousHosts[addr]
		if host.Online && (!exists || !prev.Online) {
			diff.NewHosts = append(diff.NewHosts, addr)
		}
	}
	for addr, host := range previousHosts {
		cur, exists := currentHosts[addr]
		if host.Online && (!exists || !cur.Online) {
			diff.MissingHosts = append(diff.MissingHosts, addr)
		}
	}
	sort.Strings(diff.NewHosts)
	sort.Strings(diff.MissingHosts)

	// Find changes in hosts present in both scans
	for addr, currentHost := range currentHosts {
		previousHost, exists := previousHosts[addr]
		if !exists {
			continue
		}

		hostDiff := compareHostReports(previousHost, currentHost)
		if hostDiff != nil {
			diff.HostChanges[addr] = hostDiff

			diff.Summary.TotalHostsChanged++
			diff.Summary.TotalNewPorts += len(hostDiff.NewPorts)
			diff.Summary.TotalClosedPorts += len(hostDiff.ClosedPorts)
			diff.Summary.TotalNewServices += len(hostDiff.NewServices)
			diff.Summary.TotalRemovedServices += len(hostDiff.RemovedServices)
			diff.Summary.TotalNewFindings += len(hostDiff.NewFindings)
			diff.Summary.TotalResolvedFindings += len(hostDiff.ResolvedFindings)
		}
	}

	diff.Summary.TotalNewHosts = len(diff.NewHosts)
	diff.Summary.TotalMissingHosts = len(diff.MissingHosts)
	diff.Summary.RiskScore = calculateRiskScore(diff)

	return diff
}

// compareHostReports compares two reports for the same host and returns the
// differences, or nil when nothing changed
func compareHostReports(previous, current *HostReport) *HostDiff {
	hostDiff := &HostDiff{
		Host: current.Address,
	}

	hasChanges := false

	// Compare OS
	if previous.OSGuess != current.OSGuess && previous.OSGuess != "" && current.OSGuess != "" {
		hostDiff.OSChanged = true
		hostDiff.PreviousOS = previous.OSGuess
		hostDiff.CurrentOS = current.OSGuess
		hasChanges = true
	}

	// Compare open ports and the services behind them
	previousPorts := make(map[int]bool)
	currentPorts := make(map[int]bool)
	previousServices := make(map[string]bool)
	currentServices := make(map[string]bool)

	for _, entry := range previous.OpenPorts() {
		previousPorts[entry.Port] = true
		previousServices[fmt.Sprintf("%d:%s", entry.Port, entry.Service())] = true
	}
	for _, entry := range current.OpenPorts() {
		currentPorts[entry.Port] = true
		currentServices[fmt.Sprintf("%d:%s", entry.Port, entry.Service())] = true

		if !previousPorts[entry.Port] {
			hostDiff.NewPorts = append(hostDiff.NewPorts, entry.Port)
			hasChanges = true
		}
	}
	for port := range previousPorts {
		if !currentPorts[port] {
			hostDiff.ClosedPorts = append(hostDiff.ClosedPorts, port)
			hasChanges = true
		}
	}

	for serviceKey := range currentServices {
		if !previousServices[serviceKey] {
			hostDiff.NewServices = append(hostDiff.NewServices, serviceKey)
			hasChanges = true
		}
	}
	for serviceKey := range previousServices {
		if !currentServices[serviceKey] {
			hostDiff.RemovedServices = append(hostDiff.RemovedServices, serviceKey)
			hasChanges = true
		}
	}

	// Compare findings by ID
	previousFindings := findingIDs(previous)
	currentFindings := findingIDs(current)

	for id := range currentFindings {
		if !previousFindings[id] {
			hostDiff.NewFindings = append(hostDiff.NewFindings, id)
			hasChanges = true
		}
	}
	for id := range previousFindings {
		if !currentFindings[id] {
			hostDiff.ResolvedFindings = append(hostDiff.ResolvedFindings, id)
			hasChanges = true
		}
	}

	// Sort slices for consistent output
	sort.Ints(hostDiff.NewPorts)
	sort.Ints(hostDiff.ClosedPorts)
	sort.Strings(hostDiff.NewServices)
	sort.Strings(hostDiff.RemovedServices)
	sort.Strings(hostDiff.NewFindings)
	sort.Strings(hostDiff.ResolvedFindings)

	if !hasChanges {
		return nil
	}
	return hostDiff
}

func findingIDs(host *HostReport) map[string]bool {
	ids := make(map[string]bool)
	for _, entry := range host.Ports {
		for _, f := range entry.Findings {
			ids[f.ID] = true
		}
	}
	return ids
}

// WriteDiffReport writes a differential scan report to a file
func (d *DiffScanner) WriteDiffReport(diff *ScanDiffResult, format, filePath string) error {
	if diff == nil {
		return fmt.Errorf("no differential scan result provided")
	}

	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(diff, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write JSON file: %w", err)
		}

	case "csv":
		file, err := os.Create(filePath)
		if err != nil {
			return fmt.Errorf("failed to create CSV file: %w", err)
		}
		defer file.Close()

		var b strings.Builder
		b.WriteString("Host,Change Type,Previous Value,Current Value\n")

		for _, host := range diff.NewHosts {
			fmt.Fprintf(&b, "%s,New Host,N/A,Added\n", host)
		}
		for _, host := range diff.MissingHosts {
			fmt.Fprintf(&b, "%s,Missing Host,Present,Removed\n", host)
		}

		for host, hostDiff := range diff.HostChanges {
			if hostDiff.OSChanged {
				fmt.Fprintf(&b, "%s,OS Change,%s,%s\n", host, hostDiff.PreviousOS, hostDiff.CurrentOS)
			}
			for _, port := range hostDiff.NewPorts {
				fmt.Fprintf(&b, "%s,New Port,Closed,%d\n", host, port)
			}
			for _, port := range hostDiff.ClosedPorts {
				fmt.Fprintf(&b, "%s,Closed Port,%d,Closed\n", host, port)
			}
			for _, service := range hostDiff.NewServices {
				fmt.Fprintf(&b, "%s,New Service,None,%s\n", host, service)
			}
			for _, service := range hostDiff.RemovedServices {
				fmt.Fprintf(&b, "%s,Removed Service,%s,None\n", host, service)
			}
			for _, finding := range hostDiff.NewFindings {
				fmt.Fprintf(&b, "%s,New Finding,None,%s\n", host, finding)
			}
			for _, finding := range hostDiff.ResolvedFindings {
				fmt.Fprintf(&b, "%s,Resolved Finding,%s,None\n", host, finding)
			}
		}

		b.WriteString("\nSummary\n")
		summaryItems := []struct {
			Label string
			Value int
		}{
			{"Total Hosts Changed", diff.Summary.TotalHostsChanged},
			{"New Hosts", diff.Summary.TotalNewHosts},
			{"Missing Hosts", diff.Summary.TotalMissingHosts},
			{"New Ports", diff.Summary.TotalNewPorts},
			{"Closed Ports", diff.Summary.TotalClosedPorts},
			{"New Services", diff.Summary.TotalNewServices},
			{"Removed Services", diff.Summary.TotalRemovedServices},
			{"New Findings", diff.Summary.TotalNewFindings},
			{"Resolved Findings", diff.Summary.TotalResolvedFindings},
			{"Risk Score (1-100)", diff.Summary.RiskScore},
		}
		for _, item := range summaryItems {
			fmt.Fprintf(&b, "%s,%d\n", item.Label, item.Value)
		}

		if _, err := file.WriteString(b.String()); err != nil {
			return fmt.Errorf("failed to write CSV content: %w", err)
		}

	default:
		return fmt.Errorf("unsupported diff report format: %s", format)
	}

	d.logger.Info("Differential report written",
		zap.String("format", format),
		zap.String("file", filePath),
	)

	return nil
}

// PrintDiffSummary prints a summary of differences to the console
func (d *DiffScanner) PrintDiffSummary(diff *ScanDiffResult) {
	if diff == nil {
		fmt.Println("No differential scan result available")
		return
	}

	fmt.Println("\n===================================")
	fmt.Println("    Network Scan Diff Summary")
	fmt.Println("===================================")

	fmt.Printf("\nPrevious Run: %s (%s)\n", diff.PreviousRunID, diff.PreviousTime.Format(time.RFC3339))
	fmt.Printf("Current Run:  %s (%s)\n", diff.CurrentRunID, diff.CurrentTime.Format(time.RFC3339))

	fmt.Printf("\nSummary:\n")
	fmt.Printf("- Hosts with changes: %d\n", diff.Summary.TotalHostsChanged)
	fmt.Printf("- New hosts: %d\n", diff.Summary.TotalNewHosts)
	fmt.Printf("- Missing hosts: %d\n", diff.Summary.TotalMissingHosts)
	fmt.Printf("- New open ports: %d\n", diff.Summary.TotalNewPorts)
	fmt.Printf("- Closed ports: %d\n", diff.Summary.TotalClosedPorts)
	fmt.Printf("- New services: %d\n", diff.Summary.TotalNewServices)
	fmt.Printf("- Removed services: %d\n", diff.Summary.TotalRemovedServices)
	fmt.Printf("- New findings: %d\n", diff.Summary.TotalNewFindings)
	fmt.Printf("- Resolved findings: %d\n", diff.Summary.TotalResolvedFindings)
	fmt.Printf("- Risk Score (1-100): %d\n", diff.Summary.RiskScore)

	if len(diff.NewHosts) > 0 {
		fmt.Println("\nNew Hosts:")
		for _, host := range diff.NewHosts {
			fmt.Printf("  - %s\n", host)
		}
	}

	if len(diff.MissingHosts) > 0 {
		fmt.Println("\nMissing Hosts:")
		for _, host := range diff.MissingHosts {
			fmt.Printf("  - %s\n", host)
		}
	}

	if len(diff.HostChanges) > 0 {
		fmt.Println("\nKey Changes:")

		hosts := make([]string, 0, len(diff.HostChanges))
		for host := range diff.HostChanges {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)

		for _, host := range hosts {
			hostDiff := diff.HostChanges[host]
			fmt.Printf("  %s:\n", host)

			if hostDiff.OSChanged {
				fmt.Printf("    - OS Changed: %s -> %s\n", hostDiff.PreviousOS, hostDiff.CurrentOS)
			}
			if len(hostDiff.NewPorts) > 0 {
				fmt.Printf("    - New Ports: %v\n", hostDiff.NewPorts)
			}
			if len(hostDiff.ClosedPorts) > 0 {
				fmt.Printf("    - Closed Ports: %v\n", hostDiff.ClosedPorts)
			}
			if len(hostDiff.NewServices) > 0 {
				fmt.Printf("    - New Services: %v\n", hostDiff.NewServices)
			}
			if len(hostDiff.RemovedServices) > 0 {
				fmt.Printf("    - Removed Services: %v\n", hostDiff.RemovedServices)
			}
			if len(hostDiff.NewFindings) > 0 {
				fmt.Printf("    - New Findings: %v\n", hostDiff.NewFindings)
			}
			if len(hostDiff.ResolvedFindings) > 0 {
				fmt.Printf("    - Resolved Findings: %v\n", hostDiff.ResolvedFindings)
			}
		}
	}

	fmt.Println("\n===================================")
}

// calculateRiskScore calculates a risk score based on the scan differences.
// Higher scores indicate greater risk
func calculateRiskScore(diff *ScanDiffResult) int {
	score := 0

	// New findings carry the highest weight
	if diff.Summary.TotalNewFindings > 0 {
		score += 40
		score += min(30, diff.Summary.TotalNewFindings*5)
	}

	// New hosts score (moderate weight)
	if diff.Summary.TotalNewHosts > 0 {
		score += 5
		score += min(20, diff.Summary.TotalNewHosts*2)
	}

	// A host that disappeared unexpectedly can also be a security issue
	if diff.Summary.TotalMissingHosts > 0 {
		score += min(10, diff.Summary.TotalMissingHosts)
	}

	// New ports and services score (moderate weight)
	if diff.Summary.TotalNewPorts > 0 {
		score += 5
		score += min(20, diff.Summary.TotalNewPorts)
	}
	if diff.Summary.TotalNewServices > 0 {
		score += min(15, diff.Summary.TotalNewServices*3)
	}

	// Resolved findings reduce the score
	if diff.Summary.TotalResolvedFindings > 0 {
		score -= min(25, diff.Summary.TotalResolvedFindings*5)
	}

	return max(1, min(100, score))
}
