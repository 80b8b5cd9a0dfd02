package prospector

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
)

var severityOrder = []Severity{
	SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo,
}

// WriteReports renders the report in every configured format and returns
// the paths written.
func WriteReports(report *ScanReport, config *Config, logger *zap.Logger) ([]string, error) {
	if err := os.MkdirAll(config.ReportDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	base := filepath.Join(config.ReportDir, "prospector_report_"+timestamp)

	var written []string
	for _, format := range config.ReportFormats {
		var (
			path string
			err  error
		)
		switch format {
		case "csv":
			path = base + ".csv"
			err = WriteCSVReport(report, path)
		case "json":
			path = base + ".json"
			err = WriteJSONReport(report, path)
		case "text":
			path = base + ".txt"
			err = WriteTextReport(report, path)
		case "html":
			path = base + ".html"
			err = WriteHTMLReport(report, path, filepath.Join(config.ReportDir, "templates"))
		case "pdf":
			path = base + ".pdf"
			err = WritePDFReport(report, path)
		default:
			logger.Warn("Unknown report format skipped", zap.String("format", format))
			continue
		}
		if err != nil {
			return written, fmt.Errorf("%s report: %w", format, err)
		}
		logger.Info("Report written",
			zap.String("format", format),
			zap.String("path", path))
		written = append(written, path)
	}
	return written, nil
}

// WriteCSVReport generates a detailed CSV report, one row per host.
func WriteCSVReport(report *ScanReport, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Address", "Hostname", "OS", "Online", "Open Ports",
		"Services", "Findings", "Partial", "Scan Time",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	scanTime := report.StartTime.Format(time.RFC3339)
	for i := range report.Hosts {
		host := &report.Hosts[i]
		open := host.OpenPorts()

		row := []string{
			host.Address,
			host.Hostname,
			host.OSGuess,
			strconv.FormatBool(host.Online),
			formatPortList(portNumbers(open)),
			formatServices(open),
			formatFindings(host),
			strconv.FormatBool(host.Partial),
			scanTime,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return nil
}

// WriteJSONReport generates a JSON report.
func WriteJSONReport(report *ScanReport, filePath string) error {
	type Report struct {
		Generated time.Time   `json:"generated"`
		Scan      *ScanReport `json:"scan"`
		Summary   struct {
			HostCount    int              `json:"host_count"`
			OnlineCount  int              `json:"online_count"`
			OpenPorts    int              `json:"open_port_count"`
			FindingCount int              `json:"finding_count"`
			BySeverity   map[Severity]int `json:"by_severity"`
		} `json:"summary"`
	}

	out := Report{
		Generated: time.Now(),
		Scan:      report,
	}
	out.Summary.HostCount = len(report.Hosts)
	out.Summary.OnlineCount = report.OnlineHosts()
	out.Summary.OpenPorts = report.OpenPortCount()
	out.Summary.FindingCount = report.FindingCount()
	out.Summary.BySeverity = report.SeverityCounts()

	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(filePath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}

	return nil
}

// WriteTextReport generates a plain-text report with full per-port detail.
func WriteTextReport(report *ScanReport, filePath string) error {
	var b strings.Builder

	b.WriteString("PROSPECTOR SCAN REPORT\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Run ID:    %s\n", report.RunID)
	fmt.Fprintf(&b, "Started:   %s\n", report.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished:  %s\n", report.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %s\n", FormatDuration(report.Duration()))
	fmt.Fprintf(&b, "Targets:   %s\n", strings.Join(report.Options.Targets, ", "))
	fmt.Fprintf(&b, "Ports:     %s\n", report.Options.PortSpec)
	if report.Seed != 0 {
		fmt.Fprintf(&b, "Seed:      %d\n", report.Seed)
	}
	if report.Degraded {
		b.WriteString("Note:      external CVE lookups degraded to offline mode during this run\n")
	}

	b.WriteString("\nSummary\n-------\n")
	fmt.Fprintf(&b, "Hosts scanned: %d\n", len(report.Hosts))
	fmt.Fprintf(&b, "Hosts online:  %d\n", report.OnlineHosts())
	fmt.Fprintf(&b, "Open ports:    %d\n", report.OpenPortCount())
	fmt.Fprintf(&b, "Findings:      %d\n", report.FindingCount())
	counts := report.SeverityCounts()
	for _, sev := range severityOrder {
		if counts[sev] > 0 {
			fmt.Fprintf(&b, "  %-8s %d\n", sev+":", counts[sev])
		}
	}

	for i := range report.Hosts {
		host := &report.Hosts[i]
		open := host.OpenPorts()
		if !host.Online && len(open) == 0 && !host.Partial {
			continue
		}

		b.WriteString("\n-----------------------------------\n")
		fmt.Fprintf(&b, "Host: %s\n", displayName(host))
		if host.OSGuess != "" {
			fmt.Fprintf(&b, "OS:   %s\n", host.OSGuess)
		}
		if host.Partial {
			b.WriteString("Note: scan interrupted before this host completed\n")
		}

		for _, entry := range open {
			fmt.Fprintf(&b, "\n  Port %d/%s: open", entry.Port, entry.Fingerprint.Protocol)
			fmt.Fprintf(&b, "  service=%s", entry.Service())
			if entry.Fingerprint.Version != "" {
				fmt.Fprintf(&b, " version=%s", entry.Fingerprint.Version)
			}
			b.WriteString("\n")
			if entry.Banner != "" {
				fmt.Fprintf(&b, "    Banner: %s\n", entry.Banner)
			}
			for _, f := range entry.Findings {
				fmt.Fprintf(&b, "    [%s] %s (CVSS %.1f, %s)\n", f.ID, f.Description, f.CVSS, f.Severity)
				for _, ref := range f.References {
					fmt.Fprintf(&b, "      ref: %s\n", ref)
				}
				if f.Mitigation != "" {
					fmt.Fprintf(&b, "      mitigation: %s\n", f.Mitigation)
				}
			}
		}

		errored := 0
		for _, entry := range host.Ports {
			if entry.State == StateError {
				errored++
			}
		}
		if errored > 0 {
			fmt.Fprintf(&b, "\n  Probe errors: %d\n", errored)
		}
	}

	b.WriteString("\n===================================\n")

	if err := os.WriteFile(filePath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write text file: %w", err)
	}
	return nil
}

// WritePDFReport generates a detailed PDF report.
func WritePDFReport(report *ScanReport, filePath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAuthor("Prospector", true)
	pdf.SetTitle("Network Vulnerability Scan Report", true)
	pdf.SetSubject("Security Assessment", true)

	// Add a custom header
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Arial", "B", 15)
		pdf.Cell(0, 10, "Prospector Network Scan Report")
		pdf.Ln(20)
	})

	// Add a custom footer
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.Cell(0, 10, fmt.Sprintf("Page %d / {nb}", pdf.PageNo()))
	})

	pdf.AliasNbPages("{nb}")
	pdf.AddPage()

	// Report timestamp and run identity
	pdf.SetFont("Arial", "I", 10)
	pdf.Cell(0, 10, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04:05 MST")))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("Run ID: %s", report.RunID))
	pdf.Ln(15)

	// Summary section
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 10, "Scan Summary")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 8, fmt.Sprintf("Total Hosts Scanned: %d", len(report.Hosts)))
	pdf.Ln(8)
	pdf.Cell(40, 8, fmt.Sprintf("Hosts Online: %d", report.OnlineHosts()))
	pdf.Ln(8)
	pdf.Cell(40, 8, fmt.Sprintf("Open Ports Found: %d", report.OpenPortCount()))
	pdf.Ln(8)
	pdf.Cell(40, 8, fmt.Sprintf("Potential Vulnerabilities: %d", report.FindingCount()))
	pdf.Ln(8)
	if report.Degraded {
		pdf.Cell(40, 8, "External CVE lookups were degraded during this run")
		pdf.Ln(8)
	}
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 10, "Host Details")
	pdf.Ln(10)

	first := true
	for i := range report.Hosts {
		host := &report.Hosts[i]
		open := host.OpenPorts()
		if !host.Online && len(open) == 0 && !host.Partial {
			continue
		}
		if !first {
			pdf.AddPage()
		}
		first = false

		// Host header
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 10, fmt.Sprintf("Host: %s", displayName(host)))
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 10)
		if host.OSGuess != "" {
			pdf.Cell(60, 8, fmt.Sprintf("Operating System: %s", host.OSGuess))
			pdf.Ln(8)
		}
		if host.Partial {
			pdf.Cell(60, 8, "Scan interrupted before this host completed")
			pdf.Ln(8)
		}

		// Open ports table
		if len(open) > 0 {
			pdf.SetFont("Arial", "B", 10)
			pdf.Cell(60, 8, "Open Ports:")
			pdf.Ln(8)

			pdf.SetFont("Arial", "", 10)
			pdf.SetFillColor(240, 240, 240)

			headers := []string{"Port", "Service", "Version", "Banner"}
			widths := []float64{18, 42, 30, 100}

			for i, header := range headers {
				pdf.CellFormat(widths[i], 8, header, "1", 0, "", true, 0, "")
			}
			pdf.Ln(8)

			fill := false
			for _, entry := range open {
				pdf.CellFormat(widths[0], 8, strconv.Itoa(entry.Port), "1", 0, "", fill, 0, "")
				pdf.CellFormat(widths[1], 8, entry.Service(), "1", 0, "", fill, 0, "")
				pdf.CellFormat(widths[2], 8, entry.Fingerprint.Version, "1", 0, "", fill, 0, "")
				pdf.CellFormat(widths[3], 8, truncate(entry.Banner, 60), "1", 0, "", fill, 0, "")
				pdf.Ln(8)
				fill = !fill
			}
			pdf.Ln(5)
		}

		// Findings table
		if host.FindingCount() > 0 {
			pdf.SetFont("Arial", "B", 10)
			pdf.Cell(60, 8, "Potential Vulnerabilities:")
			pdf.Ln(8)

			pdf.SetFont("Arial", "", 10)
			pdf.SetFillColor(255, 240, 240) // Light red for vulnerabilities

			headers := []string{"Port", "ID", "Severity", "Description"}
			widths := []float64{18, 42, 22, 108}

			for i, header := range headers {
				pdf.CellFormat(widths[i], 8, header, "1", 0, "", true, 0, "")
			}
			pdf.Ln(8)

			fill := false
			for _, entry := range host.Ports {
				for _, f := range entry.Findings {
					pdf.CellFormat(widths[0], 8, strconv.Itoa(entry.Port), "1", 0, "", fill, 0, "")
					pdf.CellFormat(widths[1], 8, f.ID, "1", 0, "", fill, 0, "")
					pdf.CellFormat(widths[2], 8, string(f.Severity), "1", 0, "", fill, 0, "")
					pdf.CellFormat(widths[3], 8, truncate(f.Description, 70), "1", 0, "", fill, 0, "")
					pdf.Ln(8)
					fill = !fill
				}
			}
			pdf.Ln(5)
		}
	}

	return pdf.OutputFileAndClose(filePath)
}

// WriteHTMLReport generates an HTML report using templates.
func WriteHTMLReport(report *ScanReport, filePath string, templateDir string) error {
	// Create the default template on first use
	templatePath := filepath.Join(templateDir, "report_template.html")
	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		if err := os.MkdirAll(templateDir, 0755); err != nil {
			return fmt.Errorf("failed to create template directory: %w", err)
		}
		if err := os.WriteFile(templatePath, []byte(defaultHTMLTemplate), 0644); err != nil {
			return fmt.Errorf("failed to create default template: %w", err)
		}
	}

	type PortRow struct {
		Port    int
		Service string
		Version string
		Banner  string
	}

	type FindingRow struct {
		Port        int
		ID          string
		Severity    Severity
		CVSS        float64
		Description string
	}

	type TemplateHost struct {
		Address  string
		Hostname string
		OS       string
		Online   bool
		Partial  bool
		Ports    []PortRow
		Findings []FindingRow
	}

	type TemplateData struct {
		GeneratedTime string
		RunID         string
		Degraded      bool
		Hosts         []TemplateHost
		HostCount     int
		OnlineCount   int
		OpenPortCount int
		FindingCount  int
	}

	templateData := TemplateData{
		GeneratedTime: time.Now().Format("January 2, 2006 15:04:05 MST"),
		RunID:         report.RunID,
		Degraded:      report.Degraded,
		HostCount:     len(report.Hosts),
		OnlineCount:   report.OnlineHosts(),
		OpenPortCount: report.OpenPortCount(),
		FindingCount:  report.FindingCount(),
	}

	for i := range report.Hosts {
		host := &report.Hosts[i]
		open := host.OpenPorts()
		if !host.Online && len(open) == 0 && !host.Partial {
			continue
		}

		th := TemplateHost{
			Address:  host.Address,
			Hostname: host.Hostname,
			OS:       host.OSGuess,
			Online:   host.Online,
			Partial:  host.Partial,
		}
		if th.Hostname == "" {
			th.Hostname = host.Address
		}

		for _, entry := range open {
			th.Ports = append(th.Ports, PortRow{
				Port:    entry.Port,
				Service: entry.Service(),
				Version: entry.Fingerprint.Version,
				Banner:  entry.Banner,
			})
		}
		for _, entry := range host.Ports {
			for _, f := range entry.Findings {
				th.Findings = append(th.Findings, FindingRow{
					Port:        entry.Port,
					ID:          f.ID,
					Severity:    f.Severity,
					CVSS:        f.CVSS,
					Description: f.Description,
				})
			}
		}

		templateData.Hosts = append(templateData.Hosts, th)
	}

	tmpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create HTML file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, templateData); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

// PrintConsoleReport outputs a summary to the console.
func PrintConsoleReport(report *ScanReport) {
	fmt.Println("\n===================================")
	fmt.Println("     Prospector Scan Results")
	fmt.Println("===================================")

	fmt.Printf("\nRun ID: %s\n", report.RunID)
	fmt.Printf("Duration: %s\n", FormatDuration(report.Duration()))

	fmt.Printf("\nSummary:\n")
	fmt.Printf("- Hosts scanned: %d\n", len(report.Hosts))
	fmt.Printf("- Hosts online: %d\n", report.OnlineHosts())
	fmt.Printf("- Open ports: %d\n", report.OpenPortCount())
	fmt.Printf("- Potential vulnerabilities: %d\n", report.FindingCount())
	counts := report.SeverityCounts()
	for _, sev := range severityOrder {
		if counts[sev] > 0 {
			fmt.Printf("    %s: %d\n", sev, counts[sev])
		}
	}
	if report.Degraded {
		fmt.Println("- External CVE lookups degraded to offline mode during this run")
	}

	omitted := 0
	for i := range report.Hosts {
		host := &report.Hosts[i]
		open := host.OpenPorts()
		if !host.Online && len(open) == 0 && !host.Partial {
			omitted++
			continue
		}

		fmt.Println("\n-----------------------------------")
		fmt.Printf("Host: %s\n", displayName(host))
		if host.OSGuess != "" {
			fmt.Printf("OS: %s\n", host.OSGuess)
		}
		if host.Partial {
			fmt.Println("Note: scan interrupted before this host completed")
		}

		if len(open) > 0 {
			fmt.Printf("Open Ports: %s\n", formatPortList(portNumbers(open)))
			fmt.Println("Services:")
			for _, entry := range open {
				line := fmt.Sprintf("  %d: %s", entry.Port, entry.Service())
				if entry.Fingerprint.Version != "" {
					line += " " + entry.Fingerprint.Version
				}
				fmt.Println(line)
			}
		}

		if host.FindingCount() > 0 {
			fmt.Println("Potential vulnerabilities:")
			for _, entry := range host.Ports {
				for _, f := range entry.Findings {
					fmt.Printf("  - [%d] %s (%s): %s\n", entry.Port, f.ID, f.Severity, f.Description)
				}
			}
		}
	}
	if omitted > 0 {
		fmt.Printf("\n(%d hosts with nothing to report omitted)\n", omitted)
	}

	fmt.Println("\n===================================")
}

// Helper functions

func displayName(host *HostReport) string {
	if host.Hostname != "" && host.Hostname != host.Address {
		return fmt.Sprintf("%s (%s)", host.Hostname, host.Address)
	}
	return host.Address
}

func portNumbers(entries []PortEntry) []int {
	ports := make([]int, len(entries))
	for i, e := range entries {
		ports[i] = e.Port
	}
	return ports
}

// formatPortList formats a slice of port numbers as a comma-separated string
func formatPortList(ports []int) string {
	if len(ports) == 0 {
		return "None"
	}

	strPorts := make([]string, len(ports))
	for i, port := range ports {
		strPorts[i] = strconv.Itoa(port)
	}

	return strings.Join(strPorts, ", ")
}

// formatServices formats open port services for CSV output
func formatServices(entries []PortEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var parts []string
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%d:%s", e.Port, e.Service()))
	}

	return strings.Join(parts, ", ")
}

// formatFindings flattens a host's findings for CSV output
func formatFindings(host *HostReport) string {
	var parts []string
	for _, entry := range host.Ports {
		for _, f := range entry.Findings {
			parts = append(parts, fmt.Sprintf("%s (%s)", f.ID, f.Severity))
		}
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

const defaultHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Prospector Network Scan Report</title>
    <style>
        body {
            font-family: Arial, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 1200px;
            margin: 0 auto;
            padding: 20px;
        }
        h1 { color: #2c3e50; }
        h2 {
            color: #3498db;
            border-bottom: 1px solid #eee;
            padding-bottom: 10px;
        }
        h3 { color: #2980b9; }
        .summary {
            background-color: #f8f9fa;
            padding: 15px;
            border-radius: 5px;
            margin-bottom: 20px;
        }
        .host {
            background-color: #fff;
            border: 1px solid #ddd;
            border-radius: 5px;
            padding: 15px;
            margin-bottom: 20px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        table {
            width: 100%;
            border-collapse: collapse;
            margin-bottom: 15px;
        }
        th, td {
            padding: 8px;
            text-align: left;
            border: 1px solid #ddd;
        }
        th {
            background-color: #f2f2f2;
            font-weight: bold;
        }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .vulnerability { color: #e74c3c; }
        .degraded { color: #e67e22; }
        .footer {
            margin-top: 40px;
            text-align: center;
            font-size: 0.8em;
            color: #7f8c8d;
        }
    </style>
</head>
<body>
    <h1>Prospector Network Scan Report</h1>
    <p>Generated on: {{ .GeneratedTime }}</p>
    <p>Run ID: {{ .RunID }}</p>

    <div class="summary">
        <h2>Scan Summary</h2>
        <p>Total Hosts Scanned: {{ .HostCount }}</p>
        <p>Hosts Online: {{ .OnlineCount }}</p>
        <p>Open Ports Found: {{ .OpenPortCount }}</p>
        <p>Potential Vulnerabilities: {{ .FindingCount }}</p>
        {{ if .Degraded }}
        <p class="degraded">External CVE lookups were degraded to offline mode during this run.</p>
        {{ end }}
    </div>

    <h2>Host Details</h2>

    {{ range .Hosts }}
    <div class="host">
        <h3>Host: {{ .Hostname }} ({{ .Address }})</h3>
        {{ if .OS }}<p><strong>Operating System:</strong> {{ .OS }}</p>{{ end }}
        {{ if .Partial }}<p class="degraded">Scan interrupted before this host completed.</p>{{ end }}

        {{ if .Ports }}
        <h4>Open Ports</h4>
        <table>
            <tr>
                <th>Port</th>
                <th>Service</th>
                <th>Version</th>
                <th>Banner</th>
            </tr>
            {{ range .Ports }}
            <tr>
                <td>{{ .Port }}</td>
                <td>{{ .Service }}</td>
                <td>{{ .Version }}</td>
                <td>{{ .Banner }}</td>
            </tr>
            {{ end }}
        </table>
        {{ end }}

        {{ if .Findings }}
        <h4>Potential Vulnerabilities</h4>
        <table>
            <tr>
                <th>Port</th>
                <th>ID</th>
                <th>Severity</th>
                <th>CVSS</th>
                <th>Description</th>
            </tr>
            {{ range .Findings }}
            <tr class="vulnerability">
                <td>{{ .Port }}</td>
                <td>{{ .ID }}</td>
                <td>{{ .Severity }}</td>
                <td>{{ .CVSS }}</td>
                <td>{{ .Description }}</td>
            </tr>
            {{ end }}
        </table>
        {{ end }}
    </div>
    {{ end }}

    <div class="footer">
        <p>Generated by Prospector Network Vulnerability Scanner</p>
    </div>
</body>
</html>`
