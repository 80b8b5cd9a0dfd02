package prospector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// -------------- Severity Scale --------------

// Severity grades a finding on a fixed five-step scale.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// severityFromCVSS buckets a CVSS base score onto the severity scale.
func severityFromCVSS(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// normalizeSeverity folds free-form severity strings from external
// sources onto the fixed scale.
func normalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// -------------- Finding Type --------------

// VulnerabilityFinding is one vulnerability attributed to a scanned port.
type VulnerabilityFinding struct {
	ID             string   `json:"id"`
	Severity       Severity `json:"severity"`
	CVSS           float64  `json:"cvss,omitempty"`
	Description    string   `json:"description"`
	MatchedPattern string   `json:"matched_pattern,omitempty"`
	Source         string   `json:"source"`
	References     []string `json:"references,omitempty"`
	Mitigation     string   `json:"mitigation,omitempty"`
}

// Source names carried on findings.
const (
	SourceOffline = "offline"
	SourceICSCert = "ics-cert"
	SourceNVD     = "nvd"
	SourceMITRE   = "mitre"
	SourceCIRCL   = "circl"
)

// VulnSource is one vulnerability intelligence source. Detect inspects a
// fingerprint and banner without a known identifier; Lookup fetches details
// for one identifier. Sources form a closed set fixed at construction.
type VulnSource interface {
	Name() string
	Detect(ctx context.Context, fp ServiceFingerprint, banner string) ([]VulnerabilityFinding, error)
	Lookup(ctx context.Context, id string) (*VulnerabilityFinding, error)
}

// -------------- Offline Pattern Source --------------

type vulnPattern struct {
	service     string
	regex       *regexp.Regexp
	id          string
	description string
}

var vulnerabilityPatterns = []vulnPattern{
	{
		service:     "ssh",
		regex:       regexp.MustCompile(`(?i)OpenSSH_[1-6]\.`),
		id:          "CVE-2020-14145",
		description: "Potential OpenSSH vulnerability in older versions that may leak data or allow MITM attacks",
	},
	{
		service:     "apache",
		regex:       regexp.MustCompile(`(?i)apache/2\.[0-3]\.`),
		id:          "CVE-2017-9798",
		description: "Apache HTTP Server 2.2.x through 2.3.x vulnerable to Optionsbleed attack",
	},
	{
		service:     "nginx",
		regex:       regexp.MustCompile(`(?i)nginx/1\.[0-9]\.`),
		id:          "CVE-2019-9511",
		description: "HTTP/2 large amount of data request leads to DOS",
	},
	{
		service:     "ftp",
		regex:       regexp.MustCompile(`(?i)vsftpd 2\.`),
		id:          "CVE-2011-2523",
		description: "VSFTPD 2.3.4 and older vulnerable to backdoor command execution",
	},
	{
		service:     "telnet",
		regex:       regexp.MustCompile(`(?i)telnet`),
		id:          "TELNET-CLEARTEXT",
		description: "Telnet transmits all data in cleartext, risking exposure of credentials",
	},
	{
		service:     "rdp",
		regex:       regexp.MustCompile(`(?i)windows.*terminal`),
		id:          "CVE-2019-0708",
		description: "BlueKeep: Remote desktop vulnerability may allow remote code execution",
	},
	{
		service:     "modbus",
		regex:       regexp.MustCompile(`(?i)modbus`),
		id:          "OT-MODBUS-NOAUTH",
		description: "Modbus protocol lacks authentication mechanisms, allowing unauthorized control",
	},
	{
		service:     "siemens",
		regex:       regexp.MustCompile(`(?i)S7`),
		id:          "OT-S7-CLEARTEXT",
		description: "Siemens S7 communication protocols transmit data in cleartext",
	},
	{
		service:     "bacnet",
		regex:       regexp.MustCompile(`(?i)bacnet`),
		id:          "OT-BACNET-NOAUTH",
		description: "BACnet protocol lacks robust authentication, allowing unauthorized access to building controls",
	},
	{
		service:     "ethernet/ip",
		regex:       regexp.MustCompile(`(?i)ethernet/ip`),
		id:          "OT-EIP-NOAUTH",
		description: "EtherNet/IP protocol has limited security controls for authentication and authorization",
	},
}

// patternSource matches banners against the bundled signature table.
// It is deterministic and performs no I/O.
type patternSource struct{}

func (patternSource) Name() string { return SourceOffline }

func (patternSource) Detect(_ context.Context, fp ServiceFingerprint, banner string) ([]VulnerabilityFinding, error) {
	haystack := banner
	if haystack == "" {
		haystack = fp.Service
	}
	var findings []VulnerabilityFinding
	for _, p := range vulnerabilityPatterns {
		if !p.regex.MatchString(haystack) {
			continue
		}
		findings = append(findings, VulnerabilityFinding{
			ID:             p.id,
			Severity:       SeverityHigh,
			CVSS:           7.5,
			Description:    p.description,
			MatchedPattern: p.regex.String(),
			Source:         SourceOffline,
			References:     []string{"Detected via pattern matching: " + p.regex.String()},
		})
	}
	return findings, nil
}

func (patternSource) Lookup(context.Context, string) (*VulnerabilityFinding, error) {
	return nil, nil
}

// -------------- ICS-CERT Advisory Source --------------

var icsKeywords = []string{
	"modbus", "dnp3", "bacnet", "ethernet/ip", "profinet",
	"s7", "siemens", "rockwell", "allen-bradley", "scada",
	"plc", "hmi", "ics", "industrial",
}

func isICSService(service string) bool {
	lower := strings.ToLower(service)
	for _, kw := range icsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var icsAdvisories = []struct {
	keyword string
	finding VulnerabilityFinding
}{
	{
		keyword: "modbus",
		finding: VulnerabilityFinding{
			ID:          "ICS-VU-923731",
			Severity:    SeverityHigh,
			CVSS:        8.2,
			Description: "Modbus protocol lacks authentication mechanisms allowing unauthorized commands",
			Source:      SourceICSCert,
			References:  []string{"https://ics-cert.us-cert.gov/advisories/ICSA-18-240-01"},
			Mitigation:  "Implement Modbus security extensions or use a secure VPN tunnel",
		},
	},
	{
		keyword: "bacnet",
		finding: VulnerabilityFinding{
			ID:          "ICS-VU-587142",
			Severity:    SeverityHigh,
			CVSS:        7.8,
			Description: "BACnet protocol allows unauthenticated device discovery and manipulation",
			Source:      SourceICSCert,
			References:  []string{"https://ics-cert.us-cert.gov/advisories/ICSA-17-138-01"},
			Mitigation:  "Isolate BACnet networks from public networks using firewalls",
		},
	},
}

// icsSource maps industrial protocol fingerprints onto bundled ICS-CERT
// advisories. The advisory table ships with the binary, so this source
// works identically in offline mode.
type icsSource struct{}

func (icsSource) Name() string { return SourceICSCert }

func (icsSource) Detect(_ context.Context, fp ServiceFingerprint, _ string) ([]VulnerabilityFinding, error) {
	if !isICSService(fp.Service) {
		return nil, nil
	}
	lower := strings.ToLower(fp.Service)
	var findings []VulnerabilityFinding
	for _, adv := range icsAdvisories {
		if strings.Contains(lower, adv.keyword) {
			findings = append(findings, adv.finding)
		}
	}
	return findings, nil
}

func (icsSource) Lookup(_ context.Context, id string) (*VulnerabilityFinding, error) {
	if !strings.HasPrefix(id, "ICS-VU-") && !strings.HasPrefix(id, "ICSA-") {
		return nil, nil
	}
	for _, adv := range icsAdvisories {
		if adv.finding.ID == id {
			f := adv.finding
			return &f, nil
		}
	}
	return nil, nil
}

// -------------- HTTP Plumbing --------------

// getJSON issues one GET and decodes the JSON body into out. A missing
// record (plain non-success status) reports found=false without an error;
// rate limiting and server errors surface as ErrExternalQueryFailed so the
// caller's retry and breaker logic see them.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Prospector/"+Version)

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExternalQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return false, fmt.Errorf("%w: %s returned status %d", ErrExternalQueryFailed, req.URL.Host, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: decode %s response: %v", ErrExternalQueryFailed, req.URL.Host, err)
	}
	return true, nil
}

// -------------- NVD Source --------------

const nvdBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Metrics struct {
		CVSSMetricV31 []struct {
			CVSSData struct {
				BaseScore    float64 `json:"baseScore"`
				BaseSeverity string  `json:"baseSeverity"`
			} `json:"cvssData"`
		} `json:"cvssMetricV31"`
		CVSSMetricV2 []struct {
			CVSSData struct {
				BaseScore float64 `json:"baseScore"`
			} `json:"cvssData"`
			BaseSeverity string `json:"baseSeverity"`
		} `json:"cvssMetricV2"`
	} `json:"metrics"`
}

func findingFromNVD(cve nvdCVE) *VulnerabilityFinding {
	if cve.ID == "" {
		return nil
	}
	finding := &VulnerabilityFinding{
		ID:          cve.ID,
		Description: "No description available",
		Source:      SourceNVD,
	}
	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			finding.Description = d.Value
			break
		}
	}
	if finding.Description == "No description available" && len(cve.Descriptions) > 0 {
		finding.Description = cve.Descriptions[0].Value
	}
	for _, r := range cve.References {
		finding.References = append(finding.References, r.URL)
	}

	switch {
	case len(cve.Metrics.CVSSMetricV31) > 0:
		data := cve.Metrics.CVSSMetricV31[0].CVSSData
		finding.CVSS = data.BaseScore
		finding.Severity = normalizeSeverity(data.BaseSeverity)
	case len(cve.Metrics.CVSSMetricV2) > 0:
		m := cve.Metrics.CVSSMetricV2[0]
		finding.CVSS = m.CVSSData.BaseScore
		finding.Severity = normalizeSeverity(m.BaseSeverity)
	}
	if finding.CVSS > 0 && (finding.Severity == "" || finding.Severity == SeverityInfo) {
		finding.Severity = severityFromCVSS(finding.CVSS)
	}
	if finding.Severity == "" {
		finding.Severity = SeverityInfo
	}
	return finding
}

// nvdSource queries the NVD REST API, both for known CVE identifiers and
// for keyword matches on fingerprints that carry a product version.
type nvdSource struct {
	client *http.Client
	base   string
}

func (s *nvdSource) Name() string { return SourceNVD }

func (s *nvdSource) Detect(ctx context.Context, fp ServiceFingerprint, _ string) ([]VulnerabilityFinding, error) {
	if fp.Version == "" {
		return nil, nil
	}
	query := url.Values{}
	query.Set("keywordSearch", fp.Service+" "+fp.Version)
	query.Set("resultsPerPage", "5")

	var payload nvdResponse
	found, err := getJSON(ctx, s.client, s.base+"?"+query.Encode(), &payload)
	if err != nil || !found {
		return nil, err
	}
	var findings []VulnerabilityFinding
	for _, v := range payload.Vulnerabilities {
		if f := findingFromNVD(v.CVE); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func (s *nvdSource) Lookup(ctx context.Context, id string) (*VulnerabilityFinding, error) {
	var payload nvdResponse
	found, err := getJSON(ctx, s.client, s.base+"?cveId="+url.QueryEscape(id), &payload)
	if err != nil || !found {
		return nil, err
	}
	if len(payload.Vulnerabilities) == 0 {
		return nil, nil
	}
	return findingFromNVD(payload.Vulnerabilities[0].CVE), nil
}

// -------------- MITRE Source --------------

const mitreBaseURL = "https://cveawg.mitre.org/api/cve/"

type mitreResponse struct {
	CVEMetadata struct {
		CVEID string `json:"cveId"`
	} `json:"cveMetadata"`
	Containers struct {
		CNA struct {
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			References []struct {
				URL string `json:"url"`
			} `json:"references"`
			Metrics []struct {
				CVSSV31 struct {
					BaseScore    float64 `json:"baseScore"`
					BaseSeverity string  `json:"baseSeverity"`
				} `json:"cvssV3_1"`
				CVSSV30 struct {
					BaseScore    float64 `json:"baseScore"`
					BaseSeverity string  `json:"baseSeverity"`
				} `json:"cvssV3_0"`
			} `json:"metrics"`
		} `json:"cna"`
	} `json:"containers"`
}

// mitreSource resolves CVE identifiers against the MITRE CVE services API.
// It has no keyword search, so Detect is a no-op.
type mitreSource struct {
	client *http.Client
	base   string
}

func (s *mitreSource) Name() string { return SourceMITRE }

func (s *mitreSource) Detect(context.Context, ServiceFingerprint, string) ([]VulnerabilityFinding, error) {
	return nil, nil
}

func (s *mitreSource) Lookup(ctx context.Context, id string) (*VulnerabilityFinding, error) {
	var payload mitreResponse
	found, err := getJSON(ctx, s.client, s.base+url.PathEscape(id), &payload)
	if err != nil || !found {
		return nil, err
	}
	if payload.CVEMetadata.CVEID == "" {
		return nil, nil
	}

	finding := &VulnerabilityFinding{
		ID:          payload.CVEMetadata.CVEID,
		Description: "No description available",
		Severity:    SeverityInfo,
		Source:      SourceMITRE,
	}
	cna := payload.Containers.CNA
	for _, d := range cna.Descriptions {
		if d.Lang == "en" {
			finding.Description = d.Value
			break
		}
	}
	if finding.Description == "No description available" && len(cna.Descriptions) > 0 {
		finding.Description = cna.Descriptions[0].Value
	}
	for _, r := range cna.References {
		finding.References = append(finding.References, r.URL)
	}
	for _, m := range cna.Metrics {
		switch {
		case m.CVSSV31.BaseScore > 0:
			finding.CVSS = m.CVSSV31.BaseScore
			finding.Severity = normalizeSeverity(m.CVSSV31.BaseSeverity)
		case m.CVSSV30.BaseScore > 0:
			finding.CVSS = m.CVSSV30.BaseScore
			finding.Severity = normalizeSeverity(m.CVSSV30.BaseSeverity)
		default:
			continue
		}
		break
	}
	if finding.Severity == SeverityInfo && finding.CVSS > 0 {
		finding.Severity = severityFromCVSS(finding.CVSS)
	}
	return finding, nil
}

// -------------- CIRCL Source --------------

const circlBaseURL = "https://cve.circl.lu/api/cve/"

type circlResponse struct {
	ID         string   `json:"id"`
	Summary    string   `json:"summary"`
	References []string `json:"references"`
	CVSS       float64  `json:"cvss"`
	CVSS3      float64  `json:"cvss3"`
}

// circlSource is the last stop in the lookup chain, the public CIRCL CVE
// API. CVSS v3 is preferred over v2 when both are present.
type circlSource struct {
	client *http.Client
	base   string
}

func (s *circlSource) Name() string { return SourceCIRCL }

func (s *circlSource) Detect(context.Context, ServiceFingerprint, string) ([]VulnerabilityFinding, error) {
	return nil, nil
}

func (s *circlSource) Lookup(ctx context.Context, id string) (*VulnerabilityFinding, error) {
	var payload circlResponse
	found, err := getJSON(ctx, s.client, s.base+url.PathEscape(id), &payload)
	if err != nil || !found {
		return nil, err
	}
	if payload.ID == "" {
		return nil, nil
	}

	score := payload.CVSS
	if payload.CVSS3 > 0 {
		score = payload.CVSS3
	}
	description := payload.Summary
	if description == "" {
		description = "No description available"
	}
	return &VulnerabilityFinding{
		ID:          payload.ID,
		Severity:    severityFromCVSS(score),
		CVSS:        score,
		Description: description,
		Source:      SourceCIRCL,
		References:  payload.References,
	}, nil
}
