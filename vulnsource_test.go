package prospector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestGetJSON(t *testing.T) {
	cases := map[string]struct {
		status    int
		body      string
		wantFound bool
		wantErr   bool
	}{
		"success":        {status: http.StatusOK, body: `{"id":"CVE-2024-0001"}`, wantFound: true},
		"missing record": {status: http.StatusNotFound, body: `not found`},
		"rate limited":   {status: http.StatusTooManyRequests, wantErr: true},
		"server error":   {status: http.StatusBadGateway, wantErr: true},
		"malformed body": {status: http.StatusOK, body: `{"id":`, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Accept"); got != "application/json" {
					t.Errorf("Accept header = %q", got)
				}
				if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "Prospector/") {
					t.Errorf("User-Agent header = %q", got)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			var out struct {
				ID string `json:"id"`
			}
			found, err := getJSON(context.Background(), srv.Client(), srv.URL, &out)
			if tc.wantErr {
				if !errors.Is(err, ErrExternalQueryFailed) {
					t.Fatalf("got error %v, want ErrExternalQueryFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("getJSON: %v", err)
			}
			if found != tc.wantFound {
				t.Fatalf("found = %v, want %v", found, tc.wantFound)
			}
			if tc.wantFound && out.ID != "CVE-2024-0001" {
				t.Fatalf("decoded id = %q", out.ID)
			}
		})
	}
}

func TestGetJSON_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	var out struct{}
	_, err := getJSON(context.Background(), http.DefaultClient, srv.URL, &out)
	if !errors.Is(err, ErrExternalQueryFailed) {
		t.Fatalf("got %v, want ErrExternalQueryFailed", err)
	}
}

func TestFindingFromNVD(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want *VulnerabilityFinding
	}{
		"v31 metrics win over v2": {
			doc: `{
				"id": "CVE-2021-44228",
				"descriptions": [
					{"lang": "es", "value": "descripcion"},
					{"lang": "en", "value": "JNDI features do not protect against attacker controlled endpoints"}
				],
				"references": [{"url": "https://logging.apache.org/log4j/2.x/security.html"}],
				"metrics": {
					"cvssMetricV31": [{"cvssData": {"baseScore": 10.0, "baseSeverity": "CRITICAL"}}],
					"cvssMetricV2": [{"cvssData": {"baseScore": 9.3}, "baseSeverity": "HIGH"}]
				}
			}`,
			want: &VulnerabilityFinding{
				ID:          "CVE-2021-44228",
				Severity:    SeverityCritical,
				CVSS:        10.0,
				Description: "JNDI features do not protect against attacker controlled endpoints",
				Source:      SourceNVD,
				References:  []string{"https://logging.apache.org/log4j/2.x/security.html"},
			},
		},
		"v2 fallback derives severity from score": {
			doc: `{
				"id": "CVE-2010-1234",
				"descriptions": [{"lang": "fr", "value": "ancienne faille"}],
				"metrics": {"cvssMetricV2": [{"cvssData": {"baseScore": 5.0}}]}
			}`,
			want: &VulnerabilityFinding{
				ID:          "CVE-2010-1234",
				Severity:    SeverityMedium,
				CVSS:        5.0,
				Description: "ancienne faille",
				Source:      SourceNVD,
			},
		},
		"bare record": {
			doc: `{"id": "CVE-2024-0001"}`,
			want: &VulnerabilityFinding{
				ID:          "CVE-2024-0001",
				Severity:    SeverityInfo,
				Description: "No description available",
				Source:      SourceNVD,
			},
		},
		"missing id": {
			doc:  `{"descriptions": [{"lang": "en", "value": "orphan"}]}`,
			want: nil,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var cve nvdCVE
			if err := json.Unmarshal([]byte(tc.doc), &cve); err != nil {
				t.Fatalf("unmarshal fixture: %v", err)
			}
			got := findingFromNVD(cve)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil finding")
			}
			if got.ID != tc.want.ID || got.Severity != tc.want.Severity || got.CVSS != tc.want.CVSS ||
				got.Description != tc.want.Description || got.Source != tc.want.Source {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
			if len(tc.want.References) > 0 && (len(got.References) != len(tc.want.References) || got.References[0] != tc.want.References[0]) {
				t.Fatalf("references = %v, want %v", got.References, tc.want.References)
			}
		})
	}
}

func TestNVDSource_Detect(t *testing.T) {
	const doc = `{
		"vulnerabilities": [
			{"cve": {
				"id": "CVE-2021-41617",
				"descriptions": [{"lang": "en", "value": "sshd in OpenSSH allows privilege escalation"}],
				"metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 7.0, "baseSeverity": "HIGH"}}]}
			}},
			{"cve": {"id": ""}}
		]
	}`

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.URL.Query().Get("keywordSearch"); got != "ssh 8.2p1" {
			t.Errorf("keywordSearch = %q", got)
		}
		if got := r.URL.Query().Get("resultsPerPage"); got != "5" {
			t.Errorf("resultsPerPage = %q", got)
		}
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	src := &nvdSource{client: srv.Client(), base: srv.URL}

	findings, err := src.Detect(context.Background(), ServiceFingerprint{Service: "ssh", Version: "8.2p1", Protocol: ProtocolTCP}, "")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(findings), findings)
	}
	if findings[0].ID != "CVE-2021-41617" || findings[0].Severity != SeverityHigh {
		t.Fatalf("finding = %+v", findings[0])
	}

	findings, err = src.Detect(context.Background(), ServiceFingerprint{Service: "http", Protocol: ProtocolTCP}, "")
	if err != nil || findings != nil {
		t.Fatalf("versionless fingerprint: %v, %v", findings, err)
	}
	if requests.Load() != 1 {
		t.Fatalf("versionless fingerprint still queried the API: %d requests", requests.Load())
	}
}

func TestNVDSource_Lookup(t *testing.T) {
	const doc = `{
		"vulnerabilities": [
			{"cve": {
				"id": "CVE-2017-9798",
				"descriptions": [{"lang": "en", "value": "Apache httpd allows remote attackers to read secret data"}],
				"metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 7.5, "baseSeverity": "HIGH"}}]}
			}}
		]
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cveId"); got != "CVE-2017-9798" {
			t.Errorf("cveId = %q", got)
		}
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	src := &nvdSource{client: srv.Client(), base: srv.URL}

	finding, err := src.Lookup(context.Background(), "CVE-2017-9798")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding == nil || finding.ID != "CVE-2017-9798" || finding.CVSS != 7.5 {
		t.Fatalf("finding = %+v", finding)
	}
}

func TestMITRESource_Lookup(t *testing.T) {
	const doc = `{
		"cveMetadata": {"cveId": "CVE-2019-0708"},
		"containers": {"cna": {
			"descriptions": [{"lang": "en", "value": "A remote code execution vulnerability exists in Remote Desktop Services"}],
			"references": [{"url": "https://msrc.microsoft.com/CVE-2019-0708"}],
			"metrics": [{"cvssV3_1": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}]
		}}
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/CVE-2019-0708" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	src := &mitreSource{client: srv.Client(), base: srv.URL + "/"}

	finding, err := src.Lookup(context.Background(), "CVE-2019-0708")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding == nil {
		t.Fatal("got nil finding")
	}
	if finding.ID != "CVE-2019-0708" || finding.Severity != SeverityCritical || finding.CVSS != 9.8 {
		t.Fatalf("finding = %+v", finding)
	}
	if !strings.Contains(finding.Description, "Remote Desktop Services") {
		t.Fatalf("description = %q", finding.Description)
	}
	if len(finding.References) != 1 || finding.References[0] != "https://msrc.microsoft.com/CVE-2019-0708" {
		t.Fatalf("references = %v", finding.References)
	}

	finding, err = src.Lookup(context.Background(), "CVE-1999-0000")
	if err != nil || finding != nil {
		t.Fatalf("unknown id: %v, %v", finding, err)
	}
}

func TestCIRCLSource_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/CVE-2014-0160":
			w.Write([]byte(`{
				"id": "CVE-2014-0160",
				"summary": "TLS heartbeat read overrun",
				"references": ["https://heartbleed.com"],
				"cvss": 5.0,
				"cvss3": 7.5
			}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	src := &circlSource{client: srv.Client(), base: srv.URL + "/"}

	finding, err := src.Lookup(context.Background(), "CVE-2014-0160")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if finding == nil {
		t.Fatal("got nil finding")
	}
	if finding.CVSS != 7.5 || finding.Severity != SeverityHigh {
		t.Fatalf("v3 score not preferred: %+v", finding)
	}
	if finding.Description != "TLS heartbeat read overrun" {
		t.Fatalf("description = %q", finding.Description)
	}

	finding, err = src.Lookup(context.Background(), "CVE-0000-0000")
	if err != nil || finding != nil {
		t.Fatalf("empty payload: %v, %v", finding, err)
	}
}
