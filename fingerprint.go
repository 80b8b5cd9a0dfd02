package prospector

import (
	"regexp"
	"strings"
)

// ServiceFingerprint describes the service guessed for an open port.
type ServiceFingerprint struct {
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	Protocol string `json:"protocol"`
}

// Protocol families for fingerprints.
const (
	ProtocolTCP = "tcp"
	ProtocolOT  = "ot"
)

// commonPortServices maps well-known ports to their default service names.
// Industrial protocol ports are looked up separately in otProtocols.
var commonPortServices = map[int]string{
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	80:   "HTTP",
	88:   "Kerberos",
	110:  "POP3",
	111:  "RPC",
	119:  "NNTP",
	123:  "NTP",
	135:  "MS-RPC",
	137:  "NetBIOS-NS",
	138:  "NetBIOS-DGM",
	139:  "NetBIOS-SSN",
	143:  "IMAP",
	161:  "SNMP",
	162:  "SNMP-Trap",
	389:  "LDAP",
	443:  "HTTPS",
	445:  "Microsoft-DS",
	464:  "Kerberos",
	465:  "SMTPS",
	500:  "IKE/ISAKMP",
	514:  "SysLog",
	587:  "SMTP Submission",
	636:  "LDAPS",
	993:  "IMAPS",
	995:  "POP3S",
	1080: "SOCKS",
	1433: "MS SQL",
	1434: "MS SQL Browser",
	1521: "Oracle DB",
	1723: "PPTP",
	3306: "MySQL",
	3389: "RDP",
	5432: "PostgreSQL",
	5900: "VNC",
	5901: "VNC-1",
	5902: "VNC-2",
	5903: "VNC-3",
	8080: "HTTP-Proxy",
	8443: "HTTPS-Alt",
}

// bannerSignature is one ordered banner heuristic: when match fires, the
// fingerprint takes the signature's service name and the first capture group
// of version, if any.
type bannerSignature struct {
	service string
	match   *regexp.Regexp
	version *regexp.Regexp
}

var bannerSignatures = []bannerSignature{
	{service: "ssh", match: regexp.MustCompile(`(?i)^SSH-|OpenSSH`), version: regexp.MustCompile(`OpenSSH[_-](\d+\.\d+[pP]?\d*)`)},
	{service: "apache", match: regexp.MustCompile(`(?i)Apache/\d`), version: regexp.MustCompile(`(?i)Apache/(\d+\.\d+(?:\.\d+)?)`)},
	{service: "nginx", match: regexp.MustCompile(`(?i)nginx/\d`), version: regexp.MustCompile(`(?i)nginx/(\d+\.\d+(?:\.\d+)?)`)},
	{service: "iis", match: regexp.MustCompile(`(?i)Microsoft-IIS/\d`), version: regexp.MustCompile(`(?i)Microsoft-IIS/(\d+\.\d+)`)},
	{service: "http", match: regexp.MustCompile(`(?i)^HTTP/\d|\r\nServer:`)},
	{service: "ftp", match: regexp.MustCompile(`(?i)^220[ -].*ftp|vsftpd|FileZilla|ProFTPD`), version: regexp.MustCompile(`(?i)vsftpd (\d+\.\d+(?:\.\d+)?)`)},
	{service: "smtp", match: regexp.MustCompile(`(?i)^220[ -].*(?:smtp|esmtp)|Postfix|Exim|Sendmail`)},
	{service: "pop3", match: regexp.MustCompile(`(?i)^\+OK.*pop|POP3`)},
	{service: "imap", match: regexp.MustCompile(`(?i)^\* OK.*imap|IMAP4`)},
	{service: "mysql", match: regexp.MustCompile(`(?i)mysql|mariadb`), version: regexp.MustCompile(`(\d+\.\d+\.\d+)`)},
	{service: "rdp", match: regexp.MustCompile(`^\x03\x00`)},
	{service: "telnet", match: regexp.MustCompile(`(?i)telnet|^\xff[\xfb-\xfe]|login:`)},
}

// Classify derives a service fingerprint from a probe response. It performs
// no I/O and never blocks: heuristics run in a fixed order and the first
// confident match wins.
func Classify(port int, banner []byte) ServiceFingerprint {
	if name, ok := otProtocols[port]; ok && validateOTResponse(port, banner) {
		return ServiceFingerprint{Service: name, Protocol: ProtocolOT}
	}

	if len(banner) > 0 {
		if fp, ok := classifyBanner(banner); ok {
			return fp
		}
	}

	if name, ok := otProtocols[port]; ok {
		return ServiceFingerprint{Service: name, Protocol: ProtocolOT}
	}
	if name, ok := commonPortServices[port]; ok {
		return ServiceFingerprint{Service: name, Protocol: ProtocolTCP}
	}
	return ServiceFingerprint{Service: "unknown", Protocol: ProtocolTCP}
}

func classifyBanner(banner []byte) (ServiceFingerprint, bool) {
	text := string(banner)
	for _, sig := range bannerSignatures {
		if !sig.match.MatchString(text) {
			continue
		}
		fp := ServiceFingerprint{Service: sig.service, Protocol: ProtocolTCP}
		if sig.version != nil {
			if m := sig.version.FindStringSubmatch(text); len(m) > 1 {
				fp.Version = m[1]
			}
		}
		return fp, true
	}
	return ServiceFingerprint{}, false
}

// osPattern maps a banner substring to an operating system guess. Patterns
// are checked in order; more specific entries come first.
type osPattern struct {
	substring string
	os        string
}

var osPatterns = []osPattern{
	{"windows 10", "Windows 10/Server 2019"},
	{"windows server 2019", "Windows 10/Server 2019"},
	{"windows server 2016", "Windows Server 2016"},
	{"windows server 2012", "Windows Server 2012"},
	{"windows 7", "Windows 7/Server 2008"},
	{"windows server 2008", "Windows 7/Server 2008"},
	{"windows", "Windows"},
	{"ubuntu", "Ubuntu Linux"},
	{"debian", "Debian Linux"},
	{"centos", "CentOS Linux"},
	{"red hat", "Red Hat Linux"},
	{"rhel", "Red Hat Linux"},
	{"fedora", "Fedora Linux"},
	{"linux", "Linux"},
	{"freebsd", "FreeBSD"},
	{"openbsd", "OpenBSD"},
	{"macos", "macOS"},
	{"mac os", "macOS"},
}

// GuessOS infers an operating system from the banners collected for a host.
// Returns the empty string when nothing matches.
func GuessOS(banners []string) string {
	joined := strings.ToLower(strings.Join(banners, " "))
	if joined == "" {
		return ""
	}
	for _, p := range osPatterns {
		if strings.Contains(joined, p.substring) {
			return p.os
		}
	}
	return ""
}
