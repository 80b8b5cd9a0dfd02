package prospector

import (
	"reflect"
	"testing"
)

func TestClassify_BannerSignatures(t *testing.T) {
	cases := map[string]struct {
		port   int
		banner string
		want   ServiceFingerprint
	}{
		"openssh with version": {
			port:   22,
			banner: "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5",
			want:   ServiceFingerprint{Service: "ssh", Version: "8.2p1", Protocol: ProtocolTCP},
		},
		"apache with version": {
			port:   80,
			banner: "HTTP/1.1 200 OK\r\nServer: Apache/2.4.41 (Ubuntu)\r\n",
			want:   ServiceFingerprint{Service: "apache", Version: "2.4.41", Protocol: ProtocolTCP},
		},
		"nginx with version": {
			port:   8080,
			banner: "HTTP/1.1 403 Forbidden\r\nServer: nginx/1.18.0\r\n",
			want:   ServiceFingerprint{Service: "nginx", Version: "1.18.0", Protocol: ProtocolTCP},
		},
		"iis": {
			port:   80,
			banner: "HTTP/1.1 200 OK\r\nServer: Microsoft-IIS/10.0\r\n",
			want:   ServiceFingerprint{Service: "iis", Version: "10.0", Protocol: ProtocolTCP},
		},
		"generic http without server header": {
			port:   8443,
			banner: "HTTP/1.0 400 Bad Request",
			want:   ServiceFingerprint{Service: "http", Protocol: ProtocolTCP},
		},
		"vsftpd": {
			port:   21,
			banner: "220 (vsFTPd 3.0.3)",
			want:   ServiceFingerprint{Service: "ftp", Version: "3.0.3", Protocol: ProtocolTCP},
		},
		"mysql handshake": {
			port:   3306,
			banner: "J\x00\x00\x00\x0a5.7.33-0ubuntu0 mysql_native_password",
			want:   ServiceFingerprint{Service: "mysql", Version: "5.7.33", Protocol: ProtocolTCP},
		},
		"banner wins over port default": {
			port:   8080,
			banner: "SSH-2.0-dropbear_2020.81",
			want:   ServiceFingerprint{Service: "ssh", Protocol: ProtocolTCP},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Classify(tc.port, []byte(tc.banner))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestClassify_PortDefaults(t *testing.T) {
	cases := map[string]struct {
		port   int
		banner string
		want   ServiceFingerprint
	}{
		"well-known port, silent": {
			port: 3306,
			want: ServiceFingerprint{Service: "MySQL", Protocol: ProtocolTCP},
		},
		"well-known port, unmatched banner": {
			port:   3306,
			banner: "x!binary!x",
			want:   ServiceFingerprint{Service: "MySQL", Protocol: ProtocolTCP},
		},
		"unknown port, silent": {
			port: 49152,
			want: ServiceFingerprint{Service: "unknown", Protocol: ProtocolTCP},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Classify(tc.port, []byte(tc.banner))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestClassify_OTPorts(t *testing.T) {
	// A Modbus response with a valid MBAP header confirms the protocol
	// before any banner heuristic runs.
	mbap := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x00}
	got := Classify(502, mbap)
	want := ServiceFingerprint{Service: "Modbus TCP", Protocol: ProtocolOT}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("validated modbus: got %+v want %+v", got, want)
	}

	// A silent OT port still reports the protocol name for the port.
	got = Classify(502, nil)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("silent modbus port: got %+v want %+v", got, want)
	}

	// An OT port speaking a recognizable IT protocol is reported as that
	// protocol: the magic byte check failed, so the banner decides.
	got = Classify(502, []byte("SSH-2.0-OpenSSH_7.4"))
	if got.Service != "ssh" || got.Protocol != ProtocolTCP {
		t.Fatalf("ssh on OT port: got %+v", got)
	}

	// Without magic bytes or a matching banner the OT default applies.
	got = Classify(47808, []byte("\x00\x00\x00"))
	want = ServiceFingerprint{Service: "BACnet", Protocol: ProtocolOT}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("bacnet fallback: got %+v want %+v", got, want)
	}
}

func TestGuessOS(t *testing.T) {
	cases := map[string]struct {
		banners []string
		want    string
	}{
		"ubuntu from ssh banner": {
			banners: []string{"SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"},
			want:    "Ubuntu Linux",
		},
		"windows server edition": {
			banners: []string{"Microsoft-IIS/10.0", "Windows Server 2019"},
			want:    "Windows 10/Server 2019",
		},
		"specific beats generic": {
			banners: []string{"running Debian GNU/Linux"},
			want:    "Debian Linux",
		},
		"generic windows": {
			banners: []string{"Microsoft Windows Terminal Services"},
			want:    "Windows",
		},
		"freebsd": {
			banners: []string{"220 ftp.example.org FreeBSD FTP server ready"},
			want:    "FreeBSD",
		},
		"no match": {
			banners: []string{"220 smtp ready", "HTTP/1.1 200 OK"},
			want:    "",
		},
		"empty": {
			banners: nil,
			want:    "",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := GuessOS(tc.banners)
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
