package prospector

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestIsValidHostname(t *testing.T) {
	cases := map[string]bool{
		"example.com":      true,
		"web-01.lab.local": true,
		"a":                true,
		"-leading":         false,
		"trailing-":        false,
		"under_score":      false,
		"":                 false,
	}
	for hostname, want := range cases {
		if got := IsValidHostname(hostname); got != want {
			t.Fatalf("IsValidHostname(%q) = %v, want %v", hostname, got, want)
		}
	}
	if IsValidHostname(strings.Repeat("a", 254)) {
		t.Fatal("hostname over 253 characters accepted")
	}
}

func TestIPConversionRoundTrip(t *testing.T) {
	value, ok := ipToUint32(net.ParseIP("10.0.0.1"))
	if !ok || value != 0x0A000001 {
		t.Fatalf("got %#x/%v", value, ok)
	}
	if got := uint32ToIP(value).String(); got != "10.0.0.1" {
		t.Fatalf("round trip produced %s", got)
	}
	if _, ok := ipToUint32(net.ParseIP("2001:db8::1")); ok {
		t.Fatal("IPv6 address converted to uint32")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[string]struct {
		d    time.Duration
		want string
	}{
		"microseconds": {500 * time.Microsecond, "500 µs"},
		"milliseconds": {250 * time.Millisecond, "250 ms"},
		"seconds":      {1500 * time.Millisecond, "1.50 sec"},
		"minutes":      {90 * time.Second, "1.50 min"},
		"hours":        {2 * time.Hour, "2.00 hours"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := FormatDuration(tc.d); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
