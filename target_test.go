package prospector

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
)

// stubDNS answers lookups from a fixed table without touching the network.
type stubDNS struct {
	answers map[string][]net.IP
	err     error
	queries []string
}

func (s *stubDNS) Resolve(_ context.Context, name string) ([]net.IP, error) {
	s.queries = append(s.queries, name)
	if s.err != nil {
		return nil, s.err
	}
	return s.answers[name], nil
}

func TestExpandTarget_Literals(t *testing.T) {
	cases := map[string][]string{
		"192.168.1.5":         {"192.168.1.5"},
		" 10.0.0.1 ":          {"10.0.0.1"},
		"2001:db8::1":         {"2001:db8::1"},
		"10.0.0.0/30":         {"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3"},
		"10.0.0.5/30":         {"10.0.0.4", "10.0.0.5", "10.0.0.6", "10.0.0.7"},
		"10.0.0.8/32":         {"10.0.0.8"},
		"10.0.0.10-10.0.0.12": {"10.0.0.10", "10.0.0.11", "10.0.0.12"},
		"10.0.0.10-10.0.0.10": {"10.0.0.10"},
	}
	for spec, want := range cases {
		t.Run(spec, func(t *testing.T) {
			got, err := ExpandTarget(context.Background(), spec, 0, &stubDNS{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestExpandTarget_Invalid(t *testing.T) {
	cases := []string{
		"",                          // empty
		"not a target!",             // illegal characters
		"10.0.0.0/99",               // bad prefix length
		"2001:db8::/64",             // IPv6 block
		"192.168.1.12-192.168.1.10", // reversed range
		"192.168.1.10-garbage",      // malformed range end
	}
	for _, spec := range cases {
		t.Run(spec, func(t *testing.T) {
			_, err := ExpandTarget(context.Background(), spec, 0, &stubDNS{})
			if err == nil {
				t.Fatalf("expected error for spec %q", spec)
			}
			if !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("error %v does not wrap ErrInvalidTarget", err)
			}
		})
	}
}

func TestExpandTarget_Ceiling(t *testing.T) {
	cases := []string{
		"10.0.0.0/24",
		"10.0.0.1-10.0.4.1",
	}
	for _, spec := range cases {
		t.Run(spec, func(t *testing.T) {
			_, err := ExpandTarget(context.Background(), spec, 100, &stubDNS{})
			if !errors.Is(err, ErrTargetTooLarge) {
				t.Fatalf("got error %v, want ErrTargetTooLarge", err)
			}
		})
	}

	// At or under the ceiling the expansion goes through.
	got, err := ExpandTarget(context.Background(), "10.0.0.0/26", 64, &stubDNS{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("got %d addresses, want 64", len(got))
	}
}

func TestExpandTarget_Hostname(t *testing.T) {
	dns := &stubDNS{answers: map[string][]net.IP{
		"db.internal":     {net.ParseIP("2001:db8::1"), net.ParseIP("10.1.2.3")},
		"v6only.internal": {net.ParseIP("2001:db8::2")},
	}}

	// The first IPv4 answer wins even when IPv6 answers come first.
	got, err := ExpandTarget(context.Background(), "db.internal", 0, dns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"10.1.2.3"}) {
		t.Fatalf("got %v want [10.1.2.3]", got)
	}

	// Without an IPv4 answer the first address is used.
	got, err = ExpandTarget(context.Background(), "v6only.internal", 0, dns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"2001:db8::2"}) {
		t.Fatalf("got %v want [2001:db8::2]", got)
	}

	// Hyphenated names are hostnames, not ranges, when the left side is
	// not a full IPv4 address.
	dns.answers["build-server"] = []net.IP{net.ParseIP("10.9.9.9")}
	got, err = ExpandTarget(context.Background(), "build-server", 0, dns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"10.9.9.9"}) {
		t.Fatalf("got %v want [10.9.9.9]", got)
	}
}

func TestExpandTarget_ResolutionFailure(t *testing.T) {
	dns := &stubDNS{err: errors.New("SERVFAIL")}
	_, err := ExpandTarget(context.Background(), "db.internal", 0, dns)
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("got error %v, want ErrResolutionFailed", err)
	}

	empty := &stubDNS{answers: map[string][]net.IP{}}
	_, err = ExpandTarget(context.Background(), "db.internal", 0, empty)
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("got error %v, want ErrResolutionFailed", err)
	}
}

func TestExpandTargets_DedupAcrossSpecs(t *testing.T) {
	specs := []string{"192.168.1.2", "192.168.1.0/30"}
	got, err := ExpandTargets(context.Background(), specs, 0, &stubDNS{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First-seen order: the literal comes first, the overlapping block
	// contributes only the addresses not yet seen.
	want := []string{"192.168.1.2", "192.168.1.0", "192.168.1.1", "192.168.1.3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExpandTargets_Empty(t *testing.T) {
	_, err := ExpandTargets(context.Background(), nil, 0, &stubDNS{})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("got error %v, want ErrInvalidTarget", err)
	}
}

func TestExpandTargets_FailFast(t *testing.T) {
	specs := []string{"192.168.1.1", "bad target!", "192.168.1.2"}
	_, err := ExpandTargets(context.Background(), specs, 0, &stubDNS{})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("got error %v, want ErrInvalidTarget", err)
	}
}
