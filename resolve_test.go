package prospector

import (
	"strings"
	"testing"
)

type nbEntry struct {
	name   string
	suffix byte
	flags  uint16
}

// buildNodeStatus assembles an NBSTAT answer: header, echoed question name,
// resource record fixed fields, then the node name table.
func buildNodeStatus(entries ...nbEntry) []byte {
	resp := make([]byte, 0, 128)
	resp = append(resp, 0x13, 0x37, 0x84, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00)
	resp = append(resp, 0x20)
	resp = append(resp, strings.Repeat("A", 32)...)
	resp = append(resp, 0x00)
	resp = append(resp, 0x00, 0x21)             // type NBSTAT
	resp = append(resp, 0x00, 0x01)             // class IN
	resp = append(resp, 0x00, 0x00, 0x00, 0x00) // TTL
	resp = append(resp, 0x00, 0x00)             // RDLENGTH
	resp = append(resp, byte(len(entries)))
	for _, e := range entries {
		name := e.name
		for len(name) < 15 {
			name += " "
		}
		resp = append(resp, name...)
		resp = append(resp, e.suffix)
		resp = append(resp, byte(e.flags>>8), byte(e.flags))
	}
	return resp
}

func TestParseNodeStatus(t *testing.T) {
	t.Run("workstation name after group entry", func(t *testing.T) {
		resp := buildNodeStatus(
			nbEntry{name: "WORKGROUP", suffix: 0x00, flags: 0x8400},
			nbEntry{name: "TESTBOX", suffix: 0x00, flags: 0x0400},
		)
		name, err := parseNodeStatus(resp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "TESTBOX" {
			t.Fatalf("got %q want TESTBOX", name)
		}
	})

	t.Run("service suffix skipped", func(t *testing.T) {
		resp := buildNodeStatus(
			nbEntry{name: "FILESRV", suffix: 0x20, flags: 0x0400},
			nbEntry{name: "FILESRV", suffix: 0x00, flags: 0x0400},
		)
		name, err := parseNodeStatus(resp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "FILESRV" {
			t.Fatalf("got %q want FILESRV", name)
		}
	})

	t.Run("group names only", func(t *testing.T) {
		resp := buildNodeStatus(
			nbEntry{name: "WORKGROUP", suffix: 0x00, flags: 0x8400},
		)
		if _, err := parseNodeStatus(resp); err == nil {
			t.Fatal("group-only table produced a name")
		}
	})

	t.Run("short response", func(t *testing.T) {
		if _, err := parseNodeStatus([]byte{0x13, 0x37}); err == nil {
			t.Fatal("short response accepted")
		}
	})

	t.Run("truncated after question", func(t *testing.T) {
		resp := buildNodeStatus()
		resp = resp[:46] // header plus echoed name, fixed fields cut off
		if _, err := parseNodeStatus(resp); err == nil {
			t.Fatal("truncated response accepted")
		}
	})

	t.Run("count exceeds data", func(t *testing.T) {
		resp := buildNodeStatus(
			nbEntry{name: "WORKGROUP", suffix: 0x00, flags: 0x8400},
		)
		resp[56] = 3 // claims more entries than the packet carries
		if _, err := parseNodeStatus(resp); err == nil {
			t.Fatal("overlong count accepted")
		}
	})
}

func TestNBStatQuery(t *testing.T) {
	query := nbstatQuery()
	if len(query) != 50 {
		t.Fatalf("query length %d, want 50", len(query))
	}
	if query[0] != 0x13 || query[1] != 0x37 {
		t.Fatalf("transaction id %x %x", query[0], query[1])
	}
	if query[12] != 0x20 || query[13] != 'C' || query[14] != 'K' {
		t.Fatalf("encoded wildcard name starts %x %c %c", query[12], query[13], query[14])
	}
	if query[45] != 0x00 {
		t.Fatalf("name not terminated: %x", query[45])
	}
	if query[46] != 0x00 || query[47] != 0x21 {
		t.Fatalf("question type %x%x, want 0021", query[46], query[47])
	}
	if query[48] != 0x00 || query[49] != 0x01 {
		t.Fatalf("question class %x%x, want 0001", query[48], query[49])
	}
}
