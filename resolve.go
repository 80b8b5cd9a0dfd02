package prospector

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// Resolver turns a hostname into candidate scan addresses.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]net.IP, error)
}

// hostResolver adds display name resolution on top of address resolution.
// The engine depends on this interface so name lookups can be faked out.
type hostResolver interface {
	Resolver
	DisplayName(ctx context.Context, address string) string
}

// NetResolver is the default Resolver. It wraps the system DNS resolver with
// an optional answer cache and also produces display names for scanned
// addresses (reverse DNS, then a NetBIOS node status query, then the address
// itself).
type NetResolver struct {
	resolver *net.Resolver
	cache    *CachingService
	timeout  time.Duration
}

// NewNetResolver creates a resolver backed by the system DNS configuration.
// The cache may be nil.
func NewNetResolver(cache *CachingService) *NetResolver {
	return &NetResolver{
		resolver: net.DefaultResolver,
		cache:    cache,
		timeout:  2 * time.Second,
	}
}

// Resolve returns the addresses a hostname resolves to.
func (r *NetResolver) Resolve(ctx context.Context, name string) ([]net.IP, error) {
	if ips, ok := r.cache.GetDNS(name); ok {
		return ips, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ips, err := r.resolver.LookupIP(lookupCtx, "ip", name)
	if err != nil {
		return nil, err
	}
	r.cache.SetDNS(name, ips)
	return ips, nil
}

// DisplayName returns the friendliest name available for an address: the
// reverse DNS name when one exists, otherwise the NetBIOS machine name,
// otherwise the address literal. Never fails.
func (r *NetResolver) DisplayName(ctx context.Context, address string) string {
	if name, ok := r.cache.GetDisplayName(address); ok {
		return name
	}

	name := address
	if ptr := r.reverseLookup(ctx, address); ptr != "" {
		name = ptr
	} else if nb, err := netbiosName(ctx, address, r.timeout); err == nil && nb != "" {
		name = nb
	}

	r.cache.SetDisplayName(address, name)
	return name
}

func (r *NetResolver) reverseLookup(ctx context.Context, address string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := r.resolver.LookupAddr(lookupCtx, address)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// netbiosName sends a NetBIOS node status query (NBSTAT, UDP 137) and
// returns the first unique workstation name in the answer.
func netbiosName(ctx context.Context, address string, timeout time.Duration) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "udp", net.JoinHostPort(address, "137"))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write(nbstatQuery()); err != nil {
		return "", err
	}

	resp := make([]byte, 576)
	n, err := conn.Read(resp)
	if err != nil {
		return "", err
	}
	return parseNodeStatus(resp[:n])
}

// nbstatQuery builds a node status request for the wildcard name "*".
func nbstatQuery() []byte {
	query := make([]byte, 0, 50)
	query = append(query, 0x13, 0x37) // transaction id
	query = append(query, 0x00, 0x00) // flags
	query = append(query, 0x00, 0x01) // one question
	query = append(query, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	query = append(query, 0x20)      // encoded name length
	query = append(query, 'C', 'K')  // "*" in first-level encoding
	for i := 0; i < 30; i++ {
		query = append(query, 'A') // padding nulls, encoded
	}
	query = append(query, 0x00)       // name terminator
	query = append(query, 0x00, 0x21) // type NBSTAT
	query = append(query, 0x00, 0x01) // class IN
	return query
}

// parseNodeStatus extracts the first unique workstation name from a node
// status response.
func parseNodeStatus(resp []byte) (string, error) {
	if len(resp) < 12 {
		return "", fmt.Errorf("node status response too short (%d bytes)", len(resp))
	}

	// Skip the header and the echoed question name, then type, class, TTL
	// and RDLENGTH.
	idx := 12
	for idx < len(resp) && resp[idx] != 0x00 {
		idx += int(resp[idx]) + 1
	}
	idx += 1 + 2 + 2 + 4 + 2
	if idx >= len(resp) {
		return "", fmt.Errorf("truncated node status response")
	}

	count := int(resp[idx])
	idx++
	for i := 0; i < count; i++ {
		entry := idx + i*18
		if entry+18 > len(resp) {
			break
		}
		name := strings.TrimRight(string(resp[entry:entry+15]), " \x00")
		suffix := resp[entry+15]
		flags := binary.BigEndian.Uint16(resp[entry+16 : entry+18])
		// Suffix 0x00 is the workstation service; the group bit marks
		// domain names rather than machine names.
		if suffix == 0x00 && flags&0x8000 == 0 && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("no unique workstation name in node status response")
}
