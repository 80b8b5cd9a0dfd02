package prospector

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// ExpandTargets expands every target specification in specs and merges the
// results, deduplicating across specifications while preserving first-seen
// order. The returned order fixes the host order of the final report.
func ExpandTargets(ctx context.Context, specs []string, ceiling int, resolver Resolver) ([]string, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no targets given", ErrInvalidTarget)
	}

	seen := make(map[string]struct{})
	var addresses []string
	for _, spec := range specs {
		expanded, err := ExpandTarget(ctx, spec, ceiling, resolver)
		if err != nil {
			return nil, err
		}
		for _, addr := range expanded {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			addresses = append(addresses, addr)
		}
	}
	return addresses, nil
}

// ExpandTarget turns a single target specification into an ordered list of
// addresses. Accepted forms: a single IP address, a hyphenated IPv4 range
// ("192.168.1.10-192.168.1.20"), CIDR notation, or a hostname handed to the
// resolver.
func ExpandTarget(ctx context.Context, spec string, ceiling int, resolver Resolver) ([]string, error) {
	target := strings.TrimSpace(spec)
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	if strings.Contains(target, "/") {
		return expandCIDR(target, ceiling)
	}
	if ip := net.ParseIP(target); ip != nil {
		return []string{ip.String()}, nil
	}
	// A range starts with a full IPv4 address followed by a hyphen. Anything
	// else containing hyphens may still be a legitimate hostname.
	if idx := strings.IndexByte(target, '-'); idx > 0 && IsValidIPv4(strings.TrimSpace(target[:idx])) {
		return expandIPRange(target[:idx], target[idx+1:], ceiling)
	}
	if IsValidHostname(target) {
		return resolveTarget(ctx, target, resolver)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
}

// expandCIDR enumerates every address in an IPv4 CIDR block, network and
// broadcast addresses included, in numeric order.
func expandCIDR(target string, ceiling int) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	base, ok := ipToUint32(ipNet.IP)
	if !ok {
		return nil, fmt.Errorf("%w: only IPv4 CIDR blocks are supported: %s", ErrInvalidTarget, target)
	}

	ones, bits := ipNet.Mask.Size()
	count := uint64(1) << uint(bits-ones)
	if ceiling > 0 && count > uint64(ceiling) {
		return nil, fmt.Errorf("%w: %s expands to %d addresses (limit %d)", ErrTargetTooLarge, target, count, ceiling)
	}

	addresses := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		addresses = append(addresses, uint32ToIP(base+uint32(i)).String())
	}
	return addresses, nil
}

// expandIPRange enumerates an inclusive IPv4 range given as full addresses on
// both sides of the hyphen.
func expandIPRange(start, end string, ceiling int) ([]string, error) {
	startIP := net.ParseIP(strings.TrimSpace(start))
	endIP := net.ParseIP(strings.TrimSpace(end))
	if startIP == nil || endIP == nil {
		return nil, fmt.Errorf("%w: malformed address range %s-%s", ErrInvalidTarget, start, end)
	}

	startInt, startOK := ipToUint32(startIP)
	endInt, endOK := ipToUint32(endIP)
	if !startOK || !endOK {
		return nil, fmt.Errorf("%w: only IPv4 ranges are supported: %s-%s", ErrInvalidTarget, start, end)
	}
	if endInt < startInt {
		return nil, fmt.Errorf("%w: range end precedes start: %s-%s", ErrInvalidTarget, start, end)
	}

	count := uint64(endInt-startInt) + 1
	if ceiling > 0 && count > uint64(ceiling) {
		return nil, fmt.Errorf("%w: range spans %d addresses (limit %d)", ErrTargetTooLarge, count, ceiling)
	}

	addresses := make([]string, 0, count)
	for i := startInt; ; i++ {
		addresses = append(addresses, uint32ToIP(i).String())
		if i == endInt {
			break
		}
	}
	return addresses, nil
}

// resolveTarget resolves a hostname to scan addresses, preferring the first
// IPv4 answer.
func resolveTarget(ctx context.Context, name string, resolver Resolver) ([]string, error) {
	if resolver == nil {
		resolver = NewNetResolver(nil)
	}

	ips, err := resolver.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolutionFailed, name, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: no addresses found for %s", ErrResolutionFailed, name)
	}

	for _, ip := range ips {
		if ip.To4() != nil {
			return []string{ip.String()}, nil
		}
	}
	return []string{ips[0].String()}, nil
}
