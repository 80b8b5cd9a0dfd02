package prospector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePortSpec parses a port specification into a deduplicated list of port
// numbers in first-seen order. The grammar is the literal "all" (every port
// from 1 to 65535) or a comma separated list of single ports and inclusive
// ranges, e.g. "22,80,8000-8100". Reversed ranges are rejected, never
// swapped.
func ParsePortSpec(spec string) ([]int, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty specification", ErrInvalidPortSpec)
	}

	if strings.EqualFold(trimmed, "all") {
		ports := make([]int, 0, 65535)
		for p := 1; p <= 65535; p++ {
			ports = append(ports, p)
		}
		return ports, nil
	}

	seen := make(map[int]struct{})
	var ports []int
	add := func(p int) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}

	for _, token := range strings.Split(trimmed, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("%w: empty token in %q", ErrInvalidPortSpec, spec)
		}

		if strings.Contains(token, "-") {
			bounds := strings.SplitN(token, "-", 2)
			lo, err := parsePort(bounds[0])
			if err != nil {
				return nil, err
			}
			hi, err := parsePort(bounds[1])
			if err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, fmt.Errorf("%w: reversed range %q", ErrInvalidPortSpec, token)
			}
			for p := lo; p <= hi; p++ {
				add(p)
			}
			continue
		}

		p, err := parsePort(token)
		if err != nil {
			return nil, err
		}
		add(p)
	}
	return ports, nil
}

func parsePort(token string) (int, error) {
	token = strings.TrimSpace(token)
	port, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a port number", ErrInvalidPortSpec, token)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPortSpec, port)
	}
	return port, nil
}

// QuickScanPorts returns the curated well-known port set used by quick mode,
// in ascending order.
func QuickScanPorts() []int {
	ports := make([]int, 0, len(commonPortServices))
	for port := range commonPortServices {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// OTScanPorts returns the industrial protocol port set used by OT mode, in
// ascending order.
func OTScanPorts() []int {
	ports := make([]int, 0, len(otProtocols))
	for port := range otProtocols {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// FormatPortSpec renders a port list as a specification string that
// ParsePortSpec accepts.
func FormatPortSpec(ports []int) string {
	parts := make([]string, len(ports))
	for i, port := range ports {
		parts[i] = strconv.Itoa(port)
	}
	return strings.Join(parts, ",")
}
