// Package prospector scans networks for open ports and known service
// vulnerabilities.
package prospector

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Input errors
var (
	ErrEmptyInput         = errors.New("input cannot be empty")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrFileNotFound       = errors.New("file not found")
)

// InputHandler manages user input and validation.
type InputHandler struct {
	logger *zap.Logger
	reader *bufio.Reader
}

// NewInputHandler creates a new instance of InputHandler.
func NewInputHandler(logger *zap.Logger) *InputHandler {
	return &InputHandler{
		logger: logger.With(zap.String("component", "input")),
		reader: bufio.NewReader(os.Stdin),
	}
}

// ResolveTargets normalizes the target list given on the command line.
// Entries prefixed with "@" are expanded from a target file, everything else
// is validated as-is. An empty list falls back to an interactive prompt.
func (ih *InputHandler) ResolveTargets(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return ih.GetDestination()
	}

	var targets []string
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.HasPrefix(entry, "@") {
			fromFile, err := ih.loadTargetsFromFile(strings.TrimPrefix(entry, "@"))
			if err != nil {
				return nil, err
			}
			targets = append(targets, fromFile...)
			continue
		}

		if !isValidTarget(entry) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDestination, entry)
		}
		targets = append(targets, entry)
	}

	if len(targets) == 0 {
		return ih.GetDestination()
	}
	return targets, nil
}

// GetDestination prompts the user for a destination and validates the input.
func (ih *InputHandler) GetDestination() ([]string, error) {
	fmt.Println("\nEnter target IP(s), network(s) or hostname(s) (comma-separated):")
	fmt.Println("  - Individual IPs: 192.168.1.1")
	fmt.Println("  - CIDR notation: 192.168.1.0/24")
	fmt.Println("  - Address ranges: 192.168.1.10-192.168.1.20")
	fmt.Println("  - Target file: @targets.txt")
	fmt.Print("> ")

	input, err := ih.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("user terminated input: %w", err)
		}
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	// Check if the input might be a file with targets
	if strings.HasPrefix(input, "@") {
		return ih.loadTargetsFromFile(strings.TrimPrefix(input, "@"))
	}

	// Split the input into multiple destinations.
	destinations := strings.Split(input, ",")
	var validDestinations []string

	ih.logger.Debug("Processing input destinations", zap.Strings("raw_destinations", destinations))

	for _, dest := range destinations {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}

		if isValidTarget(dest) {
			validDestinations = append(validDestinations, dest)
		} else {
			ih.logger.Warn("Invalid destination detected", zap.String("destination", dest))
			return nil, fmt.Errorf("%w: %s", ErrInvalidDestination, dest)
		}
	}

	if len(validDestinations) == 0 {
		return nil, errors.New("no valid destinations provided")
	}

	ih.logger.Debug("Valid destinations processed", zap.Strings("valid_destinations", validDestinations))
	return validDestinations, nil
}

// loadTargetsFromFile loads targets from a file, one per line.
func (ih *InputHandler) loadTargetsFromFile(filePath string) ([]string, error) {
	// Resolve the file path
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file path: %w", err)
	}

	// Check if the file exists
	_, err = os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}

	// Open and read the file
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var validDestinations []string
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if isValidTarget(line) {
			validDestinations = append(validDestinations, line)
		} else {
			ih.logger.Warn("Invalid destination in file",
				zap.String("file", filePath),
				zap.Int("line", lineNum),
				zap.String("value", line))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	if len(validDestinations) == 0 {
		return nil, errors.New("no valid destinations found in file")
	}

	ih.logger.Info("Loaded targets from file",
		zap.String("file", filePath),
		zap.Int("target_count", len(validDestinations)))
	return validDestinations, nil
}

// isValidTarget mirrors the forms ExpandTarget accepts: an IP address, a CIDR
// block, an IPv4 range or a hostname.
func isValidTarget(spec string) bool {
	if strings.Contains(spec, "/") {
		return IsValidCIDR(spec)
	}
	if IsValidIP(spec) {
		return true
	}
	if idx := strings.IndexByte(spec, '-'); idx > 0 && IsValidIPv4(strings.TrimSpace(spec[:idx])) {
		return IsValidIPv4(strings.TrimSpace(spec[idx+1:]))
	}
	return IsValidHostname(spec)
}
