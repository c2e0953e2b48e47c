// Package validation checks identifiers and paths that arrive from clients.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// safe path components: alphanumeric, dash, underscore, dot
	safePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	scheduleIDRegex = regexp.MustCompile(`^sched_[0-9a-f]{8}$`)

	// evaluator and container names
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)
)

// ReservedEvaluator is the evaluator name that hands callouts to the client.
const ReservedEvaluator = "remote"

// ValidateUUID accepts only the canonical 36-character UUID form.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if len(id) != 36 {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateRunID validates a run ID
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	return ValidateUUID(id)
}

// ValidateScheduleID validates a schedule ID (sched_ followed by 8 hex digits)
func ValidateScheduleID(id string) error {
	if id == "" {
		return fmt.Errorf("schedule ID cannot be empty")
	}
	if !scheduleIDRegex.MatchString(id) {
		return fmt.Errorf("invalid schedule ID format: %s", id)
	}
	return nil
}

// ValidateEvaluatorName checks a name used as a key in the evaluators section.
func ValidateEvaluatorName(name string) error {
	if name == "" {
		return fmt.Errorf("evaluator name cannot be empty")
	}
	if name == ReservedEvaluator {
		return fmt.Errorf("evaluator name %q is reserved", name)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid evaluator name: %s", name)
	}
	return nil
}

// SanitizePath removes path traversal attempts and validates path components
func SanitizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}

	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}

	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !safePathRegex.MatchString(part) {
			return "", fmt.Errorf("unsafe path component: %s", part)
		}
	}

	return path, nil
}

// ResolveCasePath joins a client-supplied relative case path onto root after
// sanitizing it.
func ResolveCasePath(root, path string) (string, error) {
	clean, err := SanitizePath(path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".json", ".jsonc", ".yaml", ".yml":
	default:
		return "", fmt.Errorf("case file must be .json, .jsonc, .yaml or .yml: %s", path)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

// ValidateContainerRef accepts a container ID (12 to 64 hex digits) or a
// container name.
func ValidateContainerRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("container reference cannot be empty")
	}
	if isHex(ref) && len(ref) >= 12 && len(ref) <= 64 {
		return nil
	}
	if !nameRegex.MatchString(ref) {
		return fmt.Errorf("invalid container reference: %s", ref)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}
