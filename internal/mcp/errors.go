package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HyphaGroup/assimilate/internal/casemodel"
	"github.com/HyphaGroup/assimilate/internal/handoff"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/session"
)

// internalErrorPatterns contains substrings that indicate internal errors
var internalErrorPatterns = []string{
	"docker",
	"container",
	"exec",
	"connection refused",
	"no such file",
	"permission denied",
	"database",
	"sqlite",
}

// SanitizeError returns a client-safe error message. Errors clients can act
// on pass through; internal details are logged and replaced.
func SanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if isUserFacing(err) {
		return err
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range internalErrorPatterns {
		if strings.Contains(lower, pattern) {
			logger.Error("%s failed (internal): %v", operation, err)
			return fmt.Errorf("%s failed: internal error", operation)
		}
	}

	logger.Error("%s failed: %v", operation, err)
	return fmt.Errorf("%s failed: %s", operation, genericErrorMessage(err.Error()))
}

// isUserFacing reports errors whose text is safe and useful to show.
func isUserFacing(err error) bool {
	for _, target := range []error{
		casemodel.ErrInvalidCase,
		session.ErrNotFound,
		session.ErrNotStarted,
		session.ErrTooManyRuns,
		session.ErrAlreadyJoined,
		handoff.ErrProtocolViolation,
		handoff.ErrTerminated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"not found", "invalid", "required", "must be", "unknown"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// genericErrorMessage extracts a safe portion of the error or returns generic text
func genericErrorMessage(errStr string) string {
	if len(errStr) < 50 {
		return errStr
	}
	return "an unexpected error occurred"
}
