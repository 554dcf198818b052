package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error markers classify failures across packages; test with errors.Is.
var (
	// ErrExternalTool marks a failed docker, drapto, SFTP or SSHFS step.
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	// ErrTransient marks storage hiccups the worker loop backs off from.
	ErrTransient = errors.New("transient failure")
	// ErrProtocol marks misuse of the claim protocol by the calling code, such
	// as claiming while a job is outstanding or resolving a handle twice.
	ErrProtocol = errors.New("protocol violation")
)

// Wrap tags err with marker and prefixes it with "stage: operation: message".
// A nil marker defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err should stop the worker instead of being retried
// after a backoff. Configuration faults and protocol violations are fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrProtocol)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "worker failure"
	}
	return strings.Join(parts, ": ")
}
