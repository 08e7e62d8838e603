package services

import (
	"errors"
	"fmt"
	"strings"
)

// Failure markers attached to per-entry errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrTimeout   = errors.New("timeout")
	ErrTransient = errors.New("transient failure")
	ErrRemote    = errors.New("remote error")
)

var markers = []error{ErrNotFound, ErrTimeout, ErrTransient, ErrRemote}

// Wrap tags err with marker and prefixes it with the stage and operation it
// failed in. A nil marker means ErrTransient.
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

// Message strips the marker prefix from a wrapped error so it reads well in an
// entry's error list.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range markers {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{stage, operation, message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
