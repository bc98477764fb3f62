package fleet

import (
	"errors"
	"strings"
)

// Status is the derived movement state of a vehicle as shown on the map.
// It is computed upstream from speed, ignition, and telemetry age; the map
// layer only consumes it.
type Status string

const (
	StatusMoving  Status = "moving"
	StatusIdle    Status = "idle"
	StatusStopped Status = "stopped"
	StatusOffline Status = "offline"
)

var ErrInvalidStatus = errors.New("invalid vehicle status")

// ParseStatus normalizes (lowercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the status is one of the allowed status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusMoving, StatusIdle, StatusStopped, StatusOffline:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}
