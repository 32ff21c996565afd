package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Status is the answer of a permission provider.
type Status int

const (
	// Denied means alarms may not be shown.
	Denied Status = iota
	// Granted means alarms may be shown.
	Granted
)

// String returns "granted" or "denied".
func (s Status) String() string {
	if s == Granted {
		return "granted"
	}

	return "denied"
}

// ParseStatus accepts "granted" or "denied"; empty input means granted.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	default:
		return Denied, fmt.Errorf("unknown permission status %q", s)
	}
}

// Static answers from a fixed, operator-configured decision.
// Request never changes the answer: on a headless host there is nobody to ask.
type Static struct {
	mu       sync.Mutex
	status   Status
	requests int
}

// NewStatic returns a provider that always answers status.
func NewStatic(status Status) *Static {
	return &Static{status: status}
}

// Check returns the configured status.
func (s *Static) Check(context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status, nil
}

// Request counts the request and returns the configured status.
func (s *Static) Request(context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++

	return s.status, nil
}

// Requests reports how many times permission was requested.
func (s *Static) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests
}

// Set changes the answer, e.g. after the operator edits the settings file.
func (s *Static) Set(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}
