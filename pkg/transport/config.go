package transport

import (
	"fmt"
	"strings"
	"time"
)

// ErrorStrategy decides what a client send does with delivery failures.
type ErrorStrategy int

const (
	// ThrowError surfaces delivery failures to the caller.
	ThrowError ErrorStrategy = iota
	// Drop logs delivery failures and reports success.
	Drop
)

func (s ErrorStrategy) String() string {
	if s == Drop {
		return "drop"
	}
	return "throw"
}

// ParseErrorStrategy accepts "throw" (or "throw_error") and "drop".
func ParseErrorStrategy(s string) (ErrorStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "throw", "throw_error", "throwerror":
		return ThrowError, nil
	case "drop":
		return Drop, nil
	}
	return ThrowError, fmt.Errorf("unknown error strategy %q", s)
}

// Guarantees is the requested delivery guarantee.
type Guarantees int

const (
	Reliable Guarantees = iota
	Unreliable
)

func (g Guarantees) String() string {
	if g == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// ParseGuarantees accepts "reliable" and "unreliable".
func ParseGuarantees(s string) (Guarantees, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reliable":
		return Reliable, nil
	case "unreliable":
		return Unreliable, nil
	}
	return Reliable, fmt.Errorf("unknown guarantees %q", s)
}

const DefaultRetryTries = 3

// ClientConfig configures a client connection attempt. Zero fields take
// their defaults. Timeout bounds each network attempt (dial plus handshake);
// zero means no bound beyond the caller's context. In-process connections
// ignore Timeout, RetryTries and Guarantees since a local hand-off cannot fail
// transiently.
type ClientConfig struct {
	Timeout       time.Duration
	RetryTries    int
	ErrorStrategy ErrorStrategy
	Guarantees    Guarantees
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{RetryTries: DefaultRetryTries, ErrorStrategy: ThrowError, Guarantees: Reliable}
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.RetryTries <= 0 {
		c.RetryTries = DefaultRetryTries
	}
	return c
}
