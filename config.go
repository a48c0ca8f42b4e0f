package tracy

import (
	"fmt"
	"log"
	"time"
)

// Config configures a new Agent. It mirrors the parameter list of the
// original library's tracy_init entry point.
type Config struct {
	// Hostname and Process identify this agent in its announce
	// datagrams. Both are required.
	Hostname string
	Process  string

	// FlushInterval bounds how long a submitted event may sit in the
	// buffer before being flushed to a connected client. Required,
	// must be positive.
	FlushInterval time.Duration

	// AnnounceInterval, AnnounceIface, and AnnounceMulticastAddr
	// together control UDP multicast discovery. Announcing is disabled
	// (per spec) if AnnounceInterval is zero, or if either
	// AnnounceIface or AnnounceMulticastAddr is empty.
	AnnounceInterval      time.Duration
	AnnounceIface         string
	AnnounceMulticastAddr string

	// HighWaterMark bounds the submit buffer's total serialized size.
	// Zero selects buffer.DefaultHighWaterMark.
	HighWaterMark int

	// Logger receives session and announce diagnostics. A nil Logger
	// defaults to a standard-library logger writing to os.Stderr.
	Logger *log.Logger
}

func (cfg Config) validate() error {
	if cfg.Hostname == "" {
		return fmt.Errorf("tracy: hostname must not be empty")
	}
	if cfg.Process == "" {
		return fmt.Errorf("tracy: process name must not be empty")
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("tracy: flush interval must be positive")
	}
	return nil
}
