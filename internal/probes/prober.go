// Package probes implements the ping, dns and http measurement
// strategies behind a common interface so workers stay agnostic of
// how a given kind is executed.
package probes

import (
	"fmt"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultPingCount = 3
)

// Options tunes probe execution.
type Options struct {
	// Timeout bounds a single probe end to end.
	Timeout time.Duration
	// PingCount is how many echo requests one ping probe sends.
	PingCount int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PingCount <= 0 {
		o.PingCount = DefaultPingCount
	}
	return o
}

// New returns the prober implementing the given kind.
func New(kind domain.ProbeKind, opts Options) (ports.Prober, error) {
	switch kind {
	case domain.KindPing:
		return NewPing(opts), nil
	case domain.KindDNS:
		return NewDNS(opts), nil
	case domain.KindHTTP:
		return NewHTTP(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, kind)
	}
}

func failure(code, msg string) domain.ProbeOutcome {
	return domain.ProbeOutcome{Success: false, ErrorCode: code, Message: msg}
}

// ms converts a duration to fractional milliseconds.
func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
