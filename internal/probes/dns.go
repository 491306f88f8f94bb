package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
)

// DNS resolves the target's addresses and measures how long it took.
type DNS struct {
	opts   Options
	lookup func(ctx context.Context, host string) ([]string, error)
}

func NewDNS(opts Options) *DNS {
	return &DNS{
		opts:   opts.withDefaults(),
		lookup: net.DefaultResolver.LookupHost,
	}
}

func (d *DNS) Kind() domain.ProbeKind { return domain.KindDNS }

func (d *DNS) Probe(ctx context.Context, target string) domain.ProbeOutcome {
	host := strings.TrimSpace(target)
	if host == "" {
		return failure(domain.CodeInvalidTarget, "empty hostname")
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	addrs, err := d.lookup(ctx, host)
	elapsed := ms(time.Since(start))
	if err != nil {
		return classifyDNSError(host, err)
	}

	sort.Strings(addrs)
	return domain.ProbeOutcome{
		Success:   true,
		Message:   fmt.Sprintf("%s resolved to %d addresses", host, len(addrs)),
		Addresses: addrs,
		ResolveMs: &elapsed,
	}
}

func classifyDNSError(host string, err error) domain.ProbeOutcome {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return failure(domain.CodeDomainNotFound, fmt.Sprintf("%s does not exist", host))
	case errors.As(err, &dnsErr) && dnsErr.IsTimeout,
		errors.Is(err, context.DeadlineExceeded):
		return failure(domain.CodeTimeout, fmt.Sprintf("resolving %s timed out", host))
	default:
		return failure(domain.CodeDNSError, fmt.Sprintf("resolving %s failed: %v", host, err))
	}
}
