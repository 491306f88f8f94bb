package probes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
)

// Ping shells out to the system ping binary and parses its summary.
// The run seam exists so tests can feed captured output instead of
// sending real ICMP, which needs privileges on most hosts.
type Ping struct {
	opts Options
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewPing(opts Options) *Ping {
	return &Ping{
		opts: opts.withDefaults(),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (p *Ping) Kind() domain.ProbeKind { return domain.KindPing }

func (p *Ping) Probe(ctx context.Context, target string) domain.ProbeOutcome {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	out, err := p.run(ctx, "ping", pingArgs(runtime.GOOS, p.opts.PingCount, p.opts.Timeout, target)...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(domain.CodeTimeout, fmt.Sprintf("ping %s timed out after %s", target, p.opts.Timeout))
	}

	stats, perr := parsePingOutput(string(out))
	if perr != nil {
		if err != nil {
			return failure(domain.CodeHostUnreachable, fmt.Sprintf("ping %s failed: %s", target, firstLine(out)))
		}
		return failure(domain.CodeProtocolError, fmt.Sprintf("unrecognized ping output for %s", target))
	}

	if stats.Received == 0 {
		loss := 100.0
		outcome := failure(domain.CodeHostUnreachable,
			fmt.Sprintf("%s did not answer any of %d pings", target, stats.Transmitted))
		outcome.PacketLoss = &loss
		return outcome
	}

	outcome := domain.ProbeOutcome{
		Success:    true,
		Message:    fmt.Sprintf("%d/%d replies from %s", stats.Received, stats.Transmitted, target),
		PacketLoss: &stats.LossPercent,
	}
	if stats.AvgRTTMs >= 0 {
		outcome.RTTMs = &stats.AvgRTTMs
	}
	return outcome
}

// pingArgs builds the platform invocation. Counts and deadlines are
// spelled differently on every OS.
func pingArgs(goos string, count int, timeout time.Duration, target string) []string {
	n := strconv.Itoa(count)
	switch goos {
	case "windows":
		millis := int(timeout.Milliseconds())
		if millis <= 0 {
			millis = 1000
		}
		return []string{"-n", n, "-w", strconv.Itoa(millis), target}
	case "darwin":
		return []string{"-c", n, "-t", strconv.Itoa(deadlineSeconds(timeout)), target}
	default:
		return []string{"-c", n, "-w", strconv.Itoa(deadlineSeconds(timeout)), target}
	}
}

func deadlineSeconds(timeout time.Duration) int {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func firstLine(out []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(out), []byte("\n"))
	return string(line)
}
