package probes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
)

// HTTP issues a GET against the target and records status and latency.
// Any response below 400 counts as success.
type HTTP struct {
	opts   Options
	client *http.Client
}

func NewHTTP(opts Options) *HTTP {
	opts = opts.withDefaults()
	return &HTTP{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (h *HTTP) Kind() domain.ProbeKind { return domain.KindHTTP }

func (h *HTTP) Probe(ctx context.Context, target string) domain.ProbeOutcome {
	rawURL, err := normalizeURL(target)
	if err != nil {
		return failure(domain.CodeInvalidTarget, fmt.Sprintf("invalid url %q: %v", target, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure(domain.CodeInvalidTarget, fmt.Sprintf("invalid url %q: %v", target, err))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := ms(time.Since(start))
	if err != nil {
		return classifyHTTPError(rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	outcome := domain.ProbeOutcome{
		StatusCode: &resp.StatusCode,
		ResponseMs: &elapsed,
	}
	if resp.StatusCode < http.StatusBadRequest {
		outcome.Success = true
		outcome.Message = fmt.Sprintf("%s answered %s in %.1fms", rawURL, resp.Status, elapsed)
	} else {
		outcome.ErrorCode = domain.CodeProtocolError
		outcome.Message = fmt.Sprintf("%s answered %s", rawURL, resp.Status)
	}
	return outcome
}

// normalizeURL defaults bare hosts to http.
func normalizeURL(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	return u.String(), nil
}

func classifyHTTPError(rawURL string, err error) domain.ProbeOutcome {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return failure(domain.CodeTimeout, fmt.Sprintf("request to %s timed out", rawURL))
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return failure(domain.CodeDomainNotFound, fmt.Sprintf("host in %s does not exist", rawURL))
		}
		return failure(domain.CodeDNSError, fmt.Sprintf("resolving %s failed: %v", rawURL, err))
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return failure(domain.CodeHostUnreachable, fmt.Sprintf("connecting to %s failed: %v", rawURL, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(domain.CodeTimeout, fmt.Sprintf("request to %s timed out", rawURL))
	}
	return failure(domain.CodeProtocolError, fmt.Sprintf("request to %s failed: %v", rawURL, err))
}
