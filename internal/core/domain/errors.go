package domain

import "errors"

// Sentinel errors for the dispatch path. Probe-level failures never use
// these: they travel inside ProbeOutcome as an error code.
var (
	ErrUnsupportedKind = errors.New("unsupported probe kind")
	ErrInvalidTarget   = errors.New("invalid probe target")
	ErrBusUnavailable  = errors.New("message bus unavailable")
	ErrDispatchFailed  = errors.New("job dispatch failed")
)

// Error codes carried in ProbeOutcome.ErrorCode.
const (
	CodeHostUnreachable = "HOST_UNREACHABLE"
	CodeTimeout         = "TIMEOUT"
	CodeProtocolError   = "PROTOCOL_ERROR"
	CodeDomainNotFound  = "DOMAIN_NOT_FOUND"
	CodeDNSError        = "DNS_ERROR"
	CodeInvalidTarget   = "INVALID_TARGET"
	CodeInternalError   = "INTERNAL_ERROR"
)
