// Package apierr defines the failure kinds reported by the Mosoblgaz portal client
// and how a scheduler should react to each of them.
package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of portal failure.
type Kind int

const (
	// KindGeneric is a portal failure without a more specific class.
	KindGeneric Kind = iota
	// KindAuthenticationFailed covers credentials, session and CAPTCHA problems.
	KindAuthenticationFailed
	// KindRequestFailed covers transport failures.
	KindRequestFailed
	// KindQueryFailed covers GraphQL batch failures (decoding, timeouts).
	KindQueryFailed
	// KindPartialOffline is reported when the portal signals a maintenance window.
	KindPartialOffline
	// KindContractUpdateRequired is returned when contract data is read before it was fetched.
	KindContractUpdateRequired
	// KindQueryNotFound is returned for an unknown query template.
	KindQueryNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindRequestFailed:
		return "request failed"
	case KindQueryFailed:
		return "query failed"
	case KindPartialOffline:
		return "partially offline"
	case KindContractUpdateRequired:
		return "contract update required"
	case KindQueryNotFound:
		return "query not found"
	default:
		return "mosoblgaz error"
	}
}

// Sentinels for errors.Is. Every *Error matches ErrMosoblgaz and the sentinel of
// its own kind; query failures also match ErrRequestFailed.
var (
	ErrMosoblgaz              = errors.New("mosoblgaz error")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrRequestFailed          = errors.New("request failed")
	ErrQueryFailed            = errors.New("query failed")
	ErrPartialOffline         = errors.New("service is partially offline")
	ErrContractUpdateRequired = errors.New("contract update required")
	ErrQueryNotFound          = errors.New("query not found")
)

var kindSentinels = map[Kind]error{
	KindAuthenticationFailed:   ErrAuthenticationFailed,
	KindRequestFailed:          ErrRequestFailed,
	KindQueryFailed:            ErrQueryFailed,
	KindPartialOffline:         ErrPartialOffline,
	KindContractUpdateRequired: ErrContractUpdateRequired,
	KindQueryNotFound:          ErrQueryNotFound,
}

// Error is a classified portal failure with a human-readable reason.
type Error struct {
	Err    error
	Reason string
	Kind   Kind
}

// New returns an error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf returns an error of the given kind with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind caused by err.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is one of the sentinels this error belongs to.
func (e *Error) Is(target error) bool {
	if target == ErrMosoblgaz {
		return true
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	return e.Kind == KindQueryFailed && target == ErrRequestFailed
}

// AuthenticationFailed reports rejected credentials or a stale session.
func AuthenticationFailed(reason string) *Error { return New(KindAuthenticationFailed, reason) }

// RequestFailed reports a transport failure; err is the cause.
func RequestFailed(reason string, err error) *Error { return Wrap(KindRequestFailed, reason, err) }

// QueryFailed reports a GraphQL batch the portal answered with an error or an
// undecodable body.
func QueryFailed(reason string, err error) *Error { return Wrap(KindQueryFailed, reason, err) }

// PartialOffline reports degraded internal system statuses.
func PartialOffline(reason string) *Error { return New(KindPartialOffline, reason) }

// QueryNotFound reports an unknown query template name.
func QueryNotFound(name string) *Error {
	return Newf(KindQueryNotFound, "no query template named %q", name)
}

// ContractUpdateRequired reports access to contract data before it was fetched.
func ContractUpdateRequired(contract string) *Error {
	return Newf(KindContractUpdateRequired, "contract %s has no data, fetch it first", contract)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindGeneric, false
}

// Default values used by the portal when a push failure carries no details.
const (
	DefaultPushErrorCode = 999
	DefaultPushErrorText = "Unknown error"
)

// PushError is returned when the portal rejects a meter reading.
type PushError struct {
	Text string
	Code int
}

func (e *PushError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Code, e.Text)
}

// Is makes push failures match ErrMosoblgaz.
func (e *PushError) Is(target error) bool {
	return target == ErrMosoblgaz
}
