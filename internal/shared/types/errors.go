package types

import "errors"

// ErrorKind names a failure class on the wire.
type ErrorKind string

const (
	KindNeedPermission   ErrorKind = "NeedPermission"
	KindUnsupportedBody  ErrorKind = "UnsupportedBodyType"
	KindNotFound         ErrorKind = "NotFound"
	KindUpstreamNetwork  ErrorKind = "UpstreamNetworkError"
	KindRuleSyncDegraded ErrorKind = "RuleSyncDegraded"
	KindTimeout          ErrorKind = "Timeout"
	KindClosed           ErrorKind = "Closed"
	KindInvalidRequest   ErrorKind = "InvalidRequest"
	KindInternal         ErrorKind = "Internal"
)

var (
	ErrNeedPermission   = errors.New("need permission")
	ErrUnsupportedBody  = errors.New("unsupported body type")
	ErrNotFound         = errors.New("not found")
	ErrUpstreamNetwork  = errors.New("upstream network error")
	ErrRuleSyncDegraded = errors.New("filter rule sync degraded")
	ErrTimeout          = errors.New("timed out waiting for reply")
	ErrClosed           = errors.New("message channel closed")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternal         = errors.New("internal error")
)

// kinds is ordered so the most specific classification wins.
var kinds = []struct {
	kind ErrorKind
	err  error
}{
	{KindNeedPermission, ErrNeedPermission},
	{KindUnsupportedBody, ErrUnsupportedBody},
	{KindNotFound, ErrNotFound},
	{KindUpstreamNetwork, ErrUpstreamNetwork},
	{KindRuleSyncDegraded, ErrRuleSyncDegraded},
	{KindTimeout, ErrTimeout},
	{KindClosed, ErrClosed},
	{KindInvalidRequest, ErrInvalidRequest},
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Sentinel returns the sentinel error for a kind.
func Sentinel(kind ErrorKind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return ErrInternal
}

// WireError is the error shape carried by a failed reply.
type WireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToWire converts err for transmission.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	var we *WireError
	if errors.As(err, &we) {
		return we
	}
	return &WireError{Kind: KindOf(err), Message: err.Error()}
}

func (e *WireError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap exposes the sentinel so errors.Is matches received errors.
func (e *WireError) Unwrap() error {
	return Sentinel(e.Kind)
}

// FromWire rebuilds an error received in a reply. errors.Is matches the
// sentinel of its kind.
func FromWire(kind ErrorKind, message string) error {
	return &WireError{Kind: kind, Message: message}
}
