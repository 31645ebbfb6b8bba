package board

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the dispatcher can report it without inspecting messages.
type Kind string

const (
	KindParse              Kind = "ParseError"
	KindFetch              Kind = "FetchError"
	KindNetwork            Kind = "NetworkError"
	KindAuth               Kind = "AuthError"
	KindRequest            Kind = "RequestError"
	KindServer             Kind = "ServerError"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindNotFound           Kind = "NotFound"
	KindInvalid            Kind = "InvalidRequest"
	KindInternal           Kind = "InternalError"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrParse              = errors.New("parse error")
	ErrFetch              = errors.New("fetch error")
	ErrNetwork            = errors.New("network error")
	ErrAuth               = errors.New("user not authenticated")
	ErrRequest            = errors.New("request error")
	ErrServer             = errors.New("server error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindParse:              ErrParse,
	KindFetch:              ErrFetch,
	KindNetwork:            ErrNetwork,
	KindAuth:               ErrAuth,
	KindRequest:            ErrRequest,
	KindServer:             ErrServer,
	KindStorageUnavailable: ErrStorageUnavailable,
	KindNotFound:           ErrNotFound,
	KindInvalid:            ErrInvalid,
}

// Error is a classified failure. Status carries the HTTP status for
// RequestError and ServerError.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

// E builds a classified error for operation op.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
