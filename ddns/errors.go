package ddns

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	AuthenticationFailed
	APIError
	RateLimitExceeded
	NetworkError
	InvalidConfig
	RecordNotFound
	DomainNotFound
	ParseError
)

var kindNames = [...]string{
	Unknown:              "unknown error",
	AuthenticationFailed: "authentication failed",
	APIError:             "api error",
	RateLimitExceeded:    "rate limit exceeded",
	NetworkError:         "network error",
	InvalidConfig:        "invalid config",
	RecordNotFound:       "record not found",
	DomainNotFound:       "domain not found",
	ParseError:           "parse error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// Error is returned by every adapter operation.
type Error struct {
	Provider string
	Kind     Kind
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare kind sentinels below, so errors.Is(err, ErrRateLimited)
// holds for any rate limit error regardless of provider or detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Provider != "" || t.Detail != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAuthentication  = &Error{Kind: AuthenticationFailed}
	ErrAPI             = &Error{Kind: APIError}
	ErrRateLimited     = &Error{Kind: RateLimitExceeded}
	ErrNetwork         = &Error{Kind: NetworkError}
	ErrInvalidConfig   = &Error{Kind: InvalidConfig}
	ErrRecordNotFound  = &Error{Kind: RecordNotFound}
	ErrDomainNotFound  = &Error{Kind: DomainNotFound}
	ErrParse           = &Error{Kind: ParseError}
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNotInitialized  = errors.New("provider not initialized")
)

// KindOf reports the kind of a provider error, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func newError(provider string, kind Kind, detail string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Detail: detail, Err: err}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
