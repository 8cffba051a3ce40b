package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindClient         Kind = "client"
	KindServer         Kind = "server"
	KindDecoding       Kind = "decoding"
	KindNetwork        Kind = "network"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrClient               = errors.New("client error")
	ErrServer               = errors.New("server error")
	ErrDecoding             = errors.New("decoding error")
	ErrNetwork              = errors.New("network error")
)

var kindSentinels = map[Kind]error{
	KindAuthentication: ErrAuthenticationFailed,
	KindRateLimit:      ErrRateLimitExceeded,
	KindClient:         ErrClient,
	KindServer:         ErrServer,
	KindDecoding:       ErrDecoding,
	KindNetwork:        ErrNetwork,
}

// APIError is one entry of the remote's structured error list.
type APIError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Field    string `json:"field,omitempty"`
}

type errorResponse struct {
	Errors []APIError `json:"errors"`
}

// Error is returned by every Client call that did not produce a typed response.
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string
	Detail     string
	Errors     []APIError
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(kindSentinels[e.Kind].Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel, so errors.Is(err, ErrRateLimitExceeded) works.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether a later attempt could succeed unchanged.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindNetwork:
		return true
	}
	return false
}

// IsNotFound reports a 404 from the remote.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindClient && re.StatusCode == 404
}

func classify(status int, body []byte) *Error {
	e := &Error{StatusCode: status}
	switch {
	case status == 401 || status == 403:
		e.Kind = KindAuthentication
	case status == 429:
		e.Kind = KindRateLimit
	case status >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindClient
	}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		e.Errors = parsed.Errors
		e.Code = parsed.Errors[0].Code
		e.Detail = parsed.Errors[0].Detail
	} else if len(body) > 0 {
		e.Detail = truncate(strings.TrimSpace(string(body)), 200)
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
