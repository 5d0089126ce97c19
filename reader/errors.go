package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"marketfeed/models"
)

// ErrorKind lets callers tell failures apart without string matching.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindRateLimited       ErrorKind = "rate_limited"
	KindInvalidSymbol     ErrorKind = "invalid_symbol"
	KindUpstream          ErrorKind = "upstream"
	KindNetwork           ErrorKind = "network"
	KindMalformedResponse ErrorKind = "malformed_response"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrUpstream          = errors.New("upstream error")
	ErrNetwork           = errors.New("network error")
	ErrMalformedResponse = errors.New("malformed response")
)

var sentinels = map[ErrorKind]error{
	KindInvalidInput:      ErrInvalidInput,
	KindRateLimited:       ErrRateLimited,
	KindInvalidSymbol:     ErrInvalidSymbol,
	KindUpstream:          ErrUpstream,
	KindNetwork:           ErrNetwork,
	KindMalformedResponse: ErrMalformedResponse,
}

// ProviderError is returned by every adapter and pipeline stage. Provider is
// empty for InvalidInput raised before an adapter was chosen.
type ProviderError struct {
	Provider   models.ProviderKind
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so
// errors.Is(err, reader.ErrRateLimited) works through wrapping.
func (e *ProviderError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf extracts the kind from err, or "" when err is not a ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func NewError(provider models.ProviderKind, kind ErrorKind, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: err}
}

func InvalidInput(format string, args ...interface{}) *ProviderError {
	return &ProviderError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Malformed(provider models.ProviderKind, format string, args ...interface{}) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformedResponse, Message: fmt.Sprintf(format, args...)}
}

// TransportError classifies a failed round trip. Cancellation and deadline
// errors, DNS and dial failures all map to KindNetwork.
func TransportError(provider models.ProviderKind, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewError(provider, KindNetwork, "request aborted", err)
	case errors.As(err, &netErr):
		return NewError(provider, KindNetwork, "transport failure", err)
	case errors.As(err, &urlErr):
		return NewError(provider, KindNetwork, "transport failure", err)
	default:
		return NewError(provider, KindUpstream, "", err)
	}
}

// StatusError maps a non-2xx HTTP status to an error kind.
func StatusError(provider models.ProviderKind, status int, body string) *ProviderError {
	kind := KindUpstream
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusTeapot:
		kind = KindRateLimited
	case status == http.StatusNotFound:
		kind = KindInvalidSymbol
	}
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Message:    fmt.Sprintf("unexpected status %d: %s", status, body),
		StatusCode: status,
	}
}
