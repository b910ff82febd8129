package comms

import (
	"context"
	"errors"
	"fmt"

	"github.com/compresr/agent-bridge/internal/adapters"
)

// Code classifies a Service failure.
type Code string

const (
	CodeAgentNotFound       Code = "agent_not_found"
	CodeAgentHasNoModel     Code = "agent_has_no_model"
	CodeModelNotFound       Code = "model_not_found"
	CodeProviderNotFound    Code = "provider_not_found"
	CodeUnsupportedProvider Code = "unsupported_provider"
	CodeConfiguration       Code = "configuration"
	CodeTransport           Code = "transport"
	CodeDecode              Code = "decode"
	CodeAborted             Code = "aborted"
	CodeUnknown             Code = "unknown"
)

// Error is the single error type returned or yielded by the Service.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NormalizeError maps any error onto *Error without losing its message. An
// existing *Error passes through unchanged; nil stays nil.
func NormalizeError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var pe *adapters.ProviderError
	if errors.As(err, &pe) {
		return &Error{Code: codeForProvider(pe), Message: pe.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeAborted, Message: "request aborted: " + err.Error(), Err: err}
	}
	return &Error{Code: CodeUnknown, Message: adapters.Normalize(err).Error(), Err: err}
}

func codeForProvider(pe *adapters.ProviderError) Code {
	if errors.Is(pe, adapters.ErrUnsupportedProvider) {
		return CodeUnsupportedProvider
	}
	switch pe.Kind {
	case adapters.KindConfiguration:
		return CodeConfiguration
	case adapters.KindTransport:
		return CodeTransport
	case adapters.KindDecode:
		return CodeDecode
	case adapters.KindAborted:
		return CodeAborted
	}
	return CodeUnknown
}

// CodeOf returns the Code of err, or CodeUnknown.
func CodeOf(err error) Code {
	if ce := NormalizeError(err); ce != nil {
		return ce.Code
	}
	return CodeUnknown
}
