package adapters

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration" // missing credential, bad record, unsupported provider
	KindTransport     ErrorKind = "transport"     // network failure or non-2xx status
	KindDecode        ErrorKind = "decode"        // malformed JSON body or stream frame
	KindAborted       ErrorKind = "aborted"       // context cancelled mid-call
	KindUnknown       ErrorKind = "unknown"
)

// GenericErrorMessage is used when a failure carries no readable message.
const GenericErrorMessage = "an unknown error occurred"

// ErrUnsupportedProvider is wrapped by the error returned for an unknown provider code.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrMissingCredential is wrapped when no credential resolves for an authenticated call.
var ErrMissingCredential = errors.New("missing credential")

// ErrPanic is wrapped by errors built from a recovered panic.
var ErrPanic = errors.New("panic recovered")

// ProviderError is the single error shape adapters return or yield.
type ProviderError struct {
	Provider string    // provider code
	Kind     ErrorKind
	Status   int       // HTTP status for transport errors, 0 otherwise
	Message  string    // human-readable, never a raw stack trace
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newError(provider string, kind ErrorKind, err error, format string, args ...any) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// wrapError coerces err into a *ProviderError for provider. Existing
// ProviderErrors pass through; context errors become KindAborted.
func wrapError(provider string, kind ErrorKind, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(provider, KindAborted, err, "request aborted: %v", err)
	}
	return newError(provider, kind, err, "%s", Normalize(err).Error())
}

// Normalize coerces any value into an error with a readable message. It is
// total: errors pass through, strings become messages, maps with a "message"
// key and structs with a Message field use that value, and anything else gets
// GenericErrorMessage. It never panics.
func Normalize(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(GenericErrorMessage)
		}
	}()

	switch x := v.(type) {
	case nil:
		return errors.New(GenericErrorMessage)
	case error:
		return x
	case string:
		if strings.TrimSpace(x) == "" {
			return errors.New(GenericErrorMessage)
		}
		return errors.New(x)
	case map[string]any:
		if msg, ok := x["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return errors.New(msg)
		}
		return errors.New(GenericErrorMessage)
	case interface{ Message() string }:
		if msg := x.Message(); strings.TrimSpace(msg) != "" {
			return errors.New(msg)
		}
		return errors.New(GenericErrorMessage)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return errors.New(GenericErrorMessage)
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		return mapMessage(rv)
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName("Message"); f.IsValid() && f.Kind() == reflect.String && strings.TrimSpace(f.String()) != "" {
			return errors.New(f.String())
		}
	}
	return errors.New(GenericErrorMessage)
}

// mapMessage reads a non-blank string under the "message" key of any map
// whose keys are strings or interfaces, such as map[string]string or the
// map[any]any yaml decodes into.
func mapMessage(rv reflect.Value) error {
	key := reflect.ValueOf("message")
	switch kt := rv.Type().Key(); kt.Kind() {
	case reflect.String:
		key = key.Convert(kt)
	case reflect.Interface:
	default:
		return errors.New(GenericErrorMessage)
	}
	v := rv.MapIndex(key)
	if v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.IsValid() && v.Kind() == reflect.String && strings.TrimSpace(v.String()) != "" {
		return errors.New(v.String())
	}
	return errors.New(GenericErrorMessage)
}

// PanicError turns a recovered panic value into a KindUnknown ProviderError
// that matches ErrPanic.
func PanicError(provider string, r any) *ProviderError {
	cause := Normalize(r)
	return newError(provider, KindUnknown, errors.Join(ErrPanic, cause), "%s", cause.Error())
}

// KindOf reports the kind of err, or KindUnknown when it is not a ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
