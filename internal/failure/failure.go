// Package failure defines the stable error taxonomy surfaced to query callers.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindUnresolvableQuery Kind = "UNRESOLVABLE_QUERY"
	KindUnsafeGeneration  Kind = "UNSAFE_GENERATION"
	KindPolicyViolation   Kind = "POLICY_VIOLATION"
	KindTranslationFailed Kind = "TRANSLATION_FAILED"
	KindQueryTimeout      Kind = "QUERY_TIMEOUT"
	KindExecution         Kind = "EXECUTION_ERROR"
	KindCanceled          Kind = "CANCELED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Error carries a Kind plus a caller-safe message. Cause holds diagnostics
// (database or upstream messages) that must not be echoed to untrusted callers.
type Error struct {
	Kind    Kind
	Message string
	Rule    string
	Tokens  []string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Rule != "" {
		b.WriteString(" (rule=")
		b.WriteString(e.Rule)
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &failure.Error{Kind: failure.KindQueryTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func Unresolvable(tokens []string) *Error {
	message := "question could not be mapped to the warehouse schema"
	if len(tokens) > 0 {
		message += ": unresolved " + strings.Join(quoteAll(tokens), ", ")
	}
	return &Error{Kind: KindUnresolvableQuery, Message: message, Tokens: tokens}
}

func UnsafeGeneration(reason string) *Error {
	return &Error{Kind: KindUnsafeGeneration, Message: "generated statement is not a single read-only SELECT: " + reason}
}

func PolicyViolation(rule, message string) *Error {
	return &Error{Kind: KindPolicyViolation, Rule: rule, Message: message}
}

func TranslationFailed(cause error) *Error {
	return &Error{Kind: KindTranslationFailed, Message: "query translation failed", Cause: cause}
}

func QueryTimeout(cause error) *Error {
	return &Error{Kind: KindQueryTimeout, Message: "query execution timed out", Cause: cause}
}

func Execution(cause error) *Error {
	return &Error{Kind: KindExecution, Message: "query execution failed", Cause: cause}
}

func Canceled(cause error) *Error {
	return &Error{Kind: KindCanceled, Message: "request was canceled", Cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Cause: cause}
}

// KindOf returns the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// From returns err as *Error, wrapping foreign errors as internal failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return Internal(err)
}

// Retryable reports whether resubmitting the same request may succeed.
// Translation and policy failures need a rephrased question instead.
func Retryable(kind Kind) bool {
	switch kind {
	case KindQueryTimeout, KindExecution, KindTranslationFailed, KindCanceled, KindInternal:
		return true
	default:
		return false
	}
}

func quoteAll(values []string) []string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, fmt.Sprintf("%q", value))
	}
	return quoted
}
