// Package failure defines the error taxonomy shared by every pipeline stage.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the workflow engine must react to it.
type Kind string

const (
	KindConfiguration    Kind = "ConfigurationError"
	KindInvalidInput     Kind = "InvalidInput"
	KindTransient        Kind = "TransientTransportError"
	KindTerminalProvider Kind = "TerminalProviderError"
	KindSchema           Kind = "SchemaError"
	KindTimeout          Kind = "TimeoutExceeded"
	KindStageFailed      Kind = "StageFailed"
	KindCancelled        Kind = "Cancelled"
)

// Sentinel errors for the named failure conditions of each collaborator.
var (
	ErrConfiguration           = errors.New("configuration error")
	ErrInvalidInput            = errors.New("invalid input")
	ErrSubmission              = errors.New("transcription submission rejected")
	ErrJobFailed               = errors.New("transcription job failed")
	ErrPollTimeout             = errors.New("transcription job timed out")
	ErrNoTranscriptFile        = errors.New("no .json transcription file found in files listing")
	ErrAmbiguousTranscriptFile = errors.New("more than one .json transcription file in files listing")
	ErrDownload                = errors.New("transcript download failed")
	ErrMalformedDocument       = errors.New("malformed transcript document")
	ErrInvalidResponse         = errors.New("model returned invalid JSON")
	ErrCancelled               = errors.New("instance cancelled")
)

// Error carries a Kind plus enough context to surface a human-readable reason.
type Error struct {
	Kind   Kind   // How the engine treats this error
	Op     string // Operation being performed (e.g. "transcription.Submit")
	Reason string // Human-readable reason surfaced to callers
	Status int    // Provider HTTP status, when one was observed
	Err    error  // Underlying error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match either the wrapped error or another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Op == "" && other.Err == nil
	}
	return false
}

// New builds an *Error with a formatted reason.
func New(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// Configuration reports missing or invalid settings.
func Configuration(op, reason string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Reason: reason, Err: ErrConfiguration}
}

// InvalidInput reports a caller-supplied value the activity cannot accept.
func InvalidInput(op, reason string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Reason: reason, Err: ErrInvalidInput}
}

// Transient reports a network, timeout or 5xx failure worth retrying.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Reason: err.Error(), Err: err}
}

// Schema reports a structurally unexpected response.
func Schema(op string, err error, reason string) *Error {
	return &Error{Kind: KindSchema, Op: op, Reason: reason, Err: err}
}

// KindOf returns the Kind of err, or KindStageFailed for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindStageFailed
}

// ReasonOf returns the human-readable reason carried by err.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Reason != "" {
		return fe.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Retryable reports whether the engine may retry the failed activity.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsConfiguration checks if an error indicates missing or invalid settings.
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsTimeout checks if an error indicates the poller gave up waiting.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}
