package at

import "github.com/pkg/errors"

// ErrorKind classifies why a job failed, matching the error taxonomy a
// caller needs to branch on: liveness, parsing, PIN, or a bare command
// failure.
type ErrorKind string

// Error kinds surfaced to callers.
const (
	KindCheckError      ErrorKind = "checkError"
	KindParseError      ErrorKind = "parse-error"
	KindParseErrorComma ErrorKind = "parse-error-comma"
	KindPINRequired     ErrorKind = "pin-required"
	KindSIMUnlock       ErrorKind = "sim-unlock"
	KindCheckPINError   ErrorKind = "checkPinError"
	KindCommand         ErrorKind = "command"
	KindGeneric         ErrorKind = "generic"
	KindUnhandled       ErrorKind = "unhandled"
	KindSMSSent         ErrorKind = "sms-sent"
	KindCancelled       ErrorKind = "cancelled"
)

// CommandError is returned when a job fails for a reason the modem, or
// the classifier, could attribute to a specific kind.
type CommandError struct {
	Kind    ErrorKind
	Message string
	// Raw is the parsed buffer snapshot for a KindUnhandled (timeout)
	// failure.
	Raw []string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

var (
	// ErrClosed indicates the engine has been closed; no further jobs
	// can be submitted.
	ErrClosed = errors.New("at: engine closed")
	// ErrCancelled indicates a job was dropped, without ever writing or
	// completing, by a queue-wide drain (e.g. a reset).
	ErrCancelled = errors.New("at: job cancelled")
	// ErrFatal indicates the reset-retry budget has been exhausted; no
	// further resets will be attempted.
	ErrFatal = errors.New("at: reset limit exceeded, giving up")
)
