package dispatch

import (
	"errors"
	"fmt"

	"branchmind/internal/store"
)

// messageCodes maps the sentinel Message strings that internal/steps and
// internal/jobs stash on a generic PRECONDITION_FAILED store.Error to the
// specific protocol code the envelope must surface.
var messageCodes = map[string]ErrorCode{
	"PROOF_REQUIRED":            ErrProofRequired,
	"PROOF_PARSE_AMBIGUOUS":     ErrProofParseAmbiguous,
	"CHECKPOINTS_NOT_CONFIRMED": ErrCheckpointsNotConfirmed,
	"NOT_ENABLED":               ErrNotEnabled,
}

// fixHints proposes a `| fix:` line for error codes with an obvious next
// step, rendered as the error line's trailing fix hint.
var fixHints = map[ErrorCode]string{
	ErrRevisionMismatch:        "re-read the current revision and retry with it",
	ErrProofRequired:           "attach proof (CMD:/LINK:) for the missing axes and retry",
	ErrCheckpointsNotConfirmed: "pass checkpoints={criteria,tests,...} or supply proof to auto-confirm",
	ErrProofParseAmbiguous:     "split CMD and LINK evidence into separate lines and retry",
	ErrUnknownID:               "check the id against tasks.snapshot or think.watch",
	ErrProjectGuardMismatch:    "confirm workspace matches the configured project_guard",
}

// mapError translates a store/component error (including the project
// guard's store.Error) or a dispatch-level error (e.g. command grammar)
// into a CallError.
func mapError(err error) *CallError {
	if err == nil {
		return nil
	}

	if se, ok := store.AsStoreError(err); ok {
		return mapStoreError(se)
	}

	var de *dispatchError
	if errors.As(err, &de) {
		return &CallError{Code: de.Code, Message: de.Message, Fix: fixHints[de.Code]}
	}

	return &CallError{Code: ErrStoreError, Message: err.Error(), Fix: "check dispatch logs for the underlying failure"}
}

func mapStoreError(se *store.Error) *CallError {
	code := storeCodeToProtocol(se)
	return &CallError{Code: code, Message: se.Error(), Fix: fixHints[code]}
}

func storeCodeToProtocol(se *store.Error) ErrorCode {
	if se.Code == store.ErrPreconditionFailed {
		if specific, ok := messageCodes[se.Message]; ok {
			return specific
		}
		return ErrPreconditionFailed
	}
	switch se.Code {
	case store.ErrInvalidInput:
		return ErrInvalidInput
	case store.ErrUnknownID:
		return ErrUnknownID
	case store.ErrUnknownBranch:
		return ErrUnknownBranch
	case store.ErrRevisionMismatch:
		return ErrRevisionMismatch
	case store.ErrConflict:
		return ErrConflict
	case store.ErrProjectGuard:
		return ErrProjectGuardMismatch
	case store.ErrJobNotMessageable:
		return ErrPreconditionFailed
	case store.ErrIO:
		return ErrIO
	case store.ErrPersistence:
		return ErrStoreError
	default:
		return ErrStoreError
	}
}

// dispatchError is a CallError-shaped error raised by dispatch itself
// (command grammar, unknown tool/verb) before any store call is made. The
// project guard reports through store.Error instead.
type dispatchError struct {
	Code    ErrorCode
	Message string
}

func (e *dispatchError) Error() string { return string(e.Code) + ": " + e.Message }

func newDispatchError(code ErrorCode, format string, args ...any) *dispatchError {
	return &dispatchError{Code: code, Message: fmt.Sprintf(format, args...)}
}
