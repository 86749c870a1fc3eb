// Package apperr defines the coordinator's error taxonomy. Errors carry a Kind, which
// decides retry and HTTP mapping, and a machine-readable Code that errors.Is matches on.
package apperr

import "errors"

// Kind classifies an error for retry and transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation is terminal and shown to the user (not found, not enrolled, ended...).
	KindValidation
	KindNotFound
	KindForbidden
	// KindConsistency marks a structurally prevented violation such as a duplicate answer.
	KindConsistency
	// KindTransient is a store or network failure that survived bounded retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConsistency:
		return "consistency"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is the domain error type.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error carrying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// With returns a copy of a sentinel with a more specific message, keeping its code.
func (e *Error) With(message string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: message, Cause: e.Cause}
}

var (
	ErrSessionNotFound   = New(KindValidation, "session_not_found", "session not found or not active")
	ErrNotEnrolled       = New(KindValidation, "not_enrolled", "student is not enrolled in the session's class")
	ErrSessionEnded      = New(KindValidation, "session_ended", "session has ended")
	ErrQuestionNotActive = New(KindValidation, "question_not_active", "question is not open for answers")
	ErrQuestionClosed    = New(KindValidation, "question_closed", "question closed before the answer arrived")
	ErrNoActiveQuestion  = New(KindValidation, "no_active_question", "session has no active question")
	ErrInvalidArgument   = New(KindValidation, "invalid_argument", "invalid argument")
	ErrParticipantLeft   = New(KindValidation, "participant_left", "participant has left the session")
	ErrNotFound          = New(KindNotFound, "not_found", "not found")
	ErrNotSessionTeacher = New(KindForbidden, "not_session_teacher", "only the session's teacher can do this")
	ErrNotOwner          = New(KindForbidden, "not_owner", "caller does not own this participant")
	ErrAlreadyAnswered   = New(KindConsistency, "already_answered", "participant already answered this question")
	ErrJoinCodeExhausted = New(KindConsistency, "join_code_exhausted", "could not allocate a unique join code")
	ErrStoreUnavailable  = New(KindTransient, "store_unavailable", "store unavailable, try again")
)

// Invalid returns an ErrInvalidArgument with a field-specific message.
func Invalid(message string) *Error {
	return ErrInvalidArgument.With(message)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Retryable reports whether err is worth retrying by the caller.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
