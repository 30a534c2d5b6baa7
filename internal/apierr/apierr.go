package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the pipeline and the HTTP layer can react
// without string matching.
type Kind string

const (
	KindValidation Kind = "validation"
	KindExtraction Kind = "extraction"
	// KindGenerationTransient covers rate limits, quota and backend blips;
	// it is the only kind eligible for model fallback.
	KindGenerationTransient Kind = "generation_transient"
	KindGenerationPermanent Kind = "generation_permanent"
	// KindQuotaExhausted is the terminal form of a transient failure after
	// the whole fallback list has been tried.
	KindQuotaExhausted Kind = "quota_exhausted"
	KindFiling         Kind = "filing"
	KindRateLimit      Kind = "rate_limit"
	KindNotFound       Kind = "not_found"
	KindUnauthorized   Kind = "unauthorized"
)

type Error struct {
	Kind  Kind
	Stage string // pipeline stage that produced the failure, if any
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage=%s)", msg, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Wrap keeps the underlying error reachable through errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AtStage tags an error with the pipeline stage it surfaced from. An existing
// *Error keeps its kind; anything else becomes a generic error of the given
// kind.
func AtStage(stage string, kind Kind, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Kind: ae.Kind, Stage: stage, Err: ae.Err}
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Transient reports whether a generation failure should advance to the next
// backend in the fallback list.
func Transient(err error) bool {
	return Is(err, KindGenerationTransient)
}
