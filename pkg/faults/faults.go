// Package faults defines the typed failure kinds surfaced by the answer
// pipeline. Callers branch on Kind with KindOf or errors.As rather than
// matching message text.
package faults

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindRetrievalUnavailable: all three candidate sources failed.
	// Fatal to the query.
	KindRetrievalUnavailable Kind = "retrieval_unavailable"

	// KindPartialRetrieval: one or two sources failed. Recovered locally,
	// retrieval proceeded with the remainder.
	KindPartialRetrieval Kind = "partial_retrieval"

	// KindPersonalizationUnavailable: the generation service failed. The
	// raw retrieved context is attached so the caller can fall back to an
	// unpersonalized answer.
	KindPersonalizationUnavailable Kind = "personalization_unavailable"

	// KindInvalidWeights: the tuner produced out-of-bounds weights.
	// Previous weights are retained.
	KindInvalidWeights Kind = "invalid_weights"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// Context carries the raw retrieved text on personalization failures.
	Context string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the failure kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
