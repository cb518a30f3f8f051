package crawler

import (
	"errors"
	"fmt"
)

// Taxonomy classifies a failure for retry and reporting decisions.
type Taxonomy string

// Failure classes. Only transient fetch and parse failures are retried.
const (
	TaxonomyInvalidInput       Taxonomy = "INVALID_INPUT"
	TaxonomyTransientFetch     Taxonomy = "TRANSIENT_FETCH"
	TaxonomyParseFailure       Taxonomy = "PARSE_FAILURE"
	TaxonomyBlocked            Taxonomy = "BLOCKED"
	TaxonomyValidationRejected Taxonomy = "VALIDATION_REJECTED"
	TaxonomyPersistence        Taxonomy = "PERSISTENCE_FAILURE"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrWrongPlatform    = errors.New("url does not belong to platform")
	ErrDomainMismatch   = errors.New("domain mismatch")
	ErrFetchTimeout     = errors.New("page fetch timed out")
	ErrBlocked          = errors.New("request blocked by target")
	ErrParseFailure     = errors.New("page structure did not match selectors")
	ErrRecentlyCrawled  = errors.New("product was crawled recently")
	ErrLowConfidence    = errors.New("confidence below persistence threshold")
	ErrNothingExtracted = errors.New("no product fields extracted")
)

// TaggedError wraps a cause with its taxonomy class.
type TaggedError struct {
	Class Taxonomy
	Err   error
}

// Tag wraps err with a taxonomy class. Returns nil for a nil err.
func Tag(class Taxonomy, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Class: class, Err: err}
}

// Tagf wraps a formatted error with a taxonomy class.
func Tagf(class Taxonomy, format string, args ...any) error {
	return &TaggedError{Class: class, Err: fmt.Errorf(format, args...)}
}

func (e *TaggedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *TaggedError) Unwrap() error { return e.Err }

// ClassOf returns the taxonomy of err, defaulting unclassified errors to
// transient fetch failures so unknown conditions stay retryable.
func ClassOf(err error) Taxonomy {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Class
	}
	switch {
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrWrongPlatform):
		return TaxonomyInvalidInput
	case errors.Is(err, ErrParseFailure), errors.Is(err, ErrNothingExtracted):
		return TaxonomyParseFailure
	case errors.Is(err, ErrBlocked):
		return TaxonomyBlocked
	case errors.Is(err, ErrRecentlyCrawled):
		return TaxonomyValidationRejected
	}
	return TaxonomyTransientFetch
}

// Retryable reports whether a failure of this class should be re-attempted.
// Parse failures are retried because markup mismatches are often transient
// A/B variants; invalid input and validation outcomes never are.
func (t Taxonomy) Retryable() bool {
	switch t {
	case TaxonomyTransientFetch, TaxonomyParseFailure, TaxonomyBlocked:
		return true
	}
	return false
}
