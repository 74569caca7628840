package loader

import (
	"errors"
	"fmt"
)

// Kind classifies a LoadError.
type Kind string

const (
	SchemaMismatch   Kind = "schema mismatch"
	RowCountMismatch Kind = "row count mismatch"
	ParseFailure     Kind = "parse failure"
)

// Sentinels for errors.Is. A *LoadError matches the sentinel of its Kind.
var (
	ErrSchemaMismatch   = errors.New(string(SchemaMismatch))
	ErrRowCountMismatch = errors.New(string(RowCountMismatch))
	ErrParseFailure     = errors.New(string(ParseFailure))
)

// LoadError reports why input data could not be loaded. Nothing is loaded
// when one is returned.
type LoadError struct {
	Kind   Kind
	Source string // input group or file the error refers to
	Err    error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "load error"
	}
	if e.Source != "" {
		return fmt.Sprintf("%s in %s: %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *LoadError) Is(target error) bool {
	switch e.Kind {
	case SchemaMismatch:
		return target == ErrSchemaMismatch
	case RowCountMismatch:
		return target == ErrRowCountMismatch
	case ParseFailure:
		return target == ErrParseFailure
	}
	return false
}

func schemaErr(source, format string, args ...any) *LoadError {
	return &LoadError{Kind: SchemaMismatch, Source: source, Err: fmt.Errorf(format, args...)}
}

func rowCountErr(source string, got, want int) *LoadError {
	return &LoadError{Kind: RowCountMismatch, Source: source, Err: fmt.Errorf("%d rows, want %d", got, want)}
}

func parseErr(source string, err error) *LoadError {
	return &LoadError{Kind: ParseFailure, Source: source, Err: err}
}
