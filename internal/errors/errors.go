// Package errors provides structured error handling for the vocal
// separation pipeline. Errors carry a component, a category and free-form
// context so the API and CLI can surface actionable failures without
// string matching. It re-exports the standard library helpers so callers
// only need one errors import.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCategory classifies what went wrong. Categories map onto the
// failure surface of the pipeline: one per phase plus the generic
// infrastructure kinds.
type ErrorCategory string

const (
	CategoryMissingDependency ErrorCategory = "missing-dependency"
	CategoryInvalidInput      ErrorCategory = "invalid-input"
	CategoryProbe             ErrorCategory = "probe"
	CategoryExtract           ErrorCategory = "extract"
	CategorySeparator         ErrorCategory = "separator"
	CategoryAlignment         ErrorCategory = "alignment"
	CategoryMix               ErrorCategory = "mix"
	CategoryNormalize         ErrorCategory = "normalize"
	CategoryRemux             ErrorCategory = "remux"
	CategoryDownload          ErrorCategory = "download"
	CategoryCancelled         ErrorCategory = "cancelled"
	CategoryQueueState        ErrorCategory = "queue-state"
	CategoryCommandExecution  ErrorCategory = "command-execution"
	CategoryFileIO            ErrorCategory = "file-io"
	CategoryConfiguration     ErrorCategory = "configuration"
	CategoryValidation        ErrorCategory = "validation"
	CategoryGeneric           ErrorCategory = "generic"
)

// ProcessError wraps an underlying error with pipeline metadata.
type ProcessError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is supports matching by category so callers can write
// errors.Is(err, &ProcessError{Category: CategoryProbe}).
func (e *ProcessError) Is(target error) bool {
	var pe *ProcessError
	if stderrors.As(target, &pe) {
		return pe.Category == e.Category
	}
	return false
}

// Transient reports whether the error is worth retrying. Only download
// failures explicitly marked transient qualify.
func (e *ProcessError) Transient() bool {
	v, ok := e.Context["transient"].(bool)
	return ok && v
}

// ErrorBuilder assembles a ProcessError through a fluent chain.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an error from an existing error. If err is already
// a *ProcessError its metadata seeds the builder so wrapping preserves
// the original classification unless overridden.
func New(err error) *ErrorBuilder {
	b := &ErrorBuilder{err: err, category: CategoryGeneric}
	var pe *ProcessError
	if stderrors.As(err, &pe) {
		b.component = pe.Component
		b.category = pe.Category
		if len(pe.Context) > 0 {
			b.context = make(map[string]any, len(pe.Context))
			for k, v := range pe.Context {
				b.context[k] = v
			}
		}
	}
	return b
}

// Newf starts building an error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component records which part of the system produced the error.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category classifies the error. A cancellation seeded from a wrapped
// error sticks: a phase wrapping a cancelled subprocess must not
// relabel it as its own failure kind, or the job would finish Failed
// instead of Cancelled.
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	if b.category == CategoryCancelled {
		return b
	}
	b.category = category
	return b
}

// Context attaches a key-value pair for diagnostics (paths, exit codes,
// stderr tails).
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error.
func (b *ErrorBuilder) Build() *ProcessError {
	return &ProcessError{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
	}
}

// CategoryOf extracts the category from any error, returning
// CategoryGeneric for unclassified errors.
func CategoryOf(err error) ErrorCategory {
	var pe *ProcessError
	if stderrors.As(err, &pe) {
		return pe.Category
	}
	return CategoryGeneric
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return CategoryOf(err) == category
}

// Standard library re-exports.

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
