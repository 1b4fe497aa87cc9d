// Package rtcerr defines the error types shared by the expression model, the
// control group aggregate and the XML codecs, together with helpers that
// classify an error chain the way callers need to react to it.
package rtcerr

import (
	"errors"
	"fmt"
)

// Standard error variables
var (
	// ErrNotFound is returned by lookups for a name or id that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDirectoryNotFound is returned when a configuration directory is missing.
	ErrDirectoryNotFound = errors.New("configuration directory not found")

	// ErrEmptySeries is returned when an empty time series is exported.
	ErrEmptySeries = errors.New("time series is empty")
)

// DuplicateNameError reports a name collision within one category of names.
type DuplicateNameError struct {
	Kind  string // such as "rule", "condition", "control group" or "model"
	Group string
	Name  string
}

func (e *DuplicateNameError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("%s with name %s already exists", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s with name %s already exists in control group %s", e.Kind, e.Name, e.Group)
}

// UnresolvedReferenceError reports a string reference that does not resolve.
// Subject names the component holding the reference, if any.
type UnresolvedReferenceError struct {
	Subject   string
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("unresolved reference %q", e.Reference)
	}
	return fmt.Sprintf("%s: unresolved reference %q", e.Subject, e.Reference)
}

// SchemaValidationError reports a document that does not satisfy its schema.
type SchemaValidationError struct {
	Document    string
	Field       string
	Description string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s: schema violation at %s: %s", e.Document, e.Field, e.Description)
}

// ArithmeticError reports an operation without a finite result, such as a
// division by zero.
type ArithmeticError struct {
	Op    string
	Left  float64
	Right float64
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error: %g %s %g has no finite result", e.Left, e.Op, e.Right)
}

// MalformedXMLError reports XML that cannot be decoded below the schema level.
type MalformedXMLError struct {
	Document string
	Err      error
}

func (e *MalformedXMLError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("malformed xml: %v", e.Err)
	}
	return fmt.Sprintf("malformed xml in %s: %v", e.Document, e.Err)
}

// Unwrap returns the underlying decode error
func (e *MalformedXMLError) Unwrap() error {
	return e.Err
}

// Malformed wraps err as a MalformedXMLError for document.
func Malformed(document string, err error) error {
	return &MalformedXMLError{Document: document, Err: err}
}

// Malformedf formats a MalformedXMLError for document.
func Malformedf(document, format string, args ...any) error {
	return &MalformedXMLError{Document: document, Err: fmt.Errorf(format, args...)}
}

// IsNotFound checks if an error reports a missing entity or directory
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDirectoryNotFound)
}

// IsInvalid checks if an error is caused by invalid input rather than by
// the environment. Invalid errors should not be retried.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var dup *DuplicateNameError
	var unresolved *UnresolvedReferenceError
	var schema *SchemaValidationError
	var arith *ArithmeticError
	var malformed *MalformedXMLError

	return errors.As(err, &dup) ||
		errors.As(err, &unresolved) ||
		errors.As(err, &schema) ||
		errors.As(err, &arith) ||
		errors.As(err, &malformed) ||
		errors.Is(err, ErrEmptySeries)
}
