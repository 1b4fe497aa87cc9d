package rtcxml

import (
	"errors"
	"fmt"

	"github.com/liamcoop/rtc/rtcerr"
)

var (
	// ErrUnknownElement marks an element a read skipped because it does not
	// know it
	ErrUnknownElement = errors.New("unknown element")

	// ErrUnsupported marks valid content that cannot be represented in a
	// control group
	ErrUnsupported = errors.New("unsupported construct")
)

// Severity grades a diagnostic
type Severity int

const (
	// SeverityWarning marks content that was skipped or defaulted
	SeverityWarning Severity = iota
	// SeverityError marks content that violates its schema or cannot be decoded
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one finding of a read. Reads never stop on a diagnostic;
// the offending element is skipped and the rest of the configuration is
// still decoded.
type Diagnostic struct {
	Severity Severity
	Document string
	Subject  string
	Err      error
}

func (d Diagnostic) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("%s: %s: %v", d.Severity, d.Document, d.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", d.Severity, d.Document, d.Subject, d.Err)
}

// Diagnostics collects the findings of one read in the order they were made
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic has error severity
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err joins all diagnostics into one error, or returns nil
func (ds Diagnostics) Err() error {
	errs := make([]error, 0, len(ds))
	for _, d := range ds {
		errs = append(errs, fmt.Errorf("%s: %w", d.Document, d.Err))
	}
	return errors.Join(errs...)
}

// SchemaViolations returns the schema validation errors among ds
func (ds Diagnostics) SchemaViolations() []*rtcerr.SchemaValidationError {
	var out []*rtcerr.SchemaValidationError
	for _, d := range ds {
		var sv *rtcerr.SchemaValidationError
		if errors.As(d.Err, &sv) {
			out = append(out, sv)
		}
	}
	return out
}
