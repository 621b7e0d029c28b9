package intent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a single validation violation.
type ErrorCode string

const (
	// CodeMissingField marks a required field that is absent or empty.
	CodeMissingField ErrorCode = "MissingField"

	// CodeInvalidField marks a field whose value is structurally wrong.
	CodeInvalidField ErrorCode = "InvalidField"

	// CodeInvalidNetworkRange marks a range that is not a usable private IPv4 network.
	CodeInvalidNetworkRange ErrorCode = "InvalidNetworkRange"

	// CodeUnsupportedSpeed marks an interface speed outside SupportedSpeeds.
	CodeUnsupportedSpeed ErrorCode = "UnsupportedSpeed"

	// CodeInvalidGrouping marks failover groups produced by a strategy that break group invariants.
	CodeInvalidGrouping ErrorCode = "InvalidGrouping"

	// CodeSchema marks a raw document rejected by the intent schema.
	CodeSchema ErrorCode = "SchemaViolation"
)

// Violation is one problem found while validating an intent.
type Violation struct {
	Field   string    `json:"field"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("[%s] %s", v.Code, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Code, v.Field, v.Message)
}

// ValidationError carries every violation found in one validation pass.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "intent validation failed"
	case 1:
		return "intent validation failed: " + e.Violations[0].String()
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("intent validation failed with %d violations: %s", len(e.Violations), strings.Join(parts, "; "))
}

// Has reports whether any violation carries code.
func (e *ValidationError) Has(code ErrorCode) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field string, code ErrorCode, format string, args ...interface{}) {
	e.Violations = append(e.Violations, Violation{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (e *ValidationError) errOrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// HasCode reports whether err is a ValidationError carrying code.
func HasCode(err error, code ErrorCode) bool {
	ve, ok := AsValidationError(err)
	return ok && ve.Has(code)
}
