package record

import "fmt"

// ValidationError reports a field-level failure while building or checking a
// canonical record. It is returned, never panicked, so batch callers can keep
// processing subsequent rows.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }
