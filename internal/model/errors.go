package model

import "fmt"

// ValidationError reports a malformed record field. It never propagates past
// record construction or re-validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record field %s: %s", e.Field, e.Reason)
}
