package asset

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StepError reports which step of a lifecycle operation failed. Steps that
// completed before the failure are not rolled back.
type StepError struct {
	Operation string
	Step      string
	AssetID   uuid.UUID
	Err       error
}

func (e *StepError) Error() string {
	if e.AssetID == uuid.Nil {
		return fmt.Sprintf("%s failed at %s: %v", e.Operation, e.Step, e.Err)
	}

	return fmt.Sprintf("%s of asset %s failed at %s: %v", e.Operation, e.AssetID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
