package pipeline

import (
	"fmt"

	"lesionflow/internal/models"
)

// StageError wraps a failure with the pipeline stage it occurred in,
// so callers can report which step of the run went wrong.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
