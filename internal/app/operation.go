package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation with a fresh run id.
func NewOperation(command string, now time.Time) *Operation {
	return &Operation{
		ID:        uuid.New().String(),
		Command:   command,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation failed when err is non-nil.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// ShortID returns the first segment of the run id for compact log lines.
func (op *Operation) ShortID() string {
	if len(op.ID) < 8 {
		return op.ID
	}
	return op.ID[:8]
}
