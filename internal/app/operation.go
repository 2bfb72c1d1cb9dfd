package app

import "hoard-go/internal/hoard"

// CommandOperation tracks a CLI command that spans several items. Operations
// are created in memory with ID=0. Only batch commands persist them (giving
// them an ID from the history database); single-item commands are recorded
// by the engine itself.
type CommandOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // hoard.StatusSuccess or hoard.StatusError
	Message    string
}

// NewCommandOperation creates a new in-memory operation.
func NewCommandOperation(operation, parameters string) *CommandOperation {
	return &CommandOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     hoard.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the history.
func (op *CommandOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed with msg.
func (op *CommandOperation) Fail(msg string) {
	op.Status = hoard.StatusError
	op.Message = msg
}
