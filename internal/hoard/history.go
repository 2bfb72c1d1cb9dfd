package hoard

import "time"

// Operation status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one entry of the operation log.
type Operation struct {
	ID         int64
	Operation  string
	ItemType   string
	ItemName   string
	Parameters string
	Status     string
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Duration returns how long a finished operation took, or zero.
func (o *Operation) Duration() time.Duration {
	if o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// History is the persistent operation log.
type History interface {
	// Start records a running operation and returns it with its ID set.
	Start(op Operation) (*Operation, error)

	// Finish marks an operation done with a status and message.
	Finish(id int64, status, message string) error

	// List returns the most recent operations, newest first. An empty item
	// name matches every item.
	List(itemName string, limit int) ([]*Operation, error)

	Close() error
}
