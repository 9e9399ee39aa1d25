package persistence

import "fmt"

// CreationError reports a write that the store rejected or that returned no
// identity. It always carries the collection name and the underlying cause.
type CreationError struct {
	Collection string
	Err        error
}

func (e *CreationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to create document in collection '%s': no identity returned", e.Collection)
	}
	return fmt.Sprintf("failed to create document in collection '%s': %v", e.Collection, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// CloneError is a diagnostic collected during a clone operation. Clone
// failures are reported inside the CloneResult instead of aborting the batch,
// so callers must inspect the collected errors before trusting the counts.
type CloneError struct {
	Target string
	Stage  string
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone to collection '%s' failed at %s: %v", e.Target, e.Stage, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }
