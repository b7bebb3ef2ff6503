package models

import "fmt"

// PersistenceError marks the document store as the failing collaborator
// so the consumer can fail one message without aborting its batch.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// UnprocessableMessageError marks a queue message whose body could not
// be decoded at all. The message is routed to the dead letter queue and
// acknowledged so it never blocks the queue.
type UnprocessableMessageError struct {
	Reason string
	Err    error
}

func (e *UnprocessableMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unprocessable message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unprocessable message: %s", e.Reason)
}

func (e *UnprocessableMessageError) Unwrap() error {
	return e.Err
}
