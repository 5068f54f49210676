package memory

import "fmt"

// StorageError reports a persistence-layer failure. Callers decide
// whether to retry or degrade to in-memory-only operation for the turn;
// the turn is never silently dropped.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
