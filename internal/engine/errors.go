package engine

import "fmt"

// BackendError wraps a provider failure that exhausted the retry
// budget. Attempts counts every call made, including the failed ones.
type BackendError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("provider %q failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ValidationError reports generated code that never passed validation
// within the retry budget. Diagnostic is the last rejection message.
type ValidationError struct {
	Slot       string
	Attempts   int
	Diagnostic string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("slot %q failed validation after %d attempts: %s", e.Slot, e.Attempts, e.Diagnostic)
}

// StuckError reports a backend returning byte-identical output on
// consecutive attempts. Retrying further cannot change the outcome,
// so the healing loop aborts as soon as it sees the repeat.
type StuckError struct {
	Slot     string
	Attempts int
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("slot %q is stuck: attempt %d repeated the previous output verbatim", e.Slot, e.Attempts)
}

// SerializeError reports an injection context that could not be
// encoded for transport.
type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("context serialization failed: %v", e.Err)
}

func (e *SerializeError) Unwrap() error { return e.Err }
