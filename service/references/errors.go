package references

import "fmt"

// ErrResolution is a failure to resolve a single candidate. It never aborts the rest of a pass.
type ErrResolution struct {
	Kind CandidateKind
	Text string
	Err  error
}

func (e ErrResolution) Error() string {
	return fmt.Sprintf("failed to resolve %s %q: %s", e.Kind, e.Text, e.Err)
}

func (e ErrResolution) Unwrap() error { return e.Err }

// ErrOrchestrator is an unexpected failure of a whole resolution pass, such as a panic
type ErrOrchestrator struct {
	Err error
}

func (e ErrOrchestrator) Error() string {
	return fmt.Sprintf("resolution pass failed: %s", e.Err)
}

func (e ErrOrchestrator) Unwrap() error { return e.Err }
