package model

import (
	"fmt"
	"strings"
	"time"
)

// SourceFetchError means a row set could not be read completely.
type SourceFetchError struct {
	Set string
	Err error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Set, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

type IndexEnsureError struct {
	Err error
}

func (e *IndexEnsureError) Error() string {
	return fmt.Sprintf("ensure index: %v", e.Err)
}

func (e *IndexEnsureError) Unwrap() error { return e.Err }

// EndpointMissingError is returned when relationship rows reference node
// names that do not exist in the graph.
type EndpointMissingError struct {
	Type    string
	Missing []string
}

func (e *EndpointMissingError) Error() string {
	return fmt.Sprintf("relationship %s: missing endpoint nodes: %s", e.Type, strings.Join(e.Missing, ", "))
}

// SinkTransactionError identifies the batch a write failure belongs to.
type SinkTransactionError struct {
	Phase    Phase
	Batch    int
	Rows     int
	Duration time.Duration
	Err      error
}

func (e *SinkTransactionError) Error() string {
	return fmt.Sprintf("%s batch %d (%d rows): %v", e.Phase, e.Batch, e.Rows, e.Err)
}

func (e *SinkTransactionError) Unwrap() error { return e.Err }

// PhaseError aggregates every failed batch of a phase.
type PhaseError struct {
	Phase    Phase
	Batches  int
	Failures []*SinkTransactionError
}

func (e *PhaseError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%s failed: %d of %d batches: %s", e.Phase, len(e.Failures), e.Batches, strings.Join(msgs, "; "))
}

func (e *PhaseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
