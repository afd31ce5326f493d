package pipeline

import (
	"github.com/koustreak/docrelay/internal/errs"
)

// Outcome classifies a finished batch.
type Outcome string

const (
	OutcomeEmpty    Outcome = "empty"
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
)

// FileResult is the outcome of one file of a batch.
type FileResult struct {
	Name       string `json:"name"`
	StorageKey string `json:"path,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
	// IndexError is set when the object was stored but its index row was
	// not written. The file still counts as a success; reconciliation
	// indexes it later.
	IndexError string `json:"index_error,omitempty"`

	Err      error `json:"-"`
	IndexErr error `json:"-"`
}

// OK reports whether the file was stored.
func (r FileResult) OK() bool { return r.Err == nil }

// BatchResult aggregates a batch. SuccessCount+FailureCount always equals
// len(Files).
type BatchResult struct {
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	Files        []FileResult `json:"files"`
}

func (b *BatchResult) add(r FileResult) {
	if r.Err != nil {
		r.Error = r.Err.Error()
		b.FailureCount++
	} else {
		b.SuccessCount++
	}
	if r.IndexErr != nil {
		r.IndexError = r.IndexErr.Error()
	}
	b.Files = append(b.Files, r)
}

// Outcome classifies the batch.
func (b *BatchResult) Outcome() Outcome {
	switch {
	case len(b.Files) == 0:
		return OutcomeEmpty
	case b.FailureCount == 0:
		return OutcomeComplete
	case b.SuccessCount == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Err returns an ErrKindPartialBatch error when any file failed, nil
// otherwise. Use Outcome to tell partial from total failure.
func (b *BatchResult) Err() error {
	switch b.Outcome() {
	case OutcomePartial:
		return errs.Newf(errs.ErrKindPartialBatch, "%d of %d files failed", b.FailureCount, len(b.Files))
	case OutcomeFailed:
		return errs.Newf(errs.ErrKindPartialBatch, "all %d files failed", b.FailureCount)
	}
	return nil
}

// Failed returns the results of the files that were not stored, for a
// retry of just that subset.
func (b *BatchResult) Failed() []FileResult {
	var out []FileResult
	for _, r := range b.Files {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
