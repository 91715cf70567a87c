// Package task holds the execution-slice result value and the durable
// progress checkpoint that together make maintenance tasks resumable.
package task

import (
	"time"
)

// Result is the immutable outcome of one execution slice of one task.
//
// Treat values as read-only: every mutation helper (With, AddCounts,
// AddError) returns a fresh copy and never touches the receiver. A Result is
// consumed right after the slice (logged, persisted, surfaced) and then
// discarded; long-term state lives in the checkpoint, not here.
type Result struct {
	TaskID       string
	Success      bool
	ItemsFound   int
	ItemsCleaned int
	BytesFreed   int64
	Errors       map[string]string
	Interrupted  bool
	// NextRun is the absolute resume time; only meaningful when Interrupted.
	NextRun    time.Time
	ExecutedAt time.Time
	Elapsed    time.Duration
}

// Success builds a completed, non-interrupted result with no errors.
func Success(taskID string, itemsFound, itemsCleaned int, bytesFreed int64, elapsed time.Duration) Result {
	return Result{
		TaskID:       taskID,
		Success:      true,
		ItemsFound:   itemsFound,
		ItemsCleaned: itemsCleaned,
		BytesFreed:   bytesFreed,
		Errors:       map[string]string{},
		ExecutedAt:   time.Now(),
		Elapsed:      elapsed,
	}
}

// Failure builds a failed result carrying the given errors and zero counts.
func Failure(taskID string, errs map[string]string, elapsed time.Duration) Result {
	return Result{
		TaskID:     taskID,
		Errors:     copyErrors(errs),
		ExecutedAt: time.Now(),
		Elapsed:    elapsed,
	}
}

// Interrupted builds a result for a slice that ran out of budget; the work
// counts as successful so far and resumes at nextRun.
func Interrupted(taskID string, itemsFound, itemsCleaned int, bytesFreed int64, errs map[string]string, nextRun time.Time, elapsed time.Duration) Result {
	return Result{
		TaskID:       taskID,
		Success:      true,
		ItemsFound:   itemsFound,
		ItemsCleaned: itemsCleaned,
		BytesFreed:   bytesFreed,
		Errors:       copyErrors(errs),
		Interrupted:  true,
		NextRun:      nextRun,
		ExecutedAt:   time.Now(),
		Elapsed:      elapsed,
	}
}

// Patch selects the fields With replaces; nil pointers leave the original
// value untouched. A non-nil Errors map replaces the whole error set.
type Patch struct {
	Success      *bool
	ItemsFound   *int
	ItemsCleaned *int
	BytesFreed   *int64
	Errors       map[string]string
	Interrupted  *bool
	NextRun      *time.Time
	ExecutedAt   *time.Time
	Elapsed      *time.Duration
}

// With returns a copy with only the patched fields replaced.
func (r Result) With(p Patch) Result {
	out := r
	out.Errors = copyErrors(r.Errors)
	if p.Success != nil {
		out.Success = *p.Success
	}
	if p.ItemsFound != nil {
		out.ItemsFound = *p.ItemsFound
	}
	if p.ItemsCleaned != nil {
		out.ItemsCleaned = *p.ItemsCleaned
	}
	if p.BytesFreed != nil {
		out.BytesFreed = *p.BytesFreed
	}
	if p.Errors != nil {
		out.Errors = copyErrors(p.Errors)
	}
	if p.Interrupted != nil {
		out.Interrupted = *p.Interrupted
	}
	if p.NextRun != nil {
		out.NextRun = *p.NextRun
	}
	if p.ExecutedAt != nil {
		out.ExecutedAt = *p.ExecutedAt
	}
	if p.Elapsed != nil {
		out.Elapsed = *p.Elapsed
	}
	return out
}

// AddCounts returns a copy with the counters incremented.
func (r Result) AddCounts(foundDelta, cleanedDelta int, bytesDelta int64) Result {
	out := r
	out.Errors = copyErrors(r.Errors)
	out.ItemsFound += foundDelta
	out.ItemsCleaned += cleanedDelta
	out.BytesFreed += bytesDelta
	return out
}

// AddError returns a copy with one more entry in Errors.
func (r Result) AddError(key, message string) Result {
	out := r
	out.Errors = copyErrors(r.Errors)
	out.Errors[key] = message
	return out
}

func (r Result) HasErrors() bool { return len(r.Errors) > 0 }

func copyErrors(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
