package runner

import "errors"

var (
	ErrDisabled    = errors.New("runner disabled")
	ErrStopped     = errors.New("runner stopped")
	ErrQueueFull   = errors.New("runner queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
	ErrUnknownTask = errors.New("unknown task id")
)
