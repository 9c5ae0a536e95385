package engine

import "errors"

var (
	ErrStopped      = errors.New("executor stopped")
	ErrQueueFull    = errors.New("executor queue full")
	ErrMaxInstances = errors.New("job skipped: max_instances reached")
	ErrUnknownPool  = errors.New("unknown executor pool")
	ErrNoRun        = errors.New("occurrence has no Run func")
)
