package sessionpool

import (
	"time"

	"licensed/internal/errors"
)

// flushInterval is the minimum interval between flushes triggered by
// TryUseStatement, per spec §4.D. The composition root may still call
// Flush directly at shutdown regardless of this cadence.
const flushInterval = 10 * time.Second

var (
	errCapacityExhausted = errors.ErrCapacityExhausted
	errNotFound          = errors.ErrNotFound
	errPreconditionFailed = errors.ErrPreconditionFailed
)
