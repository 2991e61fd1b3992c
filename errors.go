package gazette

import "errors"

// ErrUnknownDate is returned when an operation names a date with no
// cycle or bucket.
var ErrUnknownDate = errors.New("gazette: no cycle for this date")

// ErrCycleActive is returned when a cycle for the date is already
// running in this process.
var ErrCycleActive = errors.New("gazette: cycle already running for this date")

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("gazette: invalid input")
