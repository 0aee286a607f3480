package port

import "time"

type Metrics interface {
	ObserveOperation(op string, outcome string, d time.Duration)
	IncConflictRetry(op string)
	IncInvariantViolation(movieID int64)
}
