package authstate

import "time"

// Task is a scheduled callback that can be cancelled.
type Task interface {
	// Stop cancels the task; it reports false if the task already ran or was stopped.
	Stop() bool
}

// Clock supplies time and one-shot delayed tasks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Task
}

type systemClock struct{}

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// IsTokenExpired reports whether now has reached expiresAt minus buffer.
// The boundary is inclusive: at exactly expiresAt-buffer the token counts as expired.
func IsTokenExpired(expiresAt, now time.Time, buffer time.Duration) bool {
	return !now.Before(expiresAt.Add(-buffer))
}
