package counter

import "time"

// Window is a fixed-duration counting bucket.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists all window kinds, smallest first.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Start returns the beginning of the window containing the given instant.
// Day windows are aligned to UTC calendar days.
func (w Window) Start(now time.Time) time.Time {
	return now.UTC().Truncate(w.Duration())
}

// End returns the expiry of the window containing the given instant.
func (w Window) End(now time.Time) time.Time {
	return w.Start(now).Add(w.Duration())
}

// Scope names the owner of a counter: ScopeGlobal or a client key.
type Scope string

// ScopeGlobal counts all clients combined.
const ScopeGlobal Scope = "global"
