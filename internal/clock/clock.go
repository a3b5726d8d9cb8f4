// Package clock maintains a best-effort offset between the local clock and
// the server clock.
//
// Decisions that mix client- and server-origin timestamps (queue watermarks,
// unread markers) need the two clocks to roughly agree even when the device
// clock is skewed. This is not NTP: the last observed server timestamp wins
// and "close enough" is the goal.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

// ServerClock tracks the offset between server time and local time.
//
// The zero value is usable and reports pure local time until the first
// observation. Safe for concurrent use.
type ServerClock struct {
	offsetMs atomic.Int64
}

// Observe records the offset implied by a server-stamped timestamp in ms
// since epoch. Non-finite values are ignored.
//
// Call this whenever any server-stamped value is seen (update createdAt,
// message timestamps, HTTP response times).
func (c *ServerClock) Observe(serverMs float64) {
	if math.IsNaN(serverMs) || math.IsInf(serverMs, 0) {
		return
	}
	c.offsetMs.Store(int64(serverMs) - time.Now().UnixMilli())
}

// NowMs returns the current best estimate of server time in ms since epoch.
func (c *ServerClock) NowMs() int64 {
	return time.Now().UnixMilli() + c.offsetMs.Load()
}

// OffsetMs returns the last observed server-minus-local offset in ms.
func (c *ServerClock) OffsetMs() int64 {
	return c.offsetMs.Load()
}

// Default is the process-wide clock. It must only be reset by process
// restart; re-aligning mid-session would reintroduce skew into timestamps
// already queued with the old offset.
var Default ServerClock

// Observe records a server timestamp on the process-wide clock.
func Observe(serverMs float64) { Default.Observe(serverMs) }

// NowMs returns the process-wide server time estimate in ms since epoch.
func NowMs() int64 { return Default.NowMs() }
