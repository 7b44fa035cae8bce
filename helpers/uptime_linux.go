package helpers

import (
	"time"

	"golang.org/x/sys/unix"
)

// Uptime is time since boot including suspend, the node's monotonic timestamp.
// Falls back to process uptime if the clock is unavailable.
func Uptime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return ProcessUptime()
	}
	return time.Duration(ts.Nano())
}
