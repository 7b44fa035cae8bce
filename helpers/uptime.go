package helpers

import (
	"time"

	"github.com/temoto/atomic_clock"
)

var processStart atomic_clock.Clock

func init() { processStart.SetNow() }

// ProcessUptime is time since this process started.
func ProcessUptime() time.Duration { return atomic_clock.Since(&processStart) }
