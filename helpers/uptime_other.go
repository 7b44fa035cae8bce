//go:build !linux

package helpers

import "time"

func Uptime() time.Duration { return ProcessUptime() }
