package tipio

import "time"

// tipTime converts a tip's nanosecond epoch timestamp to time.Time.
func tipTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
