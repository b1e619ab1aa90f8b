package entities

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitWindow counts accepted requests of one key inside one window.
type RateLimitWindow struct {
	KeyID        uuid.UUID `json:"keyId"`
	WindowStart  time.Time `json:"windowStart"`
	RequestCount int       `json:"requestCount"`
}

// WindowStart truncates now to the window granularity in UTC.
func WindowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = time.Minute
	}
	return now.UTC().Truncate(window)
}
