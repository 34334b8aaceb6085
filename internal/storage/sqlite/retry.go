package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/rgbdvo/internal/timeutil"
)

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// clock paces busy retries; tests replace it.
var clock timeutil.Clock = timeutil.RealClock{}

// isSQLiteBusy reports whether err is a lock-contention error worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with linear backoff while SQLite reports
// lock contention.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) || attempt == busyRetries-1 {
			return err
		}
		clock.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return err
}
