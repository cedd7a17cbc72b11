// Package expiry computes how long a stored session record lives.
//
// Every store in this module resolves the record lifetime the same way:
// a TTL configured on the store wins, then the max-age hint carried by the
// session cookie, then one day.
package expiry

import (
	"time"

	"github.com/bluescreen10/cqlsession/session"
)

// OneDay is the lifetime, in seconds, used when neither the store nor the
// session provides one.
const OneDay = 86400

// Seconds returns the lifetime of rec in whole seconds. A configured value
// greater than zero is returned as is. Otherwise the cookie max-age hint,
// given in milliseconds, is truncated to seconds and raised to at least one
// second so that an already expired cookie still produces a bounded record.
func Seconds(configured int, rec *session.Record) int {
	if configured > 0 {
		return configured
	}

	if rec != nil && rec.Cookie.MaxAge != nil {
		secs := *rec.Cookie.MaxAge / 1000
		if secs < 1 {
			return 1
		}
		return int(secs)
	}

	return OneDay
}

// Duration is Seconds expressed as a time.Duration.
func Duration(configured int, rec *session.Record) time.Duration {
	return time.Duration(Seconds(configured, rec)) * time.Second
}

// Deadline is the absolute expiry of rec when written at now.
func Deadline(now time.Time, configured int, rec *session.Record) time.Time {
	return now.Add(Duration(configured, rec))
}
