package expiry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bluescreen10/cqlsession/internal/expiry"
	"github.com/bluescreen10/cqlsession/session"
)

func withMaxAge(ms int64) *session.Record {
	return &session.Record{Cookie: session.Cookie{MaxAge: &ms}}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		rec        *session.Record
		want       int
	}{
		{"configured wins over hint", 30, withMaxAge(5000), 30},
		{"hint is floored", 0, withMaxAge(12345), 12},
		{"exact seconds", 0, withMaxAge(60000), 60},
		{"no hint falls back to one day", 0, &session.Record{}, expiry.OneDay},
		{"nil record falls back to one day", 0, nil, expiry.OneDay},
		{"sub-second hint is raised", 0, withMaxAge(999), 1},
		{"expired hint is raised", 0, withMaxAge(-4000), 1},
		{"negative configured is ignored", -5, withMaxAge(2000), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expiry.Seconds(tt.configured, tt.rec))
		})
	}
}

func TestDeadline(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got := expiry.Deadline(now, 0, withMaxAge(90_500))
	assert.Equal(t, now.Add(90*time.Second), got)

	assert.Equal(t, 30*time.Second, expiry.Duration(30, nil))
}
