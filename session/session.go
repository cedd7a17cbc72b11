// Package session provides HTTP session management functionality with pluggable storage backends.
package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Session represents an HTTP session with associated data and configuration.
type Session struct {
	// Unique identifier for this session
	id string

	// used to determine the session duration
	createdAt time.Time

	// Session data as key-value pairs
	values map[string]any

	// Indicates if the session needs to be destroyed
	isDestroyed bool

	isModified bool
}

// newSession creates an empty session with a fresh id.
func newSession() *Session {
	return &Session{
		id:        genSessionID(),
		createdAt: time.Now(),
		values:    make(map[string]any),
	}
}

// fromRecord restores a session loaded from a Store.
func fromRecord(id string, rec *Record) *Session {
	values := rec.Values
	if values == nil {
		values = make(map[string]any)
	}
	return &Session{id: id, createdAt: rec.CreatedAt, values: values}
}

// Destroy removes the session
func (s *Session) Destroy() {
	s.Clear()
	s.isModified = true
	s.isDestroyed = true
}

// Set adds or updates a value in the session.
func (s *Session) Set(key string, value any) {
	s.isModified = true
	s.values[key] = value
}

func (s *Session) GetCreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) GetID() string {
	return s.id
}

// Get retrieves a value from the session.
// Returns nil if the key doesn't exist.
func (s *Session) Get(key string) any {
	return s.values[key]
}

// GetInt returns the value as an int. Values restored from a Store come
// back as json.Number, so numbers of any decoded form are converted.
func (s *Session) GetInt(key string) int {
	switch v := s.values[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		f, _ := v.Float64()
		return int(f)
	}
	return 0
}

func (s *Session) GetUint(key string) uint {
	switch v := s.values[key].(type) {
	case uint:
		return v
	case float64:
		if v < 0 {
			return 0
		}
		return uint(v)
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0
		}
		return uint(n)
	}
	return 0
}

func (s *Session) GetBool(key string) bool {
	v, _ := s.values[key].(bool)
	return v
}

func (s *Session) GetFloat32(key string) float32 {
	return float32(s.GetFloat64(key))
}

func (s *Session) GetFloat64(key string) float64 {
	switch v := s.values[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func (s *Session) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Delete removes a value from the session.
func (s *Session) Delete(key string) {
	s.isModified = true
	delete(s.values, key)
}

// Clear removes all values from the session.
func (s *Session) Clear() {
	s.isModified = true
	s.values = make(map[string]any)
}

// genSessionID returns a time-ordered UUIDv7 so ids sort by creation.
func genSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
