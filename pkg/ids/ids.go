// Package ids mints the identifiers used across coordination state:
// nanosecond-resolution entity IDs and W3C-shaped trace/span IDs.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Prefixes for the entity ID families minted by coordination operations.
const (
	// WorkPrefix starts every minted work item ID.
	WorkPrefix = "work"
	// AgentPrefix starts every minted agent ID.
	AgentPrefix = "agent"
)

// randSuffixBytes is the entropy width appended to an entity ID. Four bytes
// render as eight hex characters and carry the cross-process uniqueness.
const randSuffixBytes = 4

// traceIDBytes and spanIDBytes are the W3C trace-context ID widths.
const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

// entityIDParts is the minimum underscore-separated segment count of a
// minted entity ID ({prefix}_{nanos}_{rand}; prefixes may embed underscores).
const entityIDParts = 3

// Minter produces identifiers that are collision-free within a process and,
// with overwhelming probability, across processes sharing a filesystem.
// The zero value is not usable; construct with New.
type Minter struct {
	mu        sync.Mutex
	lastNanos int64
	now       func() time.Time
}

// New returns a Minter backed by the wall clock.
func New() *Minter {
	return &Minter{now: time.Now}
}

// EntityID mints "{prefix}_{nanos}_{rand}". The nanos component is strictly
// increasing across calls on one Minter: when the clock reads at or before
// the previously issued value, the minter bumps to prev+1 instead of
// repeating it. It fails only on entropy starvation.
func (m *Minter) EntityID(prefix string) (string, error) {
	suffix := make([]byte, randSuffixBytes)

	_, err := rand.Read(suffix)
	if err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}

	m.mu.Lock()

	nanos := m.now().UnixNano()
	if nanos <= m.lastNanos {
		nanos = m.lastNanos + 1
	}

	m.lastNanos = nanos

	m.mu.Unlock()

	return fmt.Sprintf("%s_%d_%s", prefix, nanos, hex.EncodeToString(suffix)), nil
}

// WorkID mints a work item identifier.
func (m *Minter) WorkID() (string, error) {
	return m.EntityID(WorkPrefix)
}

// AgentID mints an agent identifier.
func (m *Minter) AgentID() (string, error) {
	return m.EntityID(AgentPrefix)
}

// TraceID mints 32 lowercase hex characters, never all zeros.
func (m *Minter) TraceID() (string, error) {
	return m.randomHex(traceIDBytes)
}

// SpanID mints 16 lowercase hex characters, never all zeros.
func (m *Minter) SpanID() (string, error) {
	return m.randomHex(spanIDBytes)
}

func (m *Minter) randomHex(width int) (string, error) {
	buf := make([]byte, width)

	for {
		_, err := rand.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}

		if !allZero(buf) {
			return hex.EncodeToString(buf), nil
		}
	}
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}

	return true
}

// ParseNanos extracts the nanosecond component of an entity ID minted by
// EntityID. It returns an error when the ID does not carry one.
func ParseNanos(id string) (int64, error) {
	parts := strings.Split(id, "_")
	if len(parts) < entityIDParts {
		return 0, fmt.Errorf("%q: not a minted entity id", id)
	}

	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse nanos in %q: %w", id, err)
	}

	return nanos, nil
}

// IsTraceID reports whether s is a well-formed, non-zero 32-character
// lowercase hex trace ID.
func IsTraceID(s string) bool {
	return isHexID(s, traceIDBytes*2)
}

// IsSpanID reports whether s is a well-formed, non-zero 16-character
// lowercase hex span ID.
func IsSpanID(s string) bool {
	return isHexID(s, spanIDBytes*2)
}

func isHexID(s string, width int) bool {
	if len(s) != width || strings.Trim(s, "0") == "" {
		return false
	}

	for _, r := range s {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isHex {
			return false
		}
	}

	return true
}
