// Package id provides ULID generation for load handles and request IDs.
//
// Handles are prefixed so a value seen in a log line is self-describing
// (img_* identifies an in-flight image load, req_* an API request). ULIDs
// are lexicographically sortable, which keeps handle-ordered log output
// roughly time-ordered for free.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LoadID identifies a single in-flight image load. It doubles as the
// cancellation handle returned to callers.
type LoadID string

// RequestID identifies an API request for log correlation.
type RequestID string

const (
	loadPrefix    = "img"
	requestPrefix = "req"
)

// Generator produces prefixed ULIDs from an entropy source.
type Generator struct {
	mu      sync.Mutex // entropy readers are not safe for concurrent use
	entropy io.Reader
}

var (
	defaultGen  *Generator
	defaultOnce sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() {
		defaultGen = NewGenerator(rand.Reader)
	})
	return defaultGen
}

// NewGenerator creates a generator backed by the given entropy source.
// Tests can pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewLoadID generates a fresh load handle.
func NewLoadID() LoadID {
	return LoadID(Default().GenerateWithPrefix(loadPrefix))
}

// NewRequestID generates a fresh request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(requestPrefix))
}

func (id LoadID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// IsValid reports whether s is a bare, well-formed ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
