// Package id generates the identifiers used by the broker and its callers.
//
// All identifiers are ULIDs: lexicographically sortable, 26 characters,
// safe to put in URLs and log lines. Prefixed forms make logs readable:
//   - msg_*: correlation id of a call on the message channel
//   - trace_*, span_*: tracing identifiers
//
// Chunk set ids are bare ULIDs since callers echo them back verbatim.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChunkSetID identifies a stored multi-part reply
type ChunkSetID string

// MessageID correlates a call with its reply
type MessageID string

// TraceID groups the spans of one operation
type TraceID string

// SpanID identifies a single span
type SpanID string

const (
	MessagePrefix = "msg"
	TracePrefix   = "trace"
	SpanPrefix    = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewChunkSetID generates a chunk set id
func NewChunkSetID() ChunkSetID {
	return ChunkSetID(Default().GenerateString())
}

// NewMessageID generates a call correlation id
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewTraceID generates a trace id
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a span id
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (id ChunkSetID) String() string { return string(id) }
func (id MessageID) String() string  { return string(id) }
func (id TraceID) String() string    { return string(id) }
func (id SpanID) String() string     { return string(id) }

// IsValid checks if an ID string is a valid ULID, with or without prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a known prefix
func Parse(id string) (ulid.ULID, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.ParseStrict(id)
}

// Timestamp extracts the creation time of an id
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
