// Package chunk holds oversized replies in memory so callers can read them
// in pieces over the message channel.
//
// A reply whose encoded body exceeds the threshold is split into chunks of
// ChunkSize characters. The set is deleted a short grace period after its
// last chunk is read, or after TTL if the caller never finishes reading.
package chunk

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/shared/id"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize = 1 << 20
	DefaultThreshold = 2 << 20
	DefaultGrace     = time.Second
	DefaultTTL       = 5 * time.Minute
)

// Options configures a Store. Zero values take the defaults.
type Options struct {
	ChunkSize int
	Threshold int
	Grace     time.Duration
	TTL       time.Duration
	Logger    *zap.Logger
	// OnChange receives the number of stored sets after every change.
	OnChange func(sets int)
}

type set struct {
	chunks []string
	timer  *time.Timer
	// draining is set once the last chunk has been read.
	draining bool
}

// Store is an in-memory map of chunk sets.
type Store struct {
	opts Options

	mu   sync.Mutex
	sets map[string]*set
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{opts: opts, sets: make(map[string]*set)}
}

// ChunkSize returns the configured chunk size in characters.
func (s *Store) ChunkSize() int {
	return s.opts.ChunkSize
}

// ShouldChunk reports whether a body of length characters must be chunked.
func (s *Store) ShouldChunk(length int) bool {
	return length > s.opts.Threshold
}

// Store splits data and keeps the chunks until they are read.
func (s *Store) Store(data string) (string, int) {
	chunkID := id.NewChunkSetID().String()
	chunks := split(data, s.opts.ChunkSize)

	s.mu.Lock()
	entry := &set{chunks: chunks}
	entry.timer = time.AfterFunc(s.opts.TTL, func() { s.expire(chunkID, "ttl") })
	s.sets[chunkID] = entry
	n := len(s.sets)
	s.mu.Unlock()

	s.changed(n)
	s.opts.Logger.Debug("chunk set stored",
		zap.String("id", chunkID),
		zap.Int("chunks", len(chunks)),
	)
	return chunkID, len(chunks)
}

// ReadChunk returns chunk index of set chunkID. Reading the last chunk
// schedules deletion after the grace period.
func (s *Store) ReadChunk(chunkID string, index int) (string, error) {
	if !id.IsValid(chunkID) {
		return "", fmt.Errorf("%w: malformed chunk set id %q", types.ErrNotFound, chunkID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sets[chunkID]
	if !ok {
		return "", fmt.Errorf("%w: chunk set %s", types.ErrNotFound, chunkID)
	}
	if index < 0 || index >= len(entry.chunks) {
		return "", fmt.Errorf("%w: chunk %d of set %s (%d chunks)", types.ErrNotFound, index, chunkID, len(entry.chunks))
	}

	if index == len(entry.chunks)-1 && !entry.draining {
		entry.draining = true
		entry.timer.Stop()
		entry.timer = time.AfterFunc(s.opts.Grace, func() { s.expire(chunkID, "read") })
	}

	return entry.chunks[index], nil
}

// Len returns the number of stored sets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

// Close drops every set and stops pending timers.
func (s *Store) Close() {
	s.mu.Lock()
	for chunkID, entry := range s.sets {
		entry.timer.Stop()
		delete(s.sets, chunkID)
	}
	s.mu.Unlock()
	s.changed(0)
}

func (s *Store) expire(chunkID, reason string) {
	s.mu.Lock()
	_, ok := s.sets[chunkID]
	delete(s.sets, chunkID)
	n := len(s.sets)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.changed(n)
	fields := []zap.Field{zap.String("id", chunkID), zap.String("reason", reason)}
	if created, err := id.Timestamp(chunkID); err == nil {
		fields = append(fields, zap.Duration("age", time.Since(created)))
	}
	s.opts.Logger.Debug("chunk set deleted", fields...)
}

func (s *Store) changed(n int) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(n)
	}
}

// split cuts data every size characters. Empty data has no chunks.
func split(data string, size int) []string {
	var chunks []string
	start, n := 0, 0
	for i := range data {
		if n == size {
			chunks = append(chunks, data[start:i])
			start, n = i, 0
		}
		n++
	}
	if start < len(data) {
		chunks = append(chunks, data[start:])
	}
	return chunks
}
