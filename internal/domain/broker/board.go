package broker

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Prompt is a pending consent request awaiting the user.
type Prompt struct {
	Origin string    `json:"origin"`
	Hosts  []string  `json:"hosts"`
	Conns  []string  `json:"-"`
	Opened time.Time `json:"opened"`
	// Expires is zero when the board has no TTL.
	Expires time.Time `json:"expires,omitzero"`
}

type boardEntry struct {
	prompt Prompt
	timer  *time.Timer
}

// Board holds at most one pending prompt per origin. Requests for an origin
// with an open prompt merge their hosts and connections into it.
type Board struct {
	ttl      time.Duration
	onExpire func(Prompt)

	mu      sync.Mutex
	entries map[string]*boardEntry
}

// NewBoard creates a board whose prompts expire after ttl (zero disables
// expiry). onExpire receives each expired prompt.
func NewBoard(ttl time.Duration, onExpire func(Prompt)) *Board {
	return &Board{ttl: ttl, onExpire: onExpire, entries: make(map[string]*boardEntry)}
}

// Open records a request for hosts from connID and reports whether a new
// prompt was created.
func (b *Board) Open(origin string, hosts []string, connID string) (Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[origin]; ok {
		e.prompt.Hosts = appendMissing(e.prompt.Hosts, hosts)
		if connID != "" && !slices.Contains(e.prompt.Conns, connID) {
			e.prompt.Conns = append(e.prompt.Conns, connID)
		}
		return clonePrompt(e.prompt), false
	}

	now := time.Now()
	e := &boardEntry{prompt: Prompt{
		Origin: origin,
		Hosts:  appendMissing(nil, hosts),
		Opened: now,
	}}
	if connID != "" {
		e.prompt.Conns = []string{connID}
	}
	if b.ttl > 0 {
		e.prompt.Expires = now.Add(b.ttl)
		e.timer = time.AfterFunc(b.ttl, func() { b.expire(origin, e) })
	}
	b.entries[origin] = e
	return clonePrompt(e.prompt), true
}

// Take removes and returns the prompt for origin.
func (b *Board) Take(origin string) (Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[origin]
	if !ok {
		return Prompt{}, false
	}
	delete(b.entries, origin)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.prompt, true
}

// Get returns the prompt for origin without removing it.
func (b *Board) Get(origin string) (Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[origin]
	if !ok {
		return Prompt{}, false
	}
	return clonePrompt(e.prompt), true
}

// List returns the pending prompts, oldest first.
func (b *Board) List() []Prompt {
	b.mu.Lock()
	out := make([]Prompt, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, clonePrompt(e.prompt))
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Opened.Equal(out[j].Opened) {
			return out[i].Origin < out[j].Origin
		}
		return out[i].Opened.Before(out[j].Opened)
	})
	return out
}

func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close stops all expiry timers and drops pending prompts.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for origin, e := range b.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(b.entries, origin)
	}
}

func (b *Board) expire(origin string, e *boardEntry) {
	b.mu.Lock()
	current, ok := b.entries[origin]
	if !ok || current != e {
		b.mu.Unlock()
		return
	}
	delete(b.entries, origin)
	b.mu.Unlock()

	if b.onExpire != nil {
		b.onExpire(e.prompt)
	}
}

func clonePrompt(p Prompt) Prompt {
	p.Hosts = slices.Clone(p.Hosts)
	p.Conns = slices.Clone(p.Conns)
	return p
}

func appendMissing(dst, hosts []string) []string {
	for _, h := range hosts {
		if !slices.Contains(dst, h) {
			dst = append(dst, h)
		}
	}
	return dst
}
