package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardMergesPerOrigin(t *testing.T) {
	b := NewBoard(0, nil)

	p, opened := b.Open("https://a.test", []string{"x.test"}, "c1")
	assert.True(t, opened)
	assert.Equal(t, []string{"x.test"}, p.Hosts)

	p, opened = b.Open("https://a.test", []string{"y.test", "x.test"}, "c2")
	assert.False(t, opened)
	assert.Equal(t, []string{"x.test", "y.test"}, p.Hosts)
	assert.Equal(t, []string{"c1", "c2"}, p.Conns)

	_, opened = b.Open("https://b.test", []string{"x.test"}, "")
	assert.True(t, opened)
	assert.Equal(t, 2, b.Len())

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, "https://a.test", list[0].Origin)

	taken, ok := b.Take("https://a.test")
	require.True(t, ok)
	assert.Equal(t, []string{"c1", "c2"}, taken.Conns)
	_, ok = b.Take("https://a.test")
	assert.False(t, ok)

	b.Close()
	assert.Zero(t, b.Len())
}

func TestBoardExpiry(t *testing.T) {
	expired := make(chan Prompt, 1)
	b := NewBoard(20*time.Millisecond, func(p Prompt) { expired <- p })

	p, _ := b.Open("https://a.test", []string{"x.test"}, "c1")
	assert.False(t, p.Expires.IsZero())

	select {
	case got := <-expired:
		assert.Equal(t, "https://a.test", got.Origin)
		assert.Equal(t, []string{"c1"}, got.Conns)
	case <-time.After(time.Second):
		t.Fatal("prompt did not expire")
	}
	_, ok := b.Get("https://a.test")
	assert.False(t, ok)
}

func TestBoardTakeStopsExpiry(t *testing.T) {
	fired := make(chan Prompt, 1)
	b := NewBoard(20*time.Millisecond, func(p Prompt) { fired <- p })
	b.Open("https://a.test", []string{"x.test"}, "")
	_, ok := b.Take("https://a.test")
	require.True(t, ok)

	select {
	case <-fired:
		t.Fatal("taken prompt expired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  = map[string]int{}
		overlap bool
	)
	for i := range 40 {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			inside[key]++
			if inside[key] > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
	assert.Zero(t, k.size())
}
