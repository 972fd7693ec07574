// Package usage keeps per-user token counters. Counters only grow; nothing
// in the relay resets them.
package usage

import (
	"fmt"
	"sort"
	"sync"
)

// Direction says which side of a call a counter measures.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Key identifies one counter. Scope is the provider family, or
// "openrouter/<model>" for OpenRouter. Month is formatted YYYY-MM.
type Key struct {
	User      string    `json:"user"`
	Scope     string    `json:"scope"`
	Month     string    `json:"month"`
	Direction Direction `json:"direction"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.User, k.Scope, k.Month, k.Direction)
}

// Counter is a key with its current value.
type Counter struct {
	Key
	Value int64 `json:"value"`
}

// Store is the counter backend. Increment must be atomic with respect to
// other increments in the same process.
type Store interface {
	Increment(key Key, amount int64) error
	Get(key Key) int64
	Snapshot(user string) []Counter
}

// MemoryStore keeps counters in a map.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[Key]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[Key]int64)}
}

func (s *MemoryStore) Increment(key Key, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative increment %d for %s", amount, key)
	}
	s.mu.Lock()
	s.counters[key] += amount
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(key Key) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

// Snapshot returns the user's counters sorted by scope, month and
// direction. An empty user returns every counter.
func (s *MemoryStore) Snapshot(user string) []Counter {
	s.mu.RLock()
	out := make([]Counter, 0, len(s.counters))
	for k, v := range s.counters {
		if user == "" || k.User == user {
			out = append(out, Counter{Key: k, Value: v})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (s *MemoryStore) load(counters []Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range counters {
		s.counters[c.Key] = c.Value
	}
}
