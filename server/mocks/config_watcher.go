package mocks

import (
	"sync"
	"sync/atomic"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
)

var _ config.Watcher = (*MockConfigWatcher)(nil)

// MockConfigWatcher is an in-memory config.Watcher. Tests push reloads with
// UpdateConfig instead of rewriting a file.
type MockConfigWatcher struct {
	current atomic.Pointer[config.Config]

	mu     sync.Mutex
	subs   []chan *config.Config
	closed bool
}

func NewMockConfigWatcher(cfg *config.Config) *MockConfigWatcher {
	w := &MockConfigWatcher{}
	w.current.Store(cfg)
	return w
}

func (w *MockConfigWatcher) GetCurrentConfig() *config.Config {
	return w.current.Load()
}

// Subscribe returns a channel of later reloads; the current config is not
// replayed.
func (w *MockConfigWatcher) Subscribe() <-chan *config.Config {
	ch := make(chan *config.Config, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch
	}
	w.subs = append(w.subs, ch)
	return ch
}

// Close ends every subscription.
func (w *MockConfigWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	for _, ch := range w.subs {
		close(ch)
	}
	w.subs = nil
	return nil
}

// UpdateConfig swaps the current config and hands it to subscribers. A
// subscriber that has not consumed the previous reload only sees the newest.
func (w *MockConfigWatcher) UpdateConfig(cfg *config.Config) {
	w.current.Store(cfg)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}
