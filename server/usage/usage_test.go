package usage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fixedClock() time.Time {
	return time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)
}

func TestAccountantRecordsExactAmounts(t *testing.T) {
	store := NewMemoryStore()
	acct := NewAccountant(store, zaptest.NewLogger(t))
	acct.now = fixedClock

	require.NoError(t, acct.Record("alice", "anthropic", chat.Usage{InputTokens: 100, OutputTokens: 42}))

	assert.Equal(t, int64(100), store.Get(Key{User: "alice", Scope: "anthropic", Month: "2025-03", Direction: Input}))
	assert.Equal(t, int64(42), store.Get(Key{User: "alice", Scope: "anthropic", Month: "2025-03", Direction: Output}))
}

func TestAccountantAccumulates(t *testing.T) {
	store := NewMemoryStore()
	acct := NewAccountant(store, zaptest.NewLogger(t))
	acct.now = fixedClock

	require.NoError(t, acct.Record("bob", "openrouter/meta/llama", chat.Usage{InputTokens: 10, OutputTokens: 1}))
	require.NoError(t, acct.Record("bob", "openrouter/meta/llama", chat.Usage{InputTokens: 5, OutputTokens: 2}))

	key := Key{User: "bob", Scope: "openrouter/meta/llama", Month: "2025-03", Direction: Input}
	assert.Equal(t, int64(15), store.Get(key))
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	key := Key{User: "u", Scope: "openai", Month: "2025-01", Direction: Output}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = store.Increment(key, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), store.Get(key))
}

func TestMemoryStoreRejectsNegative(t *testing.T) {
	store := NewMemoryStore()
	err := store.Increment(Key{User: "u"}, -1)
	assert.Error(t, err)
}

func TestSnapshotFiltersByUser(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Increment(Key{User: "a", Scope: "openai", Month: "2025-01", Direction: Output}, 2)
	_ = store.Increment(Key{User: "a", Scope: "openai", Month: "2025-01", Direction: Input}, 1)
	_ = store.Increment(Key{User: "b", Scope: "openai", Month: "2025-01", Direction: Input}, 7)

	snap := store.Snapshot("a")
	require.Len(t, snap, 2)
	assert.Equal(t, Input, snap[0].Direction)
	assert.Equal(t, Output, snap[1].Direction)
	assert.Len(t, store.Snapshot(""), 3)
}

func TestFileStorePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "usage.json")
	key := Key{User: "alice", Scope: "openai", Month: "2025-03", Direction: Input}

	fs, err := NewFileStore(path, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, fs.Increment(key, 100))
	require.NoError(t, fs.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	reopened, err := NewFileStore(path, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(100), reopened.Get(key))
}

func TestFileStorePeriodicSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	fs, err := NewFileStore(path, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Increment(Key{User: "u", Scope: "openai", Month: "2025-01", Direction: Input}, 3))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path, 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, closeFn, err := NewStore(config.UsageConfig{Backend: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())

	s, closeFn, err = NewStore(config.UsageConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "u.json")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.NoError(t, closeFn())
}
