package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"github.com/eapache/queue/v2"
)

// queueContextKey is a custom type for queue-specific context keys to avoid collisions
type queueContextKey string

const (
	queuePositionKey queueContextKey = "queue_position"
)

// QueueMiddleware bounds how many turns run at once. Up to Workers
// requests are processed concurrently; the rest wait in a FIFO queue of at
// most MaxSize entries and are rejected with 503 once it is full.
//
// A finishing request hands its slot straight to the head of the queue by
// closing that waiter's ticket, so admission order is strictly FIFO. A
// waiter whose client goes away is marked abandoned and skipped when its
// turn comes.
type QueueMiddleware struct {
	queue     *queue.Queue[chan struct{}]
	abandoned map[chan struct{}]struct{}
	active    int
	workers   atomic.Int64
	maxSize   atomic.Int64
	mu        sync.Mutex

	processing    atomic.Int32
	metrics       *metrics.Metrics
	statePath     string
	persistTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
	saveMu        sync.Mutex
}

// QueueState is the persisted part of the queue.
type QueueState struct {
	MaxSize     int64     `json:"max_size"`
	Workers     int64     `json:"workers"`
	QueueLength int       `json:"queue_length"`
	LastSaved   time.Time `json:"last_saved"`
}

// QueueConfig defines the operational parameters for the queue middleware.
type QueueConfig struct {
	InitialSize  int64            // Starting maximum queue size
	Workers      int              // Concurrent requests allowed past the queue
	Metrics      *metrics.Metrics // Metrics collector for monitoring
	StatePath    string           // Path to store queue state, empty disables persistence
	SaveInterval time.Duration    // How often to save state (0 means no periodic saves)
}

// NewQueueMiddleware creates the queue. A saved state, if any, overrides
// InitialSize and Workers.
func NewQueueMiddleware(cfg QueueConfig) *QueueMiddleware {
	qm := &QueueMiddleware{
		queue:     queue.New[chan struct{}](),
		abandoned: make(map[chan struct{}]struct{}),
		metrics:   cfg.Metrics,
		statePath: cfg.StatePath,
		done:      make(chan struct{}),
	}

	workers := int64(cfg.Workers)
	if workers <= 0 {
		workers = 1
	}
	qm.workers.Store(workers)
	qm.maxSize.Store(cfg.InitialSize)

	if cfg.StatePath != "" {
		if err := qm.loadState(); err != nil && !os.IsNotExist(err) {
			qm.countError("queue_load_state")
		}
		if cfg.SaveInterval > 0 {
			qm.persistTicker = time.NewTicker(cfg.SaveInterval)
			go qm.persistStateRoutine()
		}
	}

	return qm
}

func (qm *QueueMiddleware) countError(kind string) {
	if qm.metrics != nil {
		qm.metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
}

func (qm *QueueMiddleware) loadState() error {
	data, err := os.ReadFile(qm.statePath)
	if err != nil {
		return err
	}

	var state QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	qm.maxSize.Store(state.MaxSize)
	if state.Workers > 0 {
		qm.workers.Store(state.Workers)
	}
	return nil
}

// saveState writes the state to a temporary file and renames it into place.
func (qm *QueueMiddleware) saveState() error {
	if qm.statePath == "" {
		return nil
	}
	qm.saveMu.Lock()
	defer qm.saveMu.Unlock()

	state := QueueState{
		MaxSize:     qm.maxSize.Load(),
		Workers:     qm.workers.Load(),
		QueueLength: qm.GetQueueSize(),
		LastSaved:   time.Now(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(qm.statePath), 0755); err != nil {
		return err
	}
	tmpFile := qm.statePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, qm.statePath)
}

func (qm *QueueMiddleware) persistStateRoutine() {
	for {
		select {
		case <-qm.persistTicker.C:
			if err := qm.saveState(); err != nil {
				qm.countError("queue_persistence")
			}
		case <-qm.done:
			return
		}
	}
}

// Shutdown stops persistence, waits for admitted and queued requests to
// finish and saves the final state.
func (qm *QueueMiddleware) Shutdown(ctx context.Context) error {
	qm.closeOnce.Do(func() {
		close(qm.done)
		if qm.persistTicker != nil {
			qm.persistTicker.Stop()
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if qm.GetQueueSize() == 0 && qm.GetProcessing() == 0 {
			if err := qm.saveState(); err != nil {
				qm.countError("queue_persistence")
			}
			return nil
		}
		select {
		case <-ctx.Done():
			qm.countError("queue_shutdown_timeout")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetMaxSize updates the maximum number of waiting requests.
func (qm *QueueMiddleware) SetMaxSize(size int64) {
	qm.maxSize.Store(size)
	qm.saveAsync()
}

// SetWorkers changes how many requests may be processed at once. Raising
// it admits waiters immediately.
func (qm *QueueMiddleware) SetWorkers(n int) {
	if n <= 0 {
		n = 1
	}
	qm.workers.Store(int64(n))

	qm.mu.Lock()
	for qm.active < n && qm.handOff() {
		qm.active++
	}
	qm.mu.Unlock()
	qm.saveAsync()
}

func (qm *QueueMiddleware) saveAsync() {
	if qm.statePath == "" {
		return
	}
	go func() {
		if err := qm.saveState(); err != nil {
			qm.countError("queue_persistence")
		}
	}()
}

// GetQueueSize returns the number of waiting requests.
func (qm *QueueMiddleware) GetQueueSize() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.queue.Length() - len(qm.abandoned)
}

// GetMaxSize returns the current maximum queue size.
func (qm *QueueMiddleware) GetMaxSize() int64 {
	return qm.maxSize.Load()
}

// GetProcessing returns the number of requests currently being processed.
func (qm *QueueMiddleware) GetProcessing() int32 {
	return qm.processing.Load()
}

// handOff gives a slot to the first live waiter. It reports false when no
// one is waiting. Callers hold mu.
func (qm *QueueMiddleware) handOff() bool {
	for qm.queue.Length() > 0 {
		ticket := qm.queue.Remove()
		if _, gone := qm.abandoned[ticket]; gone {
			delete(qm.abandoned, ticket)
			continue
		}
		close(ticket)
		qm.updateQueuedGauge()
		return true
	}
	return false
}

// release returns a slot, passing it on if someone is waiting.
func (qm *QueueMiddleware) release() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if int64(qm.active) > qm.workers.Load() || !qm.handOff() {
		qm.active--
	}
	qm.updateQueuedGauge()
}

func (qm *QueueMiddleware) updateQueuedGauge() {
	if qm.metrics != nil {
		qm.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(qm.queue.Length() - len(qm.abandoned)))
	}
}

// acquire admits the request or queues it. It returns the queue position
// (0 when admitted directly) and false if the request must be rejected or
// its client went away while waiting.
func (qm *QueueMiddleware) acquire(ctx context.Context) (int, bool) {
	qm.mu.Lock()
	waiting := qm.queue.Length() - len(qm.abandoned)
	if int64(qm.active) < qm.workers.Load() && waiting == 0 {
		qm.active++
		qm.mu.Unlock()
		return 0, true
	}
	if int64(waiting) >= qm.maxSize.Load() {
		qm.mu.Unlock()
		qm.countError("queue_full")
		return waiting, false
	}

	ticket := make(chan struct{})
	qm.queue.Add(ticket)
	position := waiting + 1
	qm.updateQueuedGauge()
	qm.mu.Unlock()

	select {
	case <-ticket:
		return position, true
	case <-ctx.Done():
		qm.mu.Lock()
		select {
		case <-ticket:
			// The slot arrived as we gave up; pass it on.
			qm.mu.Unlock()
			qm.release()
		default:
			qm.abandoned[ticket] = struct{}{}
			qm.updateQueuedGauge()
			qm.mu.Unlock()
		}
		return position, false
	}
}

// Handler admits requests through the queue.
func (qm *QueueMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		position, ok := qm.acquire(r.Context())
		if !ok {
			if r.Context().Err() != nil {
				return
			}
			errors.WriteError(w, errors.NewError(errors.QueueFullError, "Queue is full",
				http.StatusServiceUnavailable, GetRequestID(r.Context()),
				map[string]interface{}{"max_size": qm.maxSize.Load()}, nil))
			return
		}
		if qm.metrics != nil {
			qm.metrics.QueueWait.Observe(time.Since(start).Seconds())
			qm.metrics.ActiveRequests.WithLabelValues("processing").Inc()
		}
		qm.processing.Add(1)

		defer func() {
			qm.processing.Add(-1)
			if qm.metrics != nil {
				qm.metrics.ActiveRequests.WithLabelValues("processing").Dec()
			}
			qm.release()
		}()

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), queuePositionKey, position)))
	})
}
