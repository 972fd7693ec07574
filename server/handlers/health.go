package handlers

import (
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                                  `json:"status"`
	Providers map[provider.Kind]provider.HealthStatus `json:"providers"`
	Queue     *QueueStatus                            `json:"queue,omitempty"`
}

// QueueStatus reports the admission queue when it is enabled.
type QueueStatus struct {
	Waiting    int   `json:"waiting"`
	MaxSize    int64 `json:"max_size"`
	Processing int32 `json:"processing"`
}

// QueueReporter is implemented by the queue middleware.
type QueueReporter interface {
	GetQueueSize() int
	GetMaxSize() int64
	GetProcessing() int32
}

// HealthHandler reports provider health. The service answers 200 while at
// least one provider is healthy and 503 once none is.
type HealthHandler struct {
	relay  Relay
	queue  QueueReporter
	logger *zap.Logger
}

// NewHealthHandler creates a health handler. queue may be nil.
func NewHealthHandler(relay Relay, queue QueueReporter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{relay: relay, queue: queue, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providers := h.relay.Health()

	healthy := 0
	for _, s := range providers {
		if s.Healthy {
			healthy++
		}
	}

	resp := HealthResponse{Status: "ok", Providers: providers}
	code := http.StatusOK
	switch {
	case healthy == 0:
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(providers):
		resp.Status = "degraded"
	}
	if h.queue != nil {
		resp.Queue = &QueueStatus{
			Waiting:    h.queue.GetQueueSize(),
			MaxSize:    h.queue.GetMaxSize(),
			Processing: h.queue.GetProcessing(),
		}
	}
	writeJSON(w, code, resp, h.logger)
}
