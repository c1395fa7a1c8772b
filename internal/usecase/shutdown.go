package usecase

import (
	"context"
	"log/slog"
	"sync"
)

// ShutdownHook runs a final checkpoint at most once, whichever of completion,
// interruption or fault reaches it first.
type ShutdownHook struct {
	once       sync.Once
	checkpoint func(context.Context) error
	logger     *slog.Logger

	mu     sync.Mutex
	ran    bool
	reason string
	err    error
}

// NewShutdownHook registers checkpoint as the shutdown action.
func NewShutdownHook(checkpoint func(context.Context) error, logger *slog.Logger) *ShutdownHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHook{checkpoint: checkpoint, logger: logger}
}

// Run executes the checkpoint on the first call and returns its error on
// every call. ctx cancellation does not abort the checkpoint.
func (h *ShutdownHook) Run(ctx context.Context, reason string) error {
	h.once.Do(func() {
		h.logger.Warn("shutdown hook running, checkpointing", "reason", reason)
		err := h.checkpoint(context.WithoutCancel(ctx))
		if err != nil {
			h.logger.Error("shutdown checkpoint failed", "error", err)
		}

		h.mu.Lock()
		h.ran = true
		h.reason = reason
		h.err = err
		h.mu.Unlock()
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Ran reports whether the hook has run and why.
func (h *ShutdownHook) Ran() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ran, h.reason
}
