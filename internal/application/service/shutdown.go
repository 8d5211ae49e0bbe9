package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ShutdownCoordinator runs registered cleanup callbacks in order when
// the process is asked to stop. Each step is bounded by its own timeout
// so one hung handler ("cancel open orders" against a dead broker)
// cannot block exit; failures are logged and the sequence continues.
type ShutdownCoordinator struct {
	mu          sync.Mutex
	handlers    []namedHandler
	stepTimeout time.Duration
}

type namedHandler struct {
	name string
	fn   func(ctx context.Context) error
}

func NewShutdownCoordinator(stepTimeout time.Duration) *ShutdownCoordinator {
	return &ShutdownCoordinator{stepTimeout: stepTimeout}
}

// Register appends a cleanup callback. Handlers run in registration
// order.
func (c *ShutdownCoordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, namedHandler{name: name, fn: fn})
}

// Execute runs all handlers, then any extra final steps the caller
// appends (the controller passes its flush-and-release steps here).
func (c *ShutdownCoordinator) Execute(ctx context.Context, final ...func(ctx context.Context) error) {
	c.mu.Lock()
	handlers := make([]namedHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		c.runStep(ctx, h.name, h.fn)
	}
	for _, fn := range final {
		c.runStep(ctx, "final", fn)
	}
}

func (c *ShutdownCoordinator) runStep(ctx context.Context, name string, fn func(ctx context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(stepCtx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("shutdown handler failed")
		}
	case <-stepCtx.Done():
		// The handler goroutine is abandoned; the process is exiting
		// anyway.
		log.Warn().Str("handler", name).Dur("timeout", c.stepTimeout).Msg("shutdown handler timed out")
	}
}
