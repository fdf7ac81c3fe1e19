package dispatch

import (
	"context"
	"log/slog"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
	"github.com/LeventeLantos/bulk-messaging/internal/registry"
	"github.com/LeventeLantos/bulk-messaging/internal/relay"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
)

// Commander accepts the external control intents: register a session,
// start/pause/resume/stop a queue. Each queue intent persists the new
// status first, then signals the processor. It backs both the HTTP API
// and the relay's inbound command frames.
type Commander struct {
	registry  *registry.Registry
	processor *Processor
	queues    repo.QueueRepository
	relay     relay.Relay

	// runCtx scopes spawned dispatch loops to the process lifetime, not
	// to the request that started them.
	runCtx context.Context
}

func NewCommander(runCtx context.Context, reg *registry.Registry, proc *Processor, queues repo.QueueRepository, rl relay.Relay) *Commander {
	return &Commander{
		registry:  reg,
		processor: proc,
		queues:    queues,
		relay:     rl,
		runCtx:    runCtx,
	}
}

var _ relay.Commands = (*Commander)(nil)

func (c *Commander) RegisterSession(ctx context.Context, sessionID string) error {
	return c.registry.Attach(ctx, sessionID)
}

// StartProcessing persists the in-progress status and kicks the dispatch
// loop on its own goroutine. Failures surface as relay error events; the
// caller gets no synchronous result, processing is observed through the
// relay.
func (c *Commander) StartProcessing(ctx context.Context, sessionID string, queueID int64) {
	if _, err := c.queues.UpdateStatus(ctx, queueID, model.InProgress); err != nil {
		c.relay.Emit(sessionID, relay.Error{Message: startDeclineMessage(err)})
		return
	}

	go c.processor.Process(c.runCtx, sessionID, queueID)
	slog.Info("processing started", "session", sessionID, "queue", queueID)
}

func (c *Commander) PauseQueue(ctx context.Context, queueID int64) error {
	if _, err := c.queues.UpdateStatus(ctx, queueID, model.Paused); err != nil {
		return err
	}
	c.processor.Pause(queueID)
	slog.Info("queue paused", "queue", queueID)
	return nil
}

func (c *Commander) ResumeQueue(ctx context.Context, queueID int64) error {
	if _, err := c.queues.UpdateStatus(ctx, queueID, model.InProgress); err != nil {
		return err
	}
	c.processor.Resume(queueID)
	slog.Info("queue resumed", "queue", queueID)
	return nil
}

// StopQueue forces the terminal status and interrupts the loop the same
// way a pause does. There is no way back: the status transition check
// rejects any later restart.
func (c *Commander) StopQueue(ctx context.Context, queueID int64) error {
	if _, err := c.queues.UpdateStatus(ctx, queueID, model.Completed); err != nil {
		return err
	}
	c.processor.Stop(queueID)
	slog.Info("queue stopped", "queue", queueID)
	return nil
}

func startDeclineMessage(err error) string {
	switch err {
	case repo.ErrNotFound:
		return "queue not found"
	case repo.ErrInvalidTransition:
		return "queue already completed"
	default:
		return "queue store unavailable"
	}
}
