package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
	"github.com/LeventeLantos/bulk-messaging/internal/registry"
	"github.com/LeventeLantos/bulk-messaging/internal/relay"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
	"github.com/LeventeLantos/bulk-messaging/internal/variation"
)

type Config struct {
	// BatchSize bounds one ledger page per processing pass.
	BatchSize int

	// DelayMin/DelayMax bound the randomized pacing delay before each
	// send, uniform in [DelayMin, DelayMax).
	DelayMin time.Duration
	DelayMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize: 50,
		DelayMin:  3 * time.Second,
		DelayMax:  8 * time.Second,
	}
}

// Processor drains a queue's pending recipients through the session's
// transport, one send at a time, recording outcomes in the ledger and
// emitting progress events. One processor instance serves all sessions;
// per-session exclusivity comes from the registry claim.
type Processor struct {
	registry   *registry.Registry
	queues     repo.QueueRepository
	recipients repo.RecipientRepository
	relay      relay.Relay
	engine     *variation.Engine
	cfg        Config
}

func NewProcessor(reg *registry.Registry, queues repo.QueueRepository, recipients repo.RecipientRepository, rl relay.Relay, engine *variation.Engine, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Processor{
		registry:   reg,
		queues:     queues,
		recipients: recipients,
		relay:      rl,
		engine:     engine,
		cfg:        cfg,
	}
}

// Process runs the dispatch loop for (sessionID, queueID) until the queue
// drains, a pause or stop interrupts it, or a precondition declines the
// request. Declines are signaled as error events, not returned errors.
//
// The drain is an explicit loop: each pass re-reads the persisted queue
// status, re-claims the session, pages the ledger, and dispatches the
// batch. A batch that aborts (pause, cancellation) ends the run; the
// remaining rows stay pending for the next invocation.
func (p *Processor) Process(ctx context.Context, sessionID string, queueID int64) {
	for {
		queue, err := p.queues.FetchByID(ctx, queueID)
		if err != nil {
			p.decline(sessionID, declineMessage(err))
			return
		}

		if queue.Status == model.Paused || queue.Status == model.Completed {
			p.decline(sessionID, "queue is "+string(queue.Status))
			return
		}

		sess, err := p.registry.Claim(sessionID, queueID)
		if err != nil {
			p.decline(sessionID, err.Error())
			return
		}

		batch, err := p.recipients.FetchPending(ctx, queueID, p.cfg.BatchSize)
		if err != nil {
			p.registry.Release(sessionID)
			p.decline(sessionID, "failed to fetch recipients")
			return
		}

		if len(batch) == 0 {
			if _, err := p.queues.UpdateStatus(ctx, queueID, model.Completed); err != nil {
				p.registry.Release(sessionID)
				p.decline(sessionID, "failed to mark queue completed")
				return
			}
			p.relay.Emit(sessionID, relay.AllMessagesSent{Message: "no more recipients left to send to"})
			p.registry.Release(sessionID)
			slog.Info("queue completed", "session", sessionID, "queue", queueID)
			return
		}

		var rules []model.VariationRule
		if queue.EnableVariations {
			rules = queue.Variations
		}
		variants := p.engine.Render(queue.MessageTemplate, rules, len(batch))

		aborted := p.dispatchBatch(ctx, sessionID, sess, batch, variants)
		p.registry.Release(sessionID)
		if aborted {
			// A stop interrupts through the pause flag. Once the loop has
			// wound down the flag has done its job: the terminal status
			// blocks restarts, and the session must stay usable for other
			// queues. A plain pause keeps the flag until resume.
			if q, err := p.queues.FetchByID(ctx, queueID); err == nil && q.Status == model.Completed {
				p.registry.ResumeByQueue(queueID)
			}
			return
		}
	}
}

// dispatchBatch sends one rendered variant per recipient, strictly in
// ledger order. The paused flag is observed before each send; an in-flight
// send always completes. Reports whether the run should stop.
func (p *Processor) dispatchBatch(ctx context.Context, sessionID string, sess sessionTransport, batch []model.Recipient, variants []string) bool {
	for i, rec := range batch {
		if p.registry.IsPaused(sessionID) {
			slog.Info("dispatch paused", "session", sessionID, "queue", rec.QueueID, "remaining", len(batch)-i)
			return true
		}

		if !p.wait(ctx) {
			return true
		}

		text := variation.WithName(variants[i], rec.Name)

		ack, err := sess.SendMessage(ctx, rec.PhoneNumber, text)
		if err != nil {
			// A failed send consumes the recipient. The row is settled as
			// undelivered and the batch moves on.
			p.record(ctx, rec.ID, false)
			p.relay.Emit(sessionID, relay.Error{Message: "send to " + rec.PhoneNumber + " failed: " + err.Error()})
			slog.Warn("send failed", "session", sessionID, "queue", rec.QueueID, "phone", rec.PhoneNumber, "err", err)
			continue
		}

		if !p.record(ctx, rec.ID, ack.Delivered()) {
			p.relay.Emit(sessionID, relay.Error{Message: "failed to record delivery for " + rec.PhoneNumber})
			continue
		}

		p.relay.Emit(sessionID, relay.MessageSent{
			Name:        rec.Name,
			PhoneNumber: rec.PhoneNumber,
			Ack:         ack,
		})
	}
	return false
}

func (p *Processor) record(ctx context.Context, recipientID int64, delivered bool) bool {
	processed := true
	_, err := p.recipients.Update(ctx, recipientID, model.RecipientUpdate{
		Processed: &processed,
		Delivered: &delivered,
	})
	if err != nil {
		slog.Warn("recipient update failed", "recipient", recipientID, "err", err)
		return false
	}
	return true
}

// wait sleeps for a randomized pacing delay. Returns false when the run
// context is canceled first.
func (p *Processor) wait(ctx context.Context) bool {
	delay := p.cfg.DelayMin
	if span := p.cfg.DelayMax - p.cfg.DelayMin; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}

	tmr := time.NewTimer(delay)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}

func (p *Processor) decline(sessionID, message string) {
	p.relay.Emit(sessionID, relay.Error{Message: message})
}

func declineMessage(err error) string {
	if errors.Is(err, repo.ErrNotFound) {
		return "queue not found"
	}
	return "queue store unavailable"
}

// Pause marks the session bound to queueID so its loop stops before the
// next send. Already-dispatched recipients are unaffected, the rest of
// the batch is discarded unprocessed. Idempotent without a bound session.
func (p *Processor) Pause(queueID int64) {
	p.registry.PauseByQueue(queueID)
}

// Resume clears the paused flag. The loop restarts only on the next
// process request.
func (p *Processor) Resume(queueID int64) {
	p.registry.ResumeByQueue(queueID)
}

// Stop interrupts the loop bound to queueID; the caller persists the
// terminal status first, which is what makes the stop irreversible.
func (p *Processor) Stop(queueID int64) {
	p.registry.StopByQueue(queueID)
}

// IsAuthed is a passthrough query against registry state.
func (p *Processor) IsAuthed(sessionID string) bool {
	return p.registry.IsAuthenticated(sessionID)
}

// sessionTransport is the slice of the transport session the dispatch
// loop needs.
type sessionTransport interface {
	SendMessage(ctx context.Context, phoneNumber, text string) (model.Ack, error)
}
