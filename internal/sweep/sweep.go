package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/bulk-messaging/internal/dispatch"
	"github.com/LeventeLantos/bulk-messaging/internal/model"
	"github.com/LeventeLantos/bulk-messaging/internal/registry"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
)

// Sweeper periodically re-drives queues that are persisted as in-progress
// but have no running dispatch loop, which is the state a process restart
// leaves behind. A queue is only re-driven when its owner's session is
// attached, ready and idle; everything else is picked up on a later pass.
type Sweeper struct {
	interval  time.Duration
	queues    repo.QueueRepository
	registry  *registry.Registry
	processor *dispatch.Processor

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, queues repo.QueueRepository, reg *registry.Registry, proc *dispatch.Processor) (*Sweeper, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if queues == nil || reg == nil || proc == nil {
		return nil, errors.New("queues, registry and processor must not be nil")
	}
	return &Sweeper{
		interval:  interval,
		queues:    queues,
		registry:  reg,
		processor: proc,
		done:      make(chan struct{}),
	}, nil
}

func (s *Sweeper) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("sweeper started", "interval", s.interval.String())

		for {
			select {
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				return
			case <-ticker.C:
				s.safeSweep(ctx)
			}
		}
	}()

	return true
}

func (s *Sweeper) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("sweeper stopped")
	return true
}

func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep panic recovered", "panic", r)
		}
	}()

	started := s.Sweep(ctx)
	if started > 0 {
		slog.Info("sweep re-drove stalled queues", "count", started)
	}
}

// Sweep runs one pass and reports how many dispatch loops it started.
func (s *Sweeper) Sweep(ctx context.Context) int {
	stalled, err := s.queues.ListByStatus(ctx, model.InProgress)
	if err != nil {
		slog.Warn("sweep could not list in-progress queues", "err", err)
		return 0
	}

	started := 0
	for _, q := range stalled {
		// The owner's external id doubles as the session id.
		if !s.registry.Idle(q.Owner) {
			continue
		}
		started++
		go s.processor.Process(ctx, q.Owner, q.ID)
	}
	return started
}
