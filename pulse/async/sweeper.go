package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/logger"
)

const (
	// MaxStuckJobsPerSweep limits how many stuck jobs a single sweep fails
	MaxStuckJobsPerSweep = 1000

	// StuckJobMessage is recorded on jobs failed by the sweeper
	StuckJobMessage = "timed out: no progress"
)

// Sweeper fails jobs left in processing by a crashed or hung run.
// Without it a job whose goroutine died would stay processing forever.
type Sweeper struct {
	queue    *Queue
	after    time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
	onFailed func(context.Context, *Job)

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper failing jobs processing for longer than after
func NewSweeper(queue *Queue, after, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		queue:    queue,
		after:    after,
		interval: interval,
		now:      time.Now,
		log:      logger.OrGlobal(log, "sweeper"),
		done:     make(chan struct{}),
	}
}

// OnFailed registers fn to run for every job the sweeper fails, after the
// job row is settled. Owners of resources held by a job use it to let go.
func (s *Sweeper) OnFailed(fn func(ctx context.Context, job *Job)) *Sweeper {
	s.onFailed = fn
	return s
}

// Sweep runs one pass and returns how many jobs were failed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.after)
	stuck, err := s.queue.store.ListStuck(ctx, cutoff, MaxStuckJobsPerSweep)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, job := range stuck {
		settled, err := s.queue.Fail(ctx, job.ID, StuckJobMessage)
		if err != nil {
			// Lost a race with the real run finishing; nothing to do
			s.log.Debugw("Stuck job changed before sweep",
				logger.FieldJobID, job.ID,
				logger.FieldError, err.Error(),
			)
			continue
		}
		failed++
		s.log.Warnw("Failed stuck job",
			logger.FieldJobID, job.ID,
			logger.FieldJobType, job.JobType,
			"started_at", job.StartedAt,
		)
		if s.onFailed != nil {
			s.onFailed(ctx, settled)
		}
	}
	return failed, nil
}

// Start runs a sweep immediately and then every interval until Stop
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Warnw("Sweep failed", logger.FieldError, err.Error())
			} else if n > 0 {
				s.log.Infow("Sweep complete", logger.FieldCount, n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}
