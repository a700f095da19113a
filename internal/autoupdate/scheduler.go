package autoupdate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckFunc runs one update check.
type CheckFunc func(ctx context.Context) (Result, error)

// SchedulerOptions controls check timing.
type SchedulerOptions struct {
	// MeanInterval is the mean of the exponential delay between checks.
	MeanInterval time.Duration
	// RetryDelay follows a failed check.
	RetryDelay time.Duration
	// Sample draws the next delay. Nil uses ExponentialDelay.
	Sample func(mean time.Duration) time.Duration
	Logger *zap.Logger
}

// ExponentialDelay draws a delay with the given mean, so checks across many
// installations form a Poisson process instead of a synchronized burst.
func ExponentialDelay(mean time.Duration) time.Duration {
	u := 1 - rand.Float64() // (0, 1]
	return time.Duration(-float64(mean) * math.Log(u))
}

// Scheduler runs update checks on a jittered one-shot schedule, re-arming
// itself after every tick.
type Scheduler struct {
	scheduler gocron.Scheduler
	check     CheckFunc
	opts      SchedulerOptions
	log       *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	running bool
	job     uuid.UUID
	nextRun time.Time
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(check CheckFunc, opts SchedulerOptions) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if opts.Sample == nil {
		opts.Sample = ExponentialDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: scheduler,
		check:     check,
		opts:      opts,
		log:       opts.Logger,
	}, nil
}

// Start arms the first check. Checks stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.ctx = ctx
	if err := s.scheduleLocked(s.opts.Sample(s.opts.MeanInterval)); err != nil {
		return err
	}
	s.scheduler.Start()
	s.running = true
	return nil
}

// Stop shuts the scheduler down, waiting for a running check.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.mu.Unlock()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns when the next check is due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) scheduleLocked(delay time.Duration) error {
	at := time.Now().Add(delay)
	start := gocron.OneTimeJobStartDateTime(at)
	// gocron rejects start times that have already passed.
	if delay < time.Second {
		start = gocron.OneTimeJobStartImmediately()
	}
	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(s.tick),
		gocron.WithName("update-check"),
	)
	if err != nil {
		return fmt.Errorf("failed to create update job: %w", err)
	}
	s.job = job.ID()
	s.nextRun = at
	s.log.Debug("update check scheduled", zap.Duration("delay", delay))
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	done := s.job
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	next := s.opts.Sample(s.opts.MeanInterval)
	result, err := s.check(ctx)
	if err != nil {
		s.log.Warn("update check failed", zap.Error(err))
		next = s.opts.RetryDelay
	} else {
		s.log.Debug("update check finished", zap.String("result", string(result)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || ctx.Err() != nil {
		return
	}
	_ = s.scheduler.RemoveJob(done)
	if err := s.scheduleLocked(next); err != nil {
		s.log.Error("failed to re-arm update check", zap.Error(err))
	}
}
