package worker

import (
	"context"
	"time"

	"assistant_server/pkg/logger"
)

const (
	// startupGrace delays the first tick so the consumers are up before
	// the first poll lands on the stream.
	startupGrace = 10 * time.Second

	DefaultPollInterval      = 120 * time.Second
	DefaultSuperviseInterval = 30 * time.Second
	DefaultFlushInterval     = time.Minute
	DefaultCleanupInterval   = 24 * time.Hour
)

// TickProducer publishes the recurring jobs the scheduler emits.
// Implemented by the stream producer.
type TickProducer interface {
	PublishMailPoll(ctx context.Context, userID int64) (string, error)
	PublishIndexingSupervise(ctx context.Context) (string, error)
	PublishIndexingCleanup(ctx context.Context) (string, error)
	PublishNotifyFlush(ctx context.Context) (string, error)
}

// SchedulerConfig holds the tick intervals.
type SchedulerConfig struct {
	PollInterval      time.Duration
	SuperviseInterval time.Duration
	FlushInterval     time.Duration
	CleanupInterval   time.Duration
}

// DefaultSchedulerConfig returns the production intervals.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:      DefaultPollInterval,
		SuperviseInterval: DefaultSuperviseInterval,
		FlushInterval:     DefaultFlushInterval,
		CleanupInterval:   DefaultCleanupInterval,
	}
}

// Scheduler emits the recurring jobs onto the stream: mailbox polls,
// indexing supervision, manual-notification flushes and vector retention
// cleanup. It only publishes; the consumers do the work, so running
// several instances is safe as long as one scheduler is active.
type Scheduler struct {
	producer TickProducer
	cfg      SchedulerConfig
	ctx      context.Context
	cancel   context.CancelFunc
	log      *logger.Logger
}

// NewScheduler creates the scheduler. Zero intervals use the defaults.
func NewScheduler(producer TickProducer, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SuperviseInterval <= 0 {
		cfg.SuperviseInterval = def.SuperviseInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		producer: producer,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Default().WithField("component", "scheduler"),
	}
}

// Start launches the tick loops.
func (s *Scheduler) Start() {
	s.log.Info("scheduler starting: poll=%s supervise=%s flush=%s cleanup=%s",
		s.cfg.PollInterval, s.cfg.SuperviseInterval, s.cfg.FlushInterval, s.cfg.CleanupInterval)

	go s.loop(s.cfg.PollInterval, "mail poll", func(ctx context.Context) error {
		_, err := s.producer.PublishMailPoll(ctx, 0)
		return err
	})
	go s.loop(s.cfg.SuperviseInterval, "indexing supervise", func(ctx context.Context) error {
		_, err := s.producer.PublishIndexingSupervise(ctx)
		return err
	})
	go s.loop(s.cfg.FlushInterval, "notify flush", func(ctx context.Context) error {
		_, err := s.producer.PublishNotifyFlush(ctx)
		return err
	})
	go s.loop(s.cfg.CleanupInterval, "indexing cleanup", func(ctx context.Context) error {
		_, err := s.producer.PublishIndexingCleanup(ctx)
		return err
	})
}

// Stop stops all tick loops.
func (s *Scheduler) Stop() {
	s.cancel()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, name string, publish func(context.Context) error) {
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(startupGrace):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			if err := publish(ctx); err != nil {
				s.log.WithError(err).Error("%s tick publish failed", name)
			}
			cancel()
		}
	}
}
