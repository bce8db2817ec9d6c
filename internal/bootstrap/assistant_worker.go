package bootstrap

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"assistant_server/adapter/in/chatbot"
	"assistant_server/adapter/in/worker"
	"assistant_server/config"
	"assistant_server/internal/stream"
	"assistant_server/pkg/logger"
)

// Worker bundles the job-processing side of the process: the pool, the
// stream consumer, the tick scheduler and the Telegram listener.
type Worker struct {
	pool      *worker.Pool
	consumer  *stream.Consumer
	scheduler *worker.Scheduler
	listener  *chatbot.Listener
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewWorker builds the worker process.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "assistant-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	mailProcessor := worker.NewMailProcessor(deps.Poller, deps.Producer)
	workflowProcessor := worker.NewWorkflowProcessor(deps.Engine)
	indexingProcessor := worker.NewIndexingProcessor(deps.Indexer, deps.Users, deps.Producer)
	notifyProcessor := worker.NewNotifyProcessor(deps.ApprovalService, deps.Queue)

	handler := worker.NewHandler(mailProcessor, workflowProcessor, indexingProcessor, notifyProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}

	if deps.Stream != nil {
		w.consumer = stream.NewConsumer(deps.Stream, pool, cfg.WorkerID)
		w.scheduler = worker.NewScheduler(deps.Producer, worker.SchedulerConfig{
			PollInterval: cfg.PollingInterval(),
		})
		logger.Info("Stream consumer and scheduler configured")
	} else {
		logger.Warn("Redis not available, worker will only process direct submissions")
	}

	if deps.Bot != nil {
		w.listener = chatbot.NewListener(deps.Bot, deps.ApprovalService)
	} else {
		logger.Warn("Telegram bot not configured, approval callbacks disabled")
	}

	return w, cleanup, nil
}

// Start runs the worker until Stop is called.
func (w *Worker) Start() {
	w.pool.Start()
	if w.consumer != nil {
		w.consumer.Start(w.ctx)
	}
	if w.scheduler != nil {
		w.scheduler.Start()
	}
	if w.listener != nil {
		go w.listener.Start(w.ctx)
	}

	logger.Info("Worker started")
	<-w.ctx.Done()
}

// Stop shuts the worker down in dependency order: stop producing ticks,
// stop consuming, drain the pool.
func (w *Worker) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.cancel()
	w.pool.Stop()
	logger.Info("Worker stopped")
}
