package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"FeedSentry/internal/config"
	"FeedSentry/internal/httpapi"
	"FeedSentry/internal/infrastructure/events"
	"FeedSentry/internal/infrastructure/llm"
	"FeedSentry/internal/infrastructure/notify"
	"FeedSentry/internal/infrastructure/parser"
	"FeedSentry/internal/infrastructure/queue"
	"FeedSentry/internal/infrastructure/scheduler"
	"FeedSentry/internal/infrastructure/storage"
	"FeedSentry/internal/logging"
	"FeedSentry/internal/ports"
	"FeedSentry/internal/scanner"
	"FeedSentry/internal/usecase"
	"FeedSentry/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store   ports.Store
	queue   ports.JobQueue
	sources *scanner.Registry
	hub     *events.Hub
	pool    *worker.Pool

	poller    *usecase.Poller
	processor *usecase.Processor
	digest    *usecase.Digest
	backtests *usecase.BacktestRunner
	scheduler *usecase.Scheduler
	server    *echo.Echo

	closers []func() error
}

// New builds every component from cfg. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	if a.queue, err = a.openQueue(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.sources = parser.NewRegistry(cfg.Adapters, baseLogger)
	a.hub = events.NewHub(64)

	delivery := usecase.DeliveryDefaults{
		Channel:  cfg.Notifications.DefaultChannel,
		Settings: cfg.Notifications.Settings,
	}
	completions := a.llmRegistry(ctx)
	channels := a.notifyRegistry()

	a.poller = usecase.NewPoller(usecase.PollerDeps{
		Sources:    store,
		Contents:   store,
		Streams:    store,
		Fetcher:    a.sources,
		Queue:      a.queue,
		Events:     a.hub,
		StaleAfter: cfg.Scheduler.StaleAfter,
		Logger:     baseLogger,
	})
	a.processor = usecase.NewProcessor(usecase.ProcessorDeps{
		Streams:    store,
		Contents:   store,
		Logs:       store,
		Outputs:    store,
		LLM:        completions,
		Dispatcher: channels,
		Events:     a.hub,
		Delivery:   delivery,
		Logger:     baseLogger,
	})
	a.digest = usecase.NewDigest(usecase.DigestDeps{
		Streams:    store,
		Contents:   store,
		Logs:       store,
		Outputs:    store,
		LLM:        completions,
		Dispatcher: channels,
		Events:     a.hub,
		Delivery:   delivery,
		Location:   cfg.Scheduler.Location(),
		Logger:     baseLogger,
	})

	a.pool = worker.NewPool(cfg.Backtest.Workers, baseLogger)
	a.backtests = usecase.NewBacktestRunner(usecase.BacktestDeps{
		Backtests: store,
		Streams:   store,
		Contents:  store,
		Processor: a.processor,
		Spawner:   a.pool,
		Logger:    baseLogger,
	})

	a.scheduler = usecase.NewScheduler(
		scheduler.NewTicker(cfg.Scheduler.PollInterval, true),
		scheduler.NewTicker(cfg.Scheduler.DigestInterval, false),
		a.poller,
		a.digest,
		baseLogger,
	)

	a.server = httpapi.NewServer(httpapi.Deps{
		Store:     store,
		Sources:   a.sources,
		Poller:    a.poller,
		Digest:    a.digest,
		Backtests: a.backtests,
		Events:    a.hub,
		Logger:    baseLogger,
	})
	return a, nil
}

func (a *Application) openStore(ctx context.Context) (ports.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(a.cfg.Database.Driver))
	if driver == "memory" {
		a.logger.Warn("using in-memory store; data is lost on exit")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.Open(ctx, driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("store ready", "driver", driver)
	return store, nil
}

func (a *Application) openQueue(ctx context.Context) (ports.JobQueue, error) {
	opts := queue.OptionsFromConfig(a.cfg.Queue)
	switch strings.ToLower(strings.TrimSpace(a.cfg.Queue.Driver)) {
	case "", "memory":
		return queue.NewMemory(a.cfg.Queue.BufferSize, opts, a.logger), nil
	case "redis":
		q, err := queue.NewRedisFromURL(a.cfg.Queue.RedisURL, queue.RedisConfigFromConfig(a.cfg.Queue), opts, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		if err := q.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", a.cfg.Queue.Driver)
	}
}

// llmRegistry registers every configured provider. A provider that cannot be built is skipped
// so the rest of the pipeline still starts; streams naming it fail with ErrProviderUnavailable.
func (a *Application) llmRegistry(ctx context.Context) *llm.Registry {
	registry := llm.NewRegistry(a.cfg.LLM.DefaultProvider, a.cfg.LLM.Timeout, a.logger)
	httpClient := &http.Client{Timeout: a.cfg.LLM.Timeout}

	for _, p := range a.cfg.LLM.Providers {
		switch strings.ToLower(p.Type) {
		case "openai", "groq", "openrouter", "":
			registry.Register(llm.NewOpenAIClient(p, httpClient))
		case "gemini":
			client, err := llm.NewGeminiClient(ctx, p)
			if err != nil {
				a.logger.Warn("skip llm provider", "provider", p.Name, "error", err)
				continue
			}
			registry.Register(client)
		default:
			a.logger.Warn("skip llm provider", "provider", p.Name, "type", p.Type)
		}
	}
	if len(registry.Names()) == 0 {
		a.logger.Warn("no llm providers configured")
	}
	return registry
}

func (a *Application) notifyRegistry() *notify.Registry {
	cfg := a.cfg.Notifications
	registry := notify.NewRegistry(a.logger)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint)
		if err != nil {
			a.logger.Warn("telegram channel disabled", "error", err)
		} else {
			registry.Register(tg)
		}
	}
	if cfg.Webhook.Enabled {
		registry.Register(notify.NewWebhook(httpClient, cfg.Webhook.Headers))
	}
	if cfg.Slack.Enabled {
		registry.Register(notify.NewSlack(httpClient))
	}
	if cfg.Discord.Enabled {
		registry.Register(notify.NewDiscord(httpClient))
	}
	if cfg.Email.Host != "" {
		registry.Register(notify.NewEmail(cfg.Email))
	}

	a.logger.Info("notification channels ready", "channels", registry.Names())
	return registry
}

// Handler exposes the HTTP API; used by tests and embedding.
func (a *Application) Handler() http.Handler {
	return a.server
}

// Serve runs queue workers, periodic drivers and the HTTP server until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.queue.Run(gctx, a.processor.Process)
	})

	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.scheduler.Stop(stopCtx)
	})

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.logger.Info("application stopped")
	return err
}

// PollOnce runs a single sweep. With the in-memory queue the jobs are consumed while the
// sweep runs and the rest before returning, since nothing else would process them.
func (a *Application) PollOnce(ctx context.Context) (usecase.SweepReport, error) {
	mem, ok := a.queue.(*queue.Memory)
	if !ok {
		return a.poller.Sweep(ctx)
	}

	swept := make(chan struct{})
	consumed := make(chan int, 1)
	go func() {
		consumed <- mem.Consume(ctx, a.processor.Process, swept)
	}()

	report, err := a.poller.Sweep(ctx)
	close(swept)
	processed := <-consumed
	a.logger.Info("processed queued jobs", "jobs", processed, "dead", len(mem.Dead()))
	return report, err
}

// DigestOnce runs a single digest tick.
func (a *Application) DigestOnce(ctx context.Context) (usecase.DigestReport, error) {
	return a.digest.Tick(ctx)
}

// Close stops background tasks and releases connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Migrate applies the schema of the configured SQL database.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver == "memory" {
		logger.Info("memory store has no schema")
		return nil
	}
	store, err := storage.Open(ctx, driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	logger.Info("schema applied", "driver", driver)
	return store.Close()
}
