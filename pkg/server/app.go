package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"MTBridge/internal/usecase"
	"MTBridge/pkg/config"
	xhttp "MTBridge/pkg/http"
	pkgkafka "MTBridge/pkg/kafka"
	applogger "MTBridge/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	scheduler  *usecase.StreamScheduler
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	feed       pkgkafka.MessageHandler
	producer   *pkgkafka.Producer
	closers    map[string]io.Closer
}

// New creates a new App instance with all dependencies. consumer and feed are
// nil unless the bridge reads its data from Kafka.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.StreamScheduler,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	feed pkgkafka.MessageHandler,
) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		scheduler:  scheduler,
		httpServer: httpServer,
		consumer:   consumer,
		feed:       feed,
		closers:    make(map[string]io.Closer),
	}
}

// SetProducer hands the log collector's producer to the app so it is closed last.
func (a *App) SetProducer(p *pkgkafka.Producer) { a.producer = p }

// AddCloser registers an infrastructure client closed during shutdown.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers[name] = c
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consumer if configured
	if a.consumer != nil && a.feed != nil {
		a.consumer.RegisterHandler(a.feed)
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer error", applogger.Error(err))
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.feed.Topic()))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(runCtx); err != nil {
			a.l.Error("stream scheduler error", applogger.Error(err))
		}
	}()

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		cancel()
		wg.Wait()
		return err
	}
	a.l.Info("bridge started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("source", a.cfg.Source.Type),
		applogger.String("addr", a.httpServer.Addr()),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")

	cancel()
	wg.Wait()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	a.l.Info("shutting down...")

	// Closing sessions unblocks their read loops before the listener goes away.
	a.scheduler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	for name, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("client", name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")

	// The collector flushes through the producer, so it goes before it.
	a.l.RemoveCollector()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return nil
}
