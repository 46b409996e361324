package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conti/internal/amqp"
	"conti/internal/cache"
	"conti/internal/clock"
	"conti/internal/metrics"
	"conti/internal/services"
	"conti/internal/storage"
	"conti/internal/store"
	"conti/internal/store/memory"
)

// DefaultFactory implements Factory.
type DefaultFactory struct {
	logger *slog.Logger
	clock  clock.Clock
}

// NewFactory creates a backend factory using the system clock.
func NewFactory(logger *slog.Logger) *DefaultFactory {
	return NewFactoryWithClock(logger, clock.Real())
}

func NewFactoryWithClock(logger *slog.Logger, clk clock.Clock) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger, clock: clk}
}

var _ Factory = (*DefaultFactory)(nil)

// CreateBackend opens the store, connects the publisher when configured and
// wires the services. Members in config are seeded before returning.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s, closeStore, ready, err := f.openStore(config)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		Store:   s,
		Metrics: metrics.New(),
		Ready:   ready,
	}

	var publisher services.EventPublisher
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			b.Events = client
			publisher = client
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	schedConfig := services.DefaultSchedulerConfig()
	if config.SchedulerConcurrency > 0 {
		schedConfig.Concurrency = config.SchedulerConcurrency
	}
	b.Scheduler = services.NewScheduler(s, publisher, b.Metrics, f.clock, schedConfig)
	b.Months = services.NewMonthManager(s, b.Scheduler, publisher, b.Metrics, f.clock)
	b.History = cache.NewHistory(config.HistoryCacheSize, config.HistoryCacheTTL, f.clock)
	b.Ledger = services.NewLedgerService(s, b.Months, b.Scheduler, b.History, f.clock, config.HouseholdID)

	b.Cleanup = func() error {
		var errs []error
		if b.Events != nil {
			errs = append(errs, b.Events.Close())
		}
		errs = append(errs, closeStore())
		return errors.Join(errs...)
	}

	if len(config.Members) > 0 {
		if err := b.Ledger.SeedMembers(ctx, config.Members); err != nil {
			_ = b.Cleanup()
			return nil, fmt.Errorf("seed members: %w", err)
		}
	}

	f.logger.Info("Initialized backend",
		"backend", config.Type,
		"household_id", config.HouseholdID,
		"members", len(config.Members),
		"amqp_enabled", b.Events != nil)
	return b, nil
}

func (f *DefaultFactory) openStore(config Config) (store.Ledger, func() error, func(context.Context) error, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		return repo, repo.Close, repo.Ping, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory store, data is lost on restart")
		s := memory.New()
		return s, s.Close, func(context.Context) error { return nil }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
