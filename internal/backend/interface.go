// Package backend assembles the ledger engine from configuration: the
// store, the optional event publisher and the services on top of them.
package backend

import (
	"context"
	"time"

	"conti/internal/amqp"
	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/metrics"
	"conti/internal/services"
	"conti/internal/store"
)

// BackendType selects the store implementation.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (t BackendType) IsValid() bool {
	switch t {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases the resources held by a Backend.
type CleanupFunc func() error

// Backend is a fully wired engine for one household.
type Backend struct {
	Store     store.Ledger
	Ledger    *services.LedgerService
	Months    *services.MonthManager
	Scheduler *services.Scheduler
	History   *cache.History
	Metrics   *metrics.Metrics
	// Events is nil when AMQP is not configured or unreachable.
	Events *amqp.Client
	// Ready reports whether the store is reachable.
	Ready   func(context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Backend, error)
}

// Config holds everything needed to build a Backend.
type Config struct {
	Type BackendType

	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	HouseholdID string
	// Members are upserted on start. Empty means the store's members are
	// used as they are.
	Members []core.Member

	SchedulerConcurrency int
	HistoryCacheSize     int
	HistoryCacheTTL      time.Duration
}
