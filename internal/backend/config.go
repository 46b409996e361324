package backend

import (
	"errors"
	"fmt"
	"strings"

	"conti/internal/config"
	"conti/internal/core"
)

// FromAppConfig converts the application config to backend config.
func FromAppConfig(appConfig *config.Config, householdID string, members []core.Member) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	cfg := Config{
		Type:                 backendType,
		SQLiteDBPath:         appConfig.SQLiteDBPath,
		AMQPURL:              appConfig.AMQPURL,
		AMQPExchange:         appConfig.AMQPExchange,
		AMQPQueue:            appConfig.AMQPQueue,
		HouseholdID:          householdID,
		Members:              members,
		SchedulerConcurrency: appConfig.SchedulerConcurrency,
		HistoryCacheSize:     appConfig.HistoryCacheSize,
		HistoryCacheTTL:      appConfig.HistoryCacheTTL,
	}
	return cfg, cfg.Validate()
}

// Validate validates the backend configuration.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if strings.TrimSpace(c.HouseholdID) == "" {
		return errors.New("household id is required")
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return errors.New("SQLite database path is required for sqlite backend")
	}
	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return errors.New("AMQP exchange and queue are required when an AMQP URL is set")
	}
	return nil
}
