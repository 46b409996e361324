package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"conti/internal/clock"
	"conti/internal/config"
	"conti/internal/core"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend, HouseholdID: "home"}, false},
		{"sqlite", Config{Type: SQLiteBackend, HouseholdID: "home", SQLiteDBPath: "x.db"}, false},
		{"unknown type", Config{Type: "sheets", HouseholdID: "home"}, true},
		{"no household", Config{Type: MemoryBackend}, true},
		{"sqlite without path", Config{Type: SQLiteBackend, HouseholdID: "home"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, HouseholdID: "home", AMQPURL: "amqp://x", AMQPExchange: "conti"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := &config.Config{
		DataBackend:          "memory",
		SchedulerConcurrency: 2,
		HistoryCacheSize:     6,
		HistoryCacheTTL:      time.Hour,
	}
	members := []core.Member{{ID: "a", Name: "Alice"}}
	cfg, err := FromAppConfig(app, "home", members)
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != MemoryBackend || cfg.HouseholdID != "home" || cfg.SchedulerConcurrency != 2 || len(cfg.Members) != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := FromAppConfig(nil, "home", nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app, "home", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCreateBackend(t *testing.T) {
	members := []core.Member{{ID: "b", Name: "Bruno"}, {ID: "a", Name: "Alice"}}
	tests := []struct {
		name string
		cfg  func(t *testing.T) Config
	}{
		{"memory", func(t *testing.T) Config {
			return Config{Type: MemoryBackend, HouseholdID: "home", Members: members, HistoryCacheSize: 4, HistoryCacheTTL: time.Hour}
		}},
		{"sqlite", func(t *testing.T) Config {
			return Config{
				Type:             SQLiteBackend,
				SQLiteDBPath:     filepath.Join(t.TempDir(), "data", "conti.db"),
				HouseholdID:      "home",
				Members:          members,
				HistoryCacheSize: 4,
				HistoryCacheTTL:  time.Hour,
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC))
			b, err := NewFactoryWithClock(nil, clk).CreateBackend(ctx, tt.cfg(t))
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			t.Cleanup(func() {
				if err := b.Cleanup(); err != nil {
					t.Errorf("cleanup: %v", err)
				}
			})

			if b.Events != nil {
				t.Fatal("events should be disabled without AMQP_URL")
			}
			if err := b.Ready(ctx); err != nil {
				t.Fatalf("ready: %v", err)
			}
			got, err := b.Ledger.Members(ctx)
			if err != nil {
				t.Fatalf("members: %v", err)
			}
			if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
				t.Fatalf("members = %+v", got)
			}
			p, err := b.Ledger.LoadCurrentPeriod(ctx, "a")
			if err != nil {
				t.Fatalf("load period: %v", err)
			}
			if p.Account.ID != "2026-10" || p.Account.RentPayer != "a" {
				t.Fatalf("account = %+v", p.Account)
			}
		})
	}
}
