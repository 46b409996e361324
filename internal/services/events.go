package services

import (
	"context"
	"log/slog"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/metrics"
)

// EventPublisher announces ledger changes to other processes. The AMQP
// client implements it.
type EventPublisher interface {
	PublishChargeMaterialized(ctx context.Context, c core.ChargeInstance) error
	PublishMonthFinalized(ctx context.Context, a core.MonthlyAccount) error
}

var _ EventPublisher = (*amqp.Client)(nil)

// publishCharge and publishMonth never fail the caller: the write they
// announce is already durable.
func publishCharge(ctx context.Context, p EventPublisher, m *metrics.Metrics, c core.ChargeInstance) {
	if p == nil {
		slog.DebugContext(ctx, "Event publisher not available, skipping event", "type", amqp.EventChargeMaterialized)
		return
	}
	if err := p.PublishChargeMaterialized(ctx, c); err != nil {
		m.EventPublishFailed(amqp.EventChargeMaterialized)
		slog.ErrorContext(ctx, "Failed to publish charge event",
			"charge_id", c.ID,
			"template_id", c.TemplateID,
			"error", err)
	}
}

func publishMonth(ctx context.Context, p EventPublisher, m *metrics.Metrics, a core.MonthlyAccount) {
	if p == nil {
		slog.WarnContext(ctx, "Event publisher not available, history export skipped", "month_key", a.ID)
		return
	}
	if err := p.PublishMonthFinalized(ctx, a); err != nil {
		m.EventPublishFailed(amqp.EventMonthFinalized)
		slog.ErrorContext(ctx, "Failed to publish month finalized event",
			"month_key", a.ID,
			"error", err)
	}
}
