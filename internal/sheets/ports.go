package sheets

import (
	"context"

	"conti/internal/core"
)

// Ports for outbound adapters.
type (
	// HistoryExporter writes a finalized month to an external history.
	// Exporting the same month twice must not duplicate it.
	HistoryExporter interface {
		ExportMonth(ctx context.Context, a core.MonthlyAccount) error
	}

	// HistoryReader lists the months already present in the external history.
	HistoryReader interface {
		ExportedMonths(ctx context.Context) ([]core.MonthKey, error)
	}
)
