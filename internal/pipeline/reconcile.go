package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/racephoto/internal/models"
)

const (
	reconcileBatch     = 10000
	maxReconcilePasses = 5
)

// ReconcileReport summarises one reconciliation run over an event.
type ReconcileReport struct {
	Event    models.EventRef
	Examined int
	Updated  int
}

// Reconciler re-resolves photos that were deferred or resolved on weak
// evidence, against the bibs confirmed since.
type Reconciler struct {
	store     PhotoStore
	processor *Processor
	logger    *slog.Logger
	pageSize  int
}

func NewReconciler(store PhotoStore, processor *Processor, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, processor: processor, logger: logger, pageSize: reconcileBatch}
}

// Run reconciles one event. An update can unlock further updates (a photo
// resolved by face lends its bib to others), so passes repeat until one
// changes nothing.
func (r *Reconciler) Run(ctx context.Context, ev models.EventRef) (ReconcileReport, error) {
	report := ReconcileReport{Event: ev}

	for pass := 0; pass < maxReconcilePasses; pass++ {
		updated, err := r.pass(ctx, ev, &report)
		if err != nil {
			return report, err
		}
		report.Updated += updated
		if updated == 0 {
			break
		}
	}

	r.logger.Info("reconciliation finished",
		"organizer_id", ev.TenantID, "event_id", ev.EventID,
		"examined", report.Examined, "updated", report.Updated)
	return report, nil
}

// pass walks every pending photo of the event once, page by page. Photos
// resolved on weak evidence stay pending, so the walk advances a keyset
// cursor instead of re-reading the first page.
func (r *Reconciler) pass(ctx context.Context, ev models.EventRef, report *ReconcileReport) (int, error) {
	updated := 0
	var after models.PhotoCursor
	for {
		photos, err := r.store.PendingResolution(ctx, ev, after, r.pageSize)
		if err != nil {
			return updated, fmt.Errorf("list pending: %w", err)
		}
		for i := range photos {
			if err := ctx.Err(); err != nil {
				return updated, err
			}
			report.Examined++
			applied, err := r.processor.Resolve(ctx, &photos[i])
			if err != nil {
				return updated, fmt.Errorf("resolve %s: %w", photos[i].ImageKey, err)
			}
			if applied {
				updated++
			}
		}
		if len(photos) < r.pageSize {
			return updated, nil
		}
		after = photos[len(photos)-1].Cursor()
	}
}

// RunAll reconciles every event with pending photos. A failing event is
// logged and does not stop the others.
func (r *Reconciler) RunAll(ctx context.Context) ([]ReconcileReport, error) {
	events, err := r.store.PendingEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}

	reports := make([]ReconcileReport, 0, len(events))
	for _, ev := range events {
		rep, err := r.Run(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			r.logger.Error("reconciliation failed",
				"organizer_id", ev.TenantID, "event_id", ev.EventID, "error", err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
