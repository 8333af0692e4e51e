package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/racephoto/internal/app"
	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/pipeline"
	"github.com/your-org/racephoto/internal/queue"
	"github.com/your-org/racephoto/internal/storage"
)

var reconcileOpts struct {
	organizer string
	event     string
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-resolve deferred and weakly resolved photos",
	Long: `Runs the reconciliation pass once. Without --organizer/--event every event
with pending photos is processed.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileOpts.organizer, "organizer", "", "limit to one organizer (requires --event)")
	reconcileCmd.Flags().StringVar(&reconcileOpts.event, "event", "", "limit to one event")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if (reconcileOpts.organizer == "") != (reconcileOpts.event == "") {
		return errors.New("--organizer and --event must be given together")
	}
	ctx := cmd.Context()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	objects, err := storage.NewObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	svc, err := app.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()

	processor := app.NewProcessor(cfg, svc, db, objects, producer, logger)
	rec := pipeline.NewReconciler(db, processor, logger)

	var reports []pipeline.ReconcileReport
	if reconcileOpts.event != "" {
		rep, err := rec.Run(ctx, models.EventRef{TenantID: reconcileOpts.organizer, EventID: reconcileOpts.event})
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	} else {
		reports, err = rec.RunAll(ctx)
		if err != nil {
			return err
		}
	}

	if len(reports) == 0 {
		fmt.Println("No events with pending photos.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORGANIZER\tEVENT\tEXAMINED\tUPDATED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.Event.TenantID, r.Event.EventID, r.Examined, r.Updated)
	}
	return w.Flush()
}
