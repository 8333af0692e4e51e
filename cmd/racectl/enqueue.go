package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/racephoto/internal/ingest"
	"github.com/your-org/racephoto/internal/queue"
	"github.com/your-org/racephoto/internal/storage"
)

var enqueueOpts struct {
	organizer    string
	event        string
	photographer string
	keys         []string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [files...]",
	Short: "Upload local photos and start their pipeline runs",
	Long: `Uploads each file to {organizer}/{event}/<raw marker>/<name> and enqueues it.
Objects already in the bucket can be re-driven with --key.`,
	RunE: runEnqueue,
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueOpts.organizer, "organizer", "", "organizer (tenant) id for uploaded files")
	f.StringVar(&enqueueOpts.event, "event", "", "event id for uploaded files")
	f.StringVar(&enqueueOpts.photographer, "photographer", "", "photographer id stored as object metadata")
	f.StringSliceVar(&enqueueOpts.keys, "key", nil, "existing object key to re-enqueue (repeatable)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(enqueueOpts.keys) == 0 {
		return errors.New("nothing to enqueue: pass files or --key")
	}
	if len(args) > 0 && (enqueueOpts.organizer == "" || enqueueOpts.event == "") {
		return errors.New("--organizer and --event are required when uploading files")
	}

	ctx := cmd.Context()

	objects, err := storage.NewObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return err
	}

	trigger := ingest.NewTrigger(objects, producer, cfg.Storage.RawMarker, logger)

	var meta map[string]string
	if enqueueOpts.photographer != "" {
		meta = map[string]string{"photographer-id": enqueueOpts.photographer}
	}

	total := len(args) + len(enqueueOpts.keys)
	failed := 0
	for _, path := range args {
		key := ingest.ObjectKey{
			TenantID:  enqueueOpts.organizer,
			EventID:   enqueueOpts.event,
			Subfolder: cfg.Storage.RawMarker,
			Filename:  filepath.Base(path),
		}.Key()

		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
			failed++
			continue
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := objects.PutObject(ctx, objects.Bucket(), key, data, contentType, meta); err != nil {
			fmt.Fprintf(os.Stderr, "upload %s: %v\n", path, err)
			failed++
			continue
		}
		enqueueOpts.keys = append(enqueueOpts.keys, key)
	}

	for _, key := range enqueueOpts.keys {
		msg, err := trigger.Enqueue(ctx, ingest.ObjectCreated{
			Bucket:    objects.Bucket(),
			Key:       key,
			EventTime: time.Now().UTC(),
			Metadata:  meta,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue %s: %v\n", key, err)
			failed++
			continue
		}
		fmt.Printf("%s\t%s\n", msg.RunID, msg.Key)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, total)
	}
	return nil
}
