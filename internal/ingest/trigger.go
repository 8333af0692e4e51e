package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/observability"
)

// MetadataReader reads user metadata attached to a stored object.
type MetadataReader interface {
	Metadata(ctx context.Context, bucket, key string) (map[string]string, error)
}

// Enqueuer starts a pipeline run.
type Enqueuer interface {
	PublishStage(ctx context.Context, msg models.PipelineMessage) error
}

// RecordFailure is one object that could not be enqueued and should be
// retried by whoever sent the notification.
type RecordFailure struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Error  string `json:"error"`
}

// Report summarises one notification.
type Report struct {
	Enqueued  int             `json:"enqueued"`
	Ignored   int             `json:"ignored"`
	Malformed int             `json:"malformed"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}

// Trigger turns object-created notifications into ingest messages.
type Trigger struct {
	meta      MetadataReader
	queue     Enqueuer
	rawMarker string
	logger    *slog.Logger
	now       func() time.Time
}

func NewTrigger(meta MetadataReader, queue Enqueuer, rawMarker string, logger *slog.Logger) *Trigger {
	return &Trigger{meta: meta, queue: queue, rawMarker: rawMarker, logger: logger, now: time.Now}
}

// Handle enqueues every raw object in objs. Malformed and ignored keys are
// counted, not failed; only transient errors end up in Failures.
func (t *Trigger) Handle(ctx context.Context, objs []ObjectCreated) Report {
	var rep Report
	for _, obj := range objs {
		_, err := t.Enqueue(ctx, obj)
		switch {
		case err == nil:
			rep.Enqueued++
			observability.PhotosIngested.WithLabelValues("enqueued").Inc()
		case errors.Is(err, ErrIgnored):
			rep.Ignored++
			observability.PhotosIngested.WithLabelValues("ignored").Inc()
		case errors.Is(err, ErrMalformedKey):
			rep.Malformed++
			observability.PhotosIngested.WithLabelValues("malformed").Inc()
			t.logger.Warn("ignoring malformed object key", "bucket", obj.Bucket, "key", obj.Key, "error", err)
		default:
			observability.PhotosIngested.WithLabelValues("failed").Inc()
			t.logger.Error("enqueue photo failed", "bucket", obj.Bucket, "key", obj.Key, "error", err)
			rep.Failures = append(rep.Failures, RecordFailure{Bucket: obj.Bucket, Key: obj.Key, Error: err.Error()})
		}
	}
	return rep
}

// Enqueue publishes the ingest message for one object.
func (t *Trigger) Enqueue(ctx context.Context, obj ObjectCreated) (models.PipelineMessage, error) {
	k, err := ParseKey(obj.Key, t.rawMarker)
	if err != nil {
		return models.PipelineMessage{}, err
	}

	photographer := PhotographerID(obj.Metadata)
	if photographer == "" && t.meta != nil {
		meta, err := t.meta.Metadata(ctx, obj.Bucket, k.Key())
		if err != nil {
			return models.PipelineMessage{}, fmt.Errorf("read metadata: %w", err)
		}
		photographer = PhotographerID(meta)
	}

	uploaded := obj.EventTime
	if uploaded.IsZero() {
		uploaded = t.now()
	}

	msg := models.PipelineMessage{
		RunID:          uuid.New(),
		Stage:          models.StageIngest,
		TenantID:       k.TenantID,
		EventID:        k.EventID,
		Bucket:         obj.Bucket,
		Key:            k.Key(),
		PhotographerID: photographer,
		UploadedAt:     uploaded.UTC(),
	}
	if err := t.queue.PublishStage(ctx, msg); err != nil {
		return models.PipelineMessage{}, fmt.Errorf("publish ingest: %w", err)
	}

	t.logger.Info("photo enqueued",
		"run_id", msg.RunID, "organizer_id", msg.TenantID, "event_id", msg.EventID, "key", msg.Key)
	return msg, nil
}
