package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/your-org/racephoto/internal/models"
)

type recordingQueue struct {
	msgs []models.PipelineMessage
	fail map[string]bool
}

func (q *recordingQueue) PublishStage(_ context.Context, msg models.PipelineMessage) error {
	if q.fail[msg.Key] {
		return errors.New("nats: timeout")
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type staticMetadata map[string]map[string]string

func (m staticMetadata) Metadata(_ context.Context, _, key string) (map[string]string, error) {
	return m[key], nil
}

func newTestTrigger(meta MetadataReader, q *recordingQueue) *Trigger {
	tr := NewTrigger(meta, q, "raw", slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.now = func() time.Time { return time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC) }
	return tr
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    ObjectKey
		wantErr error
	}{
		{
			name: "raw photo",
			key:  "org1/race5k/raw/IMG_001.jpg",
			want: ObjectKey{TenantID: "org1", EventID: "race5k", Subfolder: "raw", Filename: "IMG_001.jpg"},
		},
		{
			name: "url encoded with spaces",
			key:  "org1/race5k/raw/finish+line%2801%29.jpg",
			want: ObjectKey{TenantID: "org1", EventID: "race5k", Subfolder: "raw", Filename: "finish line(01).jpg"},
		},
		{
			name: "nested filename",
			key:  "org1/race5k/raw/cam2/IMG_9.jpg",
			want: ObjectKey{TenantID: "org1", EventID: "race5k", Subfolder: "raw", Filename: "cam2/IMG_9.jpg"},
		},
		{name: "processed subfolder", key: "org1/race5k/processed/IMG_001.jpg", wantErr: ErrIgnored},
		{name: "too few segments", key: "org1/race5k/IMG_001.jpg", wantErr: ErrMalformedKey},
		{name: "empty segment", key: "org1//raw/IMG_001.jpg", wantErr: ErrMalformedKey},
		{name: "bad escape", key: "org1/race5k/raw/%zz.jpg", wantErr: ErrMalformedKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.key, "raw")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseNotificationS3Records(t *testing.T) {
	body := []byte(`{"Records":[
		{"eventName":"s3:ObjectCreated:Put","eventTime":"2026-05-03T08:15:00Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"org1/race5k/raw/IMG_001.jpg",
		 "userMetadata":{"X-Amz-Meta-Photographer-Id":"ph-7"}}}},
		{"eventName":"s3:ObjectRemoved:Delete",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"org1/race5k/raw/IMG_000.jpg"}}}
	]}`)

	objs, err := ParseNotification(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 {
		t.Fatalf("objects = %d, want 1", len(objs))
	}
	if objs[0].Bucket != "photos" || objs[0].Key != "org1/race5k/raw/IMG_001.jpg" {
		t.Fatalf("object = %+v", objs[0])
	}
	if PhotographerID(objs[0].Metadata) != "ph-7" {
		t.Fatalf("photographer = %q", PhotographerID(objs[0].Metadata))
	}
}

func TestParseNotificationEventBridge(t *testing.T) {
	body := []byte(`{"time":"2026-05-03T08:15:00Z","detail":{"bucket":{"name":"photos"},"object":{"key":"org1/race5k/raw/IMG_002.jpg"}}}`)
	objs, err := ParseNotification(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 || objs[0].Key != "org1/race5k/raw/IMG_002.jpg" {
		t.Fatalf("objects = %+v", objs)
	}
	if objs[0].EventTime.IsZero() {
		t.Fatal("event time not carried over")
	}
}

func TestTriggerEnqueuesRawObjects(t *testing.T) {
	q := &recordingQueue{}
	meta := staticMetadata{"org1/race5k/raw/IMG_001.jpg": {"instagram-handle": "@lens"}}
	tr := newTestTrigger(meta, q)

	rep := tr.Handle(context.Background(), []ObjectCreated{
		{Bucket: "photos", Key: "org1/race5k/raw/IMG_001.jpg"},
		{Bucket: "photos", Key: "org1/race5k/processed/IMG_001.jpg"},
	})

	if rep.Enqueued != 1 || rep.Ignored != 1 || rep.Malformed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(q.msgs))
	}
	msg := q.msgs[0]
	if msg.Stage != models.StageIngest || msg.TenantID != "org1" || msg.EventID != "race5k" ||
		msg.Bucket != "photos" || msg.Key != "org1/race5k/raw/IMG_001.jpg" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.PhotographerID != "@lens" {
		t.Fatalf("photographer = %q, want @lens", msg.PhotographerID)
	}
	if msg.UploadedAt.IsZero() {
		t.Fatal("uploaded_at not set")
	}
}

func TestTriggerDuplicateNotificationsEnqueueTwice(t *testing.T) {
	q := &recordingQueue{}
	tr := newTestTrigger(nil, q)
	obj := ObjectCreated{Bucket: "photos", Key: "org1/race5k/raw/IMG_001.jpg"}

	tr.Handle(context.Background(), []ObjectCreated{obj})
	tr.Handle(context.Background(), []ObjectCreated{obj})

	if len(q.msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(q.msgs))
	}
	if q.msgs[0].RunID == q.msgs[1].RunID {
		t.Fatal("each run should get its own id")
	}
}

func TestTriggerIsolatesFailures(t *testing.T) {
	q := &recordingQueue{fail: map[string]bool{"org1/race5k/raw/b.jpg": true}}
	tr := newTestTrigger(nil, q)

	rep := tr.Handle(context.Background(), []ObjectCreated{
		{Bucket: "photos", Key: "org1/race5k/raw/a.jpg"},
		{Bucket: "photos", Key: "broken"},
		{Bucket: "photos", Key: "org1/race5k/raw/b.jpg"},
		{Bucket: "photos", Key: "org1/race5k/raw/c.jpg"},
	})

	if rep.Enqueued != 2 || rep.Malformed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].Key != "org1/race5k/raw/b.jpg" {
		t.Fatalf("failures = %+v", rep.Failures)
	}
}
