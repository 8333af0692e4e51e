package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/your-org/racephoto/internal/models"
)

type handlerFunc func(ctx context.Context, msg models.PipelineMessage) error

func (f handlerFunc) Handle(ctx context.Context, msg models.PipelineMessage) error {
	return f(ctx, msg)
}

func body(t *testing.T, key string) string {
	t.Helper()
	b, err := json.Marshal(models.PipelineMessage{
		Stage:    models.StageText,
		TenantID: "org1",
		EventID:  "race5k",
		Bucket:   "photos",
		Key:      key,
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newTestCoordinator(h Handler, opts Options) *Coordinator {
	return NewCoordinator(h, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCoordinatorReportsOnlyFailedRecord(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	h := handlerFunc(func(_ context.Context, msg models.PipelineMessage) error {
		mu.Lock()
		handled = append(handled, msg.Key)
		mu.Unlock()
		if msg.Key == "b.jpg" {
			return errors.New("ThrottlingException")
		}
		return nil
	})

	ev := QueueEvent{Records: []Record{
		{MessageID: "m-1", Body: body(t, "a.jpg")},
		{MessageID: "m-2", Body: body(t, "b.jpg")},
		{MessageID: "m-3", Body: body(t, "c.jpg")},
	}}
	resp := newTestCoordinator(h, Options{Concurrency: 3}).Handle(context.Background(), ev)

	want := []ItemFailure{{ItemIdentifier: "m-2"}}
	if !reflect.DeepEqual(resp.BatchItemFailures, want) {
		t.Fatalf("failures = %+v, want %+v", resp.BatchItemFailures, want)
	}
	if len(handled) != 3 {
		t.Fatalf("handled %d records, want 3", len(handled))
	}
}

func TestCoordinatorRecoversPanics(t *testing.T) {
	h := handlerFunc(func(_ context.Context, msg models.PipelineMessage) error {
		if msg.Key == "a.jpg" {
			panic("nil map")
		}
		return nil
	})
	ev := QueueEvent{Records: []Record{
		{MessageID: "m-1", Body: body(t, "a.jpg")},
		{MessageID: "m-2", Body: body(t, "b.jpg")},
	}}
	resp := newTestCoordinator(h, Options{}).Handle(context.Background(), ev)

	if got := resp.Failed(); len(got) != 1 || !got["m-1"] {
		t.Fatalf("failed = %v, want only m-1", got)
	}
}

func TestCoordinatorAcksMalformedBodies(t *testing.T) {
	calls := 0
	h := handlerFunc(func(context.Context, models.PipelineMessage) error {
		calls++
		return nil
	})
	ev := QueueEvent{Records: []Record{
		{MessageID: "m-1", Body: "not json"},
		{MessageID: "m-2", Body: `{"stage":"text"}`},
	}}
	resp := newTestCoordinator(h, Options{}).Handle(context.Background(), ev)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("failures = %+v, want none", resp.BatchItemFailures)
	}
	if calls != 0 {
		t.Fatalf("handler called %d times, want 0", calls)
	}
}

func TestCoordinatorEnforcesRecordTimeout(t *testing.T) {
	h := handlerFunc(func(ctx context.Context, _ models.PipelineMessage) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ev := QueueEvent{Records: []Record{{MessageID: "m-1", Body: body(t, "slow.jpg")}}}

	start := time.Now()
	resp := newTestCoordinator(h, Options{Timeout: 20 * time.Millisecond}).Handle(context.Background(), ev)

	if !resp.Failed()["m-1"] {
		t.Fatal("timed out record should be reported as failed")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("record timeout not applied")
	}
}

func TestBatchResponseJSON(t *testing.T) {
	out, err := json.Marshal(BatchResponse{BatchItemFailures: []ItemFailure{{ItemIdentifier: "m-2"}}})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"batchItemFailures":[{"itemIdentifier":"m-2"}]}` {
		t.Fatalf("json = %s", out)
	}
}
