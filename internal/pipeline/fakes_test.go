package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/recognition"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeImages struct{}

func (fakeImages) Image(_ context.Context, bucket, key string) (models.Image, error) {
	return models.Image{Bucket: bucket, Key: key}, nil
}

// fakeDetector returns scripted detections per image key.
type fakeDetector struct {
	mu    sync.Mutex
	byKey map[string][]recognition.TextDetection
	err   error
	calls int
}

func (d *fakeDetector) DetectText(_ context.Context, img models.Image) ([]recognition.TextDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.byKey[img.Key], nil
}

func words(texts ...string) []recognition.TextDetection {
	out := make([]recognition.TextDetection, len(texts))
	for i, t := range texts {
		out[i] = recognition.TextDetection{Text: t, Type: recognition.TextWord, Confidence: 99}
	}
	return out
}

// fakeCollections is an in-memory collection manager that counts creations.
type fakeCollections struct {
	mu          sync.Mutex
	collections map[string]bool
	creates     int
	describes   int
	createHook  func()
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{collections: make(map[string]bool)}
}

func (c *fakeCollections) DescribeCollection(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.describes++
	if !c.collections[id] {
		return recognition.ErrCollectionNotFound
	}
	return nil
}

func (c *fakeCollections) CreateCollection(_ context.Context, id string) error {
	if c.createHook != nil {
		c.createHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collections[id] {
		return recognition.ErrCollectionExists
	}
	c.collections[id] = true
	c.creates++
	return nil
}

// fakeIndexer returns scripted face ids per image key and scripted
// similarity matches per face id.
type fakeIndexer struct {
	mu         sync.Mutex
	faces      map[string][]string
	similar    map[string][]string
	indexCalls int
}

func (f *fakeIndexer) IndexFaces(_ context.Context, _ string, img models.Image, _ string, maxFaces int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	ids := f.faces[img.Key]
	if len(ids) > maxFaces {
		ids = ids[:maxFaces]
	}
	return append([]string(nil), ids...), nil
}

func (f *fakeIndexer) SearchFaces(_ context.Context, _ string, faceID string, _ float64, _ int) ([]recognition.FaceMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recognition.FaceMatch
	for _, id := range f.similar[faceID] {
		out = append(out, recognition.FaceMatch{FaceID: id, Similarity: 99})
	}
	return out, nil
}

// queuePublisher collects published messages so tests can drain them in order.
type queuePublisher struct {
	mu      sync.Mutex
	pending []models.PipelineMessage
	indexed []models.PhotoIndexedEvent
}

func (q *queuePublisher) PublishStage(_ context.Context, msg models.PipelineMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return nil
}

func (q *queuePublisher) PublishIndexed(_ context.Context, ev models.PhotoIndexedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.indexed = append(q.indexed, ev)
	return nil
}

func (q *queuePublisher) pop() (models.PipelineMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return models.PipelineMessage{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

// popStage removes and returns the first pending message for stage.
func (q *queuePublisher) popStage(stage models.Stage) (models.PipelineMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.pending {
		if m.Stage == stage {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return m, true
		}
	}
	return models.PipelineMessage{}, false
}
