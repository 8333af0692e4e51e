package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/observability"
)

// Record is one queued message in a batch.
type Record struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
}

// QueueEvent is a batch of queued messages delivered together.
type QueueEvent struct {
	Records []Record `json:"Records"`
}

type ItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse lists the records that must be redelivered. Records not
// listed are acknowledged.
type BatchResponse struct {
	BatchItemFailures []ItemFailure `json:"batchItemFailures"`
}

// Failed returns the set of failed message ids.
func (r BatchResponse) Failed() map[string]bool {
	out := make(map[string]bool, len(r.BatchItemFailures))
	for _, f := range r.BatchItemFailures {
		out[f.ItemIdentifier] = true
	}
	return out
}

// Handler processes one pipeline message.
type Handler interface {
	Handle(ctx context.Context, msg models.PipelineMessage) error
}

type Options struct {
	// Timeout bounds the processing of a single record.
	Timeout time.Duration
	// Concurrency caps how many records of one batch run at once.
	Concurrency int
}

// Coordinator processes batches record by record, so one poison message
// never forces redelivery of its batch-mates.
type Coordinator struct {
	handler Handler
	opts    Options
	logger  *slog.Logger
}

func NewCoordinator(handler Handler, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Coordinator{handler: handler, opts: opts, logger: logger}
}

func (c *Coordinator) Handle(ctx context.Context, ev QueueEvent) BatchResponse {
	failed := make([]bool, len(ev.Records))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, rec := range ev.Records {
		i, rec := i, rec
		g.Go(func() error {
			if err := c.process(ctx, rec); err != nil {
				c.logger.Error("message failed",
					"message_id", rec.MessageID, "error", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := BatchResponse{BatchItemFailures: []ItemFailure{}}
	for i, f := range failed {
		if f {
			resp.BatchItemFailures = append(resp.BatchItemFailures, ItemFailure{ItemIdentifier: ev.Records[i].MessageID})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		observability.BatchFailures.Add(float64(n))
	}
	return resp
}

func (c *Coordinator) process(ctx context.Context, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var msg models.PipelineMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		// Redelivery cannot fix a body that does not decode.
		c.logger.Warn("discarding malformed message", "message_id", rec.MessageID, "error", err)
		return nil
	}
	if msg.Stage == "" || msg.TenantID == "" || msg.EventID == "" || msg.Key == "" {
		c.logger.Warn("discarding incomplete message", "message_id", rec.MessageID, "stage", msg.Stage, "key", msg.Key)
		return nil
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	return c.handler.Handle(ctx, msg)
}
