package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/racephoto/internal/batch"
	"github.com/your-org/racephoto/internal/observability"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// BatchHandler processes a batch and reports the records to redeliver.
type BatchHandler interface {
	Handle(ctx context.Context, ev batch.QueueEvent) batch.BatchResponse
}

// DeadLetterPublisher parks messages that exhausted their deliveries.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, subject string, data []byte, deliveries uint64, reason string) error
}

type PhotoConsumerConfig struct {
	Name       string
	Workers    int
	BatchSize  int
	AckWait    time.Duration
	MaxDeliver int
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumePhotos fetches stage messages in batches and hands each batch to
// handler. Successful records are acked, failed ones are nak'ed with
// backoff, and records on their last delivery are dead-lettered.
func (c *Consumer) ConsumePhotos(ctx context.Context, cfg PhotoConsumerConfig, handler BatchHandler, dlq DeadLetterPublisher) error {
	stream, err := c.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", PhotosStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		FilterSubject: PhotosSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}

	// Unbuffered: a batch is fetched only once a worker is ready for it, so
	// its ack wait is not spent queued behind busy workers.
	batchCh := make(chan []jetstream.Msg)

	go func() {
		defer close(batchCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			fetched, err := cons.Fetch(cfg.BatchSize, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch photos error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			var msgs []jetstream.Msg
			for msg := range fetched.Messages() {
				msgs = append(msgs, msg)
			}
			if len(msgs) == 0 {
				continue
			}

			select {
			case batchCh <- msgs:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < cfg.Workers; i++ {
		go func(workerID int) {
			for msgs := range batchCh {
				c.settle(ctx, workerID, msgs, handler, dlq, cfg.MaxDeliver)
			}
		}(i)
	}

	slog.Info("photo consumer started", "consumer", cfg.Name, "workers", cfg.Workers, "batch_size", cfg.BatchSize)
	return nil
}

func (c *Consumer) settle(ctx context.Context, workerID int, msgs []jetstream.Msg, handler BatchHandler, dlq DeadLetterPublisher, maxDeliver int) {
	ev := batch.QueueEvent{Records: make([]batch.Record, len(msgs))}
	delivered := make([]uint64, len(msgs))
	for i, msg := range msgs {
		// Restart the ack wait now that processing actually begins.
		if err := msg.InProgress(); err != nil {
			slog.Debug("mark in progress failed", "worker", workerID, "subject", msg.Subject(), "error", err)
		}
		id := strconv.Itoa(i)
		if meta, err := msg.Metadata(); err == nil {
			id = strconv.FormatUint(meta.Sequence.Stream, 10)
			delivered[i] = meta.NumDelivered
		}
		ev.Records[i] = batch.Record{MessageID: id, Body: string(msg.Data())}
	}

	failed := handler.Handle(ctx, ev).Failed()

	for i, msg := range msgs {
		if !failed[ev.Records[i].MessageID] {
			_ = msg.Ack()
			continue
		}
		if maxDeliver > 0 && delivered[i] >= uint64(maxDeliver) {
			reason := "max deliveries exhausted"
			if err := dlq.PublishDeadLetter(ctx, msg.Subject(), msg.Data(), delivered[i], reason); err != nil {
				// Leave it for redelivery rather than lose it.
				slog.Error("dead-letter publish failed", "worker", workerID, "subject", msg.Subject(), "error", err)
				_ = msg.Nak()
				continue
			}
			observability.DeadLettered.Inc()
			slog.Warn("message dead-lettered", "worker", workerID, "subject", msg.Subject(), "deliveries", delivered[i])
			_ = msg.Term()
			continue
		}
		_ = msg.NakWithDelay(nakDelay(delivered[i]))
	}
}

// nakDelay backs off exponentially with the delivery count, capped at a minute.
func nakDelay(delivered uint64) time.Duration {
	if delivered > 6 {
		return time.Minute
	}
	d := time.Second << delivered
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// WatchDepth samples the PHOTOS stream depth into the queue depth gauge.
func WatchDepth(ctx context.Context, p *Producer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.QueueDepth(ctx)
			if err != nil {
				slog.Debug("queue depth unavailable", "error", err)
				continue
			}
			observability.QueueDepth.Set(float64(depth))
		}
	}
}

// ConsumeEvents starts consuming photo indexed events (for API to broadcast via WebSocket).
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			fetched, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range fetched.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
