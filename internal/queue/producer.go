package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/racephoto/internal/models"
)

const (
	PhotosStreamName  = "PHOTOS"
	PhotosSubjectBase = "photos"
	DLQStreamName     = "PHOTOS_DLQ"
	DLQSubjectBase    = "photos_dlq"
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"
)

// Headers set on dead-lettered messages.
const (
	HeaderOrigSubject = "Racephoto-Original-Subject"
	HeaderDeliveries  = "Racephoto-Deliveries"
	HeaderReason      = "Racephoto-Reason"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        PhotosStreamName,
			Subjects:    []string{PhotosSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     5_000_000,
			Storage:     jetstream.FileStorage,
			Description: "Photo pipeline stage messages",
		},
		{
			Name:        DLQStreamName,
			Subjects:    []string{DLQSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Description: "Stage messages that exhausted their deliveries",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Photo indexed notifications for live galleries",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// StageSubject is the subject a stage message is published on.
func StageSubject(stage models.Stage) string {
	return PhotosSubjectBase + "." + string(stage)
}

// PublishStage publishes a pipeline stage message.
func (p *Producer) PublishStage(ctx context.Context, msg models.PipelineMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stage message: %w", err)
	}
	if _, err := p.js.Publish(ctx, StageSubject(msg.Stage), payload); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Stage, err)
	}
	return nil
}

// PublishIndexed publishes a photo indexed notification.
func (p *Producer) PublishIndexed(ctx context.Context, ev models.PhotoIndexedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, EventsSubjectBase+".photo_indexed", payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishDeadLetter stores a message that will not be retried again.
func (p *Producer) PublishDeadLetter(ctx context.Context, subject string, data []byte, deliveries uint64, reason string) error {
	msg := nats.NewMsg(DLQSubjectBase + "." + subject)
	msg.Data = data
	msg.Header.Set(HeaderOrigSubject, subject)
	msg.Header.Set(HeaderDeliveries, strconv.FormatUint(deliveries, 10))
	msg.Header.Set(HeaderReason, reason)

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// DeadLetter is a message parked on the dead-letter stream.
type DeadLetter struct {
	Sequence   uint64
	Subject    string
	Deliveries string
	Reason     string
	Data       []byte
	DeadAt     time.Time
}

// DeadLetters lists up to limit parked messages, oldest first.
func (p *Producer) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	stream, err := p.js.Stream(ctx, DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", DLQStreamName, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, err
	}

	var out []DeadLetter
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && len(out) < limit; seq++ {
		raw, err := stream.GetMsg(ctx, seq)
		if err != nil {
			// Gaps are left by replayed messages.
			continue
		}
		out = append(out, DeadLetter{
			Sequence:   raw.Sequence,
			Subject:    raw.Header.Get(HeaderOrigSubject),
			Deliveries: raw.Header.Get(HeaderDeliveries),
			Reason:     raw.Header.Get(HeaderReason),
			Data:       raw.Data,
			DeadAt:     raw.Time,
		})
	}
	return out, nil
}

// Replay republishes a parked message to its original subject and removes
// it from the dead-letter stream.
func (p *Producer) Replay(ctx context.Context, dl DeadLetter) error {
	if dl.Subject == "" {
		return fmt.Errorf("dead letter %d has no original subject", dl.Sequence)
	}
	if _, err := p.js.Publish(ctx, dl.Subject, dl.Data); err != nil {
		return fmt.Errorf("republish %d: %w", dl.Sequence, err)
	}
	stream, err := p.js.Stream(ctx, DLQStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DLQStreamName, err)
	}
	if err := stream.DeleteMsg(ctx, dl.Sequence); err != nil {
		return fmt.Errorf("delete dead letter %d: %w", dl.Sequence, err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the PHOTOS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
