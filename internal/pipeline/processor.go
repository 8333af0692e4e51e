package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/observability"
	"github.com/your-org/racephoto/internal/recognition"
)

// Processor runs one pipeline stage per message. Each stage commits only the
// fields it owns, so stages may run in any order and any number of times.
type Processor struct {
	store     PhotoStore
	images    ImageSource
	detector  TextDetector
	filter    TextFilter
	faces     *FaceStage
	publisher Publisher
	logger    *slog.Logger
}

func NewProcessor(
	store PhotoStore,
	images ImageSource,
	detector TextDetector,
	filter TextFilter,
	faces *FaceStage,
	publisher Publisher,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:     store,
		images:    images,
		detector:  detector,
		filter:    filter,
		faces:     faces,
		publisher: publisher,
		logger:    logger,
	}
}

// Handle dispatches msg to its stage. A returned error means the message
// should be redelivered.
func (p *Processor) Handle(ctx context.Context, msg models.PipelineMessage) error {
	start := time.Now()
	var err error

	switch msg.Stage {
	case models.StageIngest:
		err = p.handleIngest(ctx, msg)
	case models.StageText:
		err = p.handleText(ctx, msg)
	case models.StageFaces:
		err = p.handleFaces(ctx, msg)
	case models.StageResolve:
		err = p.handleResolve(ctx, msg)
	default:
		p.logger.Warn("dropping message for unknown stage", "stage", msg.Stage, "key", msg.Key)
		return nil
	}

	observability.StageDuration.WithLabelValues(string(msg.Stage)).Observe(time.Since(start).Seconds())

	if errors.Is(err, recognition.ErrInvalidImage) {
		// The provider will never accept this image; retrying cannot help.
		p.logger.Warn("image rejected by recognition provider",
			"stage", msg.Stage, "key", msg.Key, "error", err)
		return nil
	}
	if err != nil {
		observability.StageErrors.WithLabelValues(string(msg.Stage)).Inc()
		return fmt.Errorf("%s stage %s: %w", msg.Stage, msg.Key, err)
	}
	return nil
}

func (p *Processor) handleIngest(ctx context.Context, msg models.PipelineMessage) error {
	photo := &models.Photo{
		TenantID:       msg.TenantID,
		EventID:        msg.EventID,
		ImageKey:       msg.Key,
		Bucket:         msg.Bucket,
		RawKey:         msg.Key,
		PhotographerID: msg.PhotographerID,
		UploadedAt:     msg.UploadedAt,
	}
	if photo.UploadedAt.IsZero() {
		photo.UploadedAt = time.Now().UTC()
	}

	created, err := p.store.CreatePhoto(ctx, photo)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug("photo already indexed, re-running stages", "key", msg.Key)
	}

	// Text and face stages are independent; publish both every time so a
	// redelivered ingest message re-drives whatever did not finish.
	for _, stage := range []models.Stage{models.StageText, models.StageFaces} {
		if err := p.publisher.PublishStage(ctx, msg.Next(stage)); err != nil {
			return fmt.Errorf("publish %s: %w", stage, err)
		}
	}
	return nil
}

func (p *Processor) handleText(ctx context.Context, msg models.PipelineMessage) error {
	photo, err := p.store.GetPhoto(ctx, msg.Ref())
	if err != nil {
		return err
	}
	if photo == nil {
		p.logger.Warn("photo record missing, skipping text stage", "key", msg.Key)
		return nil
	}

	if !photo.TextDetected {
		img, err := p.images.Image(ctx, photo.Bucket, photo.RawKey)
		if err != nil {
			return fmt.Errorf("load image: %w", err)
		}
		detections, err := p.detector.DetectText(ctx, img)
		if err != nil {
			return err
		}
		res := p.filter.Extract(detections)

		photo, err = p.store.RecordText(ctx, msg.Ref(), models.TextRecord{Bibs: res.Bibs, RawText: res.RawText})
		if err != nil {
			return err
		}
		p.logger.Info("text detected", "key", msg.Key, "bibs", res.Bibs, "found", res.Found())
	}

	next := msg.Next(models.StageResolve)
	next.DetectedBibs = photo.DetectedBibs
	return p.publisher.PublishStage(ctx, next)
}

func (p *Processor) handleFaces(ctx context.Context, msg models.PipelineMessage) error {
	photo, err := p.store.GetPhoto(ctx, msg.Ref())
	if err != nil {
		return err
	}
	if photo == nil {
		p.logger.Warn("photo record missing, skipping face stage", "key", msg.Key)
		return nil
	}

	// Re-indexing would mint new face ids for the same faces, so committed
	// results are reused.
	if !photo.FacesIndexed {
		img, err := p.images.Image(ctx, photo.Bucket, photo.RawKey)
		if err != nil {
			return fmt.Errorf("load image: %w", err)
		}
		res, err := p.faces.Index(ctx, msg.Ref(), img)
		if err != nil {
			return err
		}

		if _, err := p.store.RecordFaces(ctx, msg.Ref(), models.FaceRecord{
			FaceIDs:        res.FaceIDs,
			SimilarFaceIDs: res.SimilarFaceIDs,
		}); err != nil {
			return err
		}
		observability.FacesIndexed.Add(float64(res.Count()))
		p.logger.Info("faces indexed", "key", msg.Key, "faces", res.Count(), "similar", len(res.SimilarFaceIDs))
	}

	return p.publisher.PublishStage(ctx, msg.Next(models.StageResolve))
}

func (p *Processor) handleResolve(ctx context.Context, msg models.PipelineMessage) error {
	photo, err := p.store.GetPhoto(ctx, msg.Ref())
	if err != nil {
		return err
	}
	if photo == nil || !photo.ReadyForResolution() {
		// The other stage has not committed yet; its own resolve message
		// will arrive later.
		return nil
	}
	_, err = p.Resolve(ctx, photo)
	return err
}

// Resolve applies the resolution policy to a photo whose text and face
// results are both recorded. It reports whether the stored bib changed.
func (p *Processor) Resolve(ctx context.Context, photo *models.Photo) (bool, error) {
	ev := models.EventRef{TenantID: photo.TenantID, EventID: photo.EventID}
	faceIDs := make([]string, 0, len(photo.FaceIDs)+len(photo.SimilarFaceIDs))
	faceIDs = append(faceIDs, photo.FaceIDs...)
	faceIDs = append(faceIDs, photo.SimilarFaceIDs...)

	prior, err := p.store.PriorBibs(ctx, ev, faceIDs, photo.ImageKey)
	if err != nil {
		return false, err
	}

	decision := Resolve(photo.DetectedBibs, prior)
	if decision.Deferred {
		observability.BibsResolved.WithLabelValues("deferred").Inc()
		p.logger.Info("bib resolution deferred",
			"key", photo.ImageKey, "candidates", photo.DetectedBibs, "prior_bibs", prior, "reason", decision.Reason)
		return false, nil
	}

	res := decision.Resolution
	if photo.Status == models.StatusBibConfirmed && photo.Bib != nil &&
		*photo.Bib == res.Bib && photo.BibSource == res.Source {
		return false, nil
	}

	applied, err := p.store.ApplyResolution(ctx, photo.Ref(), res)
	if err != nil {
		return false, err
	}
	if !applied {
		p.logger.Debug("resolution kept stronger stored bib",
			"key", photo.ImageKey, "stored", photo.BibOrNone(), "proposed", res.Bib)
		return false, nil
	}

	observability.BibsResolved.WithLabelValues(string(res.Source)).Inc()
	p.logger.Info("bib resolved", "key", photo.ImageKey, "bib", res.Bib, "source", res.Source)

	if err := p.publisher.PublishIndexed(ctx, models.PhotoIndexedEvent{
		TenantID:   photo.TenantID,
		EventID:    photo.EventID,
		ImageKey:   photo.ImageKey,
		Bib:        res.Bib,
		Status:     models.StatusBibConfirmed,
		FaceCount:  len(photo.FaceIDs),
		UploadedAt: photo.UploadedAt,
	}); err != nil {
		return true, fmt.Errorf("publish indexed: %w", err)
	}
	return true, nil
}
