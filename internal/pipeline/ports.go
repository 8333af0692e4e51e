package pipeline

import (
	"context"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/recognition"
)

type TextDetector interface {
	DetectText(ctx context.Context, img models.Image) ([]recognition.TextDetection, error)
}

type CollectionManager interface {
	DescribeCollection(ctx context.Context, id string) error
	CreateCollection(ctx context.Context, id string) error
}

type FaceIndexer interface {
	IndexFaces(ctx context.Context, collectionID string, img models.Image, externalID string, maxFaces int) ([]string, error)
	SearchFaces(ctx context.Context, collectionID, faceID string, threshold float64, maxFaces int) ([]recognition.FaceMatch, error)
}

// ImageSource resolves a stored object into something the recognition
// provider can read.
type ImageSource interface {
	Image(ctx context.Context, bucket, key string) (models.Image, error)
}

// CollectionCache is an optional registry of collections known to exist,
// shared between worker processes.
type CollectionCache interface {
	Known(ctx context.Context, id string) (bool, error)
	Remember(ctx context.Context, id string) error
	Forget(ctx context.Context, id string) error
}

// PhotoStore is the photo index. Every mutation is an upsert keyed by stable
// identity and safe to repeat.
type PhotoStore interface {
	CreatePhoto(ctx context.Context, p *models.Photo) (bool, error)
	GetPhoto(ctx context.Context, ref models.PhotoRef) (*models.Photo, error)
	RecordText(ctx context.Context, ref models.PhotoRef, rec models.TextRecord) (*models.Photo, error)
	RecordFaces(ctx context.Context, ref models.PhotoRef, rec models.FaceRecord) (*models.Photo, error)
	ApplyResolution(ctx context.Context, ref models.PhotoRef, res models.Resolution) (bool, error)
	PriorBibs(ctx context.Context, ev models.EventRef, faceIDs []string, excludeKey string) ([]string, error)
	PendingResolution(ctx context.Context, ev models.EventRef, after models.PhotoCursor, limit int) ([]models.Photo, error)
	PendingEvents(ctx context.Context) ([]models.EventRef, error)
}

type Publisher interface {
	PublishStage(ctx context.Context, msg models.PipelineMessage) error
	PublishIndexed(ctx context.Context, ev models.PhotoIndexedEvent) error
}
