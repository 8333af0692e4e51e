package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/recognition"
)

// similarSearchLimit bounds how many similar faces are collected per indexed face.
const similarSearchLimit = 100

// CollectionEnsurer makes sure a face collection exists before it is used.
// Concurrent calls for the same id share one describe/create round trip.
type CollectionEnsurer struct {
	manager CollectionManager
	shared  CollectionCache
	logger  *slog.Logger

	known sync.Map
	group singleflight.Group
}

// NewCollectionEnsurer creates an ensurer. shared may be nil.
func NewCollectionEnsurer(manager CollectionManager, shared CollectionCache, logger *slog.Logger) *CollectionEnsurer {
	return &CollectionEnsurer{manager: manager, shared: shared, logger: logger}
}

func (e *CollectionEnsurer) Ensure(ctx context.Context, id string) error {
	if _, ok := e.known.Load(id); ok {
		return nil
	}

	_, err, _ := e.group.Do(id, func() (any, error) {
		if _, ok := e.known.Load(id); ok {
			return nil, nil
		}
		if e.shared != nil {
			ok, err := e.shared.Known(ctx, id)
			if err != nil {
				e.logger.Warn("collection cache lookup failed", "collection", id, "error", err)
			} else if ok {
				e.known.Store(id, struct{}{})
				return nil, nil
			}
		}

		if err := e.describeOrCreate(ctx, id); err != nil {
			return nil, err
		}

		e.known.Store(id, struct{}{})
		if e.shared != nil {
			if err := e.shared.Remember(ctx, id); err != nil {
				e.logger.Warn("collection cache update failed", "collection", id, "error", err)
			}
		}
		return nil, nil
	})
	return err
}

// Invalidate forgets that id exists, so the next Ensure asks the provider again.
func (e *CollectionEnsurer) Invalidate(ctx context.Context, id string) {
	e.known.Delete(id)
	if e.shared != nil {
		if err := e.shared.Forget(ctx, id); err != nil {
			e.logger.Warn("collection cache invalidation failed", "collection", id, "error", err)
		}
	}
}

func (e *CollectionEnsurer) describeOrCreate(ctx context.Context, id string) error {
	err := e.manager.DescribeCollection(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, recognition.ErrCollectionNotFound) {
		return err
	}

	err = e.manager.CreateCollection(ctx, id)
	switch {
	case err == nil:
		e.logger.Info("face collection created", "collection", id)
		return nil
	case errors.Is(err, recognition.ErrCollectionExists):
		// Another worker won the race; confirm it is visible.
		return e.manager.DescribeCollection(ctx, id)
	default:
		return err
	}
}

// FaceResult is what the face stage found in one image.
type FaceResult struct {
	FaceIDs        []string
	SimilarFaceIDs []string
}

func (r FaceResult) Count() int {
	return len(r.FaceIDs)
}

type FaceStageConfig struct {
	CollectionPrefix string
	MaxFaces         int
	MatchThreshold   float64
}

// FaceStage indexes the faces of a photo into its event collection and
// collects faces seen before on other photos.
type FaceStage struct {
	ensurer *CollectionEnsurer
	indexer FaceIndexer
	cfg     FaceStageConfig
}

func NewFaceStage(ensurer *CollectionEnsurer, indexer FaceIndexer, cfg FaceStageConfig) *FaceStage {
	return &FaceStage{ensurer: ensurer, indexer: indexer, cfg: cfg}
}

func (s *FaceStage) CollectionID(ev models.EventRef) string {
	return recognition.CollectionID(s.cfg.CollectionPrefix, ev.TenantID, ev.EventID)
}

func (s *FaceStage) Index(ctx context.Context, ref models.PhotoRef, img models.Image) (FaceResult, error) {
	collection := s.CollectionID(models.EventRef{TenantID: ref.TenantID, EventID: ref.EventID})
	if err := s.ensurer.Ensure(ctx, collection); err != nil {
		return FaceResult{}, fmt.Errorf("ensure collection: %w", err)
	}

	faceIDs, err := s.indexer.IndexFaces(ctx, collection, img, ref.ImageKey, s.cfg.MaxFaces)
	if err != nil {
		if errors.Is(err, recognition.ErrCollectionNotFound) {
			s.ensurer.Invalidate(ctx, collection)
		}
		return FaceResult{}, err
	}

	res := FaceResult{FaceIDs: faceIDs, SimilarFaceIDs: []string{}}
	if len(faceIDs) == 0 {
		return res, nil
	}

	own := make(map[string]bool, len(faceIDs))
	for _, id := range faceIDs {
		own[id] = true
	}
	seen := make(map[string]bool)
	for _, id := range faceIDs {
		matches, err := s.indexer.SearchFaces(ctx, collection, id, s.cfg.MatchThreshold, similarSearchLimit)
		if err != nil {
			return FaceResult{}, fmt.Errorf("search similar faces: %w", err)
		}
		for _, m := range matches {
			if own[m.FaceID] || seen[m.FaceID] {
				continue
			}
			seen[m.FaceID] = true
			res.SimilarFaceIDs = append(res.SimilarFaceIDs, m.FaceID)
		}
	}
	return res, nil
}
