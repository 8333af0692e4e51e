// Package app assembles the pipeline from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/racephoto/internal/cache"
	"github.com/your-org/racephoto/internal/config"
	"github.com/your-org/racephoto/internal/pipeline"
	"github.com/your-org/racephoto/internal/recognition"
	"github.com/your-org/racephoto/internal/search"
	"github.com/your-org/racephoto/internal/storage"
)

// Services are the long-lived clients shared by the pipeline components.
type Services struct {
	Recognition *recognition.Client
	// Redis is nil when no address is configured.
	Redis *redis.Client
}

// Connect opens the recognition client and, when configured, Redis.
func Connect(ctx context.Context, cfg *config.Config) (*Services, error) {
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	svc := &Services{Recognition: recognition.NewClient(awsCfg, cfg.Recognition.CallTimeout)}

	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		svc.Redis = client
	}
	return svc, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// TextFilter builds the bib candidate filter from config.
func TextFilter(cfg config.RecognitionConfig) pipeline.TextFilter {
	f := pipeline.TextFilter{
		MinConfidence: cfg.MinTextConfidence,
		Watermark:     cfg.WatermarkFilter,
	}
	if len(cfg.ExcludedTokens) > 0 {
		f.Excluded = make(map[string]bool, len(cfg.ExcludedTokens))
		for _, t := range cfg.ExcludedTokens {
			f.Excluded[t] = true
		}
	}
	return f
}

// NewProcessor wires the stage processor.
func NewProcessor(
	cfg *config.Config,
	svc *Services,
	store pipeline.PhotoStore,
	images pipeline.ImageSource,
	publisher pipeline.Publisher,
	logger *slog.Logger,
) *pipeline.Processor {
	var shared pipeline.CollectionCache
	if svc.Redis != nil {
		shared = cache.NewCollectionRegistry(svc.Redis)
	}

	ensurer := pipeline.NewCollectionEnsurer(svc.Recognition, shared, logger)
	faces := pipeline.NewFaceStage(ensurer, svc.Recognition, pipeline.FaceStageConfig{
		CollectionPrefix: cfg.Recognition.CollectionPrefix,
		MaxFaces:         cfg.Recognition.MaxFacesPerPhoto,
		MatchThreshold:   cfg.Recognition.FaceMatchThreshold,
	})

	return pipeline.NewProcessor(store, images, svc.Recognition, TextFilter(cfg.Recognition), faces, publisher, logger)
}

// NewSelfieService wires selfie search.
func NewSelfieService(cfg *config.Config, svc *Services, index search.Index, logger *slog.Logger) *search.SelfieService {
	return search.NewSelfieService(svc.Recognition, index, search.Config{
		CollectionPrefix: cfg.Recognition.CollectionPrefix,
		MaxFaces:         cfg.Recognition.SelfieMaxFaces,
		Threshold:        cfg.Recognition.SelfieThreshold,
	}, logger)
}
