package search

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/observability"
	"github.com/your-org/racephoto/internal/recognition"
)

// maxSelfieBytes is the largest inline image the face provider accepts.
const maxSelfieBytes = 5 << 20

// refLookupChunk is how many face ids one cross-reference lookup covers.
const refLookupChunk = 20

// ErrInvalidRequest wraps every client-side problem with a selfie query.
var ErrInvalidRequest = errors.New("invalid selfie request")

// FaceSearcher finds faces in a collection that match the face in an image.
type FaceSearcher interface {
	SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float64, maxFaces int) ([]recognition.FaceMatch, error)
}

// Index resolves face ids to the photos they were found in.
type Index interface {
	RefsByFaces(ctx context.Context, ev models.EventRef, faceIDs []string) ([]models.FaceRef, error)
	GetPhotos(ctx context.Context, ev models.EventRef, keys []string) ([]models.Photo, error)
}

type Config struct {
	CollectionPrefix string
	MaxFaces         int
	Threshold        float64
}

type Query struct {
	ImageB64 string
	Bib      string
	TenantID string
	EventID  string
}

// Match is one photo found for a selfie, with the best face similarity
// seen for it.
type Match struct {
	Photo      models.Photo
	Similarity float64
}

// SelfieService finds the photos of an event a runner appears in.
type SelfieService struct {
	faces  FaceSearcher
	index  Index
	cfg    Config
	logger *slog.Logger
}

func NewSelfieService(faces FaceSearcher, index Index, cfg Config, logger *slog.Logger) *SelfieService {
	return &SelfieService{faces: faces, index: index, cfg: cfg, logger: logger}
}

// Search returns the matching photos ranked by similarity. Photos already
// resolved to q.Bib are left out, since that runner has them already.
func (s *SelfieService) Search(ctx context.Context, q Query) ([]Match, error) {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("selfie").Observe(time.Since(start).Seconds())
	}()

	if q.TenantID == "" || q.EventID == "" {
		return nil, fmt.Errorf("%w: organizer_id and event_id are required", ErrInvalidRequest)
	}
	img, err := DecodeImage(q.ImageB64)
	if err != nil {
		observability.SelfieSearches.WithLabelValues("invalid").Inc()
		return nil, err
	}

	ev := models.EventRef{TenantID: q.TenantID, EventID: q.EventID}
	collection := recognition.CollectionID(s.cfg.CollectionPrefix, ev.TenantID, ev.EventID)

	faceMatches, err := s.faces.SearchFacesByImage(ctx, collection, img, s.cfg.Threshold, s.cfg.MaxFaces)
	switch {
	case errors.Is(err, recognition.ErrCollectionNotFound):
		// No photo of this event has been indexed yet.
		observability.SelfieSearches.WithLabelValues("empty").Inc()
		return []Match{}, nil
	case errors.Is(err, recognition.ErrNoFaceInImage), errors.Is(err, recognition.ErrInvalidImage):
		observability.SelfieSearches.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case err != nil:
		observability.SelfieSearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search faces: %w", err)
	}

	matches, err := s.resolve(ctx, ev, faceMatches, q.Bib)
	if err != nil {
		observability.SelfieSearches.WithLabelValues("error").Inc()
		return nil, err
	}

	outcome := "found"
	if len(matches) == 0 {
		outcome = "empty"
	}
	observability.SelfieSearches.WithLabelValues(outcome).Inc()
	s.logger.Info("selfie search",
		"organizer_id", ev.TenantID, "event_id", ev.EventID,
		"face_matches", len(faceMatches), "photos", len(matches))
	return matches, nil
}

func (s *SelfieService) resolve(ctx context.Context, ev models.EventRef, faceMatches []recognition.FaceMatch, bib string) ([]Match, error) {
	if len(faceMatches) == 0 {
		return []Match{}, nil
	}

	similarity := make(map[string]float64, len(faceMatches))
	ids := make([]string, 0, len(faceMatches))
	for _, m := range faceMatches {
		if prev, ok := similarity[m.FaceID]; !ok || m.Similarity > prev {
			if !ok {
				ids = append(ids, m.FaceID)
			}
			similarity[m.FaceID] = m.Similarity
		}
	}

	var (
		mu   sync.Mutex
		best = make(map[string]float64)
	)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += refLookupChunk {
		chunk := ids[start:min(start+refLookupChunk, len(ids))]
		g.Go(func() error {
			refs, err := s.index.RefsByFaces(gctx, ev, chunk)
			if err != nil {
				return fmt.Errorf("lookup face refs: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range refs {
				if sim := similarity[r.FaceID]; sim > best[r.ImageKey] {
					best[r.ImageKey] = sim
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(best) == 0 {
		return []Match{}, nil
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	photos, err := s.index.GetPhotos(ctx, ev, keys)
	if err != nil {
		return nil, fmt.Errorf("load photos: %w", err)
	}

	matches := make([]Match, 0, len(photos))
	for _, p := range photos {
		if bib != "" && p.Bib != nil && *p.Bib == bib {
			continue
		}
		matches = append(matches, Match{Photo: p, Similarity: best[p.ImageKey]})
	}
	Rank(matches)
	return matches, nil
}

// Rank orders matches by similarity, then newest upload first.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Photo.UploadedAt.Equal(b.Photo.UploadedAt) {
			return a.Photo.UploadedAt.After(b.Photo.UploadedAt)
		}
		return a.Photo.ImageKey < b.Photo.ImageKey
	})
}

// DecodeImage strips an optional data URL prefix, decodes the base64
// payload and checks that it is a JPEG or PNG image.
func DecodeImage(b64 string) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("%w: image_b64 is required", ErrInvalidRequest)
	}
	if strings.HasPrefix(b64, "data:") {
		i := strings.Index(b64, ",")
		if i < 0 {
			return nil, fmt.Errorf("%w: malformed data url", ErrInvalidRequest)
		}
		b64 = b64[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(b64)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: image_b64 is not valid base64", ErrInvalidRequest)
	}
	if len(data) > maxSelfieBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidRequest, maxSelfieBytes)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: not a jpeg or png image", ErrInvalidRequest)
	}
	return data, nil
}
