package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/your-org/racephoto/internal/models"
)

type faceRefKey struct {
	faceID   string
	imageKey string
}

// MemoryStore is an in-process photo index with the same semantics as
// PostgresStore. Used by tests and local runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[models.PhotoRef]*models.Photo
	refs   map[faceRefKey]models.FaceRef
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		photos: make(map[models.PhotoRef]*models.Photo),
		refs:   make(map[faceRefKey]models.FaceRef),
		now:    time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreatePhoto(_ context.Context, p *models.Photo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := p.Ref()
	if _, ok := s.photos[ref]; ok {
		return false, nil
	}
	now := s.now()
	stored := &models.Photo{
		TenantID:       p.TenantID,
		EventID:        p.EventID,
		ImageKey:       p.ImageKey,
		Bucket:         p.Bucket,
		RawKey:         p.RawKey,
		ProcessedKey:   p.ProcessedKey,
		PhotographerID: p.PhotographerID,
		BibSource:      models.BibSourceNone,
		DetectedBibs:   []string{},
		RawText:        []string{},
		FaceIDs:        []string{},
		SimilarFaceIDs: []string{},
		Status:         models.StatusUploaded,
		UploadedAt:     p.UploadedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.photos[ref] = stored
	return true, nil
}

func (s *MemoryStore) GetPhoto(_ context.Context, ref models.PhotoRef) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.photos[ref]
	if !ok {
		return nil, nil
	}
	return clonePhoto(p), nil
}

func (s *MemoryStore) GetPhotos(_ context.Context, ev models.EventRef, keys []string) ([]models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Photo
	for _, k := range keys {
		if p, ok := s.photos[models.PhotoRef{TenantID: ev.TenantID, EventID: ev.EventID, ImageKey: k}]; ok {
			out = append(out, *clonePhoto(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordText(_ context.Context, ref models.PhotoRef, rec models.TextRecord) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[ref]
	if !ok {
		return nil, ErrNotFound
	}
	p.DetectedBibs = append([]string{}, rec.Bibs...)
	p.RawText = append([]string{}, rec.RawText...)
	p.TextDetected = true
	p.Status = models.Advance(p.Status, models.StatusTextDetected)
	p.UpdatedAt = s.now()
	return clonePhoto(p), nil
}

func (s *MemoryStore) RecordFaces(_ context.Context, ref models.PhotoRef, rec models.FaceRecord) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[ref]
	if !ok {
		return nil, ErrNotFound
	}
	target := models.StatusFacesIndexed
	if len(rec.FaceIDs) == 0 {
		target = models.StatusNoFaces
	}
	p.FaceIDs = append([]string{}, rec.FaceIDs...)
	p.SimilarFaceIDs = append([]string{}, rec.SimilarFaceIDs...)
	p.FacesIndexed = true
	p.Status = models.Advance(p.Status, target)
	p.UpdatedAt = s.now()

	for _, id := range rec.FaceIDs {
		s.refs[faceRefKey{faceID: id, imageKey: p.ImageKey}] = models.FaceRef{
			FaceID:     id,
			ImageKey:   p.ImageKey,
			TenantID:   p.TenantID,
			EventID:    p.EventID,
			Bib:        copyBib(p.Bib),
			UploadedAt: p.UploadedAt,
		}
	}
	return clonePhoto(p), nil
}

func (s *MemoryStore) ApplyResolution(_ context.Context, ref models.PhotoRef, res models.Resolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[ref]
	if !ok {
		return false, nil
	}
	if p.Bib != nil && *p.Bib != res.Bib && p.BibSource.Rank() >= res.Source.Rank() {
		return false, nil
	}
	bib := res.Bib
	p.Bib = &bib
	p.BibSource = res.Source
	p.Status = models.Advance(p.Status, models.StatusBibConfirmed)
	p.UpdatedAt = s.now()

	for _, id := range p.FaceIDs {
		k := faceRefKey{faceID: id, imageKey: p.ImageKey}
		if r, ok := s.refs[k]; ok {
			r.Bib = copyBib(&bib)
			s.refs[k] = r
		}
	}
	return true, nil
}

func (s *MemoryStore) PhotosByBib(_ context.Context, ev models.EventRef, bib string, limit int) ([]models.Photo, error) {
	return s.filter(ev, limit, func(p *models.Photo) bool {
		return p.BibOrNone() == bib
	}, newestFirst), nil
}

func (s *MemoryStore) PhotosByPhotographer(_ context.Context, ev models.EventRef, photographerID string, limit int) ([]models.Photo, error) {
	return s.filter(ev, limit, func(p *models.Photo) bool {
		return p.PhotographerID == photographerID
	}, newestFirst), nil
}

func (s *MemoryStore) PendingResolution(_ context.Context, ev models.EventRef, after models.PhotoCursor, limit int) ([]models.Photo, error) {
	return s.filter(ev, limit, func(p *models.Photo) bool {
		return pendingResolution(p) && after.Precedes(p)
	}, oldestFirst), nil
}

func (s *MemoryStore) PendingEvents(context.Context) ([]models.EventRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[models.EventRef]bool)
	var events []models.EventRef
	for _, p := range s.photos {
		ev := models.EventRef{TenantID: p.TenantID, EventID: p.EventID}
		if pendingResolution(p) && !seen[ev] {
			seen[ev] = true
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].TenantID != events[j].TenantID {
			return events[i].TenantID < events[j].TenantID
		}
		return events[i].EventID < events[j].EventID
	})
	return events, nil
}

func (s *MemoryStore) PriorBibs(_ context.Context, ev models.EventRef, faceIDs []string, excludeKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := toSet(faceIDs)
	seen := make(map[string]bool)
	var bibs []string
	add := func(bib *string) {
		if bib == nil || *bib == models.NoBib || seen[*bib] {
			return
		}
		seen[*bib] = true
		bibs = append(bibs, *bib)
	}

	for _, r := range s.refs {
		if r.TenantID == ev.TenantID && r.EventID == ev.EventID && wanted[r.FaceID] && r.ImageKey != excludeKey {
			add(r.Bib)
		}
	}
	for _, p := range s.photos {
		if p.TenantID != ev.TenantID || p.EventID != ev.EventID || p.ImageKey == excludeKey {
			continue
		}
		for _, id := range p.SimilarFaceIDs {
			if wanted[id] {
				add(p.Bib)
				break
			}
		}
	}
	sort.Strings(bibs)
	return bibs, nil
}

func (s *MemoryStore) RefsByFaces(_ context.Context, ev models.EventRef, faceIDs []string) ([]models.FaceRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := toSet(faceIDs)
	var out []models.FaceRef
	for _, r := range s.refs {
		if r.TenantID == ev.TenantID && r.EventID == ev.EventID && wanted[r.FaceID] {
			r.Bib = copyBib(r.Bib)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FaceID != out[j].FaceID {
			return out[i].FaceID < out[j].FaceID
		}
		return out[i].ImageKey < out[j].ImageKey
	})
	return out, nil
}

// FaceRefCount returns the number of stored face references.
func (s *MemoryStore) FaceRefCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// PhotoCount returns the number of stored photos.
func (s *MemoryStore) PhotoCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.photos)
}

func (s *MemoryStore) filter(ev models.EventRef, limit int, keep func(*models.Photo) bool, less func(a, b *models.Photo) bool) []models.Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Photo
	for _, p := range s.photos {
		if p.TenantID == ev.TenantID && p.EventID == ev.EventID && keep(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.Photo, 0, len(matched))
	for _, p := range matched {
		out = append(out, *clonePhoto(p))
	}
	return out
}

func pendingResolution(p *models.Photo) bool {
	if !p.ReadyForResolution() {
		return false
	}
	return p.Status != models.StatusBibConfirmed ||
		p.BibSource == models.BibSourceNone || p.BibSource == models.BibSourceFace
}

func newestFirst(a, b *models.Photo) bool {
	if !a.UploadedAt.Equal(b.UploadedAt) {
		return a.UploadedAt.After(b.UploadedAt)
	}
	return a.ImageKey < b.ImageKey
}

func oldestFirst(a, b *models.Photo) bool {
	if !a.UploadedAt.Equal(b.UploadedAt) {
		return a.UploadedAt.Before(b.UploadedAt)
	}
	return a.ImageKey < b.ImageKey
}

func clonePhoto(p *models.Photo) *models.Photo {
	c := *p
	c.Bib = copyBib(p.Bib)
	c.DetectedBibs = append([]string{}, p.DetectedBibs...)
	c.RawText = append([]string{}, p.RawText...)
	c.FaceIDs = append([]string{}, p.FaceIDs...)
	c.SimilarFaceIDs = append([]string{}, p.SimilarFaceIDs...)
	return &c
}

func copyBib(b *string) *string {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
