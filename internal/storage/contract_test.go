package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/your-org/racephoto/internal/models"
)

type photoIndex interface {
	CreatePhoto(ctx context.Context, p *models.Photo) (bool, error)
	GetPhoto(ctx context.Context, ref models.PhotoRef) (*models.Photo, error)
	RecordText(ctx context.Context, ref models.PhotoRef, rec models.TextRecord) (*models.Photo, error)
	RecordFaces(ctx context.Context, ref models.PhotoRef, rec models.FaceRecord) (*models.Photo, error)
	ApplyResolution(ctx context.Context, ref models.PhotoRef, res models.Resolution) (bool, error)
	PriorBibs(ctx context.Context, ev models.EventRef, faceIDs []string, excludeKey string) ([]string, error)
	RefsByFaces(ctx context.Context, ev models.EventRef, faceIDs []string) ([]models.FaceRef, error)
	PhotosByBib(ctx context.Context, ev models.EventRef, bib string, limit int) ([]models.Photo, error)
	PendingResolution(ctx context.Context, ev models.EventRef, after models.PhotoCursor, limit int) ([]models.Photo, error)
	PendingEvents(ctx context.Context) ([]models.EventRef, error)
}

func newPhoto(key string, at time.Time) *models.Photo {
	return &models.Photo{
		TenantID:   "org1",
		EventID:    "race5k",
		ImageKey:   key,
		Bucket:     "photos",
		RawKey:     key,
		UploadedAt: at,
	}
}

// testPhotoIndex exercises the behaviour every photo index backend must share.
func testPhotoIndex(t *testing.T, store photoIndex) {
	t.Helper()
	ctx := context.Background()
	ev := models.EventRef{TenantID: "org1", EventID: "race5k"}
	base := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

	first := newPhoto("org1/race5k/raw/IMG_001.jpg", base)
	created, err := store.CreatePhoto(ctx, first)
	if err != nil || !created {
		t.Fatalf("CreatePhoto: created=%v err=%v", created, err)
	}
	created, err = store.CreatePhoto(ctx, first)
	if err != nil || created {
		t.Fatalf("second CreatePhoto: created=%v err=%v", created, err)
	}

	p, err := store.RecordText(ctx, first.Ref(), models.TextRecord{Bibs: []string{"482"}, RawText: []string{"482", "FINISH"}})
	if err != nil {
		t.Fatalf("RecordText: %v", err)
	}
	if p.Status != models.StatusTextDetected || !p.TextDetected {
		t.Fatalf("after text: status=%s text=%v", p.Status, p.TextDetected)
	}

	for i := 0; i < 2; i++ {
		p, err = store.RecordFaces(ctx, first.Ref(), models.FaceRecord{FaceIDs: []string{"face-a", "face-b"}})
		if err != nil {
			t.Fatalf("RecordFaces #%d: %v", i, err)
		}
	}
	if p.Status != models.StatusFacesIndexed {
		t.Fatalf("after faces: status=%s", p.Status)
	}
	refs, err := store.RefsByFaces(ctx, ev, []string{"face-a", "face-b"})
	if err != nil {
		t.Fatalf("RefsByFaces: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("face refs = %d, want 2", len(refs))
	}

	applied, err := store.ApplyResolution(ctx, first.Ref(), models.Resolution{Bib: "482", Source: models.BibSourceOCR})
	if err != nil || !applied {
		t.Fatalf("ApplyResolution: applied=%v err=%v", applied, err)
	}
	applied, err = store.ApplyResolution(ctx, first.Ref(), models.Resolution{Bib: "777", Source: models.BibSourceFace})
	if err != nil {
		t.Fatalf("ApplyResolution weaker: %v", err)
	}
	if applied {
		t.Fatal("weaker evidence overwrote an ocr bib")
	}

	got, err := store.GetPhoto(ctx, first.Ref())
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.BibOrNone() != "482" || got.Status != models.StatusBibConfirmed {
		t.Fatalf("photo bib=%s status=%s", got.BibOrNone(), got.Status)
	}

	refs, _ = store.RefsByFaces(ctx, ev, []string{"face-a"})
	if len(refs) != 1 || refs[0].Bib == nil || *refs[0].Bib != "482" {
		t.Fatalf("face ref bib not updated: %+v", refs)
	}

	prior, err := store.PriorBibs(ctx, ev, []string{"face-a"}, "org1/race5k/raw/IMG_002.jpg")
	if err != nil {
		t.Fatalf("PriorBibs: %v", err)
	}
	if len(prior) != 1 || prior[0] != "482" {
		t.Fatalf("prior bibs = %v", prior)
	}
	prior, _ = store.PriorBibs(ctx, ev, []string{"face-a"}, first.ImageKey)
	if len(prior) != 0 {
		t.Fatalf("own photo leaked into prior bibs: %v", prior)
	}

	second := newPhoto("org1/race5k/raw/IMG_002.jpg", base.Add(time.Minute))
	if _, err := store.CreatePhoto(ctx, second); err != nil {
		t.Fatalf("CreatePhoto second: %v", err)
	}
	p, err = store.RecordFaces(ctx, second.Ref(), models.FaceRecord{})
	if err != nil {
		t.Fatalf("RecordFaces no faces: %v", err)
	}
	if p.Status != models.StatusNoFaces {
		t.Fatalf("status = %s, want NO_FACES", p.Status)
	}
	p, err = store.RecordText(ctx, second.Ref(), models.TextRecord{Bibs: []string{"101", "202"}})
	if err != nil {
		t.Fatalf("RecordText second: %v", err)
	}
	if p.Status != models.StatusNoFaces {
		t.Fatalf("late text regressed status to %s", p.Status)
	}

	pending, err := store.PendingResolution(ctx, ev, models.PhotoCursor{}, 10)
	if err != nil {
		t.Fatalf("PendingResolution: %v", err)
	}
	if len(pending) != 1 || pending[0].ImageKey != second.ImageKey {
		t.Fatalf("pending = %+v", pending)
	}
	events, err := store.PendingEvents(ctx)
	if err != nil || len(events) != 1 || events[0] != ev {
		t.Fatalf("PendingEvents = %v, %v", events, err)
	}

	byBib, err := store.PhotosByBib(ctx, ev, "482", 10)
	if err != nil || len(byBib) != 1 {
		t.Fatalf("PhotosByBib = %d, %v", len(byBib), err)
	}
	unassigned, _ := store.PhotosByBib(ctx, ev, models.NoBib, 10)
	if len(unassigned) != 1 || unassigned[0].ImageKey != second.ImageKey {
		t.Fatalf("unassigned = %+v", unassigned)
	}

	// A photo indexed later may name an earlier photo's face as similar; the
	// earlier photo must still see the later one's bib.
	third := newPhoto("org1/race5k/raw/IMG_003.jpg", base.Add(2*time.Minute))
	if _, err := store.CreatePhoto(ctx, third); err != nil {
		t.Fatalf("CreatePhoto third: %v", err)
	}
	if _, err := store.RecordFaces(ctx, third.Ref(), models.FaceRecord{FaceIDs: []string{"face-c"}, SimilarFaceIDs: []string{"face-x"}}); err != nil {
		t.Fatalf("RecordFaces third: %v", err)
	}
	if _, err := store.RecordText(ctx, third.Ref(), models.TextRecord{Bibs: []string{"555"}}); err != nil {
		t.Fatalf("RecordText third: %v", err)
	}
	if _, err := store.ApplyResolution(ctx, third.Ref(), models.Resolution{Bib: "555", Source: models.BibSourceOCR}); err != nil {
		t.Fatalf("ApplyResolution third: %v", err)
	}
	prior, err = store.PriorBibs(ctx, ev, []string{"face-x"}, "org1/race5k/raw/IMG_000.jpg")
	if err != nil || len(prior) != 1 || prior[0] != "555" {
		t.Fatalf("reverse prior bibs = %v, %v", prior, err)
	}

	missing := models.PhotoRef{TenantID: "org1", EventID: "race5k", ImageKey: "nope"}
	if _, err := store.RecordText(ctx, missing, models.TextRecord{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordText missing: err=%v, want ErrNotFound", err)
	}
	if p, err := store.GetPhoto(ctx, missing); err != nil || p != nil {
		t.Fatalf("GetPhoto missing = %v, %v", p, err)
	}
}

// testPendingPaging checks that the pending set can be walked page by page
// even though weakly resolved photos never leave it.
func testPendingPaging(t *testing.T, store photoIndex) {
	t.Helper()
	ctx := context.Background()
	ev := models.EventRef{TenantID: "org1", EventID: "paging"}
	base := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

	var want []string
	for i := 0; i < 5; i++ {
		p := newPhoto(fmt.Sprintf("org1/paging/raw/IMG_%03d.jpg", i), base)
		p.EventID = ev.EventID
		if i >= 3 {
			p.UploadedAt = base.Add(time.Duration(i) * time.Minute)
		}
		if _, err := store.CreatePhoto(ctx, p); err != nil {
			t.Fatalf("CreatePhoto %d: %v", i, err)
		}
		if _, err := store.RecordText(ctx, p.Ref(), models.TextRecord{}); err != nil {
			t.Fatalf("RecordText %d: %v", i, err)
		}
		if _, err := store.RecordFaces(ctx, p.Ref(), models.FaceRecord{}); err != nil {
			t.Fatalf("RecordFaces %d: %v", i, err)
		}
		if _, err := store.ApplyResolution(ctx, p.Ref(), models.Resolution{Bib: models.NoBib, Source: models.BibSourceNone}); err != nil {
			t.Fatalf("ApplyResolution %d: %v", i, err)
		}
		want = append(want, p.ImageKey)
	}

	var got []string
	var after models.PhotoCursor
	for page := 0; page < 10; page++ {
		photos, err := store.PendingResolution(ctx, ev, after, 2)
		if err != nil {
			t.Fatalf("PendingResolution page %d: %v", page, err)
		}
		for _, p := range photos {
			got = append(got, p.ImageKey)
		}
		if len(photos) < 2 {
			break
		}
		after = photos[len(photos)-1].Cursor()
	}

	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("paged pending = %v, want %v", got, want)
	}
}

// testEqualRankKeepsBib checks that evidence of the same strength cannot
// replace a different stored bib.
func testEqualRankKeepsBib(t *testing.T, store photoIndex) {
	t.Helper()
	ctx := context.Background()
	p := newPhoto("org1/rank/raw/IMG_001.jpg", time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC))
	p.EventID = "rank"
	if _, err := store.CreatePhoto(ctx, p); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	applied, err := store.ApplyResolution(ctx, p.Ref(), models.Resolution{Bib: "482", Source: models.BibSourceFace})
	if err != nil || !applied {
		t.Fatalf("first face resolution: applied=%v err=%v", applied, err)
	}
	applied, err = store.ApplyResolution(ctx, p.Ref(), models.Resolution{Bib: "519", Source: models.BibSourceFace})
	if err != nil {
		t.Fatalf("second face resolution: %v", err)
	}
	if applied {
		t.Fatal("equal-rank evidence replaced a different bib")
	}
	applied, err = store.ApplyResolution(ctx, p.Ref(), models.Resolution{Bib: "482", Source: models.BibSourceFace})
	if err != nil || !applied {
		t.Fatalf("same bib rewrite: applied=%v err=%v", applied, err)
	}
	applied, err = store.ApplyResolution(ctx, p.Ref(), models.Resolution{Bib: "519", Source: models.BibSourceOCR})
	if err != nil || !applied {
		t.Fatalf("stronger evidence: applied=%v err=%v", applied, err)
	}

	got, _ := store.GetPhoto(ctx, p.Ref())
	if got.BibOrNone() != "519" || got.BibSource != models.BibSourceOCR {
		t.Fatalf("bib = %s (%s), want 519 (ocr)", got.BibOrNone(), got.BibSource)
	}
}
