package pipeline

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/your-org/racephoto/internal/models"
)

func TestCollectionEnsurerConcurrentFirstUse(t *testing.T) {
	manager := newFakeCollections()
	// Hold creation open long enough for every caller to pile up behind it.
	manager.createHook = func() { time.Sleep(20 * time.Millisecond) }
	ensurer := NewCollectionEnsurer(manager, nil, discardLogger())

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ensurer.Ensure(context.Background(), "org1-race5k")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
	}
	if manager.creates != 1 {
		t.Fatalf("collection created %d times, want 1", manager.creates)
	}
}

func TestCollectionEnsurerAcrossProcesses(t *testing.T) {
	// Two ensurers stand in for two worker processes racing on one provider.
	manager := newFakeCollections()
	a := NewCollectionEnsurer(manager, nil, discardLogger())
	b := NewCollectionEnsurer(manager, nil, discardLogger())

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.Ensure(context.Background(), "org1-race5k") }()
	go func() { defer wg.Done(); errB = b.Ensure(context.Background(), "org1-race5k") }()
	wg.Wait()

	if errA != nil || errB != nil {
		t.Fatalf("errors: %v, %v", errA, errB)
	}
	if manager.creates != 1 {
		t.Fatalf("collection created %d times, want 1", manager.creates)
	}
}

func TestCollectionEnsurerCachesKnownCollections(t *testing.T) {
	manager := newFakeCollections()
	ensurer := NewCollectionEnsurer(manager, nil, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := ensurer.Ensure(ctx, "org1-race5k"); err != nil {
			t.Fatal(err)
		}
	}
	if manager.describes != 1 {
		t.Fatalf("describe called %d times, want 1", manager.describes)
	}

	ensurer.Invalidate(ctx, "org1-race5k")
	if err := ensurer.Ensure(ctx, "org1-race5k"); err != nil {
		t.Fatal(err)
	}
	if manager.describes != 2 {
		t.Fatalf("describe after invalidate called %d times, want 2", manager.describes)
	}
}

func TestFaceStageIndex(t *testing.T) {
	indexer := &fakeIndexer{
		faces: map[string][]string{"org1/race5k/raw/b.jpg": {"f-b1", "f-b2"}},
		similar: map[string][]string{
			"f-b1": {"f-b1", "f-a1", "f-b2"},
			"f-b2": {"f-a1", "f-c1"},
		},
	}
	stage := NewFaceStage(NewCollectionEnsurer(newFakeCollections(), nil, discardLogger()), indexer,
		FaceStageConfig{MaxFaces: 15, MatchThreshold: 95})

	ref := models.PhotoRef{TenantID: "org1", EventID: "race5k", ImageKey: "org1/race5k/raw/b.jpg"}
	res, err := stage.Index(context.Background(), ref, models.Image{Key: ref.ImageKey})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if res.Count() != 2 {
		t.Fatalf("count = %d, want 2", res.Count())
	}
	if !reflect.DeepEqual(res.SimilarFaceIDs, []string{"f-a1", "f-c1"}) {
		t.Fatalf("similar = %v, want [f-a1 f-c1]", res.SimilarFaceIDs)
	}
}

func TestFaceStageCapsFaces(t *testing.T) {
	crowd := make([]string, 40)
	for i := range crowd {
		crowd[i] = "f" + string(rune('A'+i))
	}
	indexer := &fakeIndexer{faces: map[string][]string{"crowd.jpg": crowd}}
	stage := NewFaceStage(NewCollectionEnsurer(newFakeCollections(), nil, discardLogger()), indexer,
		FaceStageConfig{MaxFaces: 15})

	res, err := stage.Index(context.Background(), models.PhotoRef{TenantID: "o", EventID: "e", ImageKey: "crowd.jpg"}, models.Image{Key: "crowd.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count() != 15 {
		t.Fatalf("count = %d, want 15", res.Count())
	}
}
