package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

type fakeBackend struct {
	symptomCalls int
	postCalls    int
	enqueued     []domain.Command
	symptoms     []domain.Symptom
	posts        []domain.BlogPost
}

func (f *fakeBackend) ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error) {
	f.symptomCalls++
	return f.symptoms, nil
}

func (f *fakeBackend) ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error) {
	return nil, nil
}

func (f *fakeBackend) ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	return nil, nil
}

func (f *fakeBackend) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	f.postCalls++
	return f.posts, nil
}

func (f *fakeBackend) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	f.enqueued = append(f.enqueued, cmds...)
	return nil
}

func newTestCache(t *testing.T, base *fakeBackend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewCache(base, rc, time.Minute), mr
}

func TestListSymptomsCachesSecondRead(t *testing.T) {
	base := &fakeBackend{symptoms: []domain.Symptom{{ID: "a", UserID: "u1", Name: "Nausea"}}}
	c, _ := newTestCache(t, base)
	ctx := context.Background()

	first, err := c.ListSymptoms(ctx, "u1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := c.ListSymptoms(ctx, "u1")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if base.symptomCalls != 1 {
		t.Fatalf("backend hit %d times, want 1", base.symptomCalls)
	}
	if len(first) != 1 || len(second) != 1 || second[0].ID != "a" {
		t.Fatalf("cached read differs: %+v vs %+v", first, second)
	}
}

func TestEnqueueCommandsEvictsUserKeys(t *testing.T) {
	base := &fakeBackend{symptoms: []domain.Symptom{{ID: "a", UserID: "u1", Name: "Nausea"}}}
	c, mr := newTestCache(t, base)
	ctx := context.Background()

	if _, err := c.ListSymptoms(ctx, "u1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists(symptomsCacheKey("u1")) {
		t.Fatal("cache key not written")
	}

	err := c.EnqueueCommands(ctx, "u1", []domain.Command{{
		EntityType: domain.EntitySymptom,
		Op:         domain.OpCreated,
		EntityID:   "b",
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(base.enqueued) != 1 {
		t.Fatalf("backend got %d commands", len(base.enqueued))
	}
	if mr.Exists(symptomsCacheKey("u1")) {
		t.Fatal("symptom cache key survived eviction")
	}
}

func TestEnqueueEvictsPostsOnlyForPostCommands(t *testing.T) {
	base := &fakeBackend{posts: []domain.BlogPost{{ID: "p1", Title: "Eating well"}}}
	c, mr := newTestCache(t, base)
	ctx := context.Background()

	if _, err := c.ListPosts(ctx); err != nil {
		t.Fatalf("prime posts cache: %v", err)
	}

	if err := c.EnqueueCommands(ctx, "u1", []domain.Command{{EntityType: domain.EntitySymptom, Op: domain.OpCreated, EntityID: "a"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !mr.Exists(postsCacheKey) {
		t.Fatal("posts cache evicted by a symptom command")
	}

	if err := c.EnqueueCommands(ctx, "u1", []domain.Command{{EntityType: domain.EntityBlogPost, Op: domain.OpCreated, EntityID: "p2"}}); err != nil {
		t.Fatalf("enqueue post: %v", err)
	}
	if mr.Exists(postsCacheKey) {
		t.Fatal("posts cache survived a post command")
	}
}

func TestCorruptCacheEntryFallsBack(t *testing.T) {
	base := &fakeBackend{symptoms: []domain.Symptom{{ID: "a", UserID: "u1", Name: "Nausea"}}}
	c, mr := newTestCache(t, base)
	ctx := context.Background()

	if err := mr.Set(symptomsCacheKey("u1"), "not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	records, err := c.ListSymptoms(ctx, "u1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 || base.symptomCalls != 1 {
		t.Fatalf("expected fallback to backend: records=%d calls=%d", len(records), base.symptomCalls)
	}
}

func TestNilRedisClientPassesThrough(t *testing.T) {
	base := &fakeBackend{symptoms: []domain.Symptom{{ID: "a", UserID: "u1"}}}
	c := NewCache(base, nil, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.ListSymptoms(ctx, "u1"); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if base.symptomCalls != 2 {
		t.Fatalf("expected every read to hit the backend, got %d calls", base.symptomCalls)
	}
}
