package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quiz-sync/internal/domain"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	packs map[string]domain.QuestionPack
}

func (l *countingLoader) LoadPack(_ context.Context, packID string) (domain.QuestionPack, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if pack, ok := l.packs[packID]; ok {
		return pack, nil
	}
	return domain.QuestionPack{}, domain.ErrPackNotFound
}

func (l *countingLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func testPack(id string) domain.QuestionPack {
	return domain.QuestionPack{
		ID: id,
		Questions: []domain.Question{
			{ID: "q1", Category: "sport", Difficulty: 1, Type: domain.TypeBuzzer, Prompt: "First?"},
			{ID: "q2", Category: "history", Difficulty: 2, Type: domain.TypeChoice, Prompt: "Second?", Choices: []string{"a", "b"}, Answer: "a"},
		},
	}
}

func setup(t *testing.T, packs map[string]domain.QuestionPack) (*miniredis.Miniredis, *countingLoader, *PackSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	loader := &countingLoader{packs: packs}
	return mr, loader, NewPackSource(client, loader, time.Minute)
}

func TestGetPackFillsCache(t *testing.T) {
	mr, loader, source := setup(t, map[string]domain.QuestionPack{"starter": testPack("starter")})

	pack, err := source.GetPack(context.Background(), "starter")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(pack.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(pack.Questions))
	}
	if loader.callCount() != 1 {
		t.Fatalf("expected 1 loader call, got %d", loader.callCount())
	}

	if !mr.Exists("pack:starter:questions") {
		t.Fatalf("expected cache key to be set")
	}
	if ttl := mr.TTL("pack:starter:questions"); ttl < time.Minute {
		t.Fatalf("expected TTL of at least a minute, got %v", ttl)
	}
}

func TestGetPackServesFromCache(t *testing.T) {
	_, loader, source := setup(t, map[string]domain.QuestionPack{"starter": testPack("starter")})

	first, err := source.GetPack(context.Background(), "starter")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := source.GetPack(context.Background(), "starter")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if loader.callCount() != 1 {
		t.Fatalf("expected cached second read, got %d loader calls", loader.callCount())
	}
	if len(second.Questions) != len(first.Questions) {
		t.Fatalf("cache returned %d questions, want %d", len(second.Questions), len(first.Questions))
	}
	for i := range first.Questions {
		if second.Questions[i].ID != first.Questions[i].ID {
			t.Fatalf("question %d changed across cache: %q vs %q", i, second.Questions[i].ID, first.Questions[i].ID)
		}
	}
}

func TestGetPackReloadsAfterExpiry(t *testing.T) {
	mr, loader, source := setup(t, map[string]domain.QuestionPack{"starter": testPack("starter")})

	if _, err := source.GetPack(context.Background(), "starter"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := source.GetPack(context.Background(), "starter"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if loader.callCount() != 2 {
		t.Fatalf("expected reload after expiry, got %d loader calls", loader.callCount())
	}
}

func TestGetPackUnknown(t *testing.T) {
	_, _, source := setup(t, map[string]domain.QuestionPack{})

	if _, err := source.GetPack(context.Background(), "missing"); !errors.Is(err, domain.ErrPackNotFound) {
		t.Fatalf("expected ErrPackNotFound, got %v", err)
	}
}

func TestGetPackCorruptCacheEntry(t *testing.T) {
	mr, _, source := setup(t, map[string]domain.QuestionPack{"starter": testPack("starter")})

	mr.HSet("pack:starter:questions", "q1", "{not json")
	if _, err := source.GetPack(context.Background(), "starter"); err == nil {
		t.Fatalf("expected error for corrupt cache entry")
	}
}
