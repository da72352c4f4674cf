package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
)

// PackLoader fetches question packs from a backing store (file, DB, ...).
type PackLoader interface {
	LoadPack(ctx context.Context, packID string) (domain.QuestionPack, error)
}

// PackSource caches packs with TTL so repeated session setups don't re-read
// the backing store.
type PackSource struct {
	loader PackLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPack
}

type cachedPack struct {
	pack      domain.QuestionPack
	expiresAt time.Time
}

func NewPackSource(loader PackLoader, ttl time.Duration) *PackSource {
	return &PackSource{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPack),
	}
}

func (s *PackSource) GetPack(ctx context.Context, packID string) (domain.QuestionPack, error) {
	now := s.clock()

	s.mu.RLock()
	if entry, ok := s.cache[packID]; ok && entry.expiresAt.After(now) {
		s.mu.RUnlock()
		return entry.pack, nil
	}
	s.mu.RUnlock()

	result, err, _ := s.sf.Do(packID, func() (interface{}, error) {
		now := s.clock()
		s.mu.RLock()
		if entry, ok := s.cache[packID]; ok && entry.expiresAt.After(now) {
			s.mu.RUnlock()
			return entry.pack, nil
		}
		s.mu.RUnlock()

		pack, err := s.loader.LoadPack(ctx, packID)
		if err != nil {
			return domain.QuestionPack{}, err
		}

		s.mu.Lock()
		s.cache[packID] = cachedPack{
			pack:      pack,
			expiresAt: now.Add(s.ttlWithJitter()),
		}
		s.mu.Unlock()
		return pack, nil
	})
	if err != nil {
		return domain.QuestionPack{}, err
	}
	return result.(domain.QuestionPack), nil
}

func (s *PackSource) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}

// StaticPackLoader serves packs from an in-memory map (tests and demos).
type StaticPackLoader struct {
	packs map[string]domain.QuestionPack
}

func NewStaticPackLoader(packs map[string]domain.QuestionPack) *StaticPackLoader {
	return &StaticPackLoader{packs: packs}
}

func (l *StaticPackLoader) LoadPack(_ context.Context, packID string) (domain.QuestionPack, error) {
	if pack, ok := l.packs[packID]; ok {
		return pack, nil
	}
	return domain.QuestionPack{}, domain.ErrPackNotFound
}
