// Package redis caches question packs in Redis so several hosts on the same
// network can share one content store without hitting Postgres every time.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
)

// PackLoader fetches question packs from a backing store.
type PackLoader interface {
	LoadPack(ctx context.Context, packID string) (domain.QuestionPack, error)
}

// PackSource caches packs as a Redis hash (one field per question, JSON
// encoded) and falls back to the loader on a miss:
//
//	HSET pack:{packID}:questions {questionID} {json}
type PackSource struct {
	client *redis.Client
	loader PackLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPackSource(client *redis.Client, loader PackLoader, ttl time.Duration) *PackSource {
	return &PackSource{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *PackSource) GetPack(ctx context.Context, packID string) (domain.QuestionPack, error) {
	key := s.questionsKey(packID)

	cached, err := s.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		return buildPackFromCache(packID, cached)
	}

	result, err, _ := s.sf.Do(packID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		cached, err := s.client.HGetAll(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			return buildPackFromCacheAny(packID, cached)
		}

		pack, err := s.loader.LoadPack(ctx, packID)
		if err != nil {
			return domain.QuestionPack{}, err
		}

		pipe := s.client.Pipeline()
		for _, q := range pack.Questions {
			raw, err := json.Marshal(q)
			if err != nil {
				return domain.QuestionPack{}, fmt.Errorf("marshal question %s: %w", q.ID, err)
			}
			pipe.HSet(ctx, key, q.ID, raw)
		}
		if ttl := s.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return pack, nil
	})
	if err != nil {
		return domain.QuestionPack{}, err
	}
	return result.(domain.QuestionPack), nil
}

func (s *PackSource) questionsKey(packID string) string {
	return "pack:" + packID + ":questions"
}

func buildPackFromCache(packID string, fields map[string]string) (domain.QuestionPack, error) {
	pack := domain.QuestionPack{ID: packID, Questions: make([]domain.Question, 0, len(fields))}
	for questionID, raw := range fields {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.QuestionPack{}, fmt.Errorf("corrupt cached question %s: %w", questionID, err)
		}
		pack.Questions = append(pack.Questions, q)
	}
	// Hash iteration is unordered; restore a stable order.
	sort.Slice(pack.Questions, func(i, j int) bool {
		return pack.Questions[i].ID < pack.Questions[j].ID
	})
	return pack, nil
}

func buildPackFromCacheAny(packID string, fields map[string]string) (interface{}, error) {
	pack, err := buildPackFromCache(packID, fields)
	if err != nil {
		return nil, err
	}
	return pack, nil
}

func (s *PackSource) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}
