package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"trivia-sync-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// QuestionLoader reads a question from the backing store.
type QuestionLoader interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// QuestionRepository is a read-through cache of question content for sessions
// walking their question list. Entries live for ttl stretched by up to a tenth per
// id, and expired entries are swept whenever a load fills the cache.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	loads  singleflight.Group

	mu      sync.RWMutex
	entries map[string]questionEntry
}

type questionEntry struct {
	question domain.Question
	until    time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]questionEntry),
	}
}

// GetQuestion serves id from the cache or loads it once for all concurrent callers.
// A caller whose ctx ends stops waiting; the shared load still fills the cache.
func (r *QuestionRepository) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	if q, ok := r.lookup(id); ok {
		return q, nil
	}

	ch := r.loads.DoChan(id, func() (interface{}, error) {
		if q, ok := r.lookup(id); ok {
			return q, nil
		}
		q, err := r.loader.GetQuestion(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		r.fill(id, q)
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Question{}, res.Err
		}
		return res.Val.(domain.Question), nil
	case <-ctx.Done():
		return domain.Question{}, ctx.Err()
	}
}

// Invalidate drops a cached question, e.g. after it was flagged.
func (r *QuestionRepository) Invalidate(_ context.Context, id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len is the number of entries held, expired ones included until the next sweep.
func (r *QuestionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *QuestionRepository) lookup(id string) (domain.Question, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || !e.until.After(now) {
		return domain.Question{}, false
	}
	return e.question, true
}

func (r *QuestionRepository) fill(id string, q domain.Question) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if !e.until.After(now) {
			delete(r.entries, key)
		}
	}
	r.entries[id] = questionEntry{question: q, until: now.Add(r.lifetime(id))}
}

// lifetime spreads expirations of questions loaded together by hashing the id into
// up to ttl/10 of extra life.
func (r *QuestionRepository) lifetime(id string) time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	spread := uint64(r.ttl/10) + 1
	return r.ttl + time.Duration(h.Sum64()%spread)
}
