package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from the backing store.
type QuestionLoader interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// QuestionRepository caches questions in Redis, one hash per question, and falls back
// to the loader on a miss:
//
//	HSET quiz:question:{id} text .. correct .. wrong1 .. wrong2 .. wrong3 .. tags .. flagged ..
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	log    logrus.FieldLogger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration, log logrus.FieldLogger) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	key := r.key(id)

	if fields, err := r.client.HGetAll(ctx, key).Result(); err == nil && len(fields) > 0 {
		if q, ok := questionFromHash(id, fields); ok {
			return q, nil
		}
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		// another caller may have filled it meanwhile
		if fields, err := r.client.HGetAll(ctx, key).Result(); err == nil && len(fields) > 0 {
			if q, ok := questionFromHash(id, fields); ok {
				return q, nil
			}
		}

		q, err := r.loader.GetQuestion(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, questionToHash(q))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.WithError(err).WithField("question_id", id).Warn("question cache write failed")
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// Invalidate drops the cached hash so the next read reloads, e.g. after flagging.
func (r *QuestionRepository) Invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		r.log.WithError(err).WithField("question_id", id).Warn("question cache invalidate failed")
	}
}

func (r *QuestionRepository) key(id string) string {
	return "quiz:question:" + id
}

func questionToHash(q domain.Question) map[string]interface{} {
	tags, _ := json.Marshal(q.Tags)
	return map[string]interface{}{
		"text":      q.QuestionText,
		"correct":   q.CorrectAnswer,
		"wrong1":    q.WrongAnswers[0],
		"wrong2":    q.WrongAnswers[1],
		"wrong3":    q.WrongAnswers[2],
		"tags":      string(tags),
		"flagged":   strconv.FormatBool(q.Flagged),
		"reason":    q.FlagReason,
		"createdAt": q.CreatedAt.UTC().Format(time.RFC3339Nano),
		"version":   strconv.FormatInt(q.Version, 10),
	}
}

// questionFromHash rebuilds a question; a hash missing required fields counts as a miss.
func questionFromHash(id string, h map[string]string) (domain.Question, bool) {
	text, ok := h["text"]
	if !ok || h["correct"] == "" {
		return domain.Question{}, false
	}
	version, err := strconv.ParseInt(h["version"], 10, 64)
	if err != nil {
		return domain.Question{}, false
	}
	q := domain.Question{
		ID:            id,
		QuestionText:  text,
		CorrectAnswer: h["correct"],
		WrongAnswers:  [3]string{h["wrong1"], h["wrong2"], h["wrong3"]},
		Tags:          []string{},
		FlagReason:    h["reason"],
		Version:       version,
	}
	if raw := h["tags"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &q.Tags); err != nil {
			return domain.Question{}, false
		}
	}
	q.Flagged, _ = strconv.ParseBool(h["flagged"])
	q.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["createdAt"])
	return q, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
