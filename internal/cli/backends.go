package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/config"
	"trivia-sync-service/internal/infra/memory"
	pginfra "trivia-sync-service/internal/infra/postgres"
	redisinfra "trivia-sync-service/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
)

// backends is everything the services run against, picked from config.
type backends struct {
	store     app.Store
	questions app.QuestionRepository
	bus       app.Bus
	db        *bun.DB

	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackends wires Postgres when a url is set (memory otherwise), caches questions
// in Redis when an address is set, and picks the change bus by bus.driver.
func openBackends(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if cfg.Postgres.URL != "" {
		b.db = openDB(cfg.Postgres.URL)
		b.closers = append(b.closers, b.db.Close)
		if err := runMigrations(ctx, b.db, log); err != nil {
			return nil, err
		}
		b.store = pginfra.NewStore(b.db)
	} else {
		b.store = memory.NewStore()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, redisClient.Close)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if redisClient != nil {
		b.questions = redisinfra.NewQuestionRepository(redisClient, b.store, quizTTL, log)
	} else {
		b.questions = memory.NewQuestionRepository(b.store, quizTTL)
	}

	switch cfg.BusDriver() {
	case config.BusRedis:
		bus, err := redisinfra.NewBus(ctx, redisClient, cfg.Redis.Prefix, log)
		if err != nil {
			return nil, fmt.Errorf("redis bus: %w", err)
		}
		b.closers = append(b.closers, bus.Close)
		b.bus = bus
	case config.BusPostgres:
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect listen pool: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		bus, err := pginfra.NewBus(ctx, pool, cfg.Postgres.Channel, log)
		if err != nil {
			return nil, fmt.Errorf("postgres bus: %w", err)
		}
		b.closers = append(b.closers, bus.Close)
		b.bus = bus
	default:
		b.bus = memory.NewBus()
	}

	log.WithFields(logrus.Fields{
		"store":    storeName(cfg),
		"bus":      cfg.BusDriver(),
		"redis":    redisClient != nil,
		"quiz_ttl": quizTTL.String(),
	}).Info("backends ready")
	return b, nil
}

func storeName(cfg config.Config) string {
	if cfg.Postgres.URL != "" {
		return "postgres"
	}
	return "memory"
}
