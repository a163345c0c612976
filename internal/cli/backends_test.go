package cli

import (
	"context"
	"io"
	"testing"

	"trivia-sync-service/internal/config"
	"trivia-sync-service/internal/infra/memory"
	redisinfra "trivia-sync-service/internal/infra/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOpenBackendsInMemory(t *testing.T) {
	be, err := openBackends(context.Background(), config.Config{}, quietLogger())
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer be.Close()

	if _, ok := be.store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", be.store)
	}
	if _, ok := be.questions.(*memory.QuestionRepository); !ok {
		t.Fatalf("expected memory question cache, got %T", be.questions)
	}
	if _, ok := be.bus.(*memory.Bus); !ok {
		t.Fatalf("expected memory bus, got %T", be.bus)
	}
	if be.db != nil {
		t.Fatalf("no database expected without a postgres url")
	}
}

func TestOpenBackendsWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{}
	cfg.Redis.Addr = mr.Addr()

	be, err := openBackends(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer be.Close()

	if _, ok := be.questions.(*redisinfra.QuestionRepository); !ok {
		t.Fatalf("expected redis question cache, got %T", be.questions)
	}
	if _, ok := be.bus.(*redisinfra.Bus); !ok {
		t.Fatalf("expected redis bus, got %T", be.bus)
	}
}

func TestOpenBackendsFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{}
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	if _, err := openBackends(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected the redis bus to fail without a server")
	}
}
