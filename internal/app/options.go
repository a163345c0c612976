package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// Option customizes a service.
type Option func(*options)

type options struct {
	log      logrus.FieldLogger
	now      func() time.Time
	observer Observer
	codes    CodeGenerator
	rnd      *lockedRand
}

// WithLogger sets the service logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver attaches command metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithCodeGenerator replaces the random lobby code source.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(o *options) { o.codes = gen }
}

// WithSeed makes question sampling deterministic.
func WithSeed(seed int64) Option {
	return func(o *options) { o.rnd = newLockedRand(seed) }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		observer: nopObserver{},
		codes:    RandomLobbyCode,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger()
	}
	if o.rnd == nil {
		o.rnd = newLockedRand(time.Now().UnixNano())
	}
	return o
}

// publisher sends committed rows to the bus. Publishing is best effort: the write
// already committed, so a failure is logged and peers catch up on their next refresh.
type publisher struct {
	bus Bus
	log logrus.FieldLogger
}

func (p publisher) publish(ctx context.Context, events ...domain.ChangeEvent) {
	if p.bus == nil {
		return
	}
	for _, ev := range events {
		if err := p.bus.Publish(ctx, ev); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"topic": ev.Topic,
				"table": ev.Table,
				"type":  ev.Type,
			}).Warn("publish change event failed")
		}
	}
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) shuffle(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}
