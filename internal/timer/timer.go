// Package timer implements the per-question countdown and its "time bomb": once more
// than a quarter of the participants have answered, each further answer takes a few
// seconds off the clock, never pushing it below a floor.
package timer

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultDuration       = 60
	DefaultPenalty        = 5
	DefaultFloor          = 10
	DefaultThresholdRatio = 0.25
	DefaultPulseDuration  = 1800 * time.Millisecond
	DefaultTickInterval   = time.Second
)

// State of the countdown for the current question.
type State string

const (
	StateRunning State = "running"
	StateExpired State = "expired"
)

// Config holds the timer knobs. Durations in whole seconds match the countdown unit.
// A ThresholdRatio of 0 penalizes every answer; start from DefaultConfig for the usual
// quarter.
type Config struct {
	Duration       int
	Penalty        int
	Floor          int
	ThresholdRatio float64
	PulseDuration  time.Duration
	TickInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Duration:       DefaultDuration,
		Penalty:        DefaultPenalty,
		Floor:          DefaultFloor,
		ThresholdRatio: DefaultThresholdRatio,
		PulseDuration:  DefaultPulseDuration,
		TickInterval:   DefaultTickInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Duration <= 0 {
		c.Duration = d.Duration
	}
	if c.Penalty < 0 {
		c.Penalty = 0
	}
	if c.Floor < 0 {
		c.Floor = 0
	}
	if c.ThresholdRatio < 0 || c.ThresholdRatio > 1 {
		c.ThresholdRatio = d.ThresholdRatio
	}
	if c.PulseDuration <= 0 {
		c.PulseDuration = d.PulseDuration
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}

// Snapshot is what a client renders.
type Snapshot struct {
	QuestionIndex int   `json:"questionIndex"`
	Remaining     int   `json:"remaining"`
	State         State `json:"state"`
	Pulse         int   `json:"pulse"`
	Flash         bool  `json:"flash"`
}

// Timer is safe for concurrent use.
type Timer struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	index       int
	remaining   int
	state       State
	pulse       int
	flashUntil  time.Time
	prevAnswers int
}

func New(cfg Config) *Timer {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock is test-only for deterministic flash deadlines.
func NewWithClock(cfg Config, now func() time.Time) *Timer {
	cfg = cfg.withDefaults()
	return &Timer{
		cfg:       cfg,
		now:       now,
		remaining: cfg.Duration,
		state:     StateRunning,
	}
}

// Observe feeds the latest counts for questionIndex. A new index resets the countdown
// before the counts are applied.
func (t *Timer) Observe(questionIndex, answerCount, participantCount int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if questionIndex != t.index {
		t.resetLocked(questionIndex)
	}
	if t.state == StateExpired || participantCount <= 0 {
		return t.snapshotLocked()
	}

	threshold := int(math.Ceil(float64(participantCount) * t.cfg.ThresholdRatio))
	if answerCount > t.prevAnswers && answerCount > threshold {
		pastThreshold := answerCount - max(t.prevAnswers, threshold)
		if pastThreshold > 0 && t.remaining > t.cfg.Floor {
			next := max(t.cfg.Floor, t.remaining-pastThreshold*t.cfg.Penalty)
			if next < t.remaining {
				t.pulse++
				t.flashUntil = t.now().Add(t.cfg.PulseDuration)
			}
			t.remaining = next
		}
	}
	t.prevAnswers = answerCount

	if answerCount >= participantCount {
		t.state = StateExpired
	}
	return t.snapshotLocked()
}

// Tick counts down one second while running.
func (t *Timer) Tick() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		if t.remaining <= 1 {
			t.remaining = 0
			t.state = StateExpired
		} else {
			t.remaining--
		}
	}
	return t.snapshotLocked()
}

// Reset starts questionIndex from a full countdown.
func (t *Timer) Reset(questionIndex int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(questionIndex)
	return t.snapshotLocked()
}

// Interval is how often Tick is meant to be called.
func (t *Timer) Interval() time.Duration {
	return t.cfg.TickInterval
}

func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) resetLocked(questionIndex int) {
	t.index = questionIndex
	t.remaining = t.cfg.Duration
	t.state = StateRunning
	t.pulse = 0
	t.flashUntil = time.Time{}
	t.prevAnswers = 0
}

func (t *Timer) snapshotLocked() Snapshot {
	return Snapshot{
		QuestionIndex: t.index,
		Remaining:     t.remaining,
		State:         t.state,
		Pulse:         t.pulse,
		Flash:         !t.flashUntil.IsZero() && t.now().Before(t.flashUntil),
	}
}
