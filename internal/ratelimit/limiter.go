// Package ratelimit admits or rejects requests per (identity, action) using
// fixed counting windows with a cooldown once a window is exhausted.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy configures one action. A request is allowed while fewer than
// MaxRequests were seen in the current Window; the first request over the
// limit starts a BlockDuration cooldown.
type Policy struct {
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Window is the counting state kept for one key.
type Window struct {
	Count        int
	WindowStart  time.Time
	ResetAt      time.Time
	BlockedUntil time.Time
}

// Store keeps windows. Hit must count and decide atomically for a key.
type Store interface {
	Hit(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
}

type Limiter struct {
	store    Store
	policies map[string]Policy
	now      func() time.Time
	log      logrus.FieldLogger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(store Store, policies map[string]Policy, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether identity may perform action now. Actions without a
// policy are always allowed, and so is any request the store fails to
// evaluate: the limiter must never turn a storage outage into rejections.
func (l *Limiter) Admit(ctx context.Context, identity, action string) Decision {
	p, ok := l.policies[action]
	if !ok || p.MaxRequests <= 0 || p.Window <= 0 {
		l.log.WithField("action", action).Debug("no rate limit policy, allowing")
		return Decision{Allowed: true}
	}
	if identity == "" {
		identity = "anon"
	}

	d, err := l.store.Hit(ctx, Key(identity, action), p, l.now())
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": action, "identity": identity}).
			Warn("rate limit store error, allowing request")
		return Decision{Allowed: true}
	}
	return d
}

func Key(identity, action string) string {
	return "rl:" + action + ":" + identity
}

// apply runs one admission against w. Shared by the in-memory store; the
// Redis script implements the same steps.
func apply(w *Window, p Policy, now time.Time) Decision {
	if !w.BlockedUntil.IsZero() {
		if now.Before(w.BlockedUntil) {
			return Decision{RetryAfterSeconds: ceilSeconds(w.BlockedUntil.Sub(now))}
		}
		w.BlockedUntil = time.Time{}
		reset(w, p, now)
	}
	if !now.Before(w.ResetAt) {
		reset(w, p, now)
	}

	if w.Count < p.MaxRequests {
		w.Count++
		return Decision{Allowed: true}
	}
	if p.BlockDuration > 0 {
		w.BlockedUntil = now.Add(p.BlockDuration)
		return Decision{RetryAfterSeconds: ceilSeconds(p.BlockDuration)}
	}
	return Decision{RetryAfterSeconds: ceilSeconds(w.ResetAt.Sub(now))}
}

func reset(w *Window, p Policy, now time.Time) {
	w.Count = 0
	w.WindowStart = now
	w.ResetAt = now.Add(p.Window)
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
