// Package keepalive keeps a free-tier backend awake by invoking the heartbeat
// recorder at most once per interval from the client side.
package keepalive

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"keepalive-service/internal/util"
)

const (
	// StateKey is where the last successful invocation time is stored, as epoch milliseconds.
	StateKey = "lastKeepAlive"

	DefaultInterval = 24 * time.Hour
	DefaultSource   = "web"

	invokeTimeout = 30 * time.Second
)

// KeyValueStore persists throttle state. Implementations: sqlite, redis and memory stores.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Throttle decides on each application load whether a heartbeat is due and fires it.
// Failures are logged and swallowed; only a success moves lastKeepAlive forward.
type Throttle struct {
	store    KeyValueStore
	invoker  Invoker
	source   string
	interval time.Duration
	logger   *zap.Logger
	nowFunc  func() time.Time

	inflight sync.WaitGroup
	pending  atomic.Bool
}

// Option customises a Throttle.
type Option func(*Throttle)

func WithInterval(d time.Duration) Option {
	return func(t *Throttle) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithSource(source string) Option {
	return func(t *Throttle) {
		if source != "" {
			t.source = source
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.nowFunc = now }
}

func NewThrottle(store KeyValueStore, invoker Invoker, logger *zap.Logger, opts ...Option) *Throttle {
	t := &Throttle{
		store:    store,
		invoker:  invoker,
		source:   DefaultSource,
		interval: DefaultInterval,
		logger:   logger,
		nowFunc:  time.Now,
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LastSuccess returns the stored time of the last successful invocation.
// A missing or unparsable value reads as "never".
func (t *Throttle) LastSuccess(ctx context.Context) (*time.Time, error) {
	raw, ok, err := t.store.Get(ctx, StateKey)
	if err != nil || !ok {
		return nil, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.logger.Warn("Ignoring unparsable keep-alive state",
			util.String("key", StateKey),
			util.String("value", raw))
		return nil, nil
	}
	last := time.UnixMilli(ms)
	return &last, nil
}

// ShouldInvoke reports whether the interval has elapsed since the last success.
// A store read error counts as due.
func (t *Throttle) ShouldInvoke(ctx context.Context) bool {
	last, err := t.LastSuccess(ctx)
	if err != nil {
		t.logger.Warn("Failed to read keep-alive state", util.ErrorField(err))
		return true
	}
	if last == nil {
		return true
	}
	return t.nowFunc().Sub(*last) >= t.interval
}

// Trigger checks in the background whether an invocation is due and fires it.
// It returns false only when a previous check or invocation from this Throttle is
// still running. The caller never waits on the state store or the network.
func (t *Throttle) Trigger(ctx context.Context) bool {
	if !t.pending.CompareAndSwap(false, true) {
		return false
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer t.pending.Store(false)

		ctx := context.WithoutCancel(ctx)
		if !t.ShouldInvoke(ctx) {
			return
		}
		_, _ = t.invoke(ctx)
	}()
	return true
}

// Run invokes synchronously regardless of the interval and returns the outcome.
func (t *Throttle) Run(ctx context.Context) (*InvokeResult, error) {
	return t.invoke(ctx)
}

// Wait blocks until background invocations finish.
func (t *Throttle) Wait() {
	t.inflight.Wait()
}

func (t *Throttle) invoke(ctx context.Context) (*InvokeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	result, err := t.invoker.Invoke(ctx, t.source)
	if err != nil {
		t.logger.Warn("Keep-alive invocation failed", util.ErrorField(err))
		return nil, err
	}

	now := t.nowFunc()
	if err := t.store.Set(ctx, StateKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		t.logger.Warn("Failed to persist keep-alive state", util.ErrorField(err))
		return result, err
	}

	t.logger.Debug("Keep-alive sent",
		util.String("source", result.Source),
		util.Time("at", now))
	return result, nil
}
