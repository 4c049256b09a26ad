// internal/feed/feed.go

// Package feed is the single "watch the records matching this filter"
// abstraction. It composes a push subscription with a backup poll behind one
// callback: the store's subscription delivery is at-least-once at best and
// silently-broken at worst, so the poll guarantees convergence while a
// fingerprint check keeps duplicate notifications from re-triggering
// consumers.
package feed

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/store"
)

// Handler consumes the full matching list on every observed change.
type Handler func([]store.Record)

// Options tunes a Feed. The zero value means push-only with a real clock.
type Options struct {
	// PollInterval enables the backup poll; zero disables it.
	PollInterval time.Duration
	// DisablePush skips the store subscription, leaving a poll-only feed.
	DisablePush bool

	Clock  clockwork.Clock
	Logger *logrus.Logger
}

// Feed watches one store query.
type Feed struct {
	query store.Query
	opts  Options

	mu   sync.Mutex
	last string // fingerprint of the most recently delivered list
}

// New builds a feed over the query.
func New(query store.Query, opts Options) *Feed {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Feed{query: query, opts: opts}
}

// Watch starts delivering to fn: the current list immediately, then on every
// change until stop is called or ctx is cancelled. Duplicate deliveries
// (push and poll observing the same state) are suppressed.
func (f *Feed) Watch(ctx context.Context, fn Handler) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	// Initial state, delivered before any notification can race it.
	if list, err := f.query.GetList(watchCtx); err == nil {
		f.deliver(list, fn)
	} else {
		f.opts.Logger.WithError(err).Warn("feed initial read failed")
	}

	var unsub func()
	if !f.opts.DisablePush {
		var err error
		unsub, err = f.query.Subscribe(watchCtx, func(list []store.Record) {
			f.deliver(list, fn)
		})
		if err != nil {
			// Degrade to poll-only rather than failing the watch; the
			// poll keeps the consumer converging.
			f.opts.Logger.WithError(err).Warn("feed subscription unavailable, poll only")
			unsub = nil
			if f.opts.PollInterval <= 0 {
				cancel()
				return nil, err
			}
		}
	}

	if f.opts.PollInterval > 0 {
		go f.pollLoop(watchCtx, fn)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			if unsub != nil {
				unsub()
			}
		})
	}
	return stop, nil
}

func (f *Feed) pollLoop(ctx context.Context, fn Handler) {
	ticker := f.opts.Clock.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			list, err := f.query.GetList(ctx)
			if err != nil {
				f.opts.Logger.WithError(err).Debug("feed poll failed")
				continue
			}
			f.deliver(list, fn)
		case <-ctx.Done():
			return
		}
	}
}

// deliver invokes fn unless the list is byte-for-byte the state it already
// delivered.
func (f *Feed) deliver(list []store.Record, fn Handler) {
	fp := fingerprint(list)
	f.mu.Lock()
	if fp == f.last {
		f.mu.Unlock()
		return
	}
	f.last = fp
	f.mu.Unlock()
	fn(list)
}

func fingerprint(list []store.Record) string {
	parts := make([]string, 0, len(list))
	for _, rec := range list {
		parts = append(parts, rec.ID.String()+":"+strconv.FormatInt(rec.Updated.UnixNano(), 10))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
