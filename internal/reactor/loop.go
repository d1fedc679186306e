package reactor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc/pool"
)

// TimerToken identifies one scheduled Timer registered with a Loop.
type TimerToken uint64

// StreamToken identifies one Established p2p.Stream the loop is aware of,
// without the loop package needing to import p2p directly.
type StreamToken uint64

// Loop is the single thread that owns tendermint.State, per spec.md §5:
// "exactly one thread owns the Tendermint state machine." Everything that
// mutates consensus state runs as a task posted to this loop and executed
// in submission order; anything that might block (datagram decrypt, seal
// verification) runs on the bounded worker pool via Dispatch and posts its
// result back.
type Loop struct {
	clk  clock.Clock
	pool *pool.Pool

	tasks chan func()

	mu              sync.Mutex
	timers          map[TimerToken]*Timer
	streams         map[StreamToken]struct{}
	nextTimerToken  uint64
	nextStreamToken uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Loop backed by clk (use clock.New() in production,
// clock.NewMock() in tests) with a worker pool capped at maxWorkers
// goroutines for Dispatch calls.
func New(clk clock.Clock, maxWorkers int) *Loop {
	return &Loop{
		clk:     clk,
		pool:    pool.New().WithMaxGoroutines(maxWorkers),
		tasks:   make(chan func(), 256),
		timers:  make(map[TimerToken]*Timer),
		streams: make(map[StreamToken]struct{}),
		closed:  make(chan struct{}),
	}
}

// Run drains posted tasks on the calling goroutine until Stop is called.
// The caller must run this on exactly one goroutine for the lifetime of
// the Loop — that goroutine is "the" loop thread.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.closed:
			return
		}
	}
}

// Post enqueues fn to run on the loop thread, preserving submission order
// against every other Post call. Safe to call from any goroutine,
// including from inside a Dispatch-ed worker.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.closed:
	}
}

// Dispatch runs work on the bounded worker pool, off the loop thread. If
// work returns a non-nil continuation, that continuation is posted back
// onto the loop thread once work completes — the only way a worker may
// touch consensus state.
func (l *Loop) Dispatch(work func() func()) {
	l.pool.Go(func() {
		if cont := work(); cont != nil {
			l.Post(cont)
		}
	})
}

// Stop halts Run (idempotent) and waits for any in-flight Dispatch work to
// finish.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() { close(l.closed) })
	l.pool.Wait()
}

// ScheduleTimer arms a timer that, after d, posts fn onto the loop thread
// (never calling fn directly from the clock's own goroutine). Matches the
// consensus.tendermint.Callbacks.ScheduleTimer shape once wrapped with the
// step/height/view it was armed for.
func (l *Loop) ScheduleTimer(d time.Duration, fn func()) TimerToken {
	l.mu.Lock()
	l.nextTimerToken++
	token := l.nextTimerToken
	l.mu.Unlock()

	timer := NewTimer(l.clk, d, func() { l.Post(fn) })

	l.mu.Lock()
	l.timers[TimerToken(token)] = timer
	l.mu.Unlock()
	return TimerToken(token)
}

// CancelTimer cancels a previously scheduled timer. Returns false if the
// token is unknown or the timer already fired.
func (l *Loop) CancelTimer(token TimerToken) bool {
	l.mu.Lock()
	timer, ok := l.timers[token]
	if ok {
		delete(l.timers, token)
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	return timer.Cancel()
}

// RegisterStream issues a fresh token for a newly Established p2p.Stream.
func (l *Loop) RegisterStream() StreamToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextStreamToken++
	token := StreamToken(l.nextStreamToken)
	l.streams[token] = struct{}{}
	return token
}

// UnregisterStream drops a stream token, e.g. once its connection closes.
func (l *Loop) UnregisterStream(token StreamToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.streams, token)
}

// KnowsStream reports whether token is currently registered.
func (l *Loop) KnowsStream(token StreamToken) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.streams[token]
	return ok
}
