// Package persist carries session writes from the room actors to the Session
// Store without ever blocking the caller.
//
// Work is spread over a fixed set of lanes. The lane is picked by hashing the
// session id, so every write for one session is applied in submission order
// by a single goroutine. Each write is retried with exponential backoff until
// it succeeds, fails permanently, or runs out of tries or time.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/metrics"
	"github.com/devaloi/pokersync/internal/store"
)

// Operation names, used in logs and metrics.
const (
	OpCreate         = "create_session"
	OpAddEstimation  = "add_estimation"
	OpRemoveEstimate = "remove_estimation"
	OpReveal         = "reveal_estimations"
	OpReset          = "reset_session"
	OpComplete       = "complete_session"
)

// Options configures a Dispatcher.
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries uint
	Timeout    time.Duration
	// InitialInterval is the first retry delay. Zero uses the backoff default.
	InitialInterval time.Duration
	Logger          *slog.Logger
	Metrics         metrics.Recorder
}

type job struct {
	op        string
	sessionID string
	call      func(ctx context.Context) error
}

// Dispatcher queues Session Store calls and applies them in the background.
type Dispatcher struct {
	store  store.Store
	opts   Options
	lanes  []chan job
	logger *slog.Logger
	rec    metrics.Recorder

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

// NewDispatcher creates a Dispatcher in front of st. Call Start before use.
func NewDispatcher(st store.Store, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	lanes := make([]chan job, opts.Workers)
	for i := range lanes {
		lanes[i] = make(chan job, opts.QueueSize)
	}

	return &Dispatcher{
		store:  st,
		opts:   opts,
		lanes:  lanes,
		logger: opts.Logger.With(slog.String("component", "persist")),
		rec:    opts.Metrics,
	}
}

// Start launches one worker per lane.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for _, lane := range d.lanes {
		d.wg.Add(1)
		go d.work(lane)
	}
	d.logger.Info("persistence dispatcher started", slog.Int("workers", len(d.lanes)))
}

// Stop refuses new work, lets the workers drain what is already queued and
// waits for them to finish or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("persistence dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSession records a new active session.
func (d *Dispatcher) CreateSession(s domain.Session) {
	d.enqueue(job{op: OpCreate, sessionID: s.ID, call: func(ctx context.Context) error {
		return d.store.CreateSession(ctx, s)
	}})
}

// AddEstimation upserts a participant's card.
func (d *Dispatcher) AddEstimation(sessionID, participantID string, card domain.CardValue, at time.Time) {
	d.enqueue(job{op: OpAddEstimation, sessionID: sessionID, call: func(ctx context.Context) error {
		return d.store.AddEstimation(ctx, sessionID, participantID, card, at)
	}})
}

// RemoveEstimation drops a participant's card.
func (d *Dispatcher) RemoveEstimation(sessionID, participantID string) {
	d.enqueue(job{op: OpRemoveEstimate, sessionID: sessionID, call: func(ctx context.Context) error {
		return d.store.RemoveEstimation(ctx, sessionID, participantID)
	}})
}

// RevealEstimations marks the session revealed.
func (d *Dispatcher) RevealEstimations(sessionID string, at time.Time) {
	d.enqueue(job{op: OpReveal, sessionID: sessionID, call: func(ctx context.Context) error {
		return d.store.RevealEstimations(ctx, sessionID, at)
	}})
}

// ResetSession clears the session's estimations.
func (d *Dispatcher) ResetSession(sessionID, resetBy string, at time.Time) {
	d.enqueue(job{op: OpReset, sessionID: sessionID, call: func(ctx context.Context) error {
		return d.store.ResetSession(ctx, sessionID, resetBy, at)
	}})
}

// CompleteSession records the final estimation.
func (d *Dispatcher) CompleteSession(sessionID string, final domain.CardValue, at time.Time) {
	d.enqueue(job{op: OpComplete, sessionID: sessionID, call: func(ctx context.Context) error {
		return d.store.CompleteSession(ctx, sessionID, final, at)
	}})
}

func (d *Dispatcher) lane(sessionID string) chan job {
	return d.lanes[xxhash.Sum64String(sessionID)%uint64(len(d.lanes))]
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.rec.RecordDropped(metrics.DropPersistClosed)
		d.logger.Warn("persistence call after stop dropped",
			slog.String("op", j.op),
			slog.String("session_id", j.sessionID),
		)
		return
	}

	select {
	case d.lane(j.sessionID) <- j:
	default:
		d.rec.RecordDropped(metrics.DropPersistQueue)
		d.logger.Error("persistence queue full, call dropped",
			slog.String("op", j.op),
			slog.String("session_id", j.sessionID),
		)
	}
}

func (d *Dispatcher) work(lane <-chan job) {
	defer d.wg.Done()
	for j := range lane {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	if d.opts.InitialInterval > 0 {
		b.InitialInterval = d.opts.InitialInterval
	}

	start := time.Now()
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := j.call(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.opts.MaxRetries),
	)
	d.rec.RecordPersist(j.op, err, time.Since(start))

	if err != nil {
		d.logger.Error("persistence call failed",
			slog.String("op", j.op),
			slog.String("session_id", j.sessionID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Debug("persistence call applied",
		slog.String("op", j.op),
		slog.String("session_id", j.sessionID),
	)
}
