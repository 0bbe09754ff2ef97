package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/metrics"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/store"
)

// ErrClosed is returned by SaveNow and Flush once Close has been called.
var ErrClosed = errors.New("persistence coordinator is closed")

// Backend is a remote home for the learning state. Load returns
// store.ErrNotFound when nothing has been saved yet.
type Backend interface {
	Name() string
	Load(ctx context.Context) (*models.LearningState, error)
	Save(ctx context.Context, state *models.LearningState) error
}

// SnapshotFunc returns a consistent copy of the state to persist.
type SnapshotFunc func() (*models.LearningState, error)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeScheduled Mode = "scheduled"
	ModeFollowUp  Mode = "followup"
)

type Options struct {
	// Debounce is the quiet window that coalesces scheduled saves.
	Debounce time.Duration
	// FollowUpDelay is the wait before a queued save runs once the
	// in-flight one has finished.
	FollowUpDelay time.Duration
	// ConflictGrace suppresses write conflicts this soon after a success.
	ConflictGrace time.Duration
	// SaveTimeout bounds background saves.
	SaveTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Debounce:      3 * time.Second,
		FollowUpDelay: 1500 * time.Millisecond,
		ConflictGrace: 3 * time.Second,
		SaveTimeout:   30 * time.Second,
	}
}

// Status describes the coordinator for health and API responses.
type Status struct {
	State       string     `json:"state"`
	Backend     string     `json:"backend"`
	Dirty       bool       `json:"dirty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Coordinator serializes saves of the learning state: at most one save is
// in flight, immediate saves issued meanwhile are queued as a single
// follow-up, and scheduled saves are debounced.
type Coordinator struct {
	backend  Backend
	snapshot SnapshotFunc
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time

	mu          sync.Mutex
	saving      bool
	pending     bool
	dirty       bool
	closed      bool
	timer       *time.Timer
	followUp    *time.Timer
	lastSuccess time.Time
	lastError   string
	// idle is closed when the in-flight save settles. Nil while idle.
	idle    chan struct{}
	onSaved func(*models.LearningState)
}

// New builds a coordinator. A nil backend keeps state in memory only and
// every save succeeds without doing anything.
func New(backend Backend, snapshot SnapshotFunc, opts Options, logger *logrus.Logger) *Coordinator {
	defaults := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = defaults.FollowUpDelay
	}
	if opts.ConflictGrace < 0 {
		opts.ConflictGrace = 0
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaults.SaveTimeout
	}
	return &Coordinator{
		backend:  backend,
		snapshot: snapshot,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// BackendName returns the configured backend, or "memory" when none is set.
func (c *Coordinator) BackendName() string {
	if c.backend == nil {
		return "memory"
	}
	return c.backend.Name()
}

// Load fetches the stored state once. A missing state yields (nil, nil).
func (c *Coordinator) Load(ctx context.Context) (*models.LearningState, error) {
	if c.backend == nil {
		return nil, nil
	}
	state, err := c.backend.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.WithField("backend", c.backend.Name()).Info("No stored learning state, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load learning state from %s: %w", c.backend.Name(), err)
	}
	return state, nil
}

// OnSaved registers fn to receive every state that was saved successfully.
// fn runs before the save is reported as finished.
func (c *Coordinator) OnSaved(fn func(*models.LearningState)) {
	c.mu.Lock()
	c.onSaved = fn
	c.mu.Unlock()
}

// Schedule requests a debounced save. Every call restarts the quiet window.
func (c *Coordinator) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty = true
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.Debounce, c.fire(ModeScheduled))
}

// SaveNow saves immediately. When a save is already in flight the request
// is queued as a follow-up and nil is returned.
func (c *Coordinator) SaveNow(ctx context.Context) error {
	return c.run(ctx, ModeImmediate)
}

// Flush waits for the in-flight save and then saves whatever is still
// unsaved, including a queued follow-up. Unlike SaveNow it only returns
// once every change made before the call has reached the backend.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.flush(ctx)
}

// Close stops pending timers, waits for an in-flight save and flushes any
// unsaved changes. Later SaveNow and Flush calls fail with ErrClosed.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.stopTimersLocked()
	c.mu.Unlock()
	return c.flush(ctx)
}

func (c *Coordinator) flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.saving {
			idle := c.idle
			c.mu.Unlock()
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !c.dirty && !c.pending {
			c.mu.Unlock()
			return nil
		}
		c.stopTimersLocked()
		c.pending = false
		previousSuccess := c.beginLocked()
		c.mu.Unlock()
		return c.save(ctx, ModeImmediate, previousSuccess, false)
	}
}

func (c *Coordinator) stopTimersLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.followUp != nil {
		c.followUp.Stop()
	}
}

// beginLocked marks a save as started and returns the previous success time.
func (c *Coordinator) beginLocked() time.Time {
	c.saving = true
	c.dirty = false
	c.idle = make(chan struct{})
	return c.lastSuccess
}

// Status reports the state machine position.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := "idle"
	switch {
	case c.saving && c.pending:
		state = "saving+pending"
	case c.saving:
		state = "saving"
	}
	s := Status{
		State:     state,
		Backend:   c.BackendName(),
		Dirty:     c.dirty,
		LastError: c.lastError,
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		s.LastSuccess = &t
	}
	return s
}

func (c *Coordinator) fire(mode Mode) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
		defer cancel()
		_ = c.run(ctx, mode)
	}
}

func (c *Coordinator) run(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if mode == ModeImmediate {
			return ErrClosed
		}
		return nil
	}
	if c.saving {
		if mode == ModeImmediate {
			c.pending = true
			c.dirty = true
			c.mu.Unlock()
			c.logger.Debug("Save in flight, queued follow-up save")
			return nil
		}
		c.mu.Unlock()
		c.logger.WithField("mode", mode).Debug("Save in flight, dropped request")
		return nil
	}
	previousSuccess := c.beginLocked()
	c.mu.Unlock()
	return c.save(ctx, mode, previousSuccess, true)
}

// save persists one snapshot and settles the state machine. With grace set,
// a conflict shortly after a previous success is not reported.
func (c *Coordinator) save(ctx context.Context, mode Mode, previousSuccess time.Time, grace bool) error {
	state, err := c.persist(ctx, mode)

	if err == nil {
		c.mu.Lock()
		hook := c.onSaved
		c.mu.Unlock()
		if hook != nil {
			hook(state)
		}
	}

	c.mu.Lock()
	c.saving = false
	close(c.idle)
	c.idle = nil
	if err == nil {
		c.lastSuccess = c.now()
		c.lastError = ""
	}
	if c.pending && !c.closed {
		c.pending = false
		c.followUp = time.AfterFunc(c.opts.FollowUpDelay, c.fire(ModeFollowUp))
	}
	c.mu.Unlock()

	if err == nil {
		return nil
	}

	fields := logrus.Fields{
		"backend": c.BackendName(),
		"mode":    mode,
	}
	if grace && store.IsConflict(err) && !previousSuccess.IsZero() && c.now().Sub(previousSuccess) <= c.opts.ConflictGrace {
		c.logger.WithFields(fields).WithError(err).Info("Ignoring write conflict after recent successful save")
		return nil
	}

	c.mu.Lock()
	c.lastError = err.Error()
	c.dirty = true
	c.mu.Unlock()

	if mode == ModeImmediate {
		c.logger.WithFields(fields).WithError(err).Warn("Save failed")
		return err
	}
	c.logger.WithFields(fields).WithError(err).Error("Background save failed, will retry on next change")
	return err
}

func (c *Coordinator) persist(ctx context.Context, mode Mode) (*models.LearningState, error) {
	state, err := c.snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot learning state: %w", err)
	}
	if c.backend == nil {
		return state, nil
	}

	start := time.Now()
	err = c.backend.Save(ctx, state)
	outcome := "success"
	switch {
	case err == nil:
	case store.IsConflict(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.RecordSave(c.backend.Name(), string(mode), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	return state, nil
}
