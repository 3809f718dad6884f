package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Mode is the controller's fixed operating mode.
type Mode int

const (
	// ModeRecord runs the model and persists a snapshot after every step.
	ModeRecord Mode = iota
	// ModeReplay applies persisted snapshots instead of running the model.
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeRecord:
		return "RECORD"
	case ModeReplay:
		return "REPLAY"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options configure a Controller.
type Options struct {
	// Path is the cache file location.
	Path string
	// Replay requests REPLAY mode. It is honored only if Path holds a usable
	// recording; otherwise the controller records a fresh run at Path.
	Replay bool
	// Verbose enables per-step and restore diagnostics.
	Verbose bool
	// Backend selects the on-disk format for new recordings. Replay detects
	// the format from the file itself.
	Backend string
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// Registerer, if set, receives the controller's Prometheus collectors.
	Registerer prometheus.Registerer
}

// Controller wraps a Model and records or replays its steps. It exposes the
// model's stepping contract, so callers drive it the same way in both modes.
//
// Thread-safety: NOT thread-safe. A Controller exclusively owns its cache
// file for its lifetime.
type Controller struct {
	model   Model
	mode    Mode
	path    string
	verbose bool
	log     logrus.FieldLogger
	codec   *Codec
	metrics *controllerMetrics

	// RECORD
	store      Store
	header     Header
	wasRunning bool

	// REPLAY
	rec *Recording
	err error // sticky step failure

	cursor   int
	finished bool
	fellBack bool
}

// New resolves the mode and prepares the cache file. A replay request with no
// usable recording at Path falls back to RECORD with a warning; a file that
// exists but is not a readable cache is an error, and is left untouched.
func New(model Model, opts Options) (*Controller, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	metrics, err := newControllerMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		model:   model,
		path:    opts.Path,
		verbose: opts.Verbose,
		log:     log,
		codec:   NewCodec(log, opts.Verbose),
		metrics: metrics,
	}

	if opts.Replay {
		rec, reason, err := loadReplaySource(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("loading replay cache: %w", err)
		}
		if rec != nil {
			c.initReplay(rec)
			return c, nil
		}
		c.fellBack = true
		c.metrics.fallbacks.Inc()
		log.Warnf("Replay requested but %s (%s). Falling back to normal simulation (recording mode).", reason, opts.Path)
	}

	if err := c.initRecord(opts.Backend); err != nil {
		return nil, err
	}
	return c, nil
}

// loadReplaySource returns the recording at path, or a nil recording and the
// reason it cannot be replayed.
func loadReplaySource(path string) (*Recording, string, error) {
	if !Exists(path) {
		return nil, "cache file not found", nil
	}
	rec, err := Open(path)
	if errors.Is(err, errEmptyFile) {
		return nil, "cache file is empty", nil
	}
	if errors.Is(err, ErrNoSteps) {
		return nil, "cache file ends before its header is complete", nil
	}
	if err != nil {
		return nil, "", err
	}
	if rec.Len() == 0 {
		return nil, "cache file has no recorded steps", nil
	}
	return rec, "", nil
}

func (c *Controller) initReplay(rec *Recording) {
	c.mode = ModeReplay
	c.rec = rec
	c.header = rec.Header
	c.finished = rec.Finished
	c.log = c.log.WithField("mode", c.mode.String())
	if rec.Torn {
		c.log.Warnf("Cache file %s ends in a partially written entry; replaying the %d complete steps", c.path, rec.Len())
	}
	if c.verbose {
		c.log.Infof("Initializing controller in %s mode", c.mode)
		c.log.Infof("  Cache file: %s (%s backend, run %s)", c.path, rec.Backend, rec.Header.RunID)
		c.log.Infof("  Will replay steps 0 to %d from existing cache (finished=%t)", rec.Len()-1, rec.Finished)
	}
}

func (c *Controller) initRecord(backendName string) error {
	backend, err := LookupBackend(backendName)
	if err != nil {
		return err
	}
	name := ""
	if n, ok := c.model.(Named); ok {
		name = n.Name()
	}
	c.mode = ModeRecord
	c.header = NewHeader(name)
	c.store, err = backend.Create(c.path, c.header)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	c.wasRunning = c.model.Running()
	c.log = c.log.WithField("mode", c.mode.String())
	if c.verbose {
		c.log.Infof("Initializing controller in %s mode", c.mode)
		c.log.Infof("  Cache file: %s (%s backend, run %s)", c.path, backend.Name(), c.header.RunID)
		c.log.Infof("  Will record simulation (cache written after each step, finalized when the simulation stops)")
	}
	return nil
}

// Step advances one step. In RECORD mode the model computes the step and
// its state is appended to the cache before Step returns. In REPLAY mode the
// model's own computation is skipped and the next recorded state is applied.
//
// Step returns ErrExhausted once a replay has applied every recorded step,
// and ErrFinished once a recording has been finalized. Neither mutates state.
func (c *Controller) Step() error {
	var err error
	if c.mode == ModeReplay {
		err = c.replayStep()
	} else {
		err = c.recordStep()
	}
	if err == nil && c.verbose {
		c.log.Infof("Step %d (%s mode)", c.model.StepCount(), c.mode)
	}
	return err
}

func (c *Controller) recordStep() error {
	if c.err != nil {
		return c.err
	}
	if c.finished {
		return ErrFinished
	}
	// A stop set on the model directly since the last step.
	if c.wasRunning && !c.model.Running() {
		if err := c.transitionStopped(); err != nil {
			return err
		}
		return ErrFinished
	}

	c.model.Step()

	start := time.Now()
	payload, err := c.codec.Encode(c.model)
	c.metrics.codecSeconds.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	if err == nil {
		err = c.store.Append(c.cursor, payload)
	}
	if err != nil {
		// The model has moved past what the cache holds; later steps would
		// record under the wrong index.
		c.err = fmt.Errorf("recording step %d: %w", c.cursor, err)
		return c.err
	}
	c.cursor++
	c.metrics.steps.WithLabelValues(c.mode.String()).Inc()
	c.metrics.bytesWritten.Add(float64(len(payload)))

	if c.wasRunning && !c.model.Running() {
		return c.transitionStopped()
	}
	c.wasRunning = c.model.Running()
	return nil
}

func (c *Controller) replayStep() error {
	if c.err != nil {
		return c.err
	}
	if c.cursor >= c.rec.Len() {
		return ErrExhausted
	}

	payload := c.rec.Entries[c.cursor]
	start := time.Now()
	err := c.codec.Decode(payload, c.model, c.cursor)
	c.metrics.codecSeconds.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	if err != nil {
		c.err = err
		return err
	}
	c.cursor++
	c.metrics.steps.WithLabelValues(c.mode.String()).Inc()
	c.metrics.bytesRead.Add(float64(len(payload)))
	if c.cursor == c.rec.Len() && c.verbose {
		c.log.Infof("Replay reached the last recorded step (%d)", c.cursor-1)
	}
	return nil
}

func (c *Controller) transitionStopped() error {
	c.wasRunning = false
	return c.NotifyStopped()
}

// NotifyStopped tells the controller the simulation has ended. In RECORD mode
// the first call finalizes the cache; later calls, and any call in REPLAY
// mode, do nothing.
func (c *Controller) NotifyStopped() error {
	if c.mode != ModeRecord || c.finished {
		return nil
	}
	c.log.Infof("Simulation stopped at step %d. Finalizing cache file...", c.model.StepCount())
	return c.Finish()
}

// Finish marks the recording complete without stopping the model, for runs
// that conclude for reasons other than the model stopping (a step budget, for
// example). It is idempotent and a no-op in REPLAY mode. After a failed step
// it returns that failure and leaves the cache unfinished.
func (c *Controller) Finish() error {
	if c.mode != ModeRecord || c.finished {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	if err := c.store.MarkFinished(); err != nil {
		return fmt.Errorf("finalizing cache: %w", err)
	}
	c.finished = true
	c.metrics.finalized.Inc()
	return nil
}

// SetRunning sets the model's running flag. A true to false transition in
// RECORD mode finalizes the cache.
func (c *Controller) SetRunning(running bool) error {
	was := c.model.Running()
	c.model.SetRunning(running)
	if c.mode != ModeRecord {
		return nil
	}
	if was && !running {
		return c.transitionStopped()
	}
	c.wasRunning = running
	return nil
}

// Stop stops the model and finalizes the recording.
func (c *Controller) Stop() error {
	return c.SetRunning(false)
}

// Close releases the cache file. It does not finalize a recording; a closed,
// unfinished cache remains replayable up to its last step.
func (c *Controller) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Mode returns the resolved operating mode.
func (c *Controller) Mode() Mode { return c.mode }

// Finished reports whether the cache is finalized. In REPLAY mode this is
// the finished flag of the recording being replayed.
func (c *Controller) Finished() bool { return c.finished }

// FellBack reports whether a replay request was downgraded to RECORD.
func (c *Controller) FellBack() bool { return c.fellBack }

// Running reports the model's running flag.
func (c *Controller) Running() bool { return c.model.Running() }

// StepCount reports the model's step counter.
func (c *Controller) StepCount() int { return c.model.StepCount() }

// Cursor is the number of steps recorded or replayed by this controller.
func (c *Controller) Cursor() int { return c.cursor }

// Len is the number of entries in the cache: recorded so far in RECORD
// mode, available in REPLAY mode.
func (c *Controller) Len() int {
	if c.mode == ModeReplay {
		return c.rec.Len()
	}
	return c.store.Len()
}

// Exhausted reports whether a replay has applied every recorded step.
func (c *Controller) Exhausted() bool {
	return c.mode == ModeReplay && c.cursor >= c.rec.Len()
}

// Path returns the cache file location.
func (c *Controller) Path() string { return c.path }

// Header returns the header of the recording being written or replayed.
func (c *Controller) Header() Header { return c.header }

// RunID returns the identifier of the recording being written or replayed.
func (c *Controller) RunID() string { return c.header.RunID }

// Model returns the wrapped model.
func (c *Controller) Model() Model { return c.model }
