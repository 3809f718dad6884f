package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/sim-replay/sim"
	"github.com/inference-sim/sim-replay/sim/cache"
)

// runSummary describes how a run ended.
type runSummary struct {
	Mode       cache.Mode
	FellBack   bool
	Path       string
	Steps      int // steps taken through the controller
	StepCount  int // the model's own step counter
	Finished   bool
	Exhausted  bool
	Running    bool
	Happy      int
	Population int
	Elapsed    time.Duration
}

// runSimulation drives the model through the cache controller until the step
// cap, the model stopping (with UntilStopped), the recording being finalized
// or the replay running out of steps.
func runSimulation(cfg RunConfig, log logrus.FieldLogger) (*runSummary, error) {
	start := time.Now()
	model, err := sim.NewSchelling(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("building model: %w", err)
	}

	reg := prometheus.NewRegistry()
	ctrl, err := cache.New(model, cache.Options{
		Path:       cfg.CacheFile,
		Replay:     cfg.Replay,
		Verbose:    cfg.Verbose,
		Backend:    cfg.Backend,
		Logger:     log,
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ctrl.Close(); cerr != nil {
			log.Warnf("Closing cache file: %v", cerr)
		}
	}()

	log.Infof("Starting %s run: %dx%d grid, %d agents, cache=%s",
		ctrl.Mode(), cfg.Model.Width, cfg.Model.Height, model.Population(), cfg.CacheFile)

	capped := false
	for {
		if cfg.MaxSteps > 0 && ctrl.Cursor() >= cfg.MaxSteps {
			capped = true
			break
		}
		if cfg.UntilStopped && !ctrl.Running() {
			break
		}
		err := ctrl.Step()
		if errors.Is(err, cache.ErrExhausted) || errors.Is(err, cache.ErrFinished) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	// A run cut short by the step budget is still a complete recording.
	if capped {
		if err := ctrl.Finish(); err != nil {
			return nil, err
		}
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, reg); err != nil {
			return nil, fmt.Errorf("writing metrics: %w", err)
		}
	}

	return &runSummary{
		Mode:       ctrl.Mode(),
		FellBack:   ctrl.FellBack(),
		Path:       ctrl.Path(),
		Steps:      ctrl.Cursor(),
		StepCount:  model.StepCount(),
		Finished:   ctrl.Finished(),
		Exhausted:  ctrl.Exhausted(),
		Running:    model.Running(),
		Happy:      model.Happy(),
		Population: model.Population(),
		Elapsed:    time.Since(start),
	}, nil
}

// Print writes the summary in a human-readable form.
func (s *runSummary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Summary ===")
	mode := s.Mode.String()
	if s.FellBack {
		mode += " (replay requested, no usable cache)"
	}
	fmt.Fprintf(w, "Mode          : %s\n", mode)
	fmt.Fprintf(w, "Cache file    : %s\n", s.Path)
	fmt.Fprintf(w, "Steps         : %d (model step %d)\n", s.Steps, s.StepCount)
	fmt.Fprintf(w, "Happy agents  : %d / %d\n", s.Happy, s.Population)
	fmt.Fprintf(w, "Running       : %t\n", s.Running)
	fmt.Fprintf(w, "Finished      : %t\n", s.Finished)
	if s.Mode == cache.ModeReplay {
		fmt.Fprintf(w, "Exhausted     : %t\n", s.Exhausted)
	}
	fmt.Fprintf(w, "Elapsed       : %s\n", s.Elapsed.Round(time.Millisecond))
}
