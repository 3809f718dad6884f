package cache

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// controllerMetrics are the Prometheus collectors updated by a Controller.
// Without a registerer they are still updated but never exported.
type controllerMetrics struct {
	steps        *prometheus.CounterVec
	bytesWritten prometheus.Counter
	bytesRead    prometheus.Counter
	codecSeconds *prometheus.HistogramVec
	finalized    prometheus.Counter
	fallbacks    prometheus.Counter
}

func newControllerMetrics(reg prometheus.Registerer) (*controllerMetrics, error) {
	m := &controllerMetrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_cache_steps_total",
			Help: "Steps taken through the replay cache controller, by mode",
		}, []string{"mode"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_cache_bytes_written_total",
			Help: "Snapshot payload bytes appended to cache files",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_cache_bytes_read_total",
			Help: "Snapshot payload bytes applied from cache files",
		}),
		codecSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replay_cache_codec_duration_seconds",
			Help:    "Snapshot encode and decode duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}, []string{"op"}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_cache_finalized_total",
			Help: "Recordings marked finished",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_cache_replay_fallbacks_total",
			Help: "Replay requests that fell back to recording because no usable cache was found",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var errs []error
	m.steps = register(reg, m.steps, &errs)
	m.bytesWritten = register(reg, m.bytesWritten, &errs)
	m.bytesRead = register(reg, m.bytesRead, &errs)
	m.codecSeconds = register(reg, m.codecSeconds, &errs)
	m.finalized = register(reg, m.finalized, &errs)
	m.fallbacks = register(reg, m.fallbacks, &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering cache metrics: %w", err)
	}
	return m, nil
}

// register adds c to reg, reusing the existing collector when several
// controllers share one registry. Any other failure is appended to errs and
// c is returned unregistered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, errs *[]error) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*errs = append(*errs, err)
	}
	return c
}
