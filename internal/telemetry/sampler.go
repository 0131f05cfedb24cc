package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/metrics"
)

// Reader is the slice of the device surface the sampler needs.
type Reader interface {
	Read(ctx context.Context, sensorID string) (Sample, error)
}

// Sampler captures every configured sensor on a fixed cadence and hands the
// samples to the control loop through the bounded queue. It never blocks on
// the consumer: under backpressure the queue evicts its oldest sample.
type Sampler struct {
	log     *slog.Logger
	dev     Reader
	sensors []string
	cadence time.Duration
	queue   *Queue
	met     *metrics.Metrics
	onFault func(error)
	seq     map[string]uint64
}

// NewSampler builds a sampler feeding q. onFault, if set, is invoked when a
// read fails after the device layer's retries are exhausted.
func NewSampler(dev Reader, sensors []string, cadence time.Duration, q *Queue, met *metrics.Metrics, log *slog.Logger, onFault func(error)) *Sampler {
	if cadence <= 0 {
		cadence = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.NewUnregistered()
	}
	return &Sampler{
		log:     log,
		dev:     dev,
		sensors: sensors,
		cadence: cadence,
		queue:   q,
		met:     met,
		onFault: onFault,
		seq:     make(map[string]uint64),
	}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	s.log.Info("[Sampler] started", "cadence", s.cadence, "sensors", len(s.sensors))
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("[Sampler] stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick captures one sample per sensor. Exported so tests can drive the
// sampler without wall-clock timing.
func (s *Sampler) Tick(ctx context.Context) {
	for _, id := range s.sensors {
		sample, err := s.dev.Read(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.log.Error("[Sampler] read failed after retries", "sensor", id, "err", err)
			if s.onFault != nil {
				s.onFault(err)
			}
			continue
		}
		s.seq[id]++
		sample.Seq = s.seq[id]
		if s.queue.Push(sample) {
			s.met.SampleDrops.Inc()
			s.log.Warn("[Sampler] backpressure: oldest sample dropped", "sensor", id, "queued", s.queue.Len())
		}
	}
}
