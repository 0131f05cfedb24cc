package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// Retrying wraps a Device and retries calls that fail with ErrUnavailable up
// to a configured bound. Any other error passes through unchanged; retries
// never mask an actuation rejection.
type Retrying struct {
	Device
	Attempts int
	Backoff  time.Duration
	Log      *slog.Logger
}

// NewRetrying wraps dev with a bounded retry policy.
func NewRetrying(dev Device, attempts int, backoff time.Duration, log *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{Device: dev, Attempts: attempts, Backoff: backoff, Log: log}
}

func (r *Retrying) Read(ctx context.Context, sensorID string) (telemetry.Sample, error) {
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		s, err := r.Device.Read(ctx, sensorID)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return telemetry.Sample{}, err
		}
		r.Log.Warn("[Device] read failed", "sensor", sensorID, "attempt", attempt, "err", err)
		if attempt < r.Attempts && !r.sleep(ctx) {
			break
		}
	}
	return telemetry.Sample{}, lastErr
}

func (r *Retrying) Actuate(ctx context.Context, req Request) error {
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		err := r.Device.Actuate(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return err
		}
		r.Log.Warn("[Device] actuation failed", "request", req.Kind, "attempt", attempt, "err", err)
		if attempt < r.Attempts && !r.sleep(ctx) {
			break
		}
	}
	return lastErr
}

func (r *Retrying) sleep(ctx context.Context) bool {
	if r.Backoff <= 0 {
		return true
	}
	select {
	case <-time.After(r.Backoff):
		return true
	case <-ctx.Done():
		return false
	}
}
