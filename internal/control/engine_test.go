package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/device"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// rigStub is a scriptable device. Actuations can be made to fail per request
// kind or to block until the test releases them.
type rigStub struct {
	mu       sync.Mutex
	requests []device.Request
	errs     map[device.RequestKind]error
	block    map[device.RequestKind]chan error
}

func newRigStub() *rigStub {
	return &rigStub{
		errs:  make(map[device.RequestKind]error),
		block: make(map[device.RequestKind]chan error),
	}
}

func (d *rigStub) Read(ctx context.Context, sensorID string) (telemetry.Sample, error) {
	return telemetry.Sample{SensorID: sensorID}, nil
}

func (d *rigStub) Actuate(ctx context.Context, req device.Request) error {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	gate := d.block[req.Kind]
	err := d.errs[req.Kind]
	d.mu.Unlock()
	if gate != nil {
		select {
		case e := <-gate:
			return e
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (d *rigStub) Health(ctx context.Context) error { return nil }

func (d *rigStub) Sensors() []string {
	return []string{telemetry.SensorBrakeCurrent, telemetry.SensorMotorSpeed, telemetry.SensorWindingTemp}
}

func (d *rigStub) kinds() []device.RequestKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.RequestKind, len(d.requests))
	for i, r := range d.requests {
		out[i] = r.Kind
	}
	return out
}

func (d *rigStub) sawKind(k device.RequestKind) bool {
	for _, got := range d.kinds() {
		if got == k {
			return true
		}
	}
	return false
}

func safetyRules() []interlock.Rule {
	return []interlock.Rule{
		{ID: 1, SensorID: telemetry.SensorBrakeCurrent, Bound: interlock.BoundMax, Threshold: 3.0, Action: interlock.ActionForceStop},
		{ID: 3, SensorID: telemetry.SensorMotorSpeed, Bound: interlock.BoundMax, Threshold: 1800, Action: interlock.ActionRejectCommand},
	}
}

func startEngine(t *testing.T, dev device.Device, opts Options) *Engine {
	t.Helper()
	return startEngineWithRules(t, dev, safetyRules(), opts)
}

func startEngineWithRules(t *testing.T, dev device.Device, rules []interlock.Rule, opts Options) *Engine {
	t.Helper()
	locks, err := interlock.New(rules)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := NewEngine(dev, locks, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustApply(t *testing.T, e *Engine, cmd Command) Resolution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.SubmitWait(ctx, cmd)
	if err != nil {
		t.Fatalf("command %d (%s) did not settle: %v", cmd.ID, cmd.Kind, err)
	}
	if res.Status != StatusApplied {
		t.Fatalf("command %d (%s) = %s (%v), want applied", cmd.ID, cmd.Kind, res.Status, res.Err)
	}
	return res
}

func submitWait(t *testing.T, e *Engine, cmd Command) Resolution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.SubmitWait(ctx, cmd)
	if err != nil {
		t.Fatalf("command %d (%s) did not settle: %v", cmd.ID, cmd.Kind, err)
	}
	return res
}

func pushSample(e *Engine, sensor string, value float64, seq uint64) {
	e.Queue().Push(telemetry.Sample{
		ExperimentID: "exp-test",
		SensorID:     sensor,
		Value:        value,
		Seq:          seq,
		CapturedAt:   time.Now(),
	})
}

func TestEngine_Lifecycle(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	if res := mustApply(t, e, Command{ID: 1, Kind: KindArm}); res.State != StateArmed {
		t.Errorf("after arm: state %s", res.State)
	}
	res := mustApply(t, e, Command{ID: 2, Kind: KindStart, Run: &RunMeta{Title: "no-load baseline"}})
	if res.State != StateRunning {
		t.Errorf("after start: state %s", res.State)
	}
	if ri := e.RunInfo(); ri == nil || ri.Title != "no-load baseline" {
		t.Errorf("run metadata not recorded: %+v", ri)
	} else if ri.ID == "" || ri.StartedAt.IsZero() {
		t.Errorf("run record not stamped: %+v", ri)
	}
	if res := mustApply(t, e, Command{ID: 3, Kind: KindPause}); res.State != StatePaused {
		t.Errorf("after pause: state %s", res.State)
	}
	if res := mustApply(t, e, Command{ID: 4, Kind: KindResume}); res.State != StateRunning {
		t.Errorf("after resume: state %s", res.State)
	}
	if res := mustApply(t, e, Command{ID: 5, Kind: KindStop}); res.State != StateStopped {
		t.Errorf("after stop: state %s", res.State)
	}

	want := []device.RequestKind{device.KindEnable, device.KindDrive, device.KindCoast, device.KindDrive, device.KindHalt}
	got := dev.kinds()
	if len(got) != len(want) {
		t.Fatalf("device saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("device saw %v, want %v", got, want)
		}
	}

	// Stopped is terminal.
	res = submitWait(t, e, Command{ID: 6, Kind: KindArm})
	if res.Status != StatusRejected || e.State() != StateStopped {
		t.Errorf("arm in stopped: %s, state %s", res.Status, e.State())
	}
}

func TestEngine_InvalidTransitionHasNoEffect(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	res := submitWait(t, e, Command{ID: 1, Kind: KindStart})
	if res.Status != StatusRejected {
		t.Fatalf("start in idle = %s, want rejected", res.Status)
	}
	var ite *InvalidTransitionError
	if !errors.As(res.Err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", res.Err)
	}
	if e.State() != StateIdle {
		t.Errorf("state moved to %s", e.State())
	}
	if len(dev.kinds()) != 0 {
		t.Errorf("rejected command reached the device: %v", dev.kinds())
	}
}

func TestEngine_DuplicateCommandID(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 5, Kind: KindArm})
	if _, err := e.Submit(Command{ID: 5, Kind: KindStart}); !errors.Is(err, ErrDuplicateCommand) {
		t.Errorf("resubmitted id: %v", err)
	}
	if _, err := e.Submit(Command{ID: 3, Kind: KindStart}); !errors.Is(err, ErrDuplicateCommand) {
		t.Errorf("stale id: %v", err)
	}
	mustApply(t, e, Command{ID: 6, Kind: KindStart})
}

func TestEngine_BusyQueue(t *testing.T) {
	dev := newRigStub()
	dev.block[device.KindEnable] = make(chan error)
	e := startEngine(t, dev, Options{CommandQueue: 1})

	p, err := e.Submit(Command{ID: 1, Kind: KindArm})
	if err != nil {
		t.Fatal(err)
	}
	// Wait until the engine is inside the actuation, then fill the queue.
	waitFor(t, "arm to reach the device", func() bool { return dev.sawKind(device.KindEnable) })
	if _, err := e.Submit(Command{ID: 2, Kind: KindStop}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Submit(Command{ID: 3, Kind: KindStop}); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy on a full queue, got %v", err)
	}

	dev.block[device.KindEnable] <- nil
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if res, err := p.Wait(ctx); err != nil || res.Status != StatusApplied {
		t.Errorf("arm did not settle cleanly: %v %v", res, err)
	}
}

func TestEngine_ForceStopOnViolation(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	mustApply(t, e, Command{ID: 2, Kind: KindStart})

	pushSample(e, telemetry.SensorBrakeCurrent, 4.2, 10)
	waitFor(t, "fault transition", func() bool { return e.State() == StateFaulted })
	waitFor(t, "emergency halt", func() bool { return dev.sawKind(device.KindHalt) })

	events := e.RecentEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 safety event, got %d", len(events))
	}
	ev := events[0]
	if ev.RuleID != 1 || ev.Seq != 10 {
		t.Errorf("event references rule %d seq %d, want rule 1 seq 10", ev.RuleID, ev.Seq)
	}
	if ev.StateBefore != "running" || ev.StateAfter != "faulted" {
		t.Errorf("event transition %s -> %s", ev.StateBefore, ev.StateAfter)
	}
	if ev.ID == "" || ev.Reason == "" {
		t.Errorf("event missing id or reason: %+v", ev)
	}
}

func TestEngine_OneEventPerFault(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	// Two violating samples in the same batch must produce a single fault.
	pushSample(e, telemetry.SensorBrakeCurrent, 4.0, 1)
	pushSample(e, telemetry.SensorBrakeCurrent, 4.5, 2)
	waitFor(t, "fault transition", func() bool { return e.State() == StateFaulted })

	waitFor(t, "event recorded", func() bool { return len(e.RecentEvents()) > 0 })
	time.Sleep(20 * time.Millisecond)
	if n := len(e.RecentEvents()); n != 1 {
		t.Errorf("expected exactly 1 safety event, got %d", n)
	}
}

func TestEngine_NearMissVeto(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	mustApply(t, e, Command{ID: 2, Kind: KindStart})

	// Overspeed sample trips a reject_command rule only.
	pushSample(e, telemetry.SensorMotorSpeed, 1900, 3)
	waitFor(t, "sample consumed", func() bool { return len(e.LatestSamples()) > 0 })

	mode := device.ModeDeltaLeft
	res := submitWait(t, e, Command{ID: 3, Kind: KindSetParameter, Params: &ParamChange{MotorMode: &mode}})
	if res.Status != StatusRejected {
		t.Fatalf("expected veto, got %s", res.Status)
	}
	var rej *ActuationRejectedError
	if !errors.As(res.Err, &rej) || rej.Violation == nil || rej.Violation.Rule.ID != 3 {
		t.Fatalf("expected rule 3 veto, got %v", res.Err)
	}
	if e.State() != StateRunning {
		t.Errorf("near-miss moved the state to %s", e.State())
	}
	if len(e.RecentEvents()) != 0 {
		t.Errorf("near-miss must not record a fault event")
	}
	// A brake-only change does not touch the speed envelope and goes through.
	submitted := mustApply(t, e, Command{ID: 4, Kind: KindSetParameter, Params: &ParamChange{BrakeAmperage: floatPtr(1.0)}})
	if submitted.State != StateRunning {
		t.Errorf("after brake change: state %s", submitted.State)
	}
}

func TestEngine_ResetRequiresAckAndCleanSensors(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	pushSample(e, telemetry.SensorBrakeCurrent, 4.0, 1)
	waitFor(t, "fault transition", func() bool { return e.State() == StateFaulted })

	// Reset before acknowledgment.
	res := submitWait(t, e, Command{ID: 2, Kind: KindReset})
	if res.Status != StatusRejected || !errors.Is(res.Err, ErrNotAcknowledged) {
		t.Fatalf("unacknowledged reset = %s (%v)", res.Status, res.Err)
	}

	// Acknowledged, but the violating reading is still the latest one.
	e.Acknowledge()
	if !e.Acknowledged() {
		t.Fatal("acknowledgment not recorded")
	}
	res = submitWait(t, e, Command{ID: 3, Kind: KindReset})
	var rej *ActuationRejectedError
	if res.Status != StatusRejected || !errors.As(res.Err, &rej) {
		t.Fatalf("reset with tripped interlock = %s (%v)", res.Status, res.Err)
	}

	// A clean reading clears the recheck and reset goes through.
	pushSample(e, telemetry.SensorBrakeCurrent, 0.5, 2)
	waitFor(t, "clean sample consumed", func() bool {
		for _, s := range e.LatestSamples() {
			if s.SensorID == telemetry.SensorBrakeCurrent && s.Seq == 2 {
				return true
			}
		}
		return false
	})
	res = submitWait(t, e, Command{ID: 4, Kind: KindReset})
	if res.Status != StatusApplied || res.State != StateIdle {
		t.Fatalf("reset = %s state %s (%v)", res.Status, res.State, res.Err)
	}
	if e.Acknowledged() {
		t.Error("acknowledgment must not survive the reset")
	}
	if e.RunInfo() != nil {
		t.Error("run metadata must be cleared by reset")
	}
}

func TestEngine_StopCancelsQueuedCommands(t *testing.T) {
	dev := newRigStub()
	dev.block[device.KindEnable] = make(chan error)
	e := startEngine(t, dev, Options{})

	arm, err := e.Submit(Command{ID: 1, Kind: KindArm})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "arm to reach the device", func() bool { return dev.sawKind(device.KindEnable) })

	stop, err := e.Submit(Command{ID: 2, Kind: KindStop})
	if err != nil {
		t.Fatal(err)
	}
	var queued []*Pending
	for id := uint64(3); id <= 5; id++ {
		p, err := e.Submit(Command{ID: id, Kind: KindSetParameter, Params: &ParamChange{BrakeAmperage: floatPtr(1.0)}})
		if err != nil {
			t.Fatal(err)
		}
		queued = append(queued, p)
	}

	// The in-flight arm settles, then the stop runs and cancels the rest.
	dev.block[device.KindEnable] <- nil

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if res, err := arm.Wait(ctx); err != nil || res.Status != StatusApplied {
		t.Fatalf("arm: %v %v", res, err)
	}
	res, err := stop.Wait(ctx)
	if err != nil || res.Status != StatusApplied || res.State != StateStopped {
		t.Fatalf("stop: %v %v", res, err)
	}
	for _, p := range queued {
		r, err := p.Wait(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if r.Status != StatusCancelled {
			t.Errorf("command %d = %s, want cancelled", r.CommandID, r.Status)
		}
	}
	if !dev.sawKind(device.KindHalt) {
		t.Error("stop never reached the device")
	}
	if e.State() != StateStopped {
		t.Errorf("final state %s", e.State())
	}
}

func TestEngine_RateVetoOnCommand(t *testing.T) {
	dev := newRigStub()
	rules := []interlock.Rule{
		{ID: 2, SensorID: telemetry.SensorBrakeCurrent, Bound: interlock.BoundRateOfChange, Threshold: 5.0, Action: interlock.ActionRejectCommand},
	}
	e := startEngineWithRules(t, dev, rules, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	mustApply(t, e, Command{ID: 2, Kind: KindStart})

	// Two readings milliseconds apart put the brake current slew far over
	// the 5 A/s limit.
	pushSample(e, telemetry.SensorBrakeCurrent, 0.0, 1)
	waitFor(t, "first sample consumed", func() bool {
		for _, s := range e.LatestSamples() {
			if s.Seq == 1 {
				return true
			}
		}
		return false
	})
	pushSample(e, telemetry.SensorBrakeCurrent, 2.5, 2)
	waitFor(t, "second sample consumed", func() bool {
		for _, s := range e.LatestSamples() {
			if s.Seq == 2 {
				return true
			}
		}
		return false
	})

	res := submitWait(t, e, Command{ID: 3, Kind: KindSetParameter, Params: &ParamChange{BrakeAmperage: floatPtr(1.0)}})
	if res.Status != StatusRejected {
		t.Fatalf("expected rate veto, got %s", res.Status)
	}
	var rej *ActuationRejectedError
	if !errors.As(res.Err, &rej) || rej.Violation == nil || rej.Violation.Rule.ID != 2 {
		t.Fatalf("expected rule 2 rate veto, got %v", res.Err)
	}
	if e.State() != StateRunning {
		t.Errorf("rate veto moved the state to %s", e.State())
	}
}

func TestEngine_RejectedHaltFailsSafe(t *testing.T) {
	dev := newRigStub()
	dev.errs[device.KindHalt] = device.ErrActuationRejected
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	res := submitWait(t, e, Command{ID: 2, Kind: KindStop})
	if res.Status != StatusFaulted || res.State != StateFaulted {
		t.Fatalf("rejected halt = %s state %s (%v)", res.Status, res.State, res.Err)
	}
	if e.State() != StateFaulted {
		t.Fatalf("engine stranded in %s", e.State())
	}
	waitFor(t, "event recorded", func() bool { return len(e.RecentEvents()) > 0 })
	if ev := e.RecentEvents()[0]; ev.RuleID != 0 || ev.StateBefore != "shutting_down" {
		t.Errorf("unexpected event: %+v", ev)
	}

	// Faulted is recoverable where shutting_down would not have been.
	e.Acknowledge()
	reset := submitWait(t, e, Command{ID: 3, Kind: KindReset})
	if reset.Status != StatusApplied || reset.State != StateIdle {
		t.Errorf("reset after rejected halt = %s state %s (%v)", reset.Status, reset.State, reset.Err)
	}
}

func TestEngine_DeviceFailureFaults(t *testing.T) {
	dev := newRigStub()
	dev.errs[device.KindDrive] = device.ErrUnavailable
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	res := submitWait(t, e, Command{ID: 2, Kind: KindStart})
	if res.Status != StatusFaulted || res.State != StateFaulted {
		t.Fatalf("start on a dead device = %s state %s", res.Status, res.State)
	}
	waitFor(t, "event recorded", func() bool { return len(e.RecentEvents()) > 0 })
	ev := e.RecentEvents()[0]
	if ev.RuleID != 0 {
		t.Errorf("device fault event must use rule id 0, got %d", ev.RuleID)
	}
	waitFor(t, "emergency halt", func() bool { return dev.sawKind(device.KindHalt) })
}

func TestEngine_DeviceRejectionIsNotAFault(t *testing.T) {
	dev := newRigStub()
	dev.errs[device.KindDrive] = device.ErrActuationRejected
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	res := submitWait(t, e, Command{ID: 2, Kind: KindStart})
	if res.Status != StatusRejected {
		t.Fatalf("expected rejection, got %s", res.Status)
	}
	if e.State() != StateArmed {
		t.Errorf("device rejection moved the state to %s", e.State())
	}
}

func TestEngine_ActuationTimeoutFaults(t *testing.T) {
	dev := newRigStub()
	dev.block[device.KindEnable] = make(chan error)
	e := startEngine(t, dev, Options{ActuationTimeout: 20 * time.Millisecond})

	res := submitWait(t, e, Command{ID: 1, Kind: KindArm})
	if res.Status != StatusFaulted || res.State != StateFaulted {
		t.Fatalf("timed-out arm = %s state %s (%v)", res.Status, res.State, res.Err)
	}
}

func TestEngine_ForceStopDeferredDuringActuation(t *testing.T) {
	dev := newRigStub()
	dev.block[device.KindDrive] = make(chan error)
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	start, err := e.Submit(Command{ID: 2, Kind: KindStart})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "drive to reach the device", func() bool { return dev.sawKind(device.KindDrive) })

	// The violation arrives while the drive actuation is still in flight. It
	// must not interrupt the device call.
	pushSample(e, telemetry.SensorBrakeCurrent, 4.0, 7)
	waitFor(t, "sample consumed mid-flight", func() bool { return len(e.LatestSamples()) > 0 })
	if e.State() == StateFaulted {
		t.Fatal("fault applied before the actuation settled")
	}

	dev.block[device.KindDrive] <- nil
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := start.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusApplied {
		t.Fatalf("start = %s (%v)", res.Status, res.Err)
	}
	if res.State != StateFaulted {
		t.Errorf("deferred force stop not applied, state %s", res.State)
	}
	waitFor(t, "event recorded", func() bool { return len(e.RecentEvents()) == 1 })
}

func TestEngine_ReportDeviceFault(t *testing.T) {
	dev := newRigStub()
	e := startEngine(t, dev, Options{})

	mustApply(t, e, Command{ID: 1, Kind: KindArm})
	e.ReportDeviceFault(errors.New("sampler retries exhausted"))
	waitFor(t, "fault transition", func() bool { return e.State() == StateFaulted })
	waitFor(t, "event recorded", func() bool { return len(e.RecentEvents()) > 0 })
	if ev := e.RecentEvents()[0]; ev.RuleID != 0 {
		t.Errorf("expected synthetic event, got rule %d", ev.RuleID)
	}
}

func TestEngine_SubmitAfterShutdown(t *testing.T) {
	dev := newRigStub()
	locks, err := interlock.New(safetyRules())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(dev, locks, Options{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()

	id := uint64(100)
	waitFor(t, "engine shutdown", func() bool {
		id++
		_, err := e.Submit(Command{ID: id, Kind: KindArm})
		return errors.Is(err, ErrEngineStopped)
	})
}
