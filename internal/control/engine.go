package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/device"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/metrics"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

const recentEventCap = 64

// Publisher receives every accepted sample and safety event for live
// subscribers. Implementations must not block.
type Publisher interface {
	PublishSample(telemetry.Sample)
	PublishEvent(interlock.SafetyEvent)
}

// AuditWriter persists safety events. Delivery is at-least-once; consumers
// deduplicate by (rule_id, timestamp, seq).
type AuditWriter interface {
	WriteSafetyEvent(interlock.SafetyEvent) error
}

// Options configures the control engine.
type Options struct {
	Log              *slog.Logger
	Metrics          *metrics.Metrics
	Publisher        Publisher   // optional
	Audit            AuditWriter // optional
	ActuationTimeout time.Duration
	CommandQueue     int
	SampleQueue      int
	IOWorkers        int
}

// Engine is the single writer of the experiment state. Commands and
// telemetry reach it through bounded queues; it performs all transitions.
type Engine struct {
	log        *slog.Logger
	dev        device.Device
	locks      *interlock.Engine
	met        *metrics.Metrics
	pub        Publisher
	audit      AuditWriter
	actTimeout time.Duration
	pool       *ioPool

	samples *telemetry.Queue
	cmds    chan *pendingCommand
	faults  chan error

	// pendingForce holds a ForceStop violation observed while an actuation
	// was in flight; it is applied as soon as the side effect settles.
	pendingForce *interlock.Violation

	mu      sync.Mutex
	state   State
	run     *RunMeta
	latest  map[string]telemetry.Sample
	events  []interlock.SafetyEvent
	lastID  uint64
	acked   bool
	stopped bool
}

type pendingCommand struct {
	cmd  Command
	done chan Resolution
}

func (p *pendingCommand) resolve(r Resolution) {
	r.CommandID = p.cmd.ID
	select {
	case p.done <- r:
	default:
	}
}

// Pending tracks an accepted command until its effect has been fully applied.
type Pending struct {
	ID   uint64
	done <-chan Resolution
}

// Wait blocks until the command settles or ctx expires.
func (p *Pending) Wait(ctx context.Context) (Resolution, error) {
	select {
	case r := <-p.done:
		return r, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// NewEngine builds the control engine around a device and an interlock rule
// set. Run must be called before commands make progress.
func NewEngine(dev device.Device, locks *interlock.Engine, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.NewUnregistered()
	}
	cq := opts.CommandQueue
	if cq <= 0 {
		cq = 16
	}
	return &Engine{
		log:        log,
		dev:        dev,
		locks:      locks,
		met:        met,
		pub:        opts.Publisher,
		audit:      opts.Audit,
		actTimeout: opts.ActuationTimeout,
		pool:       newIOPool(opts.IOWorkers),
		samples:    telemetry.NewQueue(opts.SampleQueue),
		cmds:       make(chan *pendingCommand, cq),
		faults:     make(chan error, 4),
		state:      StateIdle,
		latest:     make(map[string]telemetry.Sample),
	}
}

// Queue returns the sample hand-off queue the sampler feeds.
func (e *Engine) Queue() *telemetry.Queue {
	return e.samples
}

// Submit validates and enqueues a command. It returns once the command is
// accepted; the final outcome is delivered on the returned Pending.
func (e *Engine) Submit(cmd Command) (*Pending, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrEngineStopped
	}
	if cmd.ID <= e.lastID {
		return nil, fmt.Errorf("%w: %d already accepted", ErrDuplicateCommand, cmd.ID)
	}
	p := &pendingCommand{cmd: cmd, done: make(chan Resolution, 1)}
	select {
	case e.cmds <- p:
		e.lastID = cmd.ID
		return &Pending{ID: cmd.ID, done: p.done}, nil
	default:
		return nil, ErrBusy
	}
}

// SubmitWait submits cmd and blocks until it settles.
func (e *Engine) SubmitWait(ctx context.Context, cmd Command) (Resolution, error) {
	p, err := e.Submit(cmd)
	if err != nil {
		return Resolution{}, err
	}
	return p.Wait(ctx)
}

// Acknowledge records the operator's fault acknowledgment, a precondition of
// Reset.
func (e *Engine) Acknowledge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateFaulted {
		e.acked = true
		e.log.Info("[Control] fault acknowledged")
	}
}

// ReportDeviceFault escalates an unrecoverable device failure (for example a
// sampler whose retries are exhausted) to a forced stop.
func (e *Engine) ReportDeviceFault(err error) {
	select {
	case e.faults <- err:
	default:
	}
}

// Run is the single-writer control loop. It exits when ctx is cancelled,
// resolving any still-queued commands as Cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("[Control] state machine started", "state", e.State())
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case err := <-e.faults:
			e.deviceFault(err)
		case <-e.samples.Ready():
			e.consumeSamples(false)
		case p := <-e.cmds:
			e.execute(ctx, p)
		}
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancelQueued()
	e.log.Info("[Control] state machine stopped", "state", e.State())
}

// consumeSamples drains the telemetry queue and evaluates every sample. With
// deferred set, ForceStop violations are parked until the in-flight actuation
// settles instead of being applied immediately.
func (e *Engine) consumeSamples(deferred bool) {
	for _, s := range e.samples.Drain() {
		e.met.SamplesTotal.Inc()
		e.mu.Lock()
		e.latest[s.SensorID] = s
		e.mu.Unlock()
		if e.pub != nil {
			e.pub.PublishSample(s)
		}

		violations := e.locks.Observe(s)
		if v := interlock.ForceStop(violations); v != nil {
			if deferred {
				if e.pendingForce == nil {
					e.pendingForce = v
				}
				continue
			}
			e.forceStop(*v)
			continue
		}
		for _, v := range violations {
			e.log.Debug("[Interlock] bound exceeded without pending command", "violation", v.String())
		}
	}
	e.met.SampleQueueLength.Set(float64(e.samples.Len()))
}

// execute applies one command end to end: state-table check, interlock
// pre-check, actuation off the critical section, then the state update.
func (e *Engine) execute(ctx context.Context, p *pendingCommand) {
	start := time.Now()
	defer func() { e.met.CommandSeconds.Observe(time.Since(start).Seconds()) }()

	// Evaluate any waiting telemetry first so the gate sees fresh safety
	// state.
	e.consumeSamples(false)

	cmd := p.cmd
	st := e.State()
	next, err := Next(st, cmd.Kind)
	if err != nil {
		e.met.CommandsRejected.Inc()
		e.log.Warn("[Dispatcher] command rejected", "id", cmd.ID, "kind", cmd.Kind, "err", err)
		p.resolve(Resolution{Status: StatusRejected, State: st, Err: err})
		return
	}

	switch cmd.Kind {
	case KindReset:
		e.executeReset(p, st)
		return
	case KindStop:
		// Stop cancels everything still queued behind it.
		e.cancelQueued()
	default:
		if v := e.locks.CheckCommand(cmd.AffectedSensors()); v != nil {
			e.met.CommandsRejected.Inc()
			e.met.NearMisses.Inc()
			rejErr := &ActuationRejectedError{Violation: v}
			e.log.Warn("[Dispatcher] near-miss: interlock vetoed command",
				"id", cmd.ID, "kind", cmd.Kind, "rule", v.Rule.ID, "err", rejErr)
			p.resolve(Resolution{Status: StatusRejected, State: st, Err: rejErr})
			return
		}
	}

	if cmd.Kind == KindStop {
		// The Stop edge is taken immediately; Stopped follows once the
		// device confirms the halt.
		e.setState(StateShuttingDown)
	}

	var actErr error
	if req := cmd.actuation(); req != nil {
		actErr = e.actuate(ctx, *req)
	}

	switch {
	case actErr == nil:
		if cmd.Kind == KindStop {
			e.setState(StateStopped)
			e.log.Info("[Control] device confirmed halt")
		} else {
			e.setState(next)
			if cmd.Kind == KindStart {
				e.setRun(cmd.Run)
			}
		}
		e.applyPendingForce()
		p.resolve(Resolution{Status: StatusApplied, State: e.State()})

	case errors.Is(actErr, device.ErrActuationRejected):
		if cmd.Kind == KindStop {
			// A rig refusing to halt leaves the physical state unknown, and
			// shutting_down has no command edges to retry from. Fail safe.
			e.pendingForce = nil
			e.deviceFault(actErr)
			p.resolve(Resolution{Status: StatusFaulted, State: e.State(), Err: actErr})
			return
		}
		e.met.CommandsRejected.Inc()
		rejErr := &ActuationRejectedError{Cause: actErr}
		e.log.Warn("[Dispatcher] device rejected actuation", "id", cmd.ID, "kind", cmd.Kind, "err", actErr)
		e.applyPendingForce()
		p.resolve(Resolution{Status: StatusRejected, State: e.State(), Err: rejErr})

	default:
		// Device unavailable, timeout, or any other fault while applying the
		// side effect: the physical state is ambiguous, so fail safe.
		e.pendingForce = nil
		e.deviceFault(actErr)
		p.resolve(Resolution{Status: StatusFaulted, State: e.State(), Err: actErr})
	}
}

func (e *Engine) executeReset(p *pendingCommand, st State) {
	e.mu.Lock()
	acked := e.acked
	e.mu.Unlock()
	if !acked {
		e.met.CommandsRejected.Inc()
		p.resolve(Resolution{Status: StatusRejected, State: st, Err: ErrNotAcknowledged})
		return
	}
	if v := e.locks.Recheck(); v != nil {
		e.met.CommandsRejected.Inc()
		e.met.NearMisses.Inc()
		rejErr := &ActuationRejectedError{Violation: v}
		e.log.Warn("[Dispatcher] reset rejected: interlock still tripped", "rule", v.Rule.ID)
		p.resolve(Resolution{Status: StatusRejected, State: st, Err: rejErr})
		return
	}
	e.mu.Lock()
	e.acked = false
	e.run = nil
	e.mu.Unlock()
	e.setState(StateIdle)
	p.resolve(Resolution{Status: StatusApplied, State: StateIdle})
}

// actuate runs the device call on the I/O pool and keeps consuming telemetry
// while waiting. ForceStop violations observed meanwhile are deferred until
// the call settles.
func (e *Engine) actuate(ctx context.Context, req device.Request) error {
	actx := ctx
	if e.actTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.actTimeout)
		defer cancel()
	}
	res := e.pool.do(actx, func(c context.Context) error {
		return e.dev.Actuate(c, req)
	})
	for {
		select {
		case err := <-res:
			return err
		case <-actx.Done():
			return fmt.Errorf("actuation timed out: %w", actx.Err())
		case <-e.samples.Ready():
			e.consumeSamples(true)
		}
	}
}

func (e *Engine) applyPendingForce() {
	if e.pendingForce == nil {
		return
	}
	v := *e.pendingForce
	e.pendingForce = nil
	e.forceStop(v)
}

// forceStop drives the state machine to Faulted and records exactly one
// safety event. Already-faulted and terminal states are left untouched.
func (e *Engine) forceStop(v interlock.Violation) {
	before, ok := e.enterFault()
	if !ok {
		return
	}
	ev := interlock.SafetyEvent{
		ID:          uuid.NewString(),
		RuleID:      v.Rule.ID,
		Sample:      v.Sample,
		Reason:      v.String(),
		StateBefore: before.String(),
		StateAfter:  StateFaulted.String(),
		Seq:         v.Sample.Seq,
		Timestamp:   time.Now().UTC(),
	}
	e.met.ForceStops.Inc()
	e.log.Error("[Control] interlock force stop", "rule", v.Rule.ID, "sensor", v.Sample.SensorID, "value", v.Sample.Value)
	e.recordEvent(ev)
	e.safeHalt()
}

// deviceFault forces Faulted for failures that are not tied to a rule. The
// synthetic event uses rule id 0.
func (e *Engine) deviceFault(cause error) {
	before, ok := e.enterFault()
	if !ok {
		return
	}
	ev := interlock.SafetyEvent{
		ID:          uuid.NewString(),
		RuleID:      0,
		Reason:      fmt.Sprintf("device fault: %v", cause),
		StateBefore: before.String(),
		StateAfter:  StateFaulted.String(),
		Timestamp:   time.Now().UTC(),
	}
	e.met.ForceStops.Inc()
	e.log.Error("[Control] device fault, failing safe", "err", cause)
	e.recordEvent(ev)
	e.safeHalt()
}

// enterFault atomically moves to Faulted, reporting the prior state. It
// refuses in Stopped (terminal) and when already Faulted, which also
// guarantees a single event when several rules trip on one sample batch.
func (e *Engine) enterFault() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped || e.state == StateFaulted {
		return e.state, false
	}
	before := e.state
	e.state = StateFaulted
	e.acked = false
	return before, true
}

// safeHalt drives the rig to its de-energized state on a best-effort basis.
func (e *Engine) safeHalt() {
	ctx, cancel := context.WithTimeout(context.Background(), e.haltTimeout())
	res := e.pool.do(ctx, func(c context.Context) error {
		return e.dev.Actuate(c, device.Request{Kind: device.KindHalt})
	})
	go func() {
		defer cancel()
		if err := <-res; err != nil {
			e.log.Error("[Control] emergency halt failed", "err", err)
		}
	}()
}

func (e *Engine) haltTimeout() time.Duration {
	if e.actTimeout > 0 {
		return e.actTimeout
	}
	return 5 * time.Second
}

func (e *Engine) recordEvent(ev interlock.SafetyEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	if len(e.events) > recentEventCap {
		e.events = e.events[len(e.events)-recentEventCap:]
	}
	e.mu.Unlock()

	if e.pub != nil {
		e.pub.PublishEvent(ev)
	}
	if e.audit != nil {
		// At-least-once: retry a failed append once, tolerate duplicates.
		if err := e.audit.WriteSafetyEvent(ev); err != nil {
			e.log.Error("[Audit] safety event write failed, retrying", "err", err)
			if err := e.audit.WriteSafetyEvent(ev); err != nil {
				e.log.Error("[Audit] safety event write failed", "err", err)
			}
		}
	}
}

func (e *Engine) cancelQueued() {
	for {
		select {
		case q := <-e.cmds:
			e.log.Info("[Dispatcher] command cancelled", "id", q.cmd.ID, "kind", q.cmd.Kind)
			q.resolve(Resolution{Status: StatusCancelled, State: e.State()})
		default:
			return
		}
	}
}

func (e *Engine) setState(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	if from != to {
		e.log.Info("[Control] state transition", "from", from, "to", to)
	}
}

func (e *Engine) setRun(run *RunMeta) {
	if run == nil {
		run = &RunMeta{}
	}
	run.ID = uuid.NewString()
	run.StartedAt = time.Now().UTC()
	e.mu.Lock()
	e.run = run
	e.mu.Unlock()
	e.log.Info("[Control] run started", "run", run.ID, "title", run.Title)
}

// State returns the current experiment state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Acknowledged reports whether the operator acknowledged the current fault.
func (e *Engine) Acknowledged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acked
}

// RunInfo returns the metadata of the active run, if any.
func (e *Engine) RunInfo() *RunMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	cp := *e.run
	return &cp
}

// LatestSamples returns the most recent sample per sensor, sorted by sensor
// id.
func (e *Engine) LatestSamples() []telemetry.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]telemetry.Sample, 0, len(e.latest))
	for _, s := range e.latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// RecentEvents returns the most recent safety events, oldest first.
func (e *Engine) RecentEvents() []interlock.SafetyEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]interlock.SafetyEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Healthy reports device reachability.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.dev.Health(ctx)
}
