package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"drowsyguard/internal/alarm"
	"drowsyguard/internal/alerts"
	"drowsyguard/internal/capture"
	"drowsyguard/internal/config"
	"drowsyguard/internal/detector"
	"drowsyguard/internal/ear"
	"drowsyguard/internal/engine"
	"drowsyguard/internal/metrics"
	"drowsyguard/internal/model"
	"drowsyguard/internal/overlay"
	"drowsyguard/internal/snapshot"
	"drowsyguard/internal/storage"
)

// Notifier receives alert transitions. Notify must not block.
type Notifier interface {
	Notify(ev model.AlertEvent) bool
}

// StatusSink takes status mirror records. Enqueue must not block.
type StatusSink interface {
	Enqueue(rec storage.StatusRecord) bool
}

type Deps struct {
	Device     capture.Device
	Detector   detector.Detector
	Guard      *alarm.Guard
	Snapshots  *snapshot.Store
	Metrics    *metrics.Store
	Alerts     *alerts.Store
	Notifier   Notifier
	Mirror     StatusSink
	Logger     *slog.Logger
	InstanceID string
}

type Loop struct {
	deps    Deps
	logger  *slog.Logger
	cfg     atomic.Value
	machine *engine.Machine
	perclos *engine.PerclosTracker
	warn    *logThrottle

	resetRequested atomic.Bool
	running        atomic.Bool

	mu         sync.Mutex
	lastMirror time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewLoop(cfg *config.Config, deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Guard == nil {
		deps.Guard = alarm.NewGuard(alarm.Nop{}, logger)
	}
	if deps.Snapshots == nil {
		deps.Snapshots = snapshot.NewStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.InstanceID == "" {
		deps.InstanceID = uuid.NewString()
	}
	l := &Loop{
		deps:    deps,
		logger:  logger.With("component", "monitor"),
		machine: engine.NewMachine(engine.ThresholdsFrom(cfg.Detection)),
		perclos: engine.NewPerclosTracker(cfg.Detection.PerclosWindows),
		warn:    newLogThrottle(5 * time.Second),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	l.cfg.Store(cfg)
	return l
}

func (l *Loop) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		l.cfg.Store(cfg)
	}
}

// Reset is applied at the top of the next cycle.
func (l *Loop) Reset() {
	l.resetRequested.Store(true)
}

func (l *Loop) Running() bool {
	return l.running.Load()
}

func (l *Loop) InstanceID() string {
	return l.deps.InstanceID
}

func (l *Loop) config() *config.Config {
	if v := l.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (l *Loop) Run(ctx context.Context) error {
	if l.deps.Device == nil || l.deps.Detector == nil {
		return errors.New("monitor: device and detector are required")
	}
	l.running.Store(true)
	defer l.running.Store(false)
	defer l.release()

	if !l.open(ctx) {
		return nil
	}
	l.logger.Info("acquisition loop started", "instance_id", l.deps.InstanceID)
	for {
		if ctx.Err() != nil {
			l.logger.Info("acquisition loop stopping")
			return nil
		}
		cfg := l.config()
		start := l.now()
		l.applyPending(cfg)

		frame, err := l.deps.Device.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.deps.Metrics.RecordDeviceFailure()
			l.logger.Warn("frame read failed, reopening device", "error", err, "backoff", cfg.Capture.ReconnectBackoff)
			l.release()
			if !l.sleep(ctx, cfg.Capture.ReconnectBackoff) || !l.open(ctx) {
				continue
			}
			l.deps.Metrics.RecordDeviceReopen()
			continue
		}

		l.cycle(ctx, cfg, frame, start)

		if remaining := cfg.Detection.CycleInterval() - l.now().Sub(start); remaining > 0 {
			l.sleep(ctx, remaining)
		}
	}
}

func (l *Loop) open(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		err := l.deps.Device.Open(ctx)
		if err == nil {
			return true
		}
		backoff := l.config().Capture.ReconnectBackoff
		l.deps.Metrics.RecordDeviceFailure()
		l.logger.Warn("capture device open failed", "error", err, "backoff", backoff)
		if !l.sleep(ctx, backoff) {
			return false
		}
	}
}

func (l *Loop) release() {
	if err := l.deps.Device.Release(); err != nil {
		l.logger.Warn("capture device release failed", "error", err)
	}
}

func (l *Loop) applyPending(cfg *config.Config) {
	th := engine.ThresholdsFrom(cfg.Detection)
	if th != l.machine.Thresholds() {
		l.machine.UpdateThresholds(th)
		l.logger.Info("detection thresholds updated",
			"ear", th.EAR,
			"closed_frames", th.ClosedFrames,
			"no_face", th.NoFace,
		)
	}
	if l.resetRequested.CompareAndSwap(true, false) {
		wasActive := l.machine.State().AlertActive
		l.machine.Reset()
		l.perclos.Reset()
		if wasActive {
			l.deps.Guard.Apply(model.BecameInactive)
		}
		l.logger.Info("detection state reset")
	}
}

func (l *Loop) Step(ctx context.Context, frame capture.Frame) model.StatusSnapshot {
	cfg := l.config()
	l.applyPending(cfg)
	return l.cycle(ctx, cfg, frame, l.now())
}

func (l *Loop) cycle(ctx context.Context, cfg *config.Config, frame capture.Frame, start time.Time) model.StatusSnapshot {
	in, kind, eyes := l.measure(ctx, frame)
	dec := l.machine.Advance(in)
	l.deps.Guard.Apply(dec.Transition)

	now := l.now().UTC()
	var perclos []model.PerclosWindow
	value, hasEAR := in.EAR()
	if hasEAR {
		perclos = l.perclos.Observe(now, value, cfg.Detection.EARThreshold)
	}

	var jpeg []byte
	if frame.Image != nil {
		img := overlay.Render(frame.Image, overlay.Overlay{
			EyePoints:   eyes,
			EAR:         value,
			HasEAR:      hasEAR,
			Status:      dec.Status,
			AlertActive: dec.AlertActive,
		})
		var err error
		jpeg, err = overlay.EncodeJPEG(img, cfg.Detection.JPEGQuality)
		if err != nil && l.warn.Allow("encode") {
			l.logger.Warn("frame encode failed", "error", err)
		}
	}

	snap := &model.StatusSnapshot{
		InstanceID:   l.deps.InstanceID,
		Status:       dec.Status,
		AlertActive:  dec.AlertActive,
		EAR:          value,
		HasEAR:       hasEAR,
		ClosedFrames: dec.ClosedFrames,
		MissingFaces: dec.MissingFaces,
		Frame:        jpeg,
		CapturedAt:   frame.CapturedAt,
	}
	l.deps.Snapshots.Publish(snap)

	if dec.Transition != model.Unchanged {
		l.onTransition(*snap, dec)
	}
	l.mirror(cfg, *snap, dec.Transition != model.Unchanged)

	l.deps.Metrics.RecordCycle(kind, value, l.now().Sub(start), perclos, dec.Transition)
	l.deps.Metrics.SetActuatorFailures(l.deps.Guard.Failures())
	return *snap
}

// A detector failure leaves the counters alone for that cycle.
func (l *Loop) measure(ctx context.Context, frame capture.Frame) (engine.Input, metrics.CycleKind, []model.Point) {
	if frame.Image == nil {
		return engine.NoFace(), metrics.CycleNoFace, nil
	}
	set, err := l.deps.Detector.Detect(ctx, frame.Image)
	if err != nil {
		if l.warn.Allow("detect") {
			l.logger.Warn("landmark detection failed", "error", err)
		}
		return engine.Degenerate(), metrics.CycleDetectorError, nil
	}
	if set == nil {
		return engine.NoFace(), metrics.CycleNoFace, nil
	}
	left, right, err := ear.EyePoints(*set)
	if err != nil {
		if l.warn.Allow("landmarks") {
			l.logger.Warn("landmark set unusable", "error", err, "points", len(set.Points))
		}
		return engine.Degenerate(), metrics.CycleDegenerate, nil
	}
	eyes := make([]model.Point, 0, 12)
	eyes = append(eyes, left[:]...)
	eyes = append(eyes, right[:]...)
	value, err := ear.FrameSignal(*set)
	if err != nil {
		if l.warn.Allow("degenerate") {
			l.logger.Debug("degenerate eye geometry", "error", err)
		}
		return engine.Degenerate(), metrics.CycleDegenerate, eyes
	}
	return engine.Signal(value), metrics.CycleFace, eyes
}

func (l *Loop) onTransition(snap model.StatusSnapshot, dec engine.Decision) {
	ev := model.AlertEvent{
		ID:           uuid.NewString(),
		InstanceID:   snap.InstanceID,
		Timestamp:    snap.PublishedAt,
		Transition:   dec.Transition,
		Status:       dec.Status,
		EAR:          snap.EAR,
		ClosedFrames: dec.ClosedFrames,
		MissingFaces: dec.MissingFaces,
	}
	if dec.Transition == model.BecameActive {
		l.logger.Warn("alert raised",
			"status", dec.Status,
			"closed_frames", dec.ClosedFrames,
			"missing_faces", dec.MissingFaces,
			"ear", snap.EAR,
		)
	} else {
		l.logger.Info("alert cleared", "status", dec.Status)
	}
	if l.deps.Alerts != nil {
		l.deps.Alerts.Add(ev)
	}
	if l.deps.Notifier != nil && !l.deps.Notifier.Notify(ev) {
		l.logger.Warn("alert notification dropped", "id", ev.ID)
	}
}

func (l *Loop) mirror(cfg *config.Config, snap model.StatusSnapshot, force bool) {
	if l.deps.Mirror == nil {
		return
	}
	l.mu.Lock()
	due := force || l.lastMirror.IsZero() || snap.PublishedAt.Sub(l.lastMirror) >= cfg.Storage.MirrorInterval
	if due {
		l.lastMirror = snap.PublishedAt
	}
	l.mu.Unlock()
	if !due {
		return
	}
	if !l.deps.Mirror.Enqueue(storage.RecordFromSnapshot(snap)) && l.warn.Allow("mirror") {
		l.logger.Warn("status mirror queue full, dropping record", "seq", snap.Seq)
	}
}

// State is only safe to read while Run is not executing.
func (l *Loop) State() engine.DetectionState {
	return l.machine.State()
}
