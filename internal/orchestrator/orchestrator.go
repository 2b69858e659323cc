// Package orchestrator implements the challenge resolution state machine.
//
// One Run is one Session: it repeatedly observes the challenge, classifies
// the extracted text, dispatches to the handler registered for that
// classification, and stops on success (challenge cleared), on attempt
// budget exhaustion, or on context cancellation. Every wait goes through the
// injected Sleeper so that cancellation unwinds at the next suspension point.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"challengeflow/internal/backoff"
	"challengeflow/internal/challenge"
	"challengeflow/internal/config"
	"challengeflow/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Solver is the part of the solving gateway the state machine needs.
type Solver interface {
	Submit(ctx context.Context, task challenge.SolveTask) (challenge.SolveHandle, error)
	Await(ctx context.Context, handle challenge.SolveHandle) (challenge.Solution, error)
}

// Settings are the resolver parameters, usually derived from config.
type Settings struct {
	MaxAttempts        int
	PresenceSelector   string
	PresenceChecks     int
	PresenceInterval   time.Duration
	MonitorInterval    time.Duration
	MonitorMaxDuration time.Duration // 0 = unbounded
	ActionPause        time.Duration
	CompletePause      time.Duration
	SettleMin          time.Duration
	SettleMax          time.Duration
	CellCount          int
	CaptureBeforeTap   bool
}

// SettingsFromConfig extracts resolver settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxAttempts:        cfg.Resolver.MaxAttempts,
		PresenceSelector:   cfg.Layout.PresenceSelector,
		PresenceChecks:     cfg.Resolver.PresenceChecks,
		PresenceInterval:   cfg.PresenceInterval(),
		MonitorInterval:    cfg.MonitorInterval(),
		MonitorMaxDuration: cfg.MonitorMaxDuration(),
		ActionPause:        cfg.ActionPause(),
		CompletePause:      cfg.CompletePause(),
		SettleMin:          cfg.SettleMin(),
		SettleMax:          cfg.SettleMax(),
		CellCount:          cfg.CellCount(),
		CaptureBeforeTap:   cfg.Resolver.CaptureBeforeTap,
	}
}

// handler processes one classified snapshot inside an attempt.
type handler func(ctx context.Context, s *session, snap challenge.Snapshot) (step, error)

// step tells the attempt loop what to do after a handler returns.
type step int

const (
	stepNext    step = iota // start the next attempt
	stepCleared             // challenge disappeared: Session succeeded
)

// Orchestrator drives one Session at a time. It is the only caller of the
// ports it is constructed with.
type Orchestrator struct {
	settings Settings
	observer challenge.Observer
	actor    challenge.Actor
	solver   Solver
	recorder Recorder
	sleeper  backoff.Sleeper
	randF    func() float64
	now      func() time.Time
	logger   *zap.Logger
	handlers map[challenge.Classification]handler
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithSleeper replaces the wall-clock wait.
func WithSleeper(s backoff.Sleeper) Option { return func(o *Orchestrator) { o.sleeper = s } }

// WithRecorder journals Session events.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithRand replaces the source for settle-interval jitter; f returns [0,1).
func WithRand(f func() float64) Option { return func(o *Orchestrator) { o.randF = f } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New builds an Orchestrator. Zero-valued settings fall back to defaults.
func New(settings Settings, observer challenge.Observer, actor challenge.Actor, solver Solver, opts ...Option) *Orchestrator {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}
	if settings.PresenceChecks <= 0 {
		settings.PresenceChecks = 3
	}
	if settings.CellCount <= 0 {
		settings.CellCount = challenge.DefaultCellCount
	}
	if settings.SettleMax < settings.SettleMin {
		settings.SettleMax = settings.SettleMin
	}
	o := &Orchestrator{
		settings: settings,
		observer: observer,
		actor:    actor,
		solver:   solver,
		recorder: nopRecorder{},
		sleeper:  backoff.RealSleeper,
		randF:    rand.Float64,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.For(o.logger, logging.CategoryOrchestrator)
	o.handlers = map[challenge.Classification]handler{
		challenge.VerificationComplete: o.onComplete,
		challenge.TryAgain:             o.onTryAgain,
		challenge.AwaitingVerify:       o.onVerify,
		challenge.AwaitingSelection:    o.onSelection,
		challenge.Ambiguous:            o.onSelection,
		challenge.ObservationFailed:    o.onObservationFailed,
	}
	return o
}

// session is the mutable state of one Run.
type session struct {
	id      string
	attempt int
	pending challenge.SolveHandle
	out     Outcome
}

// Run resolves challenges until the challenge is cleared, the attempt
// budget is spent, or ctx is cancelled. It always returns exactly one Outcome.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	s := &session{id: uuid.NewString()}
	s.out.SessionID = s.id
	log := o.logger.With(zap.String("session", s.id))
	log.Info("session started", zap.Int("max_attempts", o.settings.MaxAttempts))
	o.record(ctx, s, Event{Kind: EventSessionStarted})

	out := o.run(ctx, s, log)
	log.Info("session finished",
		zap.Stringer("status", out.Status),
		zap.String("reason", out.Reason),
		zap.Int("attempts", out.Attempts))
	o.record(context.WithoutCancel(ctx), s, Event{Kind: EventOutcome, Detail: out.String()})
	return out
}

func (o *Orchestrator) run(ctx context.Context, s *session, log *zap.Logger) Outcome {
	for s.attempt < o.settings.MaxAttempts {
		s.attempt++
		s.out.Attempts = s.attempt
		log.Info("attempt started", zap.Int("attempt", s.attempt), zap.Int("max_attempts", o.settings.MaxAttempts))

		st, err := o.attempt(ctx, s)
		switch {
		case ctx.Err() != nil:
			o.reportAbandoned(ctx, s, log)
			return o.finish(s, StatusInterrupted, "interrupted", ctx.Err())
		case err != nil:
			log.Warn("attempt aborted", zap.Int("attempt", s.attempt), zap.Error(err))
			s.out.LastError = err
			o.record(ctx, s, Event{Kind: EventAttemptAborted, Detail: err.Error()})
		case st == stepCleared:
			return o.finish(s, StatusSuccess, "challenge cleared", nil)
		}
	}
	log.Error("maximum attempts reached", zap.Int("attempts", s.attempt))
	return o.finish(s, StatusFailure, ErrBudgetExhausted.Error(), s.out.LastError)
}

func (o *Orchestrator) finish(s *session, status Status, reason string, err error) Outcome {
	s.out.Status = status
	s.out.Reason = reason
	if err != nil {
		s.out.LastError = err
	}
	return s.out
}

// attempt is one Observing → Classifying → handler cycle.
func (o *Orchestrator) attempt(ctx context.Context, s *session) (step, error) {
	present, err := o.ensurePresent(ctx)
	if err != nil {
		return stepNext, err
	}
	if !present {
		return stepCleared, nil
	}
	snap, tag, err := o.observe(ctx, s)
	if err != nil {
		return stepNext, err
	}
	return o.handlers[tag](ctx, s, snap)
}

// observe captures and classifies. Unusable snapshots yield ErrObservation.
func (o *Orchestrator) observe(ctx context.Context, s *session) (challenge.Snapshot, challenge.Classification, error) {
	snap, err := o.observer.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return snap, challenge.ObservationFailed, ctx.Err()
		}
		return snap, challenge.ObservationFailed, fmt.Errorf("%w: %v", challenge.ErrObservation, err)
	}
	tag := challenge.Classify(snap.Text)
	o.logger.Info("observed",
		zap.String("session", s.id),
		zap.Int("attempt", s.attempt),
		zap.Stringer("classification", tag),
		zap.String("text", snap.Text))
	o.record(ctx, s, Event{Kind: EventSnapshot, Classification: tag, Text: snap.Text, Image: snap.Image, At: snap.CapturedAt})
	if strings.TrimSpace(snap.Text) == "" {
		return snap, tag, fmt.Errorf("%w: no text extracted", challenge.ErrObservation)
	}
	return snap, tag, nil
}

// ensurePresent polls the presence selector up to PresenceChecks times.
// Lookup errors count as absence.
func (o *Orchestrator) ensurePresent(ctx context.Context) (bool, error) {
	for i := 1; i <= o.settings.PresenceChecks; i++ {
		ok, err := o.actor.ElementPresent(ctx, o.settings.PresenceSelector)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			o.logger.Warn("presence lookup failed", zap.Error(err))
		}
		if ok {
			return true, nil
		}
		o.logger.Info("challenge not detected", zap.Int("absence_count", i), zap.Int("max_checks", o.settings.PresenceChecks))
		if i < o.settings.PresenceChecks {
			if err := o.sleeper.Sleep(ctx, o.settings.PresenceInterval); err != nil {
				return false, err
			}
		}
	}
	o.logger.Info("challenge absent after repeated checks")
	return false, nil
}

// tap performs a UI action. Action failures are logged and swallowed; only
// cancellation is returned.
func (o *Orchestrator) tap(ctx context.Context, s *session, pos challenge.Position) error {
	if o.settings.CaptureBeforeTap {
		if snap, err := o.observer.Capture(ctx); err == nil {
			o.record(ctx, s, Event{Kind: EventSnapshot, Classification: challenge.Classify(snap.Text),
				Text: snap.Text, Image: snap.Image, At: snap.CapturedAt, Detail: "before " + pos.String()})
		} else if ctx.Err() == nil {
			o.logger.Warn("pre-tap capture failed", zap.Stringer("position", pos), zap.Error(err))
		}
	}
	if err := o.actor.Tap(ctx, pos); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error("tap failed", zap.Stringer("position", pos), zap.Error(err))
		o.record(ctx, s, Event{Kind: EventTap, Position: pos.String(), Detail: err.Error()})
		return nil
	}
	o.logger.Info("tapped", zap.Stringer("position", pos))
	o.record(ctx, s, Event{Kind: EventTap, Position: pos.String()})
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	return o.sleeper.Sleep(ctx, d)
}

// settle returns a uniformly random wait in [SettleMin, SettleMax].
func (o *Orchestrator) settle() time.Duration {
	span := o.settings.SettleMax - o.settings.SettleMin
	return o.settings.SettleMin + time.Duration(o.randF()*float64(span))
}

func (o *Orchestrator) reportAbandoned(ctx context.Context, s *session, log *zap.Logger) {
	if s.pending == "" {
		return
	}
	log.Warn("abandoned solver handle", zap.String("task_id", string(s.pending)))
	o.record(context.WithoutCancel(ctx), s, Event{Kind: EventAbandonedHandle, Handle: s.pending})
}

func (o *Orchestrator) record(ctx context.Context, s *session, ev Event) {
	ev.SessionID = s.id
	ev.Attempt = s.attempt
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	if err := o.recorder.Record(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("journal write failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
