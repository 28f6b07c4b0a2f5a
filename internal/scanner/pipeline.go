package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
)

// Mode selects whether the pipeline keeps capturing after a decode.
type Mode int

const (
	SingleShot Mode = iota
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "single"
}

// ParseMode accepts "single" / "single-shot" and "continuous".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single", "single-shot", "singleshot":
		return SingleShot, nil
	case "continuous":
		return Continuous, nil
	}
	return SingleShot, fmt.Errorf("unknown scan mode %q", s)
}

// State is the pipeline's position in Idle -> Capturing -> Locked.
type State int

const (
	// Idle: camera not acquired.
	Idle State = iota
	// Capturing: per-frame loop running, decodes accepted.
	Capturing
	// Locked: a decode is being resolved or its feedback is playing.
	Locked
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Locked:
		return "locked"
	}
	return "unknown"
}

// ErrAlreadyStarted is returned by Start when the camera is already held.
var ErrAlreadyStarted = errors.New("scanner already started")

// Scheduler runs callbacks on the owning loop.
type Scheduler interface {
	Every(d time.Duration, fn func()) (cancel func())
	After(d time.Duration, fn func()) (cancel func())
}

// Decode is one emitted code. Session ties it to the Capturing window that
// produced it so late resolutions after Stop are recognised.
type Decode struct {
	Code    string
	Session uint64
}

// Result is how the caller resolved a Decode.
type Result struct {
	Kind    FeedbackKind
	Message string
}

// Options tune the pipeline. Zero values get defaults.
type Options struct {
	// Interval between frame ticks.
	Interval time.Duration
	// FeedbackWindow is how long the lock is held after a result is played.
	FeedbackWindow time.Duration
	// DuplicateWindow suppresses re-emitting the same code after the lock
	// clears. Zero disables it.
	DuplicateWindow time.Duration
	// Now is the clock used by duplicate suppression.
	Now func() time.Time
}

const (
	defaultInterval       = 100 * time.Millisecond
	defaultFeedbackWindow = 1500 * time.Millisecond
)

// Pipeline drives a FrameSource and a Decoder on the loop's tick. It is
// loop-confined: every method must be called from the loop.
type Pipeline struct {
	src      FrameSource
	dec      Decoder
	sched    Scheduler
	feedback Feedback
	log      *logrus.Entry
	opts     Options

	state     State
	mode      Mode
	session   uint64
	stopTick  func()
	stopTimer func()
	dedupe    *deduplicator
	onDecoded func(Decode)
}

// NewPipeline wires a pipeline. feedback may be nil.
func NewPipeline(src FrameSource, dec Decoder, sched Scheduler, feedback Feedback, log *logrus.Logger, opts Options) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.FeedbackWindow <= 0 {
		opts.FeedbackWindow = defaultFeedbackWindow
	}
	if feedback == nil {
		feedback = nopFeedback{}
	}
	return &Pipeline{
		src:      src,
		dec:      dec,
		sched:    sched,
		feedback: feedback,
		log:      logging.Or(log).WithField("component", "scanner"),
		opts:     opts,
		dedupe:   newDeduplicator(opts.DuplicateWindow, opts.Now),
	}
}

// OnDecoded sets the single decode sink. The sink must eventually call
// Complete with the same Decode.
func (p *Pipeline) OnDecoded(fn func(Decode)) {
	p.onDecoded = fn
}

// State returns the current state.
func (p *Pipeline) State() State { return p.state }

// Mode returns the mode of the current (or last) session.
func (p *Pipeline) Mode() Mode { return p.mode }

// Start acquires the source and begins capturing. On acquisition failure the
// pipeline stays Idle and the error wraps ErrCameraUnavailable. Calling Start
// while running only switches the mode.
func (p *Pipeline) Start(ctx context.Context, mode Mode) error {
	if p.state != Idle {
		p.mode = mode
		return ErrAlreadyStarted
	}
	if err := p.src.Acquire(ctx); err != nil {
		if errors.Is(err, ErrCameraUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	p.session++
	p.mode = mode
	p.dedupe.reset()
	p.state = Capturing
	p.armTick()
	p.log.WithFields(logrus.Fields{"mode": mode.String(), "session": p.session}).Info("📷 Scanner started")
	return nil
}

// Stop releases the source unconditionally, including mid-feedback.
func (p *Pipeline) Stop() {
	if p.state == Idle {
		return
	}
	p.disarmTick()
	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
	if err := p.src.Release(); err != nil {
		p.log.WithError(err).Warn("Releasing frame source failed")
	}
	p.state = Idle
	p.session++
	p.log.Info("📴 Scanner stopped")
}

// Complete plays the result of a decode and schedules the unlock. A result
// for a session that was stopped is still played but changes no state.
func (p *Pipeline) Complete(d Decode, r Result) {
	p.feedback.Play(r.Kind, r.Message)

	if d.Session != p.session || p.state != Locked {
		p.log.WithField("code", d.Code).Debug("Result arrived after scanner left the lock")
		return
	}
	if p.stopTimer != nil {
		p.stopTimer()
	}
	session := p.session
	p.stopTimer = p.sched.After(p.opts.FeedbackWindow, func() {
		p.stopTimer = nil
		p.unlock(session)
	})
}

func (p *Pipeline) unlock(session uint64) {
	if session != p.session || p.state != Locked {
		return
	}
	if p.mode == Continuous {
		p.state = Capturing
		p.armTick()
		return
	}
	p.Stop()
}

func (p *Pipeline) tick() {
	if p.state != Capturing {
		return
	}
	frame, err := p.src.Next()
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			p.log.WithError(err).Debug("Frame read failed")
		}
		return
	}
	code, ok := p.dec.Decode(frame)
	if !ok {
		return
	}
	if p.dedupe.isDuplicate(code) {
		return
	}

	p.state = Locked
	p.disarmTick()
	p.dedupe.record(code)

	d := Decode{Code: code, Session: p.session}
	p.log.WithFields(logrus.Fields{"code": code, "seq": frame.Seq}).Debug("Decoded")
	if p.onDecoded == nil {
		p.Complete(d, Result{Kind: FeedbackError, Message: "no handler for scanned codes"})
		return
	}
	p.onDecoded(d)
}

func (p *Pipeline) armTick() {
	p.disarmTick()
	p.stopTick = p.sched.Every(p.opts.Interval, p.tick)
}

func (p *Pipeline) disarmTick() {
	if p.stopTick != nil {
		p.stopTick()
		p.stopTick = nil
	}
}
