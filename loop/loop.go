package loop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bandlight/acquisition"
	"bandlight/actuator"
	"bandlight/pipeline"
	"bandlight/types"
	"bandlight/utils"
)

// State is the lifecycle phase of a Loop.
type State string

const (
	Idle      State = "IDLE"
	Init      State = "INIT"
	Streaming State = "STREAMING"
	Stopping  State = "STOPPING"
	Stopped   State = "STOPPED"
)

// Cadence policies.
const (
	// CadenceWindow sleeps one window length between iterations.
	CadenceWindow = "window"
	// CadenceFixed sleeps a configured interval between iterations.
	CadenceFixed = "fixed"
)

type Config struct {
	WindowLength int // samples per channel per iteration
	Cadence      string
	Interval     time.Duration // used by CadenceFixed; zero runs back to back
	Source       string        // recorded with the session
}

func DefaultConfig() Config {
	return Config{WindowLength: 256, Cadence: CadenceWindow, Interval: time.Second}
}

func (c Config) Validate() error {
	if c.WindowLength <= 0 {
		return fmt.Errorf("window length must be positive, got %d", c.WindowLength)
	}
	switch c.Cadence {
	case CadenceWindow:
	case CadenceFixed:
		if c.Interval < 0 {
			return fmt.Errorf("interval must not be negative, got %s", c.Interval)
		}
	default:
		return fmt.Errorf("unknown cadence %q", c.Cadence)
	}
	return nil
}

// Iteration is what observers see after each pass through the loop.
type Iteration struct {
	SessionID string
	Window    types.Window
	Result    pipeline.Result
	// Sent reports whether a command reached the actuator; SendErr is set
	// when one was attempted and failed.
	Sent    bool
	SendErr error
	Took    time.Duration
}

// Loop drives acquisition, analysis and actuation from a single goroutine.
type Loop struct {
	cfg       Config
	board     acquisition.Board
	opener    actuator.Opener
	analyzer  *pipeline.Analyzer
	observers []Observer
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, board acquisition.Board, opener actuator.Opener, analyzer *pipeline.Analyzer, log zerolog.Logger, observers ...Observer) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if board == nil || opener == nil || analyzer == nil {
		return nil, fmt.Errorf("loop needs a board, an actuator and an analyzer")
	}
	return &Loop{
		cfg:       cfg,
		board:     board,
		opener:    opener,
		analyzer:  analyzer,
		observers: observers,
		log:       log,
		sleep:     sleepCtx,
		now:       time.Now,
		snap:      Snapshot{State: Idle},
	}, nil
}

// Run executes INIT, STREAMING and STOPPING. It returns when ctx is
// cancelled, when a finite source runs out, or when INIT fails. Every handle
// acquired is released before Run returns; release failures are joined into
// the returned error.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Init)
	sess, gw, err := l.init(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("initialisation failed")
		l.setState(Stopped)
		return err
	}

	info := types.Session{
		ID:           utils.GenerateSessionID(),
		Source:       l.cfg.Source,
		SamplingRate: sess.SamplingRate(),
		Channels:     len(sess.EEGChannels()),
		Band:         l.analyzer.DecisionBand().Name,
		Threshold:    l.analyzer.Threshold(),
		StartedAt:    l.now(),
	}
	l.analyzer.ExpectChannels(info.Channels)
	l.mu.Lock()
	l.snap.Session = info
	l.mu.Unlock()
	l.notifyStart(info)

	l.setState(Streaming)
	l.stream(ctx, sess, gw, info.ID)

	l.setState(Stopping)
	err = l.shutdown(sess, gw)
	info.EndedAt = l.now()
	l.notifyEnd(info)
	l.setState(Stopped)
	return err
}

func (l *Loop) init(ctx context.Context) (acquisition.Session, actuator.Gateway, error) {
	sess, err := l.board.Open(ctx)
	if err != nil {
		return nil, nil, wrapAs(types.ErrAcquisition, "open session", err)
	}
	if err := sess.StartStream(ctx); err != nil {
		err = wrapAs(types.ErrAcquisition, "start stream", err)
		if rerr := sess.Release(); rerr != nil {
			l.log.Error().Err(rerr).Msg("error releasing session")
			err = errors.Join(err, rerr)
		}
		return nil, nil, err
	}
	gw, err := l.opener.Open(ctx)
	if err != nil {
		err = wrapAs(types.ErrTransport, "open actuator", err)
		if serr := sess.StopStream(); serr != nil {
			l.log.Error().Err(serr).Msg("error stopping stream")
			err = errors.Join(err, serr)
		}
		if rerr := sess.Release(); rerr != nil {
			l.log.Error().Err(rerr).Msg("error releasing session")
			err = errors.Join(err, rerr)
		}
		return nil, nil, err
	}
	return sess, gw, nil
}

func (l *Loop) stream(ctx context.Context, sess acquisition.Session, gw actuator.Gateway, sessionID string) {
	for ctx.Err() == nil {
		if err := l.iterate(ctx, sess, gw, sessionID); err != nil {
			if errors.Is(err, acquisition.ErrStreamEnded) {
				l.log.Info().Msg("stream ended")
			}
			return
		}
		if err := l.sleep(ctx, l.period(sess)); err != nil {
			return
		}
	}
}

// iterate runs one pass. It only returns an error when the loop must stop;
// every other failure is logged and confined to this iteration.
func (l *Loop) iterate(ctx context.Context, sess acquisition.Session, gw actuator.Gateway, sessionID string) error {
	w, err := sess.LatestWindow(ctx, l.cfg.WindowLength)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, acquisition.ErrStreamEnded) {
			return err
		}
		l.log.Error().Err(err).Msg("error reading window")
		l.publish(Iteration{SessionID: sessionID, Result: pipeline.Result{Err: wrapAs(types.ErrAcquisition, "read window", err)}})
		return nil
	}

	began := time.Now()
	res := l.analyzer.Analyze(w)
	it := Iteration{SessionID: sessionID, Window: w, Result: res, Took: time.Since(began)}

	for _, ce := range res.ChannelErrors {
		l.log.Error().Err(ce.Err).Int("channel", ce.Channel).Str("stage", ce.Stage).Msg("channel excluded")
	}
	switch {
	case errors.Is(res.Err, types.ErrEmptyAggregation):
		l.log.Warn().Msg("no channel survived this window, no command sent")
	case res.Err != nil:
		l.log.Error().Err(res.Err).Msg("window skipped")
	}

	if d := res.Reading.Decision; d != nil {
		if err := gw.Send(*d); err != nil {
			it.SendErr = err
			l.log.Error().Err(err).Str("state", d.String()).Msg("error sending command")
		} else {
			it.Sent = true
		}
	}
	l.publish(it)
	return nil
}

func (l *Loop) period(sess acquisition.Session) time.Duration {
	if l.cfg.Cadence == CadenceFixed {
		return l.cfg.Interval
	}
	fs := sess.SamplingRate()
	if fs <= 0 {
		return l.cfg.Interval
	}
	return time.Duration(math.Round(float64(l.cfg.WindowLength) / fs * float64(time.Second)))
}

// shutdown releases the actuator first, then the stream and the session.
// Each step runs even if an earlier one failed.
func (l *Loop) shutdown(sess acquisition.Session, gw actuator.Gateway) error {
	var errs []error
	if err := gw.Close(); err != nil {
		l.log.Error().Err(err).Msg("error closing actuator")
		errs = append(errs, fmt.Errorf("close actuator: %w", err))
	}
	if err := sess.StopStream(); err != nil {
		l.log.Error().Err(err).Msg("error stopping stream")
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := sess.Release(); err != nil {
		l.log.Error().Err(err).Msg("error releasing session")
		errs = append(errs, fmt.Errorf("release session: %w", err))
	}
	return errors.Join(errs...)
}

func (l *Loop) publish(it Iteration) {
	l.mu.Lock()
	l.snap.Iterations++
	if it.Result.Reading.Decision != nil {
		r := it.Result.Reading
		l.snap.Last = &r
	}
	l.mu.Unlock()

	for _, o := range l.observers {
		if err := o.Observe(it); err != nil {
			l.log.Error().Err(err).Msg("observer failed")
		}
	}
}

func (l *Loop) notifyStart(s types.Session) {
	for _, o := range l.observers {
		if so, ok := o.(SessionObserver); ok {
			if err := so.SessionStarted(s); err != nil {
				l.log.Error().Err(err).Str("session", s.ID).Msg("observer failed at session start")
			}
		}
	}
}

func (l *Loop) notifyEnd(s types.Session) {
	for _, o := range l.observers {
		if so, ok := o.(SessionObserver); ok {
			if err := so.SessionEnded(s); err != nil {
				l.log.Error().Err(err).Str("session", s.ID).Msg("observer failed at session end")
			}
		}
	}
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.snap.State = s
	l.mu.Unlock()
	l.log.Debug().Str("state", string(s)).Msg("loop state")
}

// Snapshot is a copy of the loop's progress, safe to read from any goroutine.
type Snapshot struct {
	State      State
	Session    types.Session
	Iterations int64
	Last       *types.Reading
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snap
	if s.Last != nil {
		r := *s.Last
		r.Others = append([]types.BandMean(nil), r.Others...)
		s.Last = &r
	}
	return s
}

// wrapAs makes sure err matches sentinel under errors.Is.
func wrapAs(sentinel error, op string, err error) error {
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
