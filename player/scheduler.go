// Package player plays a rendered event list in real time.
package player

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JeanRibes/midi-tracker/render"
	"github.com/JeanRibes/midi-tracker/score"
	"github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
)

var (
	ErrPlaying        = errors.New("scheduler is playing")
	ErrNotInitialized = errors.New("scheduler has no events")
	ErrInvalidTiming  = errors.New("invalid timing")
)

type State int

const (
	Idle State = iota
	Playing
	Looping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Looping:
		return "looping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Timing is the tempo the tick loop runs at.
type Timing struct {
	BPM          float64
	LinesPerBeat int
	TicksPerLine int
}

// TimingFor returns the timing of a song.
func TimingFor(song *score.Song) Timing {
	return Timing{BPM: float64(song.BPM), LinesPerBeat: song.LinesPerBeat, TicksPerLine: score.TicksPerLine}
}

// TickDuration is 60 / (bpm × linesPerBeat × ticksPerLine) seconds.
func (t Timing) TickDuration() time.Duration {
	return time.Duration(60 * float64(time.Second) / (t.BPM * float64(t.LinesPerBeat) * float64(t.TicksPerLine)))
}

func (t Timing) valid() bool {
	return t.BPM > 0 && t.LinesPerBeat > 0 && t.TicksPerLine > 0
}

// EffectiveTick wraps tick into the window [lo, hi].
func EffectiveTick(tick, lo, hi uint64) uint64 {
	if tick < lo || hi < lo {
		return tick
	}
	return lo + (tick-lo)%(hi-lo+1)
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithNotify makes the scheduler publish a Position message per tick. Sends
// never block: a full channel drops the notification.
func WithNotify(ch chan<- shared.Message) Option {
	return func(s *Scheduler) { s.notify = ch }
}

// WithLocator converts ticks to (position, line) for Position messages.
// Without it Number carries the tick.
func WithLocator(locate func(tick uint64) (position, line int)) Option {
	return func(s *Scheduler) { s.locate = locate }
}

type Scheduler struct {
	sink   OutputSink
	mixer  Mixer
	clock  Clock
	logger *charmlog.Logger
	notify chan<- shared.Message
	locate func(uint64) (int, int)

	mu          sync.Mutex
	state       State
	looping     bool
	byTick      map[uint64][]render.Event
	instruments []*score.Instrument
	minTick     uint64
	maxTick     uint64
	timing      Timing
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(sink OutputSink, mixer Mixer, logger *charmlog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = charmlog.Default().WithPrefix("player")
	}
	done := make(chan struct{})
	close(done)
	s := &Scheduler{
		sink:   sink,
		mixer:  mixer,
		clock:  WallClock(),
		logger: logger,
		done:   done,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads a rendered event list. It fails while playing.
func (s *Scheduler) Initialize(list *render.EventList, timing Timing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		s.logger.Warn("initialize ignored", "err", ErrPlaying)
		return ErrPlaying
	}
	if !timing.valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidTiming, timing)
	}
	s.byTick = make(map[uint64][]render.Event, len(list.Events))
	for _, e := range list.Events {
		s.byTick[e.Tick] = append(s.byTick[e.Tick], e)
	}
	ids := make([]score.InstrumentID, 0, len(list.Instruments))
	for id := range list.Instruments {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	s.instruments = s.instruments[:0]
	for _, id := range ids {
		s.instruments = append(s.instruments, list.Instruments[id])
	}
	s.minTick, s.maxTick = list.MinTick(), list.MaxTick()
	s.timing = timing
	s.logger.Debug("initialized", "events", len(list.Events), "ticks", len(s.byTick), "instruments", len(ids), "min", s.minTick, "max", s.maxTick)
	return nil
}

// instrument looks up an instrument of the last Initialize.
func (s *Scheduler) instrument(id score.InstrumentID) *score.Instrument {
	for _, inst := range s.instruments {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Play starts the tick loop on its own goroutine.
func (s *Scheduler) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		s.logger.Warn("play ignored", "err", ErrPlaying)
		return ErrPlaying
	}
	if s.byTick == nil {
		return ErrNotInitialized
	}
	if len(s.byTick) == 0 {
		s.logger.Info("nothing to play")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Playing
	if s.looping {
		s.state = Looping
	}
	go s.run(ctx, s.done, s.timing.TickDuration())
	s.logger.Info("play", "bpm", s.timing.BPM, "tick", s.timing.TickDuration())
	return nil
}

// Stop cancels playback, waits for the loop to exit, then silences every
// instrument and stops transport. It is safe to call at any time.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
	s.broadcast(true)
	s.logger.Debug("stopped")
}

// SetLooping may be called while playing.
func (s *Scheduler) SetLooping(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.looping = on
	if s.state != Idle {
		s.state = Playing
		if on {
			s.state = Looping
		}
	}
}

func (s *Scheduler) Looping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.looping
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current playback has ended.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}, tickDuration time.Duration) {
	defer close(done)
	anchor := s.clock.Now()
	span := s.maxTick - s.minTick + 1
	finished := false
	for n := uint64(0); ; n++ {
		if ctx.Err() != nil {
			break
		}
		looping := s.Looping()
		if n >= span && !looping {
			finished = true
			break
		}
		tick := EffectiveTick(s.minTick+n, s.minTick, s.maxTick)
		s.publish(tick)
		s.dispatchTick(tick, n < span, looping)
		if err := s.clock.SleepUntil(ctx, anchor.Add(time.Duration(n+1)*tickDuration)); err != nil {
			break
		}
	}
	if finished {
		// transport stop was already dispatched by EndOfSong
		s.broadcast(false)
		s.logger.Info("finished")
	}
	s.mu.Lock()
	s.state = Idle
	s.cancel = nil
	s.mu.Unlock()
}

func (s *Scheduler) publish(tick uint64) {
	if s.notify == nil {
		return
	}
	msg := shared.Message{Type: shared.Position, Number: int(tick)}
	if s.locate != nil {
		msg.Number, msg.Number2 = s.locate(tick)
	}
	select {
	case s.notify <- msg:
	default:
	}
}

func (s *Scheduler) dispatchTick(tick uint64, firstCycle, looping bool) {
	for _, e := range s.byTick[tick] {
		switch e.Kind {
		case render.InstrumentSettings, render.StartOfSong:
			if !firstCycle {
				continue
			}
		case render.EndOfSong:
			if looping {
				continue
			}
		}
		if !s.audible(e) {
			continue
		}
		s.dispatch(e)
	}
}

// audible applies mute and solo. Note-offs always pass so that muting a
// column never leaves a note hanging.
func (s *Scheduler) audible(e render.Event) bool {
	if s.mixer == nil || e.Track < 0 || e.Kind == render.NoteOff {
		return true
	}
	if e.Column < 0 {
		return s.mixer.ShouldTrackPlay(e.Track)
	}
	return s.mixer.ShouldColumnPlay(e.Track, e.Column)
}

// dispatch forwards one event to the sink. Sink failures are logged and
// playback continues.
func (s *Scheduler) dispatch(e render.Event) {
	inst := s.instrument(e.Instrument)
	if inst == nil {
		s.logger.Warn("event without instrument", "event", e)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sink panic", "event", e, "panic", r)
		}
	}()
	var err error
	switch e.Kind {
	case render.InstrumentSettings:
		err = s.sink.ApplySettings(inst)
	case render.StartOfSong:
		err = s.sink.SendStart(inst)
	case render.MidiClock:
		err = s.sink.SendClock(inst)
	case render.NoteOff:
		err = s.sink.StopNote(inst, e.Pitch)
	case render.MidiCc:
		err = s.sink.SendCC(inst, e.Controller, e.Value)
	case render.PitchBend:
		err = s.sink.SendPitchBend(inst, e.Bend)
	case render.NoteOn:
		velocity := e.Velocity
		if s.mixer != nil {
			velocity = s.mixer.EffectiveVelocity(e.Track, e.Column, velocity)
		}
		err = s.sink.PlayNote(inst, e.Pitch, velocity)
	case render.EndOfSong:
		err = s.sink.SendStop(inst)
	}
	if err != nil {
		s.logger.Error("dispatch", "event", e, "instrument", inst.Name, "err", err)
	}
}

// broadcast sends all-notes-off to every instrument, and transport stop to
// those that opted in when transport is set.
func (s *Scheduler) broadcast(transport bool) {
	s.mu.Lock()
	instruments := slices.Clone(s.instruments)
	s.mu.Unlock()
	for _, inst := range instruments {
		s.guard(inst, "stop all notes", s.sink.StopAllNotes)
		if transport && inst.Settings.SendTransport {
			s.guard(inst, "transport stop", s.sink.SendStop)
		}
	}
}

func (s *Scheduler) guard(inst *score.Instrument, what string, fn func(*score.Instrument) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(what, "instrument", inst.Name, "panic", r)
		}
	}()
	if err := fn(inst); err != nil {
		s.logger.Error(what, "instrument", inst.Name, "err", err)
	}
}
