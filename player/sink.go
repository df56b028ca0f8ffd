package player

import (
	"context"
	"time"

	"github.com/JeanRibes/midi-tracker/score"
)

// OutputSink receives dispatched events, addressed by instrument. The
// instrument carries the port name and channel.
type OutputSink interface {
	PlayNote(inst *score.Instrument, pitch, velocity uint8) error
	StopNote(inst *score.Instrument, pitch uint8) error
	SendCC(inst *score.Instrument, controller, value uint8) error
	SendPitchBend(inst *score.Instrument, bend int16) error
	SendClock(inst *score.Instrument) error
	SendStart(inst *score.Instrument) error
	SendStop(inst *score.Instrument) error
	StopAllNotes(inst *score.Instrument) error
	// ApplySettings sends bank, program and static controller values.
	ApplySettings(inst *score.Instrument) error
}

// Mixer decides which origins play and at which velocity. *mixer.State
// implements it.
type Mixer interface {
	ShouldTrackPlay(track int) bool
	ShouldColumnPlay(track, column int) bool
	EffectiveVelocity(track, column int, velocity uint8) uint8
}

// Clock is the time source of the tick loop.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done, returning ctx.Err()
	// in the latter case.
	SleepUntil(ctx context.Context, t time.Time) error
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WallClock is the real-time clock.
func WallClock() Clock {
	return wallClock{}
}
