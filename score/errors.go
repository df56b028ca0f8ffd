package score

import "errors"

var (
	ErrPatternNotFound     = errors.New("pattern not found")
	ErrPatternExists       = errors.New("pattern already exists")
	ErrPositionOutOfRange  = errors.New("song position out of range")
	ErrTrackOutOfRange     = errors.New("track out of range")
	ErrColumnOutOfRange    = errors.New("column out of range")
	ErrLineOutOfRange      = errors.New("line out of range")
	ErrInvalidLineCount    = errors.New("invalid line count")
	ErrInvalidPitch        = errors.New("pitch should be 0-127")
	ErrInvalidVelocity     = errors.New("velocity should be 0-127")
	ErrInvalidDelay        = errors.New("delay should be 0-24 ticks")
	ErrInvalidTempo        = errors.New("BPM should be > 0")
	ErrInvalidLinesPerBeat = errors.New("lines per beat should be > 0")
	ErrTopologyMismatch    = errors.New("patterns have different track counts")
	ErrInstrumentNotFound  = errors.New("instrument not found")
	ErrAutomationNotFound  = errors.New("automation not found")
)
