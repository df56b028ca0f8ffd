package score

import "fmt"

// NoteKind tags the variant held by a NoteData slot.
type NoteKind uint8

const (
	NoteNone NoteKind = iota
	NoteOn
	NoteOff
)

const (
	MaxPitch    = 127
	MaxVelocity = 127
	MaxDelay    = TicksPerLine
)

// NoteData is the content of one grid slot: nothing, a note-on or a note-off.
// Pitch is meaningful for NoteOn, and for NoteOff only when HasPitch is set.
// Track and Column record where the slot lives so that events can be
// attributed after flattening.
type NoteData struct {
	Kind     NoteKind
	Pitch    uint8
	HasPitch bool
	Velocity uint8
	Delay    uint8
	Track    int
	Column   int
}

// NewNoteOn validates and builds a note-on slot value.
func NewNoteOn(pitch, velocity, delay uint8) (NoteData, error) {
	if pitch > MaxPitch {
		return NoteData{}, fmt.Errorf("%w: %d", ErrInvalidPitch, pitch)
	}
	if velocity > MaxVelocity {
		return NoteData{}, fmt.Errorf("%w: %d", ErrInvalidVelocity, velocity)
	}
	if delay > MaxDelay {
		return NoteData{}, fmt.Errorf("%w: %d", ErrInvalidDelay, delay)
	}
	return NoteData{Kind: NoteOn, Pitch: pitch, HasPitch: true, Velocity: velocity, Delay: delay}, nil
}

// NewNoteOff builds a note-off that ends whatever is sounding in its column.
func NewNoteOff() NoteData {
	return NoteData{Kind: NoteOff}
}

// NewNoteOffPitch builds a note-off for a specific pitch.
func NewNoteOffPitch(pitch, delay uint8) (NoteData, error) {
	if pitch > MaxPitch {
		return NoteData{}, fmt.Errorf("%w: %d", ErrInvalidPitch, pitch)
	}
	if delay > MaxDelay {
		return NoteData{}, fmt.Errorf("%w: %d", ErrInvalidDelay, delay)
	}
	return NoteData{Kind: NoteOff, Pitch: pitch, HasPitch: true, Delay: delay}, nil
}

func (n NoteData) IsNone() bool {
	return n.Kind == NoteNone
}

func (n NoteData) String() string {
	switch n.Kind {
	case NoteOn:
		return fmt.Sprintf("on %d/%d +%d", n.Pitch, n.Velocity, n.Delay)
	case NoteOff:
		if n.HasPitch {
			return fmt.Sprintf("off %d +%d", n.Pitch, n.Delay)
		}
		return "off"
	case NoteNone:
		return "---"
	}
	return "???"
}
