package render

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/JeanRibes/midi-tracker/score"
)

// Kind tags the variant of an Event. The declaration order is also the
// priority of events sharing a tick: settings and transport first, note-offs
// before controller data, note-ons last but before the end marker.
type Kind uint8

const (
	InstrumentSettings Kind = iota
	StartOfSong
	MidiClock
	NoteOff
	MidiCc
	PitchBend
	NoteOn
	EndOfSong
)

func (k Kind) String() string {
	switch k {
	case InstrumentSettings:
		return "settings"
	case StartOfSong:
		return "start"
	case MidiClock:
		return "clock"
	case NoteOff:
		return "note-off"
	case MidiCc:
		return "cc"
	case PitchBend:
		return "pitch-bend"
	case NoteOn:
		return "note-on"
	case EndOfSong:
		return "end"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Event is one flattened, time-stamped occurrence. Track and Column name the
// origin for mixer filtering; Column is -1 for track-level events and Track
// is -1 for instrument-level events.
type Event struct {
	Tick       uint64
	Kind       Kind
	Track      int
	Column     int
	Pitch      uint8
	Velocity   uint8
	Controller uint8
	Value      uint8
	Bend       int16
	Instrument score.InstrumentID
	// Synthetic marks note-offs the renderer inserted itself.
	Synthetic bool
}

func (e Event) String() string {
	switch e.Kind {
	case NoteOn:
		return fmt.Sprintf("%d %s t%d c%d %d/%d", e.Tick, e.Kind, e.Track, e.Column, e.Pitch, e.Velocity)
	case NoteOff:
		return fmt.Sprintf("%d %s t%d c%d %d", e.Tick, e.Kind, e.Track, e.Column, e.Pitch)
	case MidiCc:
		return fmt.Sprintf("%d %s t%d cc%d=%d", e.Tick, e.Kind, e.Track, e.Controller, e.Value)
	case PitchBend:
		return fmt.Sprintf("%d %s t%d %d", e.Tick, e.Kind, e.Track, e.Bend)
	}
	return fmt.Sprintf("%d %s i%d", e.Tick, e.Kind, e.Instrument)
}

// EventList is the result of one render pass. StartTick and EndTick bound
// the rendered range, EndTick inclusive; closing note-offs land on
// EndTick+1.
type EventList struct {
	Events      []Event
	Instruments map[score.InstrumentID]*score.Instrument
	StartTick   uint64
	EndTick     uint64
}

// Instrument resolves an event's instrument id.
func (l *EventList) Instrument(id score.InstrumentID) *score.Instrument {
	return l.Instruments[id]
}

func (l *EventList) MinTick() uint64 {
	if len(l.Events) == 0 {
		return l.StartTick
	}
	return l.Events[0].Tick
}

func (l *EventList) MaxTick() uint64 {
	if len(l.Events) == 0 {
		return l.EndTick
	}
	return l.Events[len(l.Events)-1].Tick
}

// Filter returns the events for which keep returns true, in order.
func (l *EventList) Filter(keep func(Event) bool) []Event {
	var out []Event
	for _, e := range l.Events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func compareEvents(a, b Event) int {
	if c := cmp.Compare(a.Tick, b.Tick); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// Sort orders events by tick then kind priority, keeping emission order
// otherwise.
func Sort(events []Event) {
	slices.SortStableFunc(events, compareEvents)
}
