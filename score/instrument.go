package score

import (
	"fmt"
	"slices"
)

// InstrumentID is a stable handle into a song's instrument arena. Tracks and
// rendered events refer to instruments only through it.
type InstrumentID int

// NoInstrument marks a track without an assigned instrument.
const NoInstrument InstrumentID = 0

const (
	NumChannels       = 16
	PercussionChannel = 9
)

type (
	// Instrument is a destination for events: a port name and a channel,
	// plus the settings re-sent on every InstrumentSettings event.
	Instrument struct {
		ID       InstrumentID
		Name     string
		Port     string
		Channel  uint8
		Settings InstrumentSettings
	}

	InstrumentSettings struct {
		Program       Program
		Bank          Bank
		SendMidiClock bool
		SendTransport bool
		// AutoNoteOffOffset overrides the renderer's default gap, in ticks,
		// between an implicit note-off and the note-on that caused it. Zero
		// keeps the default.
		AutoNoteOffOffset int
		StaticCC          []StaticCC
	}

	Program struct {
		Enabled bool
		Number  uint8
	}

	Bank struct {
		Enabled bool
		MSB     uint8
		LSB     uint8
		// SwapMSBLSB sends the LSB before the MSB; some synths want that.
		SwapMSBLSB bool
	}

	// StaticCC is a controller value sent along with the instrument settings.
	StaticCC struct {
		Enabled    bool
		Controller uint8
		Value      uint8
	}

	// Instruments is an arena of instruments keyed by id. Ids are never
	// reused within one arena.
	Instruments struct {
		next  InstrumentID
		items map[InstrumentID]*Instrument
	}
)

func NewInstruments() *Instruments {
	return &Instruments{next: 1, items: map[InstrumentID]*Instrument{}}
}

// Add stores a copy of inst under a fresh id and returns it.
func (a *Instruments) Add(inst Instrument) *Instrument {
	if a.items == nil {
		a.items = map[InstrumentID]*Instrument{}
		a.next = 1
	}
	inst.ID = a.next
	a.next++
	stored := inst
	a.items[stored.ID] = &stored
	return &stored
}

func (a *Instruments) Get(id InstrumentID) (*Instrument, bool) {
	inst, ok := a.items[id]
	return inst, ok
}

func (a *Instruments) Remove(id InstrumentID) error {
	if _, ok := a.items[id]; !ok {
		return fmt.Errorf("%w: %d", ErrInstrumentNotFound, id)
	}
	delete(a.items, id)
	return nil
}

// All returns the instruments ordered by id.
func (a *Instruments) All() []*Instrument {
	all := make([]*Instrument, 0, len(a.items))
	for _, inst := range a.items {
		all = append(all, inst)
	}
	slices.SortFunc(all, func(x, y *Instrument) int { return int(x.ID) - int(y.ID) })
	return all
}

func (a *Instruments) Len() int {
	return len(a.items)
}

// FindByName returns the first instrument with the given name.
func (a *Instruments) FindByName(name string) (*Instrument, bool) {
	for _, inst := range a.All() {
		if inst.Name == name {
			return inst, true
		}
	}
	return nil, false
}

// DefaultInstrumentID is the id synthesised for a track without instrument.
// It is negative so it never collides with arena ids.
func DefaultInstrumentID(track int) InstrumentID {
	return InstrumentID(-(track + 1))
}

// DefaultInstrument is used when a track has no instrument assigned: the
// default port, one channel per track skipping the percussion channel.
func DefaultInstrument(track int) *Instrument {
	return &Instrument{
		ID:      DefaultInstrumentID(track),
		Name:    DefaultTrackName(track),
		Channel: ChannelForIndex(track),
	}
}

// ChannelForIndex maps a running index onto the 15 melodic channels.
func ChannelForIndex(i int) uint8 {
	ch := uint8(i % (NumChannels - 1))
	if ch >= PercussionChannel {
		ch++
	}
	return ch
}
