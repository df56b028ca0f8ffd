// Package render flattens a score into a time-ordered event stream for
// playback and MIDI export.
package render

import (
	"fmt"
	"slices"

	"github.com/JeanRibes/midi-tracker/score"
)

// DefaultAutoNoteOffTickOffset is how many ticks before a colliding note-on
// the implicit note-off of the previous note is placed.
const DefaultAutoNoteOffTickOffset = 1

// ClockPulsesPerBeat is the MIDI clock resolution.
const ClockPulsesPerBeat = 24

type Options struct {
	AutoNoteOffTickOffset int
	// Transport emits StartOfSong and EndOfSong for instruments that want
	// transport messages.
	Transport bool
	// Clock emits MidiClock pulses for instruments that send clock.
	Clock bool
	// Settings emits one InstrumentSettings event per instrument at the
	// start of the range.
	Settings bool
}

// PlaybackOptions are the options used for live playback.
func PlaybackOptions() Options {
	return Options{
		AutoNoteOffTickOffset: DefaultAutoNoteOffTickOffset,
		Transport:             true,
		Clock:                 true,
		Settings:              true,
	}
}

// ExportOptions only render what can be stored in a MIDI file.
func ExportOptions() Options {
	return Options{AutoNoteOffTickOffset: DefaultAutoNoteOffTickOffset}
}

type columnKey struct {
	track, column int
}

type voice struct {
	active bool
	pitch  uint8
	onTick uint64
}

type renderer struct {
	song      *score.Song
	opts      Options
	startTick uint64
	endTick   uint64
	events    []Event
	voices    map[columnKey]*voice
	// voice order, for deterministic closing
	order       []columnKey
	instruments map[int]*score.Instrument
}

// Render flattens the half-open song position range [start, end) into a
// sorted EventList.
func Render(song *score.Song, start, end int, opts Options) (*EventList, error) {
	if start < 0 || end > song.PlayOrderLength() || start >= end {
		return nil, fmt.Errorf("%w: [%d, %d) with %d positions", score.ErrPositionOutOfRange, start, end, song.PlayOrderLength())
	}
	startTick, err := song.PositionToTick(start)
	if err != nil {
		return nil, err
	}
	r := &renderer{
		song:        song,
		opts:        opts,
		startTick:   startTick,
		voices:      map[columnKey]*voice{},
		instruments: map[int]*score.Instrument{},
	}
	patternTick := startTick
	for position := start; position < end; position++ {
		pattern, err := song.PatternAtPosition(position)
		if err != nil {
			return nil, err
		}
		r.renderPattern(pattern, patternTick)
		r.renderAutomation(pattern, patternTick)
		patternTick += uint64(pattern.LineCount()) * score.TicksPerLine
	}
	r.endTick = patternTick - 1
	r.closeDanglingNotes()
	r.injectSideChains()
	list := r.resolveInstruments()
	r.addInstrumentEvents(list)
	list.Events = r.events
	Sort(list.Events)
	return list, nil
}

// RenderSong renders the whole play order.
func RenderSong(song *score.Song, opts Options) (*EventList, error) {
	return Render(song, 0, song.PlayOrderLength(), opts)
}

func (r *renderer) emit(e Event) {
	r.events = append(r.events, e)
}

func (r *renderer) voice(track, column int) *voice {
	k := columnKey{track, column}
	v, ok := r.voices[k]
	if !ok {
		v = &voice{}
		r.voices[k] = v
		r.order = append(r.order, k)
	}
	return v
}

func (r *renderer) renderPattern(p *score.Pattern, patternTick uint64) {
	for _, t := range p.Tracks {
		for _, c := range t.Columns() {
			r.renderColumn(t.Index, c, patternTick)
		}
	}
}

func (r *renderer) renderColumn(track int, c *score.Column, patternTick uint64) {
	for _, line := range c.Lines() {
		n := line.Note
		if n.IsNone() {
			continue
		}
		// a delay never pushes a note into the next line
		delay := min(uint64(n.Delay), score.TicksPerLine-1)
		tick := patternTick + uint64(line.Index)*score.TicksPerLine + delay
		v := r.voice(track, c.Index)
		switch n.Kind {
		case score.NoteOn:
			if v.active {
				r.emit(Event{
					Tick:      r.autoNoteOffTick(track, v.onTick, tick),
					Kind:      NoteOff,
					Track:     track,
					Column:    c.Index,
					Pitch:     v.pitch,
					Synthetic: true,
				})
			}
			r.emit(Event{Tick: tick, Kind: NoteOn, Track: track, Column: c.Index, Pitch: n.Pitch, Velocity: n.Velocity})
			v.active, v.pitch, v.onTick = true, n.Pitch, tick
		case score.NoteOff:
			pitch := n.Pitch
			if !n.HasPitch {
				if !v.active {
					continue
				}
				pitch = v.pitch
			}
			r.emit(Event{Tick: tick, Kind: NoteOff, Track: track, Column: c.Index, Pitch: pitch})
			if v.active && v.pitch == pitch {
				v.active = false
			}
		case score.NoteNone:
		}
	}
}

// autoNoteOffTick places the implicit note-off of a note cut by another
// note-on in the same column. The result is always after the first note-on
// and never after the second one. When the two note-ons are one tick apart
// there is no tick between them, so the note-off shares the second
// note-on's tick and is ordered before it.
func (r *renderer) autoNoteOffTick(track int, prevOn, nextOn uint64) uint64 {
	offset := uint64(r.opts.AutoNoteOffTickOffset)
	if inst := r.instrumentFor(track); inst.Settings.AutoNoteOffOffset > 0 {
		offset = uint64(inst.Settings.AutoNoteOffOffset)
	}
	off := uint64(0)
	if nextOn > offset {
		off = nextOn - offset
	}
	if off <= prevOn {
		off = min(prevOn+1, nextOn)
	}
	return off
}

func (r *renderer) closeDanglingNotes() {
	for _, k := range r.order {
		v := r.voices[k]
		if !v.active {
			continue
		}
		r.emit(Event{
			Tick:      r.endTick + 1,
			Kind:      NoteOff,
			Track:     k.track,
			Column:    k.column,
			Pitch:     v.pitch,
			Synthetic: true,
		})
		v.active = false
	}
}

// instrumentFor resolves a track's instrument once per render pass.
func (r *renderer) instrumentFor(track int) *score.Instrument {
	if inst, ok := r.instruments[track]; ok {
		return inst
	}
	inst, ok := r.song.Instruments.Get(r.song.TrackInstrument(track))
	if !ok {
		inst = score.DefaultInstrument(track)
	}
	r.instruments[track] = inst
	return inst
}

func (r *renderer) resolveInstruments() *EventList {
	list := &EventList{
		Instruments: map[score.InstrumentID]*score.Instrument{},
		StartTick:   r.startTick,
		EndTick:     r.endTick,
	}
	for i := range r.events {
		inst := r.instrumentFor(r.events[i].Track)
		r.events[i].Instrument = inst.ID
		list.Instruments[inst.ID] = inst
	}
	return list
}

func (r *renderer) addInstrumentEvents(list *EventList) {
	ids := make([]score.InstrumentID, 0, len(list.Instruments))
	for id := range list.Instruments {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		inst := list.Instruments[id]
		if r.opts.Settings {
			r.emit(Event{Tick: r.startTick, Kind: InstrumentSettings, Track: -1, Column: -1, Instrument: id})
		}
		if r.opts.Transport && inst.Settings.SendTransport {
			r.emit(Event{Tick: r.startTick, Kind: StartOfSong, Track: -1, Column: -1, Instrument: id})
			r.emit(Event{Tick: r.endTick + 1, Kind: EndOfSong, Track: -1, Column: -1, Instrument: id})
		}
		if r.opts.Clock && inst.Settings.SendMidiClock {
			r.emitClock(id)
		}
	}
}

// emitClock emits 24 pulses per beat, aligned on absolute ticks.
func (r *renderer) emitClock(id score.InstrumentID) {
	interval := uint64(r.song.TicksPerBeat() / ClockPulsesPerBeat)
	if interval == 0 {
		interval = 1
	}
	first := (r.startTick + interval - 1) / interval * interval
	for tick := first; tick <= r.endTick; tick += interval {
		r.emit(Event{Tick: tick, Kind: MidiClock, Track: -1, Column: -1, Instrument: id})
	}
}
