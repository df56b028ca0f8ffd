// Package midifile converts songs to and from Standard MIDI Files.
package midifile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/JeanRibes/midi-tracker/output"
	"github.com/JeanRibes/midi-tracker/render"
	"github.com/JeanRibes/midi-tracker/score"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

var (
	ErrNoTracks        = errors.New("song has no tracks")
	ErrNothingToExport = errors.New("no audible events to export")
	ErrSMPTE           = errors.New("SMPTE time division is not supported")
	ErrInvalidHeader   = errors.New("invalid MIDI file header")
	ErrNoMidiTracks    = errors.New("no readable tracks")
)

const (
	// metaPort is the MIDI port meta event type.
	metaPort = 0x21

	ccBankMSB = 0
	ccBankLSB = 32
)

// Mixer filters exported events the way live playback does.
type Mixer interface {
	ShouldTrackPlay(track int) bool
	ShouldColumnPlay(track, column int) bool
	EffectiveVelocity(track, column int, velocity uint8) uint8
}

type ExportOptions struct {
	// Start and End select the half-open song position range. End 0 means
	// the end of the song.
	Start, End int
	Mixer      Mixer
	// AutoNoteOffTickOffset overrides the renderer default when positive.
	AutoNoteOffTickOffset int
}

// outputTrack is one active source track of an export.
type outputTrack struct {
	track   int
	name    string
	channel uint8
	port    uint8
	inst    *score.Instrument
	events  []render.Event
}

// Encode renders the song and builds the multi-track file: a tempo track
// followed by one track per source track that produced events.
func Encode(song *score.Song, opts ExportOptions) (*smf.SMF, error) {
	if song.TrackCount() == 0 {
		return nil, ErrNoTracks
	}
	end := opts.End
	if end == 0 {
		end = song.PlayOrderLength()
	}
	ropts := render.ExportOptions()
	if opts.AutoNoteOffTickOffset > 0 {
		ropts.AutoNoteOffTickOffset = opts.AutoNoteOffTickOffset
	}
	list, err := render.Render(song, opts.Start, end, ropts)
	if err != nil {
		return nil, err
	}
	var base uint64
	if opts.Start > 0 {
		base = list.MinTick()
	}

	byTrack := map[int]*outputTrack{}
	for _, e := range list.Events {
		if e.Track < 0 || !exportable(e.Kind) || !audible(opts.Mixer, e) {
			continue
		}
		if e.Kind == render.NoteOn && opts.Mixer != nil {
			e.Velocity = opts.Mixer.EffectiveVelocity(e.Track, e.Column, e.Velocity)
		}
		e.Tick -= base
		t, ok := byTrack[e.Track]
		if !ok {
			t = &outputTrack{track: e.Track, name: song.TrackName(e.Track), inst: list.Instrument(e.Instrument)}
			byTrack[e.Track] = t
		}
		t.events = append(t.events, e)
	}
	if len(byTrack) == 0 {
		return nil, ErrNothingToExport
	}
	tracks := assignOutputs(byTrack)

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(song.TicksPerBeat())
	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(float64(song.BPM)))
	tempo.Close(0)
	var errs error
	if err := file.Add(tempo); err != nil {
		errs = errors.Join(errs, err)
	}
	for _, t := range tracks {
		if err := file.Add(t.encode()); err != nil {
			errs = errors.Join(errs, fmt.Errorf("track %d: %w", t.track, err))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return file, nil
}

// Export writes the song as a Standard MIDI File.
func Export(w io.Writer, song *score.Song, opts ExportOptions) error {
	file, err := Encode(song, opts)
	if err != nil {
		return err
	}
	_, err = file.WriteTo(w)
	return err
}

func ExportFile(path string, song *score.Song, opts ExportOptions) (err error) {
	file, err := Encode(song, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	_, err = file.WriteTo(f)
	return err
}

func exportable(k render.Kind) bool {
	switch k {
	case render.NoteOn, render.NoteOff, render.MidiCc, render.PitchBend:
		return true
	}
	return false
}

func audible(m Mixer, e render.Event) bool {
	if m == nil {
		return true
	}
	if e.Column < 0 {
		return m.ShouldTrackPlay(e.Track)
	}
	return m.ShouldColumnPlay(e.Track, e.Column)
}

// assignOutputs orders the active tracks and gives each the channel of its
// instrument and a port index. Ports are numbered by first use.
func assignOutputs(byTrack map[int]*outputTrack) []*outputTrack {
	indices := make([]int, 0, len(byTrack))
	for track := range byTrack {
		indices = append(indices, track)
	}
	slices.Sort(indices)
	ports := map[string]uint8{}
	tracks := make([]*outputTrack, 0, len(indices))
	for _, track := range indices {
		t := byTrack[track]
		if t.inst == nil {
			t.inst = score.DefaultInstrument(track)
		}
		t.channel = t.inst.Channel % score.NumChannels
		port, ok := ports[t.inst.Port]
		if !ok {
			port = uint8(len(ports))
			ports[t.inst.Port] = port
		}
		t.port = port
		tracks = append(tracks, t)
	}
	return tracks
}

func (t *outputTrack) encode() smf.Track {
	var tr smf.Track
	tr.Add(0, smf.Message{0xFF, metaPort, 0x01, t.port})
	tr.Add(0, smf.MetaTrackSequenceName(t.name))
	for _, msg := range output.SettingsMessages(t.channel, t.inst.Settings) {
		tr.Add(0, msg)
	}
	var last uint64
	for _, e := range t.events {
		msg := t.message(e)
		if msg == nil {
			continue
		}
		tr.Add(uint32(e.Tick-last), msg)
		last = e.Tick
	}
	tr.Close(0)
	return tr
}

func (t *outputTrack) message(e render.Event) midi.Message {
	switch e.Kind {
	case render.NoteOn:
		return midi.NoteOn(t.channel, e.Pitch, e.Velocity)
	case render.NoteOff:
		return midi.NoteOff(t.channel, e.Pitch)
	case render.MidiCc:
		return midi.ControlChange(t.channel, e.Controller, e.Value)
	case render.PitchBend:
		return midi.Pitchbend(t.channel, e.Bend)
	}
	return nil
}
