package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/score"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const sample = `
log_level: debug
song:
  bpm: 98
  tracks: 2
  lines: 32
output:
  backend: Serial
  serial: /dev/ttyUSB0
import:
  pattern_length: 16
  quantize_note_on: true
instruments:
  - name: bass
    port: "FLUID Synth"
    channel: 3
    program: 33
    bank: {msb: 1, lsb: 2}
    cc: {74: 20, 7: 100}
  - name: drums
    channel: 9
    transport: true
    clock: true
tracks:
  - index: 0
    name: Bass
    instrument: bass
  - index: 3
    instrument: drums
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if c.Level() != charmlog.DebugLevel {
		t.Errorf("level = %v", c.Level())
	}
	if c.Song.BPM != 98 || c.Song.LinesPerBeat != score.DefaultLinesPerBeat {
		t.Errorf("song = %+v", c.Song)
	}
	if c.Output.Backend != BackendSerial || c.Output.Baud != 31250 {
		t.Errorf("output = %+v", c.Output)
	}
	if c.AutoNoteOffOffset != 1 {
		t.Errorf("auto note-off offset = %d", c.AutoNoteOffOffset)
	}
	opts := c.ImportOptions(midifile.Merge)
	if opts.Mode != midifile.Merge || opts.PatternLength != 16 || !opts.QuantizeNoteOn || opts.QuantizeNoteOff {
		t.Errorf("import options = %+v", opts)
	}
}

func TestNewSongAppliesInstruments(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	song, err := c.NewSong()
	if err != nil {
		t.Fatal(err)
	}
	if song.BPM != 98 || song.TrackCount() != 4 {
		t.Fatalf("bpm %d, %d tracks", song.BPM, song.TrackCount())
	}
	if song.TrackName(0) != "Bass" {
		t.Errorf("track 0 name = %q", song.TrackName(0))
	}
	bass, ok := song.Instruments.Get(song.TrackInstrument(0))
	if !ok {
		t.Fatal("track 0 has no instrument")
	}
	s := bass.Settings
	if bass.Channel != 3 || bass.Port != "FLUID Synth" || !s.Program.Enabled || s.Program.Number != 33 || !s.Bank.Enabled || s.Bank.LSB != 2 {
		t.Errorf("bass = %+v", bass)
	}
	if len(s.StaticCC) != 2 || s.StaticCC[0].Controller != 7 || s.StaticCC[1].Value != 20 {
		t.Errorf("static CCs = %+v", s.StaticCC)
	}
	drums, ok := song.Instruments.Get(song.TrackInstrument(3))
	if !ok || !drums.Settings.SendTransport || !drums.Settings.SendMidiClock {
		t.Errorf("drums = %+v", drums)
	}
	if song.TrackInstrument(1) != score.NoInstrument {
		t.Error("track 1 should keep its default instrument")
	}

	if err := c.Apply(song); err != nil {
		t.Fatal(err)
	}
	if song.Instruments.Len() != 2 {
		t.Errorf("applying twice gave %d instruments", song.Instruments.Len())
	}
}

func TestValidate(t *testing.T) {
	for name, doc := range map[string]string{
		"level":      "log_level: loud",
		"backend":    "output: {backend: jack}",
		"lines":      "song: {lines: 1000}",
		"channel":    "instruments: [{name: x, channel: 16}]",
		"duplicate":  "instruments: [{name: x}, {name: x}]",
		"unknown":    "tracks: [{index: 0, instrument: nope}]",
		"bad offset": "auto_note_off_offset: -2",
	} {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := Parse([]byte("song: [")); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("song: {bpm: 140}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Song.BPM != 140 || c.Output.Backend != BackendPorts {
		t.Errorf("config = %+v", c)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}

func TestImportKeepsSongBlock(t *testing.T) {
	c, err := Parse([]byte(`
song:
  bpm: 98
  lines_per_beat: 8
  tracks: 3
  lines: 32
`))
	if err != nil {
		t.Fatal(err)
	}
	// one beat of 60 at 96 ticks per quarter, no tempo event
	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(96, midi.NoteOff(0, 60))
	tr.Close(0)
	file := smf.New()
	file.TimeFormat = smf.MetricTicks(96)
	if err := file.Add(tr); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	f, err := midifile.Parse(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}

	song, err := c.NewSong()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := midifile.Import(context.Background(), f, song, c.ImportOptions(midifile.Fresh)); err != nil {
		t.Fatal(err)
	}
	if err := c.Fit(song); err != nil {
		t.Fatal(err)
	}
	if song.BPM != 98 || song.LinesPerBeat != 8 || song.TrackCount() != 3 {
		t.Errorf("bpm %d, %d lines per beat, %d tracks", song.BPM, song.LinesPerBeat, song.TrackCount())
	}
	p, err := song.Pattern(0)
	if err != nil {
		t.Fatal(err)
	}
	if p.LineCount() != 32 {
		t.Errorf("pattern 0 has %d lines, want 32", p.LineCount())
	}
	// a beat is eight lines on this grid
	col, _ := p.Column(0, 0)
	if off, _ := col.Note(8); off.Kind != score.NoteOff {
		t.Errorf("line 8 = %v, want the note-off", off)
	}
}
