// Package config reads the tracker's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/output"
	"github.com/JeanRibes/midi-tracker/render"
	"github.com/JeanRibes/midi-tracker/score"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const (
	BackendPorts  = "ports"
	BackendSerial = "serial"
	BackendLog    = "log"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel string `yaml:"log_level"`
	Song     Song   `yaml:"song"`
	// AutoNoteOffOffset is the gap in ticks between an implicit note-off and
	// the note-on that caused it.
	AutoNoteOffOffset int          `yaml:"auto_note_off_offset"`
	Output            Output       `yaml:"output"`
	Import            Import       `yaml:"import"`
	Instruments       []Instrument `yaml:"instruments"`
	Tracks            []Track      `yaml:"tracks"`
}

type Song struct {
	BPM          int `yaml:"bpm"`
	LinesPerBeat int `yaml:"lines_per_beat"`
	Tracks       int `yaml:"tracks"`
	Lines        int `yaml:"lines"`
}

type Output struct {
	Backend string `yaml:"backend"`
	// Port is used by instruments without a port of their own.
	Port   string `yaml:"port"`
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
}

type Import struct {
	PatternLength   int  `yaml:"pattern_length"`
	QuantizeNoteOn  bool `yaml:"quantize_note_on"`
	QuantizeNoteOff bool `yaml:"quantize_note_off"`
	Prequantize     bool `yaml:"prequantize"`
}

type Instrument struct {
	Name      string `yaml:"name"`
	Port      string `yaml:"port"`
	Channel   uint8  `yaml:"channel"`
	Program   *uint8 `yaml:"program"`
	Bank      *Bank  `yaml:"bank"`
	Clock     bool   `yaml:"clock"`
	Transport bool   `yaml:"transport"`
	// AutoNoteOffOffset overrides the global value for this instrument.
	AutoNoteOffOffset int             `yaml:"auto_note_off_offset"`
	CC                map[uint8]uint8 `yaml:"cc"`
}

type Bank struct {
	MSB  uint8 `yaml:"msb"`
	LSB  uint8 `yaml:"lsb"`
	Swap bool  `yaml:"swap"`
}

// Track assigns a name and an instrument, by name, to a track index.
type Track struct {
	Index      int    `yaml:"index"`
	Name       string `yaml:"name"`
	Instrument string `yaml:"instrument"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Song: Song{
			BPM:          score.DefaultBPM,
			LinesPerBeat: score.DefaultLinesPerBeat,
			Tracks:       1,
			Lines:        score.DefaultLineCount,
		},
		AutoNoteOffOffset: render.DefaultAutoNoteOffTickOffset,
		Output:            Output{Backend: BackendPorts, Baud: output.DINBaudRate},
	}
}

// Load reads a configuration file. Missing values take their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	c.fill()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// fill restores defaults for values explicitly set to zero.
func (c *Config) fill() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Song.BPM == 0 {
		c.Song.BPM = d.Song.BPM
	}
	if c.Song.LinesPerBeat == 0 {
		c.Song.LinesPerBeat = d.Song.LinesPerBeat
	}
	if c.Song.Tracks == 0 {
		c.Song.Tracks = d.Song.Tracks
	}
	if c.Song.Lines == 0 {
		c.Song.Lines = d.Song.Lines
	}
	if c.AutoNoteOffOffset == 0 {
		c.AutoNoteOffOffset = d.AutoNoteOffOffset
	}
	if c.Output.Backend == "" {
		c.Output.Backend = d.Output.Backend
	}
	c.Output.Backend = strings.ToLower(c.Output.Backend)
	if c.Output.Baud == 0 {
		c.Output.Baud = d.Output.Baud
	}
}

func (c Config) Validate() (errs error) {
	if _, err := charmlog.ParseLevel(c.LogLevel); err != nil {
		errs = errors.Join(errs, fmt.Errorf("%w: log_level: %w", ErrInvalid, err))
	}
	if c.Song.BPM < 1 || c.Song.LinesPerBeat < 1 || c.Song.Tracks < 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: song %+v", ErrInvalid, c.Song))
	}
	if c.Song.Lines < score.MinLineCount || c.Song.Lines > score.MaxLineCount {
		errs = errors.Join(errs, fmt.Errorf("%w: song lines %d", ErrInvalid, c.Song.Lines))
	}
	if c.AutoNoteOffOffset < 1 {
		errs = errors.Join(errs, fmt.Errorf("%w: auto_note_off_offset %d", ErrInvalid, c.AutoNoteOffOffset))
	}
	switch c.Output.Backend {
	case BackendPorts, BackendSerial, BackendLog:
	default:
		errs = errors.Join(errs, fmt.Errorf("%w: output backend %q", ErrInvalid, c.Output.Backend))
	}
	names := map[string]bool{}
	for _, inst := range c.Instruments {
		if inst.Name == "" || names[inst.Name] {
			errs = errors.Join(errs, fmt.Errorf("%w: instrument name %q missing or repeated", ErrInvalid, inst.Name))
		}
		names[inst.Name] = true
		if inst.Channel >= score.NumChannels {
			errs = errors.Join(errs, fmt.Errorf("%w: instrument %q channel %d", ErrInvalid, inst.Name, inst.Channel))
		}
	}
	for _, t := range c.Tracks {
		if t.Index < 0 {
			errs = errors.Join(errs, fmt.Errorf("%w: track index %d", ErrInvalid, t.Index))
		}
		if t.Instrument != "" && !names[t.Instrument] {
			errs = errors.Join(errs, fmt.Errorf("%w: track %d uses unknown instrument %q", ErrInvalid, t.Index, t.Instrument))
		}
	}
	return errs
}

func (c Config) Level() charmlog.Level {
	level, err := charmlog.ParseLevel(c.LogLevel)
	if err != nil {
		return charmlog.InfoLevel
	}
	return level
}

// NewSong creates a song sized and timed by the configuration, with the
// configured instruments and track assignments applied.
func (c Config) NewSong() (*score.Song, error) {
	song, err := score.NewSong(c.Song.Tracks, c.Song.Lines)
	if err != nil {
		return nil, err
	}
	song.BPM = c.Song.BPM
	song.LinesPerBeat = c.Song.LinesPerBeat
	if err := c.Apply(song); err != nil {
		return nil, err
	}
	return song, nil
}

// Fit brings an imported song up to the song block: at least Tracks
// tracks, and a song made of one pattern gets at least Lines lines.
func (c Config) Fit(song *score.Song) error {
	song.EnsureTracks(c.Song.Tracks)
	indices := song.PatternIndices()
	if len(indices) != 1 {
		return nil
	}
	p, err := song.Pattern(indices[0])
	if err != nil {
		return err
	}
	if p.LineCount() < c.Song.Lines {
		return p.SetLineCount(c.Song.Lines)
	}
	return nil
}

// Apply adds the configured instruments to the song, unless one with the
// same name exists, and applies the track assignments.
func (c Config) Apply(song *score.Song) (errs error) {
	for _, inst := range c.Instruments {
		if _, ok := song.Instruments.FindByName(inst.Name); ok {
			continue
		}
		song.Instruments.Add(inst.instrument())
	}
	for _, t := range c.Tracks {
		song.EnsureTracks(t.Index + 1)
		if t.Name != "" {
			if err := song.SetTrackName(t.Index, t.Name); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		if t.Instrument == "" {
			continue
		}
		inst, ok := song.Instruments.FindByName(t.Instrument)
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("%w: unknown instrument %q", ErrInvalid, t.Instrument))
			continue
		}
		if err := song.SetTrackInstrument(t.Index, inst.ID); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (i Instrument) instrument() score.Instrument {
	inst := score.Instrument{
		Name:    i.Name,
		Port:    i.Port,
		Channel: i.Channel,
		Settings: score.InstrumentSettings{
			SendMidiClock:     i.Clock,
			SendTransport:     i.Transport,
			AutoNoteOffOffset: i.AutoNoteOffOffset,
		},
	}
	if i.Program != nil {
		inst.Settings.Program = score.Program{Enabled: true, Number: *i.Program}
	}
	if i.Bank != nil {
		inst.Settings.Bank = score.Bank{Enabled: true, MSB: i.Bank.MSB, LSB: i.Bank.LSB, SwapMSBLSB: i.Bank.Swap}
	}
	for controller := range uint8(128) {
		if value, ok := i.CC[controller]; ok {
			inst.Settings.StaticCC = append(inst.Settings.StaticCC, score.StaticCC{Enabled: true, Controller: controller, Value: value})
		}
	}
	return inst
}

func (c Config) RenderOptions() render.Options {
	opts := render.PlaybackOptions()
	opts.AutoNoteOffTickOffset = c.AutoNoteOffOffset
	return opts
}

func (c Config) ExportOptions() midifile.ExportOptions {
	return midifile.ExportOptions{AutoNoteOffTickOffset: c.AutoNoteOffOffset}
}

func (c Config) ImportOptions(mode midifile.Mode) midifile.ImportOptions {
	return midifile.ImportOptions{
		Mode:            mode,
		PatternLength:   c.Import.PatternLength,
		QuantizeNoteOn:  c.Import.QuantizeNoteOn,
		QuantizeNoteOff: c.Import.QuantizeNoteOff,
		Prequantize:     c.Import.Prequantize,
		DefaultBPM:      c.Song.BPM,
	}
}
