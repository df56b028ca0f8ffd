// Package music owns the song being worked on and drives playback, import
// and export from control messages.
package music

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/mixer"
	"github.com/JeanRibes/midi-tracker/player"
	"github.com/JeanRibes/midi-tracker/render"
	"github.com/JeanRibes/midi-tracker/score"
	. "github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
)

// Options are the render, export and import settings of a session.
type Options struct {
	Render render.Options
	Export midifile.ExportOptions
	Import midifile.ImportOptions
}

func DefaultOptions() Options {
	return Options{Render: render.PlaybackOptions()}
}

// Session is a song with its mixer and scheduler. Only the control loop
// touches the song; the scheduler works on rendered copies.
type Session struct {
	Mixer   *mixer.State
	Player  *player.Scheduler
	Options Options

	logger *charmlog.Logger
	mu     sync.RWMutex
	song   *score.Song
}

// NewSession wires a scheduler to sink. Position messages go to notify
// when it is not nil.
func NewSession(song *score.Song, sink player.OutputSink, logger *charmlog.Logger, notify chan<- Message, opts ...player.Option) *Session {
	if logger == nil {
		logger = charmlog.Default().WithPrefix("music")
	}
	s := &Session{
		Mixer:   mixer.New(),
		Options: DefaultOptions(),
		logger:  logger,
		song:    song,
	}
	opts = append([]player.Option{player.WithLocator(s.locate)}, opts...)
	if notify != nil {
		opts = append(opts, player.WithNotify(notify))
	}
	s.Player = player.New(sink, s.Mixer, logger.WithPrefix("player"), opts...)
	return s
}

func (s *Session) Song() *score.Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.song
}

func (s *Session) setSong(song *score.Song) {
	s.mu.Lock()
	s.song = song
	s.mu.Unlock()
}

// locate maps a tick to the song position and line shown to the user.
func (s *Session) locate(tick uint64) (int, int) {
	position, line, err := s.Song().TickToPosition(tick)
	if err != nil {
		return -1, -1
	}
	return position, line
}

// Play renders positions [start, end) and starts the scheduler. An end of 0
// means the end of the song.
func (s *Session) Play(start, end int) error {
	song := s.Song()
	if end <= 0 {
		end = song.PlayOrderLength()
	}
	list, err := render.Render(song, start, end, s.Options.Render)
	if err != nil {
		return err
	}
	if err := s.Player.Initialize(list, player.TimingFor(song)); err != nil {
		return err
	}
	return s.Player.Play()
}

func (s *Session) Stop() {
	s.Player.Stop()
}

func (s *Session) Playing() bool {
	return s.Player.State() != player.Idle
}

// Export writes the song as a MIDI file, filtered by the mixer. A missing
// .mid suffix is added; the written path is returned.
func (s *Session) Export(path string) (string, error) {
	if !strings.HasSuffix(path, ".mid") {
		path += ".mid"
	}
	opts := s.Options.Export
	opts.Mixer = s.Mixer
	if err := midifile.ExportFile(path, s.Song(), opts); err != nil {
		return path, err
	}
	s.logger.Info("exported", "file", path)
	return path, nil
}

// Import loads a MIDI file into the song. Playback is stopped first.
func (s *Session) Import(ctx context.Context, path string, mode midifile.Mode) (*midifile.Result, error) {
	if s.Playing() {
		s.Stop()
	}
	opts := s.Options.Import
	opts.Mode = mode
	song := s.Song()
	res, err := midifile.ImportFile(charmlog.WithContext(ctx, s.logger), path, song, opts)
	if err != nil {
		return nil, err
	}
	if mode == midifile.Fresh {
		s.Mixer.Reset()
	}
	s.logger.Info("imported", "file", path, "mode", mode, "tracks", len(res.Tracks), "notes", res.Notes, "patterns", res.Patterns)
	return res, nil
}

// Quantize snaps every note of the song to the grid. The song goes through
// a MIDI file and the quantizer, then replaces the current one: the play
// order comes back flattened and automation is not carried over.
func (s *Session) Quantize(ctx context.Context) error {
	if s.Playing() {
		s.Stop()
	}
	var buf bytes.Buffer
	if err := midifile.Export(&buf, s.Song(), s.Options.Export); err != nil {
		return err
	}
	data, err := midifile.Prequantize(buf.Bytes())
	if err != nil {
		return err
	}
	ctx = charmlog.WithContext(ctx, s.logger)
	f, err := midifile.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return err
	}
	old := s.Song()
	song, err := score.NewSong(old.TrackCount(), score.DefaultLineCount)
	if err != nil {
		return err
	}
	song.LinesPerBeat = old.LinesPerBeat
	opts := s.Options.Import
	opts.Mode = midifile.Fresh
	if opts.PatternLength == 0 {
		if p, err := old.PatternAtPosition(0); err == nil {
			opts.PatternLength = p.LineCount()
		}
	}
	if _, err := midifile.Import(ctx, f, song, opts); err != nil {
		return err
	}
	song.EnsureTracks(old.TrackCount())
	song.Instruments = old.Instruments
	song.SideChains = old.SideChains
	var errs error
	for track := range old.TrackCount() {
		errs = errors.Join(errs,
			song.SetTrackName(track, old.TrackName(track)),
			song.SetTrackInstrument(track, old.TrackInstrument(track)))
	}
	if errs != nil {
		return errs
	}
	s.setSong(song)
	s.logger.Info("quantized", "tracks", song.TrackCount())
	return nil
}
