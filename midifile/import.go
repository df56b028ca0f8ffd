package midifile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"

	"github.com/JeanRibes/midi-tracker/score"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/quantizer/lib/quantizer"
)

type Mode int

const (
	// Fresh replaces the song.
	Fresh Mode = iota
	// Merge writes into the existing song.
	Merge
)

func (m Mode) String() string {
	if m == Merge {
		return "merge"
	}
	return "fresh"
}

type ImportOptions struct {
	Mode Mode
	// PatternLength is the line count of created patterns. 0 sizes the
	// first pattern to fit the file, up to the maximum line count.
	PatternLength   int
	QuantizeNoteOn  bool
	QuantizeNoteOff bool
	// Prequantize snaps the file to the grid with the quantizer before
	// parsing. Only used by ImportFile.
	Prequantize bool
	// DefaultBPM is the tempo of a fresh import when the file has no tempo
	// event. 0 means score.DefaultBPM.
	DefaultBPM int
}

// TrackMapping records where a file track landed.
type TrackMapping struct {
	Chunk   int
	Name    string
	Track   int
	Columns int
}

type Result struct {
	Tracks   []TrackMapping
	Notes    int
	Patterns []int
}

// maxPatterns bounds how far an import may extend a song.
const maxPatterns = 4096

var trackNamePattern = regexp.MustCompile(`^Track ([1-9][0-9]*)$`)

// Import fills song with the notes of a parsed file.
func Import(ctx context.Context, f *File, song *score.Song, opts ImportOptions) (*Result, error) {
	logger := charmlog.FromContext(ctx)
	if f.Division == 0 {
		return nil, fmt.Errorf("%w: zero division", ErrInvalidHeader)
	}
	if opts.PatternLength != 0 && (opts.PatternLength < score.MinLineCount || opts.PatternLength > score.MaxLineCount) {
		return nil, fmt.Errorf("%w: %d", score.ErrInvalidLineCount, opts.PatternLength)
	}
	if opts.Mode == Fresh {
		// the grid stays the target song's
		linesPerBeat := song.LinesPerBeat
		song.Reset()
		if linesPerBeat > 0 {
			song.LinesPerBeat = linesPerBeat
		}
		switch {
		case f.Tempo > 0:
			song.BPM = max(1, int(math.Round(f.Tempo)))
		case opts.DefaultBPM > 0:
			song.BPM = opts.DefaultBPM
		}
	}
	imp := &importer{
		song:    song,
		opts:    opts,
		logger:  logger,
		scale:   float64(song.TicksPerBeat()) / float64(f.Division),
		created: map[int]bool{},
	}
	if err := imp.preparePatterns(f); err != nil {
		return nil, err
	}
	result := &Result{}
	for _, t := range imp.assignTracks(f) {
		n, columns, err := imp.importTrack(t.file, t.dest)
		if err != nil {
			return nil, fmt.Errorf("track %q: %w", t.file.Name, err)
		}
		result.Notes += n
		result.Tracks = append(result.Tracks, TrackMapping{Chunk: t.file.Chunk, Name: t.file.Name, Track: t.dest, Columns: columns})
		logger.Debug("imported track", "chunk", t.file.Chunk, "name", t.file.Name, "track", t.dest, "notes", n, "columns", columns)
	}
	if err := imp.finishPlayOrder(); err != nil {
		return nil, err
	}
	result.Patterns = song.PatternIndices()
	return result, nil
}

// ImportFile reads, optionally prequantizes, parses and imports a file.
func ImportFile(ctx context.Context, path string, song *score.Song, opts ImportOptions) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if opts.Prequantize {
		if data, err = Prequantize(data); err != nil {
			return nil, err
		}
	}
	f, err := Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return Import(ctx, f, song, opts)
}

// Prequantize runs a whole file through the quantizer.
func Prequantize(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := quantizer.Quantize(bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("quantize: %w", err)
	}
	return out.Bytes(), nil
}

type assignment struct {
	file *Track
	dest int
}

type importer struct {
	song    *score.Song
	opts    ImportOptions
	logger  *charmlog.Logger
	scale   float64
	created map[int]bool
	// lineCount is the length of patterns created on demand.
	lineCount int
}

func hasNotes(t *Track) bool {
	var ch, key, vel uint8
	for _, e := range t.Events {
		if midi.Message(e.Message).GetNoteStart(&ch, &key, &vel) {
			return true
		}
	}
	return false
}

// assignTracks maps file tracks holding notes onto song tracks. "Track N"
// goes to index N-1, other names take the next free index in file order.
func (imp *importer) assignTracks(f *File) []assignment {
	used := map[int]bool{}
	var named, rest []*Track
	for i := range f.Tracks {
		t := &f.Tracks[i]
		if !hasNotes(t) {
			continue
		}
		if m := trackNamePattern.FindStringSubmatch(t.Name); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && !used[n-1] {
				used[n-1] = true
				named = append(named, t)
				continue
			}
		}
		rest = append(rest, t)
	}
	var out []assignment
	for _, t := range named {
		n, _ := strconv.Atoi(trackNamePattern.FindStringSubmatch(t.Name)[1])
		out = append(out, assignment{file: t, dest: n - 1})
	}
	next := 0
	if imp.opts.Mode == Merge {
		next = imp.song.TrackCount()
	}
	for _, t := range rest {
		for used[next] {
			next++
		}
		used[next] = true
		out = append(out, assignment{file: t, dest: next})
	}
	return out
}

// preparePatterns sizes the first pattern of a fresh import and picks the
// length of patterns created later.
func (imp *importer) preparePatterns(f *File) error {
	length := imp.opts.PatternLength
	if length == 0 {
		var last uint64
		for _, t := range f.Tracks {
			if n := len(t.Events); n > 0 {
				last = max(last, imp.rescale(t.Events[n-1].Tick))
			}
		}
		length = int(last/score.TicksPerLine) + 1
		length = min(max(length, score.MinLineCount), score.MaxLineCount)
	}
	imp.lineCount = length
	if imp.opts.Mode == Fresh {
		p, err := imp.song.Pattern(0)
		if err != nil {
			return err
		}
		imp.created[0] = true
		return p.SetLineCount(length)
	}
	if imp.opts.PatternLength == 0 {
		// merged patterns follow the song's last pattern
		if indices := imp.song.PatternIndices(); len(indices) > 0 {
			p, _ := imp.song.Pattern(indices[len(indices)-1])
			imp.lineCount = p.LineCount()
		}
	}
	return nil
}

func (imp *importer) rescale(tick uint64) uint64 {
	return uint64(math.Round(float64(tick) * imp.scale))
}

// locate walks consecutive pattern indices from 0 and returns the pattern
// holding tick, creating the missing ones.
func (imp *importer) locate(tick uint64) (*score.Pattern, int, uint8, error) {
	return imp.walk(tick, true)
}

// walk maps tick to a pattern slot. Without create, a tick past the last
// pattern fails with score.ErrPatternNotFound.
func (imp *importer) walk(tick uint64, create bool) (*score.Pattern, int, uint8, error) {
	var start uint64
	for index := 0; ; index++ {
		p, err := imp.song.Pattern(index)
		if err != nil {
			if !create {
				return nil, 0, 0, err
			}
			if p, err = imp.song.CreatePattern(index, imp.lineCount); err != nil {
				return nil, 0, 0, err
			}
			imp.created[index] = true
		}
		end := start + uint64(p.LineCount())*score.TicksPerLine
		if tick < end {
			offset := tick - start
			return p, int(offset / score.TicksPerLine), uint8(offset % score.TicksPerLine), nil
		}
		start = end
		if index >= maxPatterns {
			return nil, 0, 0, fmt.Errorf("%w: tick %d", score.ErrPositionOutOfRange, tick)
		}
	}
}

// importTrack writes the notes of one file track, spreading overlapping
// notes over columns. It returns the note count and the columns used.
func (imp *importer) importTrack(t *Track, dest int) (int, int, error) {
	song := imp.song
	song.EnsureTracks(dest + 1)
	if t.Name != "" && !trackNamePattern.MatchString(t.Name) {
		if err := song.SetTrackName(dest, t.Name); err != nil {
			return 0, 0, err
		}
	}
	imp.applyInstrument(t, dest)

	// active holds the sounding pitch per column, -1 when free
	var active []int
	notes := 0
	for _, e := range t.Events {
		var ch, key, vel uint8
		switch {
		case midi.Message(e.Message).GetNoteStart(&ch, &key, &vel):
			tick := imp.rescale(e.Tick)
			p, line, delay, err := imp.locate(tick)
			if err != nil {
				return notes, len(active), err
			}
			if imp.opts.QuantizeNoteOn {
				delay = 0
			}
			column := imp.freeColumn(p, dest, line, active)
			if column == len(active) {
				active = append(active, -1)
				if err := song.EnsureColumns(dest, len(active)); err != nil {
					return notes, len(active), err
				}
			}
			note, err := score.NewNoteOn(key, vel, delay)
			if err != nil {
				return notes, len(active), err
			}
			if err := p.SetNote(dest, column, line, note); err != nil {
				return notes, len(active), err
			}
			active[column] = int(key)
			notes++
		case midi.Message(e.Message).GetNoteEnd(&ch, &key):
			column := -1
			for c, pitch := range active {
				if pitch == int(key) {
					column = c
					break
				}
			}
			if column < 0 {
				continue
			}
			active[column] = -1
			tick := imp.rescale(e.Tick)
			p, line, delay, err := imp.locate(tick)
			if err != nil {
				return notes, len(active), err
			}
			lineStart := tick - uint64(delay)
			if imp.opts.QuantizeNoteOff {
				delay = 0
			}
			c, err := p.Column(dest, column)
			if err != nil {
				return notes, len(active), err
			}
			if existing, _ := c.Note(line); !existing.IsNone() {
				// the slot holds the note's own start, end it at the next line
				p, line, _, err = imp.walk(lineStart+score.TicksPerLine, false)
				if errors.Is(err, score.ErrPatternNotFound) {
					// last line of the song, closed at the end of the range
					continue
				}
				if err != nil {
					return notes, len(active), err
				}
				delay = 0
				if c, err = p.Column(dest, column); err != nil {
					return notes, len(active), err
				}
				if existing, _ := c.Note(line); !existing.IsNone() {
					continue
				}
			}
			off, err := score.NewNoteOffPitch(key, delay)
			if err != nil {
				return notes, len(active), err
			}
			if err := c.SetNote(line, off); err != nil {
				return notes, len(active), err
			}
		}
	}
	return notes, len(active), nil
}

// freeColumn returns the first column with no sounding note and an empty
// slot at line, or len(active) when a new column is needed.
func (imp *importer) freeColumn(p *score.Pattern, track, line int, active []int) int {
	for c, pitch := range active {
		if pitch >= 0 {
			continue
		}
		col, err := p.Column(track, c)
		if err != nil {
			continue
		}
		if n, _ := col.Note(line); n.IsNone() {
			return c
		}
	}
	return len(active)
}

// applyInstrument creates an instrument for tracks whose channel, program
// or bank differ from what the track gets by default.
func (imp *importer) applyInstrument(t *Track, dest int) {
	inst := score.Instrument{Name: imp.song.TrackName(dest), Channel: score.ChannelForIndex(dest)}
	custom := false
	channelSeen := false
	for _, e := range t.Events {
		var ch, a, b uint8
		switch {
		case midi.Message(e.Message).GetNoteStart(&ch, &a, &b):
			if !channelSeen {
				channelSeen = true
				if ch != inst.Channel {
					inst.Channel = ch
					custom = true
				}
			}
		case midi.Message(e.Message).GetProgramChange(&ch, &a):
			inst.Settings.Program.Enabled = true
			inst.Settings.Program.Number = a
			custom = true
		case midi.Message(e.Message).GetControlChange(&ch, &a, &b):
			switch a {
			case ccBankMSB:
				inst.Settings.Bank.Enabled = true
				inst.Settings.Bank.MSB = b
				custom = true
			case ccBankLSB:
				inst.Settings.Bank.Enabled = true
				inst.Settings.Bank.LSB = b
				custom = true
			}
		}
	}
	if !custom || imp.song.TrackInstrument(dest) != score.NoInstrument {
		return
	}
	added := imp.song.Instruments.Add(inst)
	if err := imp.song.SetTrackInstrument(dest, added.ID); err != nil {
		imp.logger.Warn("instrument", "track", dest, "err", err)
	}
}

// finishPlayOrder rebuilds the play order in fresh mode and appends created
// patterns in merge mode.
func (imp *importer) finishPlayOrder() error {
	if imp.opts.Mode == Fresh {
		imp.song.PlayOrder = imp.song.PlayOrder[:0]
		for position, index := range imp.song.PatternIndices() {
			if err := imp.song.SetPlayOrder(position, index); err != nil {
				return err
			}
		}
		return nil
	}
	for _, index := range imp.song.PatternIndices() {
		if imp.created[index] {
			if err := imp.song.SetPlayOrder(imp.song.PlayOrderLength(), index); err != nil {
				return err
			}
		}
	}
	return nil
}
