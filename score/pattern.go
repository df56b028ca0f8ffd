package score

import "fmt"

const (
	MinLineCount = 2
	MaxLineCount = 999
)

type (
	// Pattern is one block of the arrangement: a fixed number of lines over
	// the song-wide set of tracks.
	Pattern struct {
		Index     int
		lineCount int
		Tracks    []*Track
	}

	// Track holds the polyphonic columns of one instrument lane. columns may
	// hold more storage than columnCount so that removing and re-adding a
	// column keeps its lines.
	Track struct {
		Index       int
		Name        string
		Instrument  InstrumentID
		columns     []*Column
		columnCount int
	}

	// Column is one voice slot of a track. Like Track, it keeps physical
	// line storage that only grows.
	Column struct {
		Index     int
		track     int
		lines     []*Line
		lineCount int
	}

	// Line is one row of a column.
	Line struct {
		Index int
		Note  NoteData
	}
)

func validLineCount(n int) error {
	if n < MinLineCount || n > MaxLineCount {
		return fmt.Errorf("%w: %d (should be %d-%d)", ErrInvalidLineCount, n, MinLineCount, MaxLineCount)
	}
	return nil
}

func newPattern(index, lineCount int, topology []*Track) *Pattern {
	p := &Pattern{Index: index, lineCount: lineCount}
	for i, t := range topology {
		nt := newTrack(i, lineCount, t.ColumnCount())
		nt.Name = t.Name
		nt.Instrument = t.Instrument
		p.Tracks = append(p.Tracks, nt)
	}
	return p
}

func newTrack(index, lineCount, columnCount int) *Track {
	t := &Track{Index: index, Name: DefaultTrackName(index), Instrument: NoInstrument}
	t.setColumnCount(columnCount, lineCount)
	return t
}

func newColumn(track, index, lineCount int) *Column {
	c := &Column{Index: index, track: track}
	c.setLineCount(lineCount)
	return c
}

// DefaultTrackName is the name given to new tracks. The MIDI exporter writes
// it as the track name and the importer maps it back to the same index.
func DefaultTrackName(index int) string {
	return fmt.Sprintf("Track %d", index+1)
}

func (p *Pattern) LineCount() int {
	return p.lineCount
}

// SetLineCount resizes every column of the pattern.
func (p *Pattern) SetLineCount(n int) error {
	if err := validLineCount(n); err != nil {
		return err
	}
	p.lineCount = n
	for _, t := range p.Tracks {
		for _, c := range t.Columns() {
			c.setLineCount(n)
		}
		// hidden columns follow too, so re-adding them gives the right length
		for _, c := range t.columns[t.columnCount:] {
			c.setLineCount(n)
		}
	}
	return nil
}

func (p *Pattern) Track(index int) (*Track, error) {
	if index < 0 || index >= len(p.Tracks) {
		return nil, fmt.Errorf("%w: %d", ErrTrackOutOfRange, index)
	}
	return p.Tracks[index], nil
}

// Column is a shortcut for p.Track(track).Column(column).
func (p *Pattern) Column(track, column int) (*Column, error) {
	t, err := p.Track(track)
	if err != nil {
		return nil, err
	}
	return t.Column(column)
}

// SetNote writes a slot value; a shortcut used heavily by tests and the
// importer.
func (p *Pattern) SetNote(track, column, line int, note NoteData) error {
	c, err := p.Column(track, column)
	if err != nil {
		return err
	}
	return c.SetNote(line, note)
}

func (p *Pattern) addTrack(index int) *Track {
	t := newTrack(index, p.lineCount, 1)
	p.Tracks = append(p.Tracks, t)
	return t
}

func (t *Track) ColumnCount() int {
	return t.columnCount
}

// Columns returns the visible columns.
func (t *Track) Columns() []*Column {
	return t.columns[:t.columnCount]
}

func (t *Track) Column(index int) (*Column, error) {
	if index < 0 || index >= t.columnCount {
		return nil, fmt.Errorf("%w: %d", ErrColumnOutOfRange, index)
	}
	return t.columns[index], nil
}

func (t *Track) setColumnCount(n, lineCount int) {
	for len(t.columns) < n {
		t.columns = append(t.columns, newColumn(t.Index, len(t.columns), lineCount))
	}
	for _, c := range t.columns[:n] {
		c.setLineCount(lineCount)
	}
	t.columnCount = n
}

// HasData reports whether any visible slot of the track holds a note.
func (t *Track) HasData() bool {
	for _, c := range t.Columns() {
		if c.HasData() {
			return true
		}
	}
	return false
}

func (c *Column) LineCount() int {
	return c.lineCount
}

// Lines returns the visible lines.
func (c *Column) Lines() []*Line {
	return c.lines[:c.lineCount]
}

func (c *Column) setLineCount(n int) {
	for len(c.lines) < n {
		c.lines = append(c.lines, &Line{Index: len(c.lines), Note: NoteData{Track: c.track, Column: c.Index}})
	}
	c.lineCount = n
}

func (c *Column) Note(line int) (NoteData, error) {
	if line < 0 || line >= c.lineCount {
		return NoteData{}, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	return c.lines[line].Note, nil
}

// SetNote replaces the slot value in place and stamps its origin.
func (c *Column) SetNote(line int, note NoteData) error {
	if line < 0 || line >= c.lineCount {
		return fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	note.Track = c.track
	note.Column = c.Index
	c.lines[line].Note = note
	return nil
}

func (c *Column) Clear(line int) error {
	return c.SetNote(line, NoteData{})
}

func (c *Column) HasData() bool {
	for _, l := range c.Lines() {
		if !l.Note.IsNone() {
			return true
		}
	}
	return false
}
