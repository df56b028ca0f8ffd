package score

import (
	"errors"
	"fmt"
	"slices"
)

// TicksPerLine is the fixed number of ticks in one line.
const TicksPerLine = 24

const (
	DefaultBPM          = 120
	DefaultLinesPerBeat = 4
	DefaultLineCount    = 64
)

// Song is the root of the score: a set of patterns arranged by the play
// order, all sharing the same track topology.
type Song struct {
	BPM          int
	LinesPerBeat int
	PlayOrder    []int
	Instruments  *Instruments
	Automation   *Automation
	SideChains   map[int]SideChainSettings

	patterns map[int]*Pattern
}

// NewSong creates a song with one pattern, played once, with trackCount
// single-column tracks.
func NewSong(trackCount, lineCount int) (*Song, error) {
	if err := validLineCount(lineCount); err != nil {
		return nil, err
	}
	s := &Song{}
	s.reset(trackCount, lineCount)
	return s, nil
}

// Reset brings the song back to a single empty pattern with one track.
func (s *Song) Reset() {
	s.reset(1, DefaultLineCount)
}

func (s *Song) reset(trackCount, lineCount int) {
	s.BPM = DefaultBPM
	s.LinesPerBeat = DefaultLinesPerBeat
	s.Instruments = NewInstruments()
	s.Automation = NewAutomation()
	s.SideChains = map[int]SideChainSettings{}
	topology := make([]*Track, trackCount)
	for i := range topology {
		topology[i] = newTrack(i, lineCount, 1)
	}
	s.patterns = map[int]*Pattern{0: newPattern(0, lineCount, topology)}
	s.PlayOrder = []int{0}
}

func (s *Song) Pattern(index int) (*Pattern, error) {
	p, ok := s.patterns[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPatternNotFound, index)
	}
	return p, nil
}

func (s *Song) HasPattern(index int) bool {
	_, ok := s.patterns[index]
	return ok
}

// PatternIndices returns the existing pattern indices in ascending order.
func (s *Song) PatternIndices() []int {
	indices := make([]int, 0, len(s.patterns))
	for i := range s.patterns {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	return indices
}

// CreatePattern allocates a pattern with the song's track topology.
func (s *Song) CreatePattern(index, lineCount int) (*Pattern, error) {
	if err := validLineCount(lineCount); err != nil {
		return nil, err
	}
	if _, ok := s.patterns[index]; ok {
		return nil, fmt.Errorf("%w: %d", ErrPatternExists, index)
	}
	p := newPattern(index, lineCount, s.topology())
	s.patterns[index] = p
	return p, nil
}

// topology returns the tracks of the lowest pattern, used as the template
// for new patterns.
func (s *Song) topology() []*Track {
	indices := s.PatternIndices()
	if len(indices) == 0 {
		return nil
	}
	return s.patterns[indices[0]].Tracks
}

func (s *Song) TrackCount() int {
	return len(s.topology())
}

// AddTrack appends a single-column track to every pattern and returns its
// index.
func (s *Song) AddTrack() int {
	index := s.TrackCount()
	for _, p := range s.patterns {
		p.addTrack(index)
	}
	return index
}

// EnsureTracks adds tracks until the song has at least n.
func (s *Song) EnsureTracks(n int) {
	for s.TrackCount() < n {
		s.AddTrack()
	}
}

func (s *Song) checkTrack(track int) error {
	if track < 0 || track >= s.TrackCount() {
		return fmt.Errorf("%w: %d", ErrTrackOutOfRange, track)
	}
	return nil
}

func (s *Song) TrackName(track int) string {
	if s.checkTrack(track) != nil {
		return ""
	}
	return s.topology()[track].Name
}

func (s *Song) SetTrackName(track int, name string) error {
	if err := s.checkTrack(track); err != nil {
		return err
	}
	for _, p := range s.patterns {
		p.Tracks[track].Name = name
	}
	return nil
}

// TrackInstrument returns the instrument id assigned to a track, or
// NoInstrument.
func (s *Song) TrackInstrument(track int) InstrumentID {
	if s.checkTrack(track) != nil {
		return NoInstrument
	}
	return s.topology()[track].Instrument
}

func (s *Song) SetTrackInstrument(track int, id InstrumentID) error {
	if err := s.checkTrack(track); err != nil {
		return err
	}
	if id != NoInstrument {
		if _, ok := s.Instruments.Get(id); !ok {
			return fmt.Errorf("%w: %d", ErrInstrumentNotFound, id)
		}
	}
	for _, p := range s.patterns {
		p.Tracks[track].Instrument = id
	}
	return nil
}

func (s *Song) ColumnCount(track int) int {
	if s.checkTrack(track) != nil {
		return 0
	}
	return s.topology()[track].ColumnCount()
}

// SetColumnCount changes the visible column count of a track in every
// pattern. Shrinking keeps the hidden columns' data.
func (s *Song) SetColumnCount(track, n int) error {
	if err := s.checkTrack(track); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrColumnOutOfRange, n)
	}
	for _, p := range s.patterns {
		p.Tracks[track].setColumnCount(n, p.lineCount)
	}
	return nil
}

// EnsureColumns grows a track until it has at least n columns.
func (s *Song) EnsureColumns(track, n int) error {
	if s.ColumnCount(track) >= n {
		return nil
	}
	return s.SetColumnCount(track, n)
}

func (s *Song) PlayOrderLength() int {
	return len(s.PlayOrder)
}

// SetPlayOrder assigns a pattern to a song position, growing the play order
// if needed.
func (s *Song) SetPlayOrder(position, pattern int) error {
	if position < 0 {
		return fmt.Errorf("%w: %d", ErrPositionOutOfRange, position)
	}
	if !s.HasPattern(pattern) {
		return fmt.Errorf("%w: %d", ErrPatternNotFound, pattern)
	}
	for len(s.PlayOrder) <= position {
		s.PlayOrder = append(s.PlayOrder, pattern)
	}
	s.PlayOrder[position] = pattern
	return nil
}

// PatternAtPosition resolves a song position through the play order.
func (s *Song) PatternAtPosition(position int) (*Pattern, error) {
	if position < 0 || position >= len(s.PlayOrder) {
		return nil, fmt.Errorf("%w: %d", ErrPositionOutOfRange, position)
	}
	return s.Pattern(s.PlayOrder[position])
}

// PositionToTick returns the first tick of a song position. position may be
// equal to the play order length, giving the tick just past the song.
func (s *Song) PositionToTick(position int) (uint64, error) {
	if position < 0 || position > len(s.PlayOrder) {
		return 0, fmt.Errorf("%w: %d", ErrPositionOutOfRange, position)
	}
	var tick uint64
	for _, index := range s.PlayOrder[:position] {
		p, err := s.Pattern(index)
		if err != nil {
			return 0, err
		}
		tick += uint64(p.lineCount) * TicksPerLine
	}
	return tick, nil
}

// TickToPosition finds the song position containing tick and the line
// within its pattern.
func (s *Song) TickToPosition(tick uint64) (position, line int, err error) {
	var start uint64
	for position, index := range s.PlayOrder {
		p, err := s.Pattern(index)
		if err != nil {
			return 0, 0, err
		}
		end := start + uint64(p.lineCount)*TicksPerLine
		if tick < end {
			return position, int((tick - start) / TicksPerLine), nil
		}
		start = end
	}
	return 0, 0, fmt.Errorf("%w: tick %d", ErrPositionOutOfRange, tick)
}

// TicksPerBeat is the MIDI time division matching this song.
func (s *Song) TicksPerBeat() int {
	return TicksPerLine * s.LinesPerBeat
}

// MsPerTick converts ticks to wall-clock milliseconds at the current tempo.
func (s *Song) MsPerTick() float64 {
	if divisor := s.BPM * s.LinesPerBeat * TicksPerLine; divisor > 0 {
		return 60000 / float64(divisor)
	}
	return 0
}

// Validate checks the song invariants: sane timing, every play order entry
// points to an existing pattern and all patterns share one topology.
func (s *Song) Validate() (errs error) {
	if s.BPM < 1 {
		errs = errors.Join(errs, ErrInvalidTempo)
	}
	if s.LinesPerBeat < 1 {
		errs = errors.Join(errs, ErrInvalidLinesPerBeat)
	}
	for position, index := range s.PlayOrder {
		if !s.HasPattern(index) {
			errs = errors.Join(errs, fmt.Errorf("%w: %d at position %d", ErrPatternNotFound, index, position))
		}
	}
	trackCount := s.TrackCount()
	for _, index := range s.PatternIndices() {
		p := s.patterns[index]
		if len(p.Tracks) != trackCount {
			errs = errors.Join(errs, fmt.Errorf("%w: pattern %d has %d tracks, want %d", ErrTopologyMismatch, index, len(p.Tracks), trackCount))
		}
		if err := validLineCount(p.lineCount); err != nil {
			errs = errors.Join(errs, fmt.Errorf("pattern %d: %w", index, err))
		}
	}
	return errs
}
