package score

import (
	"errors"
	"testing"
)

func TestNewSongTopology(t *testing.T) {
	s, err := NewSong(3, 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.TrackCount(); got != 3 {
		t.Fatalf("TrackCount() = %d, want 3", got)
	}
	p, err := s.CreatePattern(4, 32)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tracks) != 3 {
		t.Errorf("new pattern has %d tracks, want 3", len(p.Tracks))
	}
	s.AddTrack()
	for _, i := range s.PatternIndices() {
		p, _ := s.Pattern(i)
		if len(p.Tracks) != 4 {
			t.Errorf("pattern %d has %d tracks after AddTrack, want 4", i, len(p.Tracks))
		}
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestCreatePatternErrors(t *testing.T) {
	s, _ := NewSong(1, 16)
	if _, err := s.CreatePattern(0, 16); !errors.Is(err, ErrPatternExists) {
		t.Errorf("duplicate pattern: got %v", err)
	}
	for _, n := range []int{0, 1, 1000} {
		if _, err := s.CreatePattern(1, n); !errors.Is(err, ErrInvalidLineCount) {
			t.Errorf("CreatePattern(1, %d): got %v, want ErrInvalidLineCount", n, err)
		}
	}
}

func TestPositionToTick(t *testing.T) {
	s, _ := NewSong(1, 16)
	s.CreatePattern(1, 8)
	s.SetPlayOrder(1, 1)
	s.SetPlayOrder(2, 0)
	cases := []struct {
		position int
		want     uint64
	}{
		{0, 0},
		{1, 16 * TicksPerLine},
		{2, 24 * TicksPerLine},
		{3, 40 * TicksPerLine},
	}
	for _, c := range cases {
		got, err := s.PositionToTick(c.position)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("PositionToTick(%d) = %d, want %d", c.position, got, c.want)
		}
	}
	if _, err := s.PositionToTick(4); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("PositionToTick(4): got %v", err)
	}
	pos, line, err := s.TickToPosition(17 * TicksPerLine)
	if err != nil || pos != 1 || line != 1 {
		t.Errorf("TickToPosition = %d, %d, %v; want 1, 1, nil", pos, line, err)
	}
}

func TestSetPlayOrderUnknownPattern(t *testing.T) {
	s, _ := NewSong(1, 16)
	if err := s.SetPlayOrder(0, 7); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestValidateReportsBrokenPlayOrder(t *testing.T) {
	s, _ := NewSong(1, 16)
	s.PlayOrder = append(s.PlayOrder, 9)
	s.BPM = 0
	err := s.Validate()
	if !errors.Is(err, ErrPatternNotFound) || !errors.Is(err, ErrInvalidTempo) {
		t.Errorf("Validate() = %v, want both pattern and tempo errors", err)
	}
}

func TestMsPerTick(t *testing.T) {
	s, _ := NewSong(1, 16)
	// 120 bpm, 4 lines per beat, 24 ticks per line
	want := 60000.0 / (120 * 4 * 24)
	if got := s.MsPerTick(); got != want {
		t.Errorf("MsPerTick() = %v, want %v", got, want)
	}
}

func TestTrackInstrumentAssignment(t *testing.T) {
	s, _ := NewSong(2, 16)
	s.CreatePattern(1, 16)
	inst := s.Instruments.Add(Instrument{Name: "bass", Port: "synth", Channel: 3})
	if err := s.SetTrackInstrument(1, inst.ID); err != nil {
		t.Fatal(err)
	}
	for _, i := range s.PatternIndices() {
		p, _ := s.Pattern(i)
		if p.Tracks[1].Instrument != inst.ID {
			t.Errorf("pattern %d track 1 instrument = %d, want %d", i, p.Tracks[1].Instrument, inst.ID)
		}
	}
	if err := s.SetTrackInstrument(0, 42); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("unknown instrument: got %v", err)
	}
	if got := s.TrackInstrument(0); got != NoInstrument {
		t.Errorf("TrackInstrument(0) = %d, want NoInstrument", got)
	}
}

func TestResetKeepsSingleTrack(t *testing.T) {
	s, _ := NewSong(4, 32)
	s.BPM = 90
	s.CreatePattern(2, 16)
	s.Reset()
	if s.BPM != DefaultBPM || s.TrackCount() != 1 || len(s.PatternIndices()) != 1 {
		t.Errorf("Reset left bpm=%d tracks=%d patterns=%v", s.BPM, s.TrackCount(), s.PatternIndices())
	}
}
