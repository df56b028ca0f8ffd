package mixer

import "testing"

func TestTrackMuteSolo(t *testing.T) {
	s := New()
	if !s.ShouldTrackPlay(0) || !s.ShouldTrackPlay(1) {
		t.Fatal("tracks should play by default")
	}
	s.SetTrackSoloed(1, true)
	if s.ShouldTrackPlay(0) {
		t.Error("track 0 plays while track 1 is soloed")
	}
	if !s.ShouldTrackPlay(1) {
		t.Error("soloed track does not play")
	}
	s.SetTrackMuted(1, true)
	if s.ShouldTrackPlay(1) {
		t.Error("muted soloed track plays")
	}
}

func TestColumnMuteSolo(t *testing.T) {
	s := New()
	s.SetColumnSoloed(0, 1, true)
	cases := []struct {
		track, column int
		want          bool
	}{
		{0, 0, false},
		{0, 1, true},
		{1, 0, true}, // solo only affects siblings
	}
	for _, c := range cases {
		if got := s.ShouldColumnPlay(c.track, c.column); got != c.want {
			t.Errorf("ShouldColumnPlay(%d, %d) = %t, want %t", c.track, c.column, got, c.want)
		}
	}
	s.SetTrackMuted(0, true)
	if s.ShouldColumnPlay(0, 1) {
		t.Error("column of a muted track plays")
	}
	s.SetTrackMuted(0, false)
	s.SetColumnMuted(0, 1, true)
	if s.ShouldColumnPlay(0, 1) {
		t.Error("muted column plays")
	}
}

func TestToggleTwiceIsIdentity(t *testing.T) {
	s := New()
	s.SetColumnMuted(2, 0, true)
	type snapshot [3][2]bool
	take := func() (out snapshot) {
		for tr := 0; tr < 3; tr++ {
			out[tr][0] = s.ShouldTrackPlay(tr)
			out[tr][1] = s.ShouldColumnPlay(tr, 0)
		}
		return
	}
	toggles := []func(bool){
		func(on bool) { s.SetTrackMuted(1, on) },
		func(on bool) { s.SetTrackSoloed(0, on) },
		func(on bool) { s.SetColumnSoloed(2, 1, on) },
	}
	for i, toggle := range toggles {
		before := take()
		toggle(true)
		toggle(false)
		if after := take(); after != before {
			t.Errorf("toggle %d: state %v, want %v", i, after, before)
		}
	}
}

func TestEffectiveVelocity(t *testing.T) {
	s := New()
	if got := s.EffectiveVelocity(0, 0, 100); got != 100 {
		t.Errorf("neutral scale changed velocity: %d", got)
	}
	s.SetTrackVelocity(0, 127/2+1) // ~50%
	s.SetColumnVelocity(0, 0, 127/2+1)
	got := s.EffectiveVelocity(0, 0, 127)
	if got < 30 || got > 34 {
		t.Errorf("EffectiveVelocity with two 50%% scales = %d, want about 32", got)
	}
	s.SetTrackVelocity(0, 0)
	if got := s.EffectiveVelocity(0, 0, 127); got != 0 {
		t.Errorf("zero scale gave %d", got)
	}
}

func TestHasActiveStateAndReset(t *testing.T) {
	s := New()
	if s.HasActiveState() {
		t.Error("fresh mixer reports active state")
	}
	s.SetColumnSoloed(0, 0, true)
	if !s.HasActiveState() {
		t.Error("solo not reported")
	}
	s.Reset()
	if s.HasActiveState() {
		t.Error("Reset kept state")
	}
}
