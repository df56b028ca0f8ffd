package render

import (
	"math"
	"testing"

	"github.com/JeanRibes/midi-tracker/score"
)

func TestSideChainScenario(t *testing.T) {
	s, p := newSong(t, 2, 16)
	// 120 bpm, 4 lines per beat
	p.SetNote(0, 0, 4, noteOn(t, 36, 120, 0))
	p.SetNote(0, 0, 5, score.NewNoteOff())
	s.SideChains[1] = score.SideChainSettings{
		Enabled:     true,
		SourceTrack: 0,
		LookaheadMs: 10,
		ReleaseMs:   100,
		Targets: []score.SideChainTarget{
			{Enabled: true, Controller: 7, TargetValue: 20, ReleaseValue: 100},
			{Enabled: false, Controller: 8, TargetValue: 1, ReleaseValue: 2},
		},
	}
	list, err := RenderSong(s, ExportOptions())
	if err != nil {
		t.Fatal(err)
	}
	msPerTick := s.MsPerTick()
	trigger := uint64(4 * 24)
	wantOn := trigger - uint64(math.Round(10/msPerTick))
	wantOff := trigger + uint64(math.Round(100/msPerTick))
	cc := kindOnly(list.Events, MidiCc)
	if len(cc) != 2 {
		t.Fatalf("got cc events %v", cc)
	}
	if cc[0].Tick != wantOn || cc[0].Value != 20 || cc[0].Controller != 7 || cc[0].Track != 1 {
		t.Errorf("target event = %v, want value 20 at %d", cc[0], wantOn)
	}
	if cc[1].Tick != wantOff || cc[1].Value != 100 {
		t.Errorf("release event = %v, want value 100 at %d", cc[1], wantOff)
	}
	if wantOn != 94 || wantOff != 115 {
		t.Errorf("conversion drifted: %d, %d", wantOn, wantOff)
	}
}

func TestSideChainClampedToRange(t *testing.T) {
	s, p := newSong(t, 2, 4)
	p.SetNote(0, 0, 0, noteOn(t, 36, 120, 0))
	p.SetNote(0, 0, 3, noteOn(t, 36, 120, 0))
	s.SideChains[1] = score.SideChainSettings{
		Enabled:     true,
		LookaheadMs: 50,
		ReleaseMs:   1000,
		Targets:     []score.SideChainTarget{{Enabled: true, Controller: 7, TargetValue: 0, ReleaseValue: 127}},
	}
	list, _ := RenderSong(s, ExportOptions())
	for _, e := range kindOnly(list.Events, MidiCc) {
		if e.Tick < list.StartTick || e.Tick > list.EndTick {
			t.Errorf("side-chain event outside range [%d, %d]: %v", list.StartTick, list.EndTick, e)
		}
	}
	first := kindOnly(list.Events, MidiCc)[0]
	if first.Tick != 0 || first.Value != 0 {
		t.Errorf("first side-chain event = %v, want target at tick 0", first)
	}
}

func TestSideChainDisabled(t *testing.T) {
	s, p := newSong(t, 2, 4)
	p.SetNote(0, 0, 1, noteOn(t, 36, 120, 0))
	s.SideChains[1] = score.SideChainSettings{
		Targets: []score.SideChainTarget{{Enabled: true, Controller: 7}},
	}
	list, _ := RenderSong(s, ExportOptions())
	if cc := kindOnly(list.Events, MidiCc); len(cc) != 0 {
		t.Errorf("disabled side-chain emitted %v", cc)
	}
}
