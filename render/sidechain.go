package render

import (
	"math"
	"slices"
)

// injectSideChains adds, for every note-on of a side-chain source, a target
// value event lookahead before it and a release value event after it. Both
// are clamped to the rendered range.
func (r *renderer) injectSideChains() {
	tracks := make([]int, 0, len(r.song.SideChains))
	for track := range r.song.SideChains {
		tracks = append(tracks, track)
	}
	slices.Sort(tracks)

	msPerTick := r.song.MsPerTick()
	if msPerTick <= 0 {
		return
	}
	sources := r.events
	for _, track := range tracks {
		settings := r.song.SideChains[track]
		if !settings.Enabled || track < 0 || track >= r.song.TrackCount() {
			continue
		}
		lookahead := ticksFromMs(settings.LookaheadMs, msPerTick)
		release := ticksFromMs(settings.ReleaseMs, msPerTick)
		for _, e := range sources {
			if e.Kind != NoteOn || !settings.IsSource(e.Track, e.Column) {
				continue
			}
			on := r.startTick
			if e.Tick > r.startTick+lookahead {
				on = e.Tick - lookahead
			}
			off := min(e.Tick+release, r.endTick)
			for _, target := range settings.Targets {
				if !target.Enabled {
					continue
				}
				r.emit(Event{Tick: on, Kind: MidiCc, Track: track, Column: -1, Controller: target.Controller, Value: target.TargetValue})
				r.emit(Event{Tick: off, Kind: MidiCc, Track: track, Column: -1, Controller: target.Controller, Value: target.ReleaseValue})
			}
		}
	}
}

func ticksFromMs(ms, msPerTick float64) uint64 {
	if ms <= 0 {
		return 0
	}
	return uint64(math.Round(ms / msPerTick))
}
