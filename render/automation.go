package render

import (
	"math"

	"github.com/JeanRibes/midi-tracker/score"
)

const (
	maxControllerValue = 127
	maxBendUp          = 8191
	maxBendDown        = 8192
)

// renderAutomation samples every enabled automation of the pattern once per
// tick and emits an event whenever the sampled value changes.
func (r *renderer) renderAutomation(p *score.Pattern, patternTick uint64) {
	for _, a := range r.song.Automation.MidiCcForPattern(p.Index) {
		loc := a.Location
		if _, err := p.Column(loc.Track, loc.Column); err != nil {
			continue
		}
		base := float64(maxControllerValue)
		if a.Relative {
			base = r.currentControllerValue(loc.Track, a.Controller)
		}
		last := -1
		r.sample(p, patternTick, a.Interpolation, a.Modulation, func(tick uint64, v float64) {
			if a.Relative {
				v = base * v / 100
			}
			value := int(math.Round(clamp(v, 0, maxControllerValue)))
			if value == last {
				return
			}
			last = value
			r.emit(Event{Tick: tick, Kind: MidiCc, Track: loc.Track, Column: loc.Column, Controller: a.Controller, Value: uint8(value)})
		})
	}
	for _, a := range r.song.Automation.PitchBendForPattern(p.Index) {
		loc := a.Location
		if _, err := p.Column(loc.Track, loc.Column); err != nil {
			continue
		}
		last := math.MinInt
		r.sample(p, patternTick, a.Interpolation, a.Modulation, func(tick uint64, v float64) {
			bend := BendFromPercentage(v)
			if int(bend) == last {
				return
			}
			last = int(bend)
			r.emit(Event{Tick: tick, Kind: PitchBend, Track: loc.Track, Column: loc.Column, Bend: bend})
		})
	}
}

// sample calls fn for every tick covered by the interpolation, clipped to
// the pattern, with the ramp value plus modulation.
func (r *renderer) sample(p *score.Pattern, patternTick uint64, in score.Interpolation, mod score.Modulation, fn func(uint64, float64)) {
	lastLine := p.LineCount() - 1
	line0 := min(in.Line0, lastLine)
	line1 := min(in.Line1, lastLine)
	t0 := patternTick + uint64(line0)*score.TicksPerLine
	t1 := patternTick + uint64(line1)*score.TicksPerLine
	for tick := t0; tick <= t1; tick++ {
		linePos := float64(line0) + float64(tick-t0)/score.TicksPerLine
		v := in.ValueAt(linePos)
		if mod.Cycles > 0 && t1 > t0 {
			phase := float64(tick-t0) / float64(t1-t0)
			m := mod.Amplitude * math.Sin(2*math.Pi*mod.Cycles*phase)
			if mod.Inverted {
				m = -m
			}
			v += m
		}
		fn(tick, v)
	}
}

// currentControllerValue is the value a relative automation scales: the
// instrument's static value for the controller, or full scale.
func (r *renderer) currentControllerValue(track int, controller uint8) float64 {
	for _, cc := range r.instrumentFor(track).Settings.StaticCC {
		if cc.Enabled && cc.Controller == controller {
			return float64(cc.Value)
		}
	}
	return maxControllerValue
}

// BendFromPercentage maps -100..100% to the 14-bit signed bend range.
func BendFromPercentage(p float64) int16 {
	p = clamp(p, -100, 100)
	if p >= 0 {
		return int16(math.Round(p * maxBendUp / 100))
	}
	return int16(math.Round(p * maxBendDown / 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
