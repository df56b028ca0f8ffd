package score

import (
	"fmt"
	"slices"
)

type (
	// Location addresses one column of one pattern.
	Location struct {
		Pattern int
		Track   int
		Column  int
	}

	// Interpolation is a linear ramp between two (line, value) endpoints.
	Interpolation struct {
		Line0  int
		Line1  int
		Value0 int
		Value1 int
	}

	// Modulation is a sine superimposed on the ramp. Amplitude is in value
	// units; Cycles counts full periods over the ramp length.
	Modulation struct {
		Cycles    float64
		Amplitude float64
		Inverted  bool
	}

	MidiCcAutomation struct {
		ID            int
		Location      Location
		Controller    uint8
		Interpolation Interpolation
		Modulation    Modulation
		// Relative treats values as percentages of the instrument's current
		// controller value instead of absolute controller values.
		Relative bool
		Enabled  bool
	}

	// PitchBendAutomation values are percentages, -100 to 100, of the full
	// bend range.
	PitchBendAutomation struct {
		ID            int
		Location      Location
		Interpolation Interpolation
		Modulation    Modulation
		Enabled       bool
	}

	// Automation stores every automation of a song.
	Automation struct {
		nextID    int
		cc        []MidiCcAutomation
		pitchBend []PitchBendAutomation
	}
)

func (i Interpolation) Valid() bool {
	return i.Line0 >= 0 && i.Line1 >= i.Line0
}

// ValueAt returns the ramp value at a fractional line position, clamped to
// the endpoints.
func (i Interpolation) ValueAt(line float64) float64 {
	if i.Line1 == i.Line0 || line <= float64(i.Line0) {
		return float64(i.Value0)
	}
	if line >= float64(i.Line1) {
		return float64(i.Value1)
	}
	t := (line - float64(i.Line0)) / float64(i.Line1-i.Line0)
	return float64(i.Value0) + t*float64(i.Value1-i.Value0)
}

func NewAutomation() *Automation {
	return &Automation{nextID: 1}
}

func (a *Automation) id() int {
	if a.nextID == 0 {
		a.nextID = 1
	}
	id := a.nextID
	a.nextID++
	return id
}

func (a *Automation) AddMidiCc(auto MidiCcAutomation) (int, error) {
	if !auto.Interpolation.Valid() {
		return 0, fmt.Errorf("invalid interpolation %+v", auto.Interpolation)
	}
	auto.ID = a.id()
	a.cc = append(a.cc, auto)
	return auto.ID, nil
}

func (a *Automation) AddPitchBend(auto PitchBendAutomation) (int, error) {
	if !auto.Interpolation.Valid() {
		return 0, fmt.Errorf("invalid interpolation %+v", auto.Interpolation)
	}
	auto.ID = a.id()
	a.pitchBend = append(a.pitchBend, auto)
	return auto.ID, nil
}

func (a *Automation) UpdateMidiCc(auto MidiCcAutomation) error {
	i := slices.IndexFunc(a.cc, func(x MidiCcAutomation) bool { return x.ID == auto.ID })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrAutomationNotFound, auto.ID)
	}
	a.cc[i] = auto
	return nil
}

func (a *Automation) UpdatePitchBend(auto PitchBendAutomation) error {
	i := slices.IndexFunc(a.pitchBend, func(x PitchBendAutomation) bool { return x.ID == auto.ID })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrAutomationNotFound, auto.ID)
	}
	a.pitchBend[i] = auto
	return nil
}

// Remove deletes the automation with the given id, whichever kind it is.
func (a *Automation) Remove(id int) error {
	n := len(a.cc) + len(a.pitchBend)
	a.cc = slices.DeleteFunc(a.cc, func(x MidiCcAutomation) bool { return x.ID == id })
	a.pitchBend = slices.DeleteFunc(a.pitchBend, func(x PitchBendAutomation) bool { return x.ID == id })
	if len(a.cc)+len(a.pitchBend) == n {
		return fmt.Errorf("%w: %d", ErrAutomationNotFound, id)
	}
	return nil
}

func (a *Automation) MidiCc() []MidiCcAutomation {
	return a.cc
}

func (a *Automation) PitchBend() []PitchBendAutomation {
	return a.pitchBend
}

// MidiCcForPattern returns the enabled controller automations of a pattern.
func (a *Automation) MidiCcForPattern(pattern int) (out []MidiCcAutomation) {
	for _, x := range a.cc {
		if x.Enabled && x.Location.Pattern == pattern {
			out = append(out, x)
		}
	}
	return
}

// PitchBendForPattern returns the enabled pitch bend automations of a pattern.
func (a *Automation) PitchBendForPattern(pattern int) (out []PitchBendAutomation) {
	for _, x := range a.pitchBend {
		if x.Enabled && x.Location.Pattern == pattern {
			out = append(out, x)
		}
	}
	return
}

func (a *Automation) Clear() {
	a.cc = nil
	a.pitchBend = nil
}
