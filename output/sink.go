// Package output turns instrument commands into MIDI messages and delivers
// them to a backend: gomidi driver ports, a serial DIN-MIDI adapter or a
// logger.
package output

import (
	"errors"
	"fmt"

	"github.com/JeanRibes/midi-tracker/score"

	"gitlab.com/gomidi/midi/v2"
)

var (
	ErrNoInstrument = errors.New("no instrument")
	ErrPortNotFound = errors.New("MIDI output port not found")
	ErrClosed       = errors.New("output closed")
)

const (
	ccBankMSB     = 0
	ccBankLSB     = 32
	ccSustain     = 64
	ccAllNotesOff = 123
)

// Backend delivers encoded messages to the named port. Backends with a
// single destination ignore the port.
type Backend interface {
	Send(port string, msg midi.Message) error
	Close() error
}

// Sink addresses instruments through a Backend.
type Sink struct {
	backend Backend
}

func New(b Backend) *Sink {
	return &Sink{backend: b}
}

func (s *Sink) send(inst *score.Instrument, msgs ...midi.Message) error {
	if inst == nil {
		return ErrNoInstrument
	}
	var errs error
	for _, msg := range msgs {
		if err := s.backend.Send(inst.Port, msg); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", inst.Name, err))
		}
	}
	return errs
}

func channel(inst *score.Instrument) uint8 {
	if inst == nil {
		return 0
	}
	return inst.Channel % score.NumChannels
}

func (s *Sink) PlayNote(inst *score.Instrument, pitch, velocity uint8) error {
	return s.send(inst, midi.NoteOn(channel(inst), pitch, velocity))
}

func (s *Sink) StopNote(inst *score.Instrument, pitch uint8) error {
	return s.send(inst, midi.NoteOff(channel(inst), pitch))
}

func (s *Sink) SendCC(inst *score.Instrument, controller, value uint8) error {
	return s.send(inst, midi.ControlChange(channel(inst), controller, value))
}

func (s *Sink) SendPitchBend(inst *score.Instrument, bend int16) error {
	return s.send(inst, midi.Pitchbend(channel(inst), bend))
}

func (s *Sink) SendClock(inst *score.Instrument) error {
	return s.send(inst, midi.TimingClock())
}

func (s *Sink) SendStart(inst *score.Instrument) error {
	return s.send(inst, midi.Start())
}

func (s *Sink) SendStop(inst *score.Instrument) error {
	return s.send(inst, midi.Stop())
}

// StopAllNotes releases the sustain pedal and sends all-notes-off.
func (s *Sink) StopAllNotes(inst *score.Instrument) error {
	ch := channel(inst)
	return s.send(inst, midi.ControlChange(ch, ccSustain, 0), midi.ControlChange(ch, ccAllNotesOff, 0))
}

func (s *Sink) ApplySettings(inst *score.Instrument) error {
	if inst == nil {
		return ErrNoInstrument
	}
	msgs := SettingsMessages(channel(inst), inst.Settings)
	if len(msgs) == 0 {
		return nil
	}
	return s.send(inst, msgs...)
}

func (s *Sink) Close() error {
	return s.backend.Close()
}

// SettingsMessages returns the bank select, program change and static
// controller messages of an instrument, in that order.
func SettingsMessages(ch uint8, settings score.InstrumentSettings) (msgs []midi.Message) {
	if b := settings.Bank; b.Enabled {
		msb, lsb := midi.ControlChange(ch, ccBankMSB, b.MSB), midi.ControlChange(ch, ccBankLSB, b.LSB)
		if b.SwapMSBLSB {
			msb, lsb = lsb, msb
		}
		msgs = append(msgs, msb, lsb)
	}
	if settings.Program.Enabled {
		msgs = append(msgs, midi.ProgramChange(ch, settings.Program.Number))
	}
	for _, cc := range settings.StaticCC {
		if cc.Enabled {
			msgs = append(msgs, midi.ControlChange(ch, cc.Controller, cc.Value))
		}
	}
	return msgs
}
