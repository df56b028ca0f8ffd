package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/JeanRibes/midi-tracker/score"
	"github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type sent struct {
	port string
	msg  string
}

type recordingBackend struct {
	sent   []sent
	fail   bool
	closed bool
}

func (b *recordingBackend) Send(port string, msg midi.Message) error {
	if b.fail {
		return errors.New("unplugged")
	}
	b.sent = append(b.sent, sent{port, fmt.Sprintf("% X", []byte(msg))})
	return nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestSinkEncodesChannelMessages(t *testing.T) {
	b := &recordingBackend{}
	s := New(b)
	inst := &score.Instrument{Name: "bass", Port: "synth", Channel: 2}
	s.PlayNote(inst, 60, 100)
	s.StopNote(inst, 60)
	s.SendCC(inst, 7, 90)
	s.SendClock(inst)
	s.SendStart(inst)
	s.SendStop(inst)
	want := []sent{
		{"synth", "92 3C 64"},
		{"synth", "82 3C 00"},
		{"synth", "B2 07 5A"},
		{"synth", "F8"},
		{"synth", "FA"},
		{"synth", "FC"},
	}
	if fmt.Sprint(b.sent) != fmt.Sprint(want) {
		t.Errorf("sent %v\nwant %v", b.sent, want)
	}
}

func TestSinkStopAllNotes(t *testing.T) {
	b := &recordingBackend{}
	if err := New(b).StopAllNotes(&score.Instrument{Channel: 9}); err != nil {
		t.Fatal(err)
	}
	want := []sent{{"", "B9 40 00"}, {"", "B9 7B 00"}}
	if fmt.Sprint(b.sent) != fmt.Sprint(want) {
		t.Errorf("sent %v, want %v", b.sent, want)
	}
}

func TestSinkApplySettings(t *testing.T) {
	b := &recordingBackend{}
	inst := &score.Instrument{Channel: 1, Settings: score.InstrumentSettings{
		Bank:     score.Bank{Enabled: true, MSB: 1, LSB: 2, SwapMSBLSB: true},
		Program:  score.Program{Enabled: true, Number: 10},
		StaticCC: []score.StaticCC{{Enabled: true, Controller: 74, Value: 20}, {Controller: 71, Value: 1}},
	}}
	if err := New(b).ApplySettings(inst); err != nil {
		t.Fatal(err)
	}
	want := []sent{{"", "B1 20 02"}, {"", "B1 00 01"}, {"", "C1 0A"}, {"", "B1 4A 14"}}
	if fmt.Sprint(b.sent) != fmt.Sprint(want) {
		t.Errorf("sent %v\nwant %v", b.sent, want)
	}

	b.sent = nil
	if err := New(b).ApplySettings(&score.Instrument{}); err != nil || len(b.sent) != 0 {
		t.Errorf("empty settings sent %v, err %v", b.sent, err)
	}
}

func TestSinkErrors(t *testing.T) {
	b := &recordingBackend{fail: true}
	s := New(b)
	if err := s.PlayNote(nil, 60, 1); !errors.Is(err, ErrNoInstrument) {
		t.Errorf("nil instrument: %v", err)
	}
	err := s.StopAllNotes(&score.Instrument{Name: "lead"})
	if err == nil || !strings.Contains(err.Error(), "lead: unplugged") {
		t.Errorf("backend failure: %v", err)
	}
	s.Close()
	if !b.closed {
		t.Error("backend not closed")
	}
}

type bufferPort struct {
	bytes.Buffer
	closes int
}

func (p *bufferPort) Close() error {
	p.closes++
	return nil
}

func TestSerialWritesRawBytes(t *testing.T) {
	port := &bufferPort{}
	s := New(NewSerial(port))
	s.PlayNote(&score.Instrument{Port: "ignored", Channel: 0}, 64, 127)
	s.SendPitchBend(&score.Instrument{Channel: 3}, 0)
	want := []byte{0x90, 64, 127, 0xE3, 0x00, 0x40}
	if !bytes.Equal(port.Bytes(), want) {
		t.Errorf("wrote % X, want % X", port.Bytes(), want)
	}
	s.Close()
	s.Close()
	if port.closes != 1 {
		t.Errorf("closed %d times", port.closes)
	}
	if err := s.PlayNote(&score.Instrument{}, 1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: %v", err)
	}
}

func TestLogBackend(t *testing.T) {
	var buf bytes.Buffer
	logger := charmlog.New(&buf)
	s := New(NewLog(logger))
	if err := s.PlayNote(&score.Instrument{Port: "synth"}, 60, 100); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "synth") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestPortsNotFound(t *testing.T) {
	p := NewPorts("default", charmlog.New(&bytes.Buffer{}))
	var asked []string
	p.find = func(name string) (drivers.Out, error) {
		asked = append(asked, name)
		return nil, errors.New("no such port")
	}
	if err := p.Send("", midi.NoteOn(0, 60, 1)); !errors.Is(err, ErrPortNotFound) {
		t.Errorf("err = %v", err)
	}
	if err := p.Send("synth", midi.NoteOn(0, 60, 1)); !errors.Is(err, ErrPortNotFound) {
		t.Errorf("err = %v", err)
	}
	if fmt.Sprint(asked) != "[default synth]" {
		t.Errorf("looked up %v", asked)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Send("synth", midi.NoteOn(0, 60, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("after close: %v", err)
	}
}

func TestWatcherDiff(t *testing.T) {
	w := NewWatcher(time.Second)
	got := w.diff([]string{"b", "a"})
	want := []PortEvent{{PortAdded, "a"}, {PortAdded, "b"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("first scan = %v", got)
	}
	if got := w.diff([]string{"a", "b"}); len(got) != 0 {
		t.Errorf("unchanged scan = %v", got)
	}
	got = w.diff([]string{"c", "a"})
	want = []PortEvent{{PortAdded, "c"}, {PortRemoved, "b"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("changed scan = %v", got)
	}
}

func TestWatcherRun(t *testing.T) {
	w := NewWatcher(time.Millisecond)
	scans := make(chan []string, 2)
	scans <- []string{"synth"}
	scans <- []string{}
	w.list = func() []string {
		select {
		case names := <-scans:
			return names
		default:
			return []string{}
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	var got []PortEvent
	for ev := range w.Events() {
		got = append(got, ev)
		if len(got) == 2 {
			cancel()
		}
	}
	cancel()
	want := []PortEvent{{PortAdded, "synth"}, {PortRemoved, "synth"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v", got)
	}
	msg := got[0].Message()
	if msg.Type != shared.PortsChanged || msg.String != "synth" || !msg.Boolean {
		t.Errorf("message = %+v", msg)
	}
}

func TestQueueDrainsOnClose(t *testing.T) {
	b := &recordingBackend{}
	q := NewQueue(b, 2, charmlog.New(&bytes.Buffer{}))
	s := New(q)
	inst := &score.Instrument{Port: "synth"}
	for pitch := range uint8(5) {
		if err := s.PlayNote(inst, pitch, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if len(b.sent) != 5 || !b.closed {
		t.Errorf("sent %d messages, closed %t", len(b.sent), b.closed)
	}
	if err := q.Send("synth", midi.Start()); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: %v", err)
	}
	q.Close()
}
