package music

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/JeanRibes/midi-tracker/output"
	"github.com/JeanRibes/midi-tracker/player"
	"github.com/JeanRibes/midi-tracker/score"
	. "github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

type instantClock struct{}

func (instantClock) Now() time.Time {
	return time.Unix(0, 0)
}

func (instantClock) SleepUntil(ctx context.Context, _ time.Time) error {
	return ctx.Err()
}

type recordingBackend struct {
	mu   sync.Mutex
	sent []midi.Message
}

func (b *recordingBackend) Send(port string, msg midi.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, slices.Clone(msg))
	return nil
}

func (b *recordingBackend) Close() error {
	return nil
}

// noteOns counts the note-on messages sent so far.
func (b *recordingBackend) noteOns() (n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ch, key, vel uint8
	for _, msg := range b.sent {
		if msg.GetNoteStart(&ch, &key, &vel) {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	session *Session
	backend *recordingBackend
	toLoop  chan Message
	fromUI  chan Message
	ports   chan output.PortEvent
	forgot  chan string
	cancel  context.CancelFunc
	done    chan struct{}
}

func quietLogger() *charmlog.Logger {
	return charmlog.NewWithOptions(io.Discard, charmlog.Options{Level: charmlog.FatalLevel})
}

func start(t *testing.T) *harness {
	t.Helper()
	song, err := score.NewSong(2, 16)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := song.Pattern(0)
	on, _ := score.NewNoteOn(60, 100, 0)
	p.SetNote(0, 0, 0, on)
	p.SetNote(0, 0, 4, score.NewNoteOff())
	on, _ = score.NewNoteOn(36, 90, 0)
	p.SetNote(1, 0, 8, on)

	h := &harness{
		t:       t,
		backend: &recordingBackend{},
		toLoop:  make(chan Message),
		fromUI:  make(chan Message, 64),
		ports:   make(chan output.PortEvent),
		forgot:  make(chan string, 1),
		done:    make(chan struct{}),
	}
	h.session = NewSession(song, output.New(h.backend), quietLogger(), nil, player.WithClock(instantClock{}))
	ctx, cancel := context.WithCancel(charmlog.WithContext(context.Background(), quietLogger()))
	h.cancel = cancel
	go func() {
		defer close(h.done)
		Run(ctx, cancel, h.session, h.ports, func(port string) { h.forgot <- port }, h.fromUI, h.toLoop)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) send(msg Message) {
	h.t.Helper()
	select {
	case h.toLoop <- msg:
	case <-time.After(5 * time.Second):
		h.t.Fatalf("loop did not take %s", msg.Describe())
	}
}

// expect waits for the next message of the given type, skipping others.
func (h *harness) expect(typ Event) Message {
	h.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-h.fromUI:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			h.t.Fatalf("no %s message", typ)
		}
	}
}

func TestPlayToEnd(t *testing.T) {
	h := start(t)
	h.send(Message{Type: PlayPause})
	if msg := h.expect(PlayPause); !msg.Boolean {
		t.Fatalf("first PlayPause = %+v", msg)
	}
	if msg := h.expect(PlayPause); msg.Boolean {
		t.Fatalf("second PlayPause = %+v", msg)
	}
	if n := h.backend.noteOns(); n != 2 {
		t.Errorf("%d note-ons sent", n)
	}
	if h.session.Playing() {
		t.Error("still playing")
	}
}

func TestMixerMessages(t *testing.T) {
	h := start(t)
	h.send(Message{Type: TrackMute, Number: 0, Boolean: true})
	h.expect(TrackMute)
	h.send(Message{Type: ColumnSolo, Number: 1, Number2: 0, Boolean: true})
	h.expect(ColumnSolo)
	h.send(Message{Type: TrackVelocity, Number: 1, Number2: 300})
	h.expect(TrackVelocity)
	m := h.session.Mixer
	if m.ShouldTrackPlay(0) || !m.ShouldColumnPlay(1, 0) {
		t.Error("mute/solo not applied")
	}
	if v := m.EffectiveVelocity(1, 0, 100); v != 100 {
		t.Errorf("velocity clamped to full scale gave %d", v)
	}

	h.send(Message{Type: PlayPause})
	h.expect(PlayPause)
	h.expect(PlayPause)
	if n := h.backend.noteOns(); n != 1 {
		t.Errorf("%d note-ons with track 0 muted", n)
	}

	h.send(Message{Type: MixerReset})
	h.expect(MixerReset)
	if m.HasActiveState() {
		t.Error("mixer not reset")
	}
}

func TestExportImport(t *testing.T) {
	h := start(t)
	base := filepath.Join(t.TempDir(), "song")
	h.send(Message{Type: StateExport, String: base})
	exported := h.expect(StateExport)
	if exported.String != base+".mid" {
		t.Fatalf("exported to %q", exported.String)
	}
	if _, err := os.Stat(base + ".mid"); err != nil {
		t.Fatal(err)
	}

	h.send(Message{Type: StateImport, String: base + ".mid"})
	imported := h.expect(StateImport)
	if imported.Number != 2 || imported.Number2 != 2 {
		t.Errorf("imported %d tracks, %d notes", imported.Number, imported.Number2)
	}
	if got := h.session.Song().TrackCount(); got != 2 {
		t.Errorf("song has %d tracks", got)
	}

	h.send(Message{Type: StateImport, String: filepath.Join(t.TempDir(), "missing.mid")})
	if msg := h.expect(Error); msg.String == "" {
		t.Error("empty error message")
	}
}

func TestPortEvents(t *testing.T) {
	h := start(t)
	h.ports <- output.PortEvent{Type: output.PortAdded, Name: "synth"}
	if msg := h.expect(PortsChanged); msg.String != "synth" || !msg.Boolean {
		t.Errorf("added = %+v", msg)
	}
	h.ports <- output.PortEvent{Type: output.PortRemoved, Name: "synth"}
	if msg := h.expect(PortsChanged); msg.Boolean {
		t.Errorf("removed = %+v", msg)
	}
	select {
	case port := <-h.forgot:
		if port != "synth" {
			t.Errorf("forgot %q", port)
		}
	case <-time.After(5 * time.Second):
		t.Error("removed port not forgotten")
	}
}

func TestQuit(t *testing.T) {
	h := start(t)
	h.send(Message{Type: Quit})
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop still running")
	}
	if h.session.Playing() {
		t.Error("still playing after quit")
	}
}

func TestLocate(t *testing.T) {
	h := start(t)
	got := []int{}
	for _, tick := range []uint64{0, 25, 383, 384} {
		position, line := h.session.locate(tick)
		got = append(got, position, line)
	}
	if want := []int{0, 0, 0, 1, 0, 15, -1, -1}; !slices.Equal(got, want) {
		t.Errorf("locate = %v, want %v", got, want)
	}
}

func TestQuantizeKeepsGrid(t *testing.T) {
	song, err := score.NewSong(1, 16)
	if err != nil {
		t.Fatal(err)
	}
	song.LinesPerBeat = 8
	bass := song.Instruments.Add(score.Instrument{Name: "bass", Channel: 2})
	if err := song.SetTrackInstrument(0, bass.ID); err != nil {
		t.Fatal(err)
	}
	p, _ := song.Pattern(0)
	on, _ := score.NewNoteOn(48, 100, 5)
	p.SetNote(0, 0, 3, on)
	p.SetNote(0, 0, 6, score.NewNoteOff())

	session := NewSession(song, output.New(&recordingBackend{}), quietLogger(), nil, player.WithClock(instantClock{}))
	if err := session.Quantize(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := session.Song()
	if got.LinesPerBeat != 8 {
		t.Errorf("lines per beat = %d, want 8", got.LinesPerBeat)
	}
	if got.TrackInstrument(0) != bass.ID {
		t.Errorf("track 0 instrument = %d, want %d", got.TrackInstrument(0), bass.ID)
	}
	if p, err := got.Pattern(0); err != nil || p.LineCount() != 16 {
		t.Errorf("pattern 0 = %v, %v", p, err)
	}
}
