package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JeanRibes/midi-tracker/music"
	. "github.com/JeanRibes/midi-tracker/shared"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	cursorStyle   = lipgloss.NewStyle().Background(lipgloss.Color("#444"))
	playheadStyle = lipgloss.NewStyle().Reverse(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555")).Strikethrough(true)
	soloStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#fc0"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f55"))
)

// loopMsg wraps a message from the control loop.
type loopMsg Message

type model struct {
	ctx      context.Context
	session  *music.Session
	sinkUI   <-chan Message
	sinkLoop chan<- Message
	file     string
	first    []Message

	cursor   int
	playing  bool
	looping  bool
	position int
	line     int
	muted    map[int]bool
	soloed   map[int]bool
	status   string
	err      string
}

func runTUI(ctx context.Context, session *music.Session, file string, sinkUI <-chan Message, sinkLoop chan<- Message, first []Message) error {
	m := model{
		ctx:      ctx,
		session:  session,
		file:     file,
		sinkUI:   sinkUI,
		sinkLoop: sinkLoop,
		first:    first,
		muted:    map[int]bool{},
		soloed:   map[int]bool{},
		status:   "ready",
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.sinkUI:
			return loopMsg(msg)
		case <-m.ctx.Done():
			return tea.Quit()
		}
	}
}

func (m model) send(msgs ...Message) tea.Cmd {
	return func() tea.Msg {
		for _, msg := range msgs {
			select {
			case m.sinkLoop <- msg:
			case <-m.ctx.Done():
				return nil
			}
		}
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.send(m.first...))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		tracks := m.session.Song().TrackCount()
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Sequence(m.send(Message{Type: Quit}), tea.Quit)
		case " ":
			return m, m.send(Message{Type: PlayPause, Number: max(m.position, 0)})
		case "s":
			return m, m.send(Message{Type: Stop})
		case "l":
			return m, m.send(Message{Type: Loop, Boolean: !m.looping})
		case "h", "left":
			m.cursor = max(m.cursor-1, 0)
		case "right":
			m.cursor = min(m.cursor+1, tracks-1)
		case "m":
			return m, m.send(Message{Type: TrackMute, Number: m.cursor, Boolean: !m.muted[m.cursor]})
		case "o":
			return m, m.send(Message{Type: TrackSolo, Number: m.cursor, Boolean: !m.soloed[m.cursor]})
		case "r":
			return m, m.send(Message{Type: MixerReset})
		case "z":
			m.status = "quantizing"
			return m, m.send(Message{Type: Quantize})
		case "e":
			name := strings.TrimSuffix(filepath.Base(m.file), ".mid")
			if name == "" || name == "." {
				name = "tracker"
			}
			return m, m.send(Message{Type: StateExport, String: name + "-export"})
		case "x":
			m.err = ""
		}
	case loopMsg:
		m = m.apply(Message(msg))
		return m, m.listen()
	}
	return m, nil
}

func (m model) apply(msg Message) model {
	switch msg.Type {
	case Position:
		m.position, m.line = msg.Number, msg.Number2
	case PlayPause:
		m.playing = msg.Boolean
		if msg.Boolean {
			m.status = "playing"
		} else {
			m.status = "stopped"
		}
	case Loop:
		m.looping = msg.Boolean
	case TrackMute:
		m.muted[msg.Number] = msg.Boolean
	case TrackSolo:
		m.soloed[msg.Number] = msg.Boolean
	case MixerReset:
		clear(m.muted)
		clear(m.soloed)
	case Error:
		m.err = msg.String
	case Quantize:
		m.status = "quantized"
	case StateExport, PortsChanged, Status:
		m.status = msg.Describe()
	}
	return m
}

func (m model) View() string {
	var b strings.Builder
	song := m.session.Song()
	state := "■"
	if m.playing {
		state = "▶"
	}
	loop := " "
	if m.looping {
		loop = "⟳"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s %s  %d BPM", state, loop, song.BPM)))
	b.WriteString("  ")
	b.WriteString(playheadStyle.Render(Message{Type: Position, Number: m.position, Number2: m.line}.Describe()))
	b.WriteString("\n\n")
	for track := range song.TrackCount() {
		name := fmt.Sprintf(" %-12s ", song.TrackName(track))
		style := activeStyle
		switch {
		case m.muted[track]:
			style = mutedStyle
		case m.soloed[track]:
			style = soloStyle
		}
		if track == m.cursor {
			style = style.Inherit(cursorStyle)
		}
		b.WriteString(style.Render(name))
		if (track+1)%6 == 0 {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render(m.status))
	if m.err != "" {
		b.WriteString("\n" + errorStyle.Render(m.err))
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("space play/stop · s stop · l loop · ←/→ track · m mute · o solo · r reset · z quantize · e export · q quit"))
	return b.String()
}
