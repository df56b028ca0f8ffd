package shared

import "fmt"

type Event int

const (
	Quit Event = iota
	PlayPause
	Stop
	Loop
	Position
	Error
	Status
	StateImport
	StateExport
	Quantize
	TrackMute
	TrackSolo
	TrackVelocity
	ColumnMute
	ColumnSolo
	MixerReset
	PortsChanged
)

func (e Event) String() string {
	switch e {
	case Quit:
		return "quit"
	case PlayPause:
		return "play/pause"
	case Stop:
		return "stop"
	case Loop:
		return "loop"
	case Position:
		return "position"
	case Error:
		return "error"
	case Status:
		return "status"
	case StateImport:
		return "import"
	case StateExport:
		return "export"
	case Quantize:
		return "quantize"
	case TrackMute:
		return "track mute"
	case TrackSolo:
		return "track solo"
	case TrackVelocity:
		return "track velocity"
	case ColumnMute:
		return "column mute"
	case ColumnSolo:
		return "column solo"
	case MixerReset:
		return "mixer reset"
	case PortsChanged:
		return "ports changed"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Message travels between the controller loop and its front ends. The
// meaning of the payload fields depends on Type: Position carries the song
// position in Number and the line in Number2, mixer messages carry the track
// in Number, the column in Number2 and the flag in Boolean.
type Message struct {
	Type    Event
	Number  int
	Boolean bool
	String  string
	Number2 int
}

func (m Message) Describe() string {
	switch m.Type {
	case Position:
		return fmt.Sprintf("%03d:%03d", m.Number, m.Number2)
	case Error, Status, StateImport, StateExport, PortsChanged:
		return fmt.Sprintf("%s: %s", m.Type, m.String)
	case TrackMute, TrackSolo:
		return fmt.Sprintf("%s %s=%t", m.Type, TrackName(m.Number), m.Boolean)
	case ColumnMute, ColumnSolo:
		return fmt.Sprintf("%s %s/%d=%t", m.Type, TrackName(m.Number), m.Number2, m.Boolean)
	}
	return m.Type.String()
}

// TrackName is the display name of a track index, matching the names the
// importer maps back to indices.
func TrackName(track int) string {
	return fmt.Sprintf("Track %d", track+1)
}
