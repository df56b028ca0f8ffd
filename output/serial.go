package output

import (
	"io"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"go.bug.st/serial"
)

// DINBaudRate is the MIDI 1.0 serial rate. USB serial adapters that speak
// MIDI over a virtual COM port often run at 115200 instead.
const DINBaudRate = 31250

// Serial writes raw MIDI bytes to a serial line. All instruments share the
// line; only their channels tell them apart.
type Serial struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

// OpenSerial opens a serial port. An empty name picks the first port found.
func OpenSerial(name string, baud int) (*Serial, error) {
	if name == "" {
		ports, err := SerialPortNames()
		if err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, ErrPortNotFound
		}
		name = ports[0]
	}
	if baud == 0 {
		baud = DINBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return NewSerial(port), nil
}

func NewSerial(w io.WriteCloser) *Serial {
	return &Serial{w: w}
}

func (s *Serial) Send(_ string, msg midi.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.w.Write(msg)
	return err
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

func SerialPortNames() ([]string, error) {
	return serial.GetPortsList()
}
