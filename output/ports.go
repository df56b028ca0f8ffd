package output

import (
	"errors"
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Ports sends to gomidi driver output ports, opened on first use by name.
type Ports struct {
	// Fallback is used for instruments without a port name.
	Fallback string

	logger  *charmlog.Logger
	find    func(name string) (drivers.Out, error)
	mu      sync.Mutex
	outs    map[string]drivers.Out
	senders map[string]func(midi.Message) error
	closed  bool
}

func NewPorts(fallback string, logger *charmlog.Logger) *Ports {
	if logger == nil {
		logger = charmlog.Default().WithPrefix("ports")
	}
	return &Ports{
		Fallback: fallback,
		logger:   logger,
		find:     midi.FindOutPort,
		outs:     map[string]drivers.Out{},
		senders:  map[string]func(midi.Message) error{},
	}
}

func (p *Ports) Send(port string, msg midi.Message) error {
	if port == "" {
		port = p.Fallback
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	send, ok := p.senders[port]
	if !ok {
		out, err := p.find(port)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrPortNotFound, port)
		}
		send, err = midi.SendTo(out)
		if err != nil {
			return fmt.Errorf("open %q: %w", port, err)
		}
		p.logger.Info("opened", "port", out.String())
		p.outs[port] = out
		p.senders[port] = send
	}
	return send(msg)
}

// Forget drops a port so that the next message reopens it. It is called
// when the port disappears.
func (p *Ports) Forget(port string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, out := range p.outs {
		if name == port || out.String() == port {
			delete(p.outs, name)
			delete(p.senders, name)
			p.logger.Debug("forgot", "port", port)
		}
	}
}

// Open lists the names of the ports opened so far.
func (p *Ports) Open() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.outs))
	for name := range p.outs {
		names = append(names, name)
	}
	return names
}

func (p *Ports) Close() (errs error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for name, out := range p.outs {
		if out.IsOpen() {
			if err := out.Close(); err != nil {
				errs = errors.Join(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	clear(p.outs)
	clear(p.senders)
	return errs
}

// OutPortNames lists the driver's output ports.
func OutPortNames() []string {
	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}
