package output

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/JeanRibes/midi-tracker/shared"
)

type PortEventType int

const (
	PortAdded PortEventType = iota
	PortRemoved
)

func (t PortEventType) String() string {
	if t == PortAdded {
		return "added"
	}
	return "removed"
}

// PortEvent is emitted when an output port appears or disappears.
type PortEvent struct {
	Type PortEventType
	Name string
}

// Message converts the event for the control loop.
func (e PortEvent) Message() shared.Message {
	return shared.Message{Type: shared.PortsChanged, String: e.Name, Boolean: e.Type == PortAdded}
}

// Watcher polls the driver's output ports and reports changes on a channel.
// It has a single consumer and shares no state with it.
type Watcher struct {
	events   chan PortEvent
	pollRate time.Duration
	timeout  time.Duration
	list     func() []string
	known    map[string]bool
}

func NewWatcher(pollRate time.Duration) *Watcher {
	if pollRate <= 0 {
		pollRate = time.Second
	}
	return &Watcher{
		events:   make(chan PortEvent, 16),
		pollRate: pollRate,
		timeout:  3 * time.Second,
		list:     OutPortNames,
		known:    map[string]bool{},
	}
}

func (w *Watcher) Events() <-chan PortEvent {
	return w.events
}

// Run polls until ctx is done, then closes the events channel. The first
// scan reports every port present as added.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()
	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	// some drivers hang while enumerating
	result := make(chan []string, 1)
	go func() { result <- w.list() }()
	var names []string
	select {
	case names = <-result:
	case <-time.After(w.timeout):
		return
	case <-ctx.Done():
		return
	}
	for _, ev := range w.diff(names) {
		select {
		case w.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// diff updates the known set and returns the changes, additions first,
// each group sorted by name.
func (w *Watcher) diff(names []string) (events []PortEvent) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		if !w.known[name] {
			events = append(events, PortEvent{Type: PortAdded, Name: name})
		}
	}
	var removed []PortEvent
	for name := range w.known {
		if !seen[name] {
			removed = append(removed, PortEvent{Type: PortRemoved, Name: name})
		}
	}
	byName := func(a, b PortEvent) int { return strings.Compare(a.Name, b.Name) }
	slices.SortFunc(events, byName)
	slices.SortFunc(removed, byName)
	w.known = seen
	return append(events, removed...)
}
