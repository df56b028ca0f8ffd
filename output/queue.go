package output

import (
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

type queued struct {
	port string
	msg  midi.Message
}

// Queue hands messages to a goroutine that sends them through another
// backend, so that a slow port does not hold up the caller. Send errors are
// logged. A full queue blocks.
type Queue struct {
	backend Backend
	logger  *charmlog.Logger
	queue   chan queued
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewQueue(b Backend, size int, logger *charmlog.Logger) *Queue {
	if logger == nil {
		logger = charmlog.Default().WithPrefix("queue")
	}
	q := &Queue{
		backend: b,
		logger:  logger,
		queue:   make(chan queued, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for m := range q.queue {
		if err := q.backend.Send(m.port, m.msg); err != nil {
			q.logger.Error("send", "port", m.port, "msg", m.msg, "err", err)
		}
	}
}

func (q *Queue) Send(port string, msg midi.Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.queue <- queued{port, msg}
	return nil
}

// Close drains the queue, then closes the backend.
func (q *Queue) Close() error {
	var err error
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.queue)
		q.mu.Unlock()
		<-q.done
		err = q.backend.Close()
	})
	return err
}
