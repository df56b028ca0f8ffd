package output

import (
	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

// Log is a dry-run backend: every message is logged and nothing is sent.
type Log struct {
	logger *charmlog.Logger
}

func NewLog(logger *charmlog.Logger) *Log {
	if logger == nil {
		logger = charmlog.Default().WithPrefix("midi")
	}
	return &Log{logger: logger}
}

func (l *Log) Send(port string, msg midi.Message) error {
	l.logger.Info("send", "port", port, "msg", msg.String())
	return nil
}

func (l *Log) Close() error {
	return nil
}
