package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/JeanRibes/midi-tracker/config"
	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/music"
	"github.com/JeanRibes/midi-tracker/output"
	. "github.com/JeanRibes/midi-tracker/shared"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

const virtualPort = "midi-tracker"

// outputs builds the configured backend. For driver ports it also returns
// a watcher and the function that forgets removed ports.
func outputs(cfg config.Config, logger *charmlog.Logger) (output.Backend, *output.Watcher, func(string), error) {
	switch cfg.Output.Backend {
	case config.BackendSerial:
		s, err := output.OpenSerial(cfg.Output.Serial, cfg.Output.Baud)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("serial %q: %w", cfg.Output.Serial, err)
		}
		return s, nil, nil, nil
	case config.BackendLog:
		return output.NewLog(logger.WithPrefix("midi")), nil, nil, nil
	}
	fallback := cfg.Output.Port
	if _, err := midi.FindOutPort(fallback); fallback == "" || err != nil {
		logger.Warn("can't find output, opening a virtual one", "port", fallback)
		if drv, ok := drivers.Get().(*rtmididrv.Driver); ok {
			out, err := drv.OpenVirtualOut(virtualPort)
			if err != nil {
				return nil, nil, nil, err
			}
			fallback = out.String()
		}
	}
	ports := output.NewPorts(fallback, logger.WithPrefix("ports"))
	return output.NewQueue(ports, 256, logger.WithPrefix("queue")), output.NewWatcher(time.Second), ports.Forget, nil
}

func play(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	useTUI := fs.Bool("tui", false, "show the transport view")
	loop := fs.Bool("loop", false, "loop the played range")
	start := fs.Int("start", 0, "first song position")
	end := fs.Int("end", 0, "song position to stop before, 0 for the end")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errArgs
	}
	logger := charmlog.FromContext(ctx)
	song, _, err := loadSong(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	backend, watcher, forget, err := outputs(cfg, logger)
	if err != nil {
		return err
	}
	sink := output.New(backend)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("close output", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var portEvents <-chan output.PortEvent
	if watcher != nil {
		go watcher.Run(ctx)
		portEvents = watcher.Events()
	}

	sinkUI := make(chan Message, 64)
	sinkLoop := make(chan Message)
	session := music.NewSession(song, sink, logger, sinkUI)
	session.Options.Render = cfg.RenderOptions()
	session.Options.Export = cfg.ExportOptions()
	session.Options.Import = cfg.ImportOptions(midifile.Fresh)
	done := make(chan struct{})
	go func() {
		defer close(done)
		music.Run(ctx, cancel, session, portEvents, forget, sinkUI, sinkLoop)
	}()

	first := []Message{
		{Type: Loop, Boolean: *loop},
		{Type: PlayPause, Number: *start, Number2: *end},
	}
	if *useTUI {
		err = runTUI(ctx, session, fs.Arg(0), sinkUI, sinkLoop, first)
	} else {
		err = waitForEnd(ctx, sinkUI, sinkLoop, first)
	}
	cancel()
	<-done
	return err
}

// waitForEnd starts playback and returns when it stops or ctx is done.
func waitForEnd(ctx context.Context, sinkUI <-chan Message, sinkLoop chan<- Message, first []Message) error {
	logger := charmlog.FromContext(ctx)
	position := -1
	for _, msg := range first {
		select {
		case sinkLoop <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-sinkUI:
			switch msg.Type {
			case Error:
				return errors.New(msg.String)
			case PlayPause:
				if !msg.Boolean {
					return nil
				}
			case Position:
				if msg.Number != position {
					position = msg.Number
					logger.Info("position", "at", msg.Describe())
				}
			case PortsChanged:
				logger.Info(msg.Describe())
			}
		}
	}
}
