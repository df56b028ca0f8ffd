package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/JeanRibes/midi-tracker/config"
	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/score"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver
)

const usage = `usage: tracker [flags] <command> [args]

commands:
  play [-tui] [-loop] [-start N] [-end N] <file.mid>   play a MIDI file through the tracker
  export [-start N] [-end N] [-mute 1,2] <in.mid> <out.mid>  re-render a MIDI file
  import [-merge] <file.mid>...                            import files and summarize the song
  info <file.mid>                                          show the tracks of a MIDI file
  ports                                                    list MIDI and serial outputs

flags:
`

// forcedBPM replaces the tempo of loaded files when set.
var forcedBPM int

func main() {
	configFile := flag.String("config", "config.yaml", "config file")
	logLevel := flag.String("log-level", "", "log level, overrides the config file")
	logFile := flag.String("log", "", "log to this file instead of stderr")
	flag.IntVar(&forcedBPM, "bpm", 0, "song BPM, overrides the config file and loaded files")
	backend := flag.String("output", "", "output backend: ports, serial or log")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		charmlog.Fatal("config", "err", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if forcedBPM > 0 {
		cfg.Song.BPM = forcedBPM
	}
	if *backend != "" {
		cfg.Output.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		charmlog.Fatal("config", "err", err)
	}

	var w io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			charmlog.Fatal("log file", "err", err)
		}
		defer f.Close()
		w = f
	}
	logger := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           cfg.Level(),
		ReportCaller:    cfg.Level() == charmlog.DebugLevel,
		ReportTimestamp: true,
		Prefix:          "tracker",
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = charmlog.WithContext(ctx, logger)
	defer midi.CloseDriver()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "play":
		err = play(ctx, cfg, args)
	case "export":
		err = export(ctx, cfg, args)
	case "import":
		err = importFiles(ctx, cfg, args)
	case "info":
		err = info(ctx, args)
	case "ports":
		err = ports()
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads the config file. The default file may be missing.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		return config.Default(), nil
	}
	return cfg, err
}

// loadSong imports a MIDI file into a song built from the configuration.
// The file brings its notes and tempo, the song block its grid and size.
// Configured instruments and track assignments are applied after the
// import so that they win over what the file implies.
func loadSong(ctx context.Context, cfg config.Config, path string) (*score.Song, *midifile.Result, error) {
	song, err := cfg.NewSong()
	if err != nil {
		return nil, nil, err
	}
	res, err := midifile.ImportFile(ctx, path, song, cfg.ImportOptions(midifile.Fresh))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if forcedBPM > 0 {
		song.BPM = forcedBPM
	}
	if err := cfg.Fit(song); err != nil {
		return nil, nil, err
	}
	if err := cfg.Apply(song); err != nil {
		return nil, nil, err
	}
	return song, res, nil
}
