package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/JeanRibes/midi-tracker/config"
	"github.com/JeanRibes/midi-tracker/midifile"
	"github.com/JeanRibes/midi-tracker/mixer"
	"github.com/JeanRibes/midi-tracker/output"
	"github.com/JeanRibes/midi-tracker/score"

	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/lipgloss"
	"gitlab.com/gomidi/midi/v2"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
)

var errArgs = errors.New("wrong arguments, see -h")

// trackList parses "1,3" into zero-based track indices.
func trackList(s string) ([]int, error) {
	var tracks []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("track %q: want a number from 1", field)
		}
		tracks = append(tracks, n-1)
	}
	return tracks, nil
}

func export(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	start := fs.Int("start", 0, "first song position")
	end := fs.Int("end", 0, "song position to stop before, 0 for the end")
	mute := fs.String("mute", "", "comma separated track numbers to leave out")
	solo := fs.String("solo", "", "comma separated track numbers to keep alone")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errArgs
	}
	song, _, err := loadSong(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	m := mixer.New()
	muted, err := trackList(*mute)
	if err != nil {
		return err
	}
	for _, track := range muted {
		m.SetTrackMuted(track, true)
	}
	soloed, err := trackList(*solo)
	if err != nil {
		return err
	}
	for _, track := range soloed {
		m.SetTrackSoloed(track, true)
	}
	opts := cfg.ExportOptions()
	opts.Start, opts.End, opts.Mixer = *start, *end, m
	if err := midifile.ExportFile(fs.Arg(1), song, opts); err != nil {
		return err
	}
	charmlog.FromContext(ctx).Info("exported", "file", fs.Arg(1))
	return nil
}

func importFiles(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	merge := fs.Bool("merge", false, "merge every file after the first into the song")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errArgs
	}
	song, res, err := loadSong(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	results := []*midifile.Result{res}
	for _, path := range fs.Args()[1:] {
		mode := midifile.Fresh
		if *merge {
			mode = midifile.Merge
		}
		res, err := midifile.ImportFile(ctx, path, song, cfg.ImportOptions(mode))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, res)
	}
	if err := song.Validate(); err != nil {
		charmlog.FromContext(ctx).Warn("song is not valid", "err", err)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d BPM, %d lines per beat, %d tracks, play order %v", song.BPM, song.LinesPerBeat, song.TrackCount(), song.PlayOrder)))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "file\tchunk\tname\ttrack\tcolumns\tinstrument")
	for i, res := range results {
		for _, m := range res.Tracks {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\n", fs.Arg(i), m.Chunk, m.Name, m.Track+1, m.Columns, instrumentName(song, m.Track))
		}
	}
	tw.Flush()
	for _, index := range song.PatternIndices() {
		p, _ := song.Pattern(index)
		fmt.Println(dimStyle.Render(fmt.Sprintf("pattern %d: %d lines", index, p.LineCount())))
	}
	return nil
}

func instrumentName(song *score.Song, track int) string {
	id := song.TrackInstrument(track)
	if inst, ok := song.Instruments.Get(id); ok {
		return fmt.Sprintf("%s (ch %d)", inst.Name, inst.Channel+1)
	}
	return fmt.Sprintf("default (ch %d)", score.ChannelForIndex(track)+1)
}

func info(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errArgs
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	file, err := midifile.Parse(ctx, f)
	if err != nil && !errors.Is(err, midifile.ErrNoMidiTracks) {
		return err
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("format %d, %d ticks per quarter, %.2f BPM", file.Format, file.Division, file.Tempo)))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "chunk\tname\tport\tevents\tnotes\tchannels")
	for _, t := range file.Tracks {
		notes, channels := 0, map[uint8]bool{}
		var ch, key, vel uint8
		for _, e := range t.Events {
			if midi.Message(e.Message).GetNoteStart(&ch, &key, &vel) {
				notes++
				channels[ch+1] = true
			}
		}
		port := "-"
		if t.Port >= 0 {
			port = strconv.Itoa(t.Port)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%v\n", t.Chunk, t.Name, port, len(t.Events), notes, keys(channels))
	}
	tw.Flush()
	if len(file.Skipped) > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("skipped chunks: %v", file.Skipped)))
	}
	return err
}

func keys(m map[uint8]bool) []uint8 {
	var out []uint8
	for k := range uint8(17) {
		if m[k] {
			out = append(out, k)
		}
	}
	return out
}

func ports() error {
	fmt.Println(headerStyle.Render("MIDI outputs"))
	for _, name := range output.OutPortNames() {
		fmt.Println("  " + name)
	}
	fmt.Println(headerStyle.Render("serial ports"))
	names, err := output.SerialPortNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println("  " + name)
	}
	return nil
}
