package midifile

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	charmlog "github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2/smf"
)

// File is a parsed MIDI file with absolute event ticks and resolved meta
// information per track.
type File struct {
	Format   uint16
	Division uint16
	// Tempo is the first tempo found, 0 if the file has none.
	Tempo  float64
	Tracks []Track
	// Skipped lists the chunk indices of tracks that could not be decoded.
	Skipped []int
}

type Track struct {
	// Chunk is the position of the track chunk in the file.
	Chunk  int
	Name   string
	Port   int
	Events []Event
}

type Event struct {
	Tick    uint64
	Message smf.Message
}

const (
	headerSize  = 6
	chunkHeader = 8
)

type chunk struct {
	index int
	data  []byte
	err   error
}

// Parse reads a Standard MIDI File. Each track chunk is decoded on its own,
// so a corrupt or truncated track is logged and skipped while the others
// are kept. Only a broken header or an SMPTE division fail the whole file.
func Parse(ctx context.Context, r io.Reader) (*File, error) {
	logger := charmlog.FromContext(ctx)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < chunkHeader+headerSize || string(data[:4]) != "MThd" {
		return nil, ErrInvalidHeader
	}
	size := binary.BigEndian.Uint32(data[4:8])
	if size < headerSize || uint64(len(data)) < chunkHeader+uint64(size) {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, size)
	}
	f := &File{
		Format:   binary.BigEndian.Uint16(data[8:10]),
		Division: binary.BigEndian.Uint16(data[12:14]),
	}
	if f.Division&0x8000 != 0 {
		return nil, ErrSMPTE
	}
	if f.Division == 0 {
		return nil, fmt.Errorf("%w: zero division", ErrInvalidHeader)
	}

	for _, c := range splitTracks(data[chunkHeader+size:]) {
		if c.err != nil {
			logger.Warn("skipping track", "chunk", c.index, "err", c.err)
			f.Skipped = append(f.Skipped, c.index)
			continue
		}
		t, err := decodeTrack(c.data, f.Division)
		if err != nil {
			logger.Warn("skipping track", "chunk", c.index, "err", err)
			f.Skipped = append(f.Skipped, c.index)
			continue
		}
		t.Chunk = c.index
		if f.Tempo == 0 {
			f.Tempo = firstTempo(t)
		}
		f.Tracks = append(f.Tracks, t)
	}
	if len(f.Tracks) == 0 {
		return f, ErrNoMidiTracks
	}
	logger.Debug("parsed", "format", f.Format, "division", f.Division, "tracks", len(f.Tracks), "skipped", len(f.Skipped))
	return f, nil
}

// splitTracks cuts the data following the header into MTrk chunks. Other
// chunk types are ignored. A chunk running past the end of the data is
// returned with an error and ends the walk.
func splitTracks(data []byte) (chunks []chunk) {
	index := 0
	for len(data) > 0 {
		if len(data) < chunkHeader {
			chunks = append(chunks, chunk{index: index, err: io.ErrUnexpectedEOF})
			return
		}
		id := string(data[:4])
		size := uint64(binary.BigEndian.Uint32(data[4:8]))
		if uint64(len(data)-chunkHeader) < size {
			if id == "MTrk" {
				chunks = append(chunks, chunk{index: index, err: fmt.Errorf("truncated: %d of %d bytes", len(data)-chunkHeader, size)})
			}
			return
		}
		if id == "MTrk" {
			chunks = append(chunks, chunk{index: index, data: data[:chunkHeader+size]})
			index++
		}
		data = data[chunkHeader+size:]
	}
	return
}

// decodeTrack wraps one track chunk into a single-track file and reads it
// with the smf reader.
func decodeTrack(trackChunk []byte, division uint16) (Track, error) {
	var buf bytes.Buffer
	buf.WriteString("MThd")
	binary.Write(&buf, binary.BigEndian, struct {
		Size                     uint32
		Format, Tracks, Division uint16
	}{headerSize, 0, 1, division})
	buf.Write(trackChunk)

	s, err := smf.ReadFrom(&buf)
	if err != nil {
		return Track{}, err
	}
	if len(s.Tracks) != 1 {
		return Track{}, fmt.Errorf("decoded %d tracks", len(s.Tracks))
	}
	t := Track{Port: -1}
	var abs uint64
	for _, ev := range s.Tracks[0] {
		abs += uint64(ev.Delta)
		msg := ev.Message
		var name string
		switch {
		case msg.GetMetaTrackName(&name):
			if t.Name == "" {
				t.Name = name
			}
		case isPortMeta(msg):
			t.Port = int(msg[3])
		}
		t.Events = append(t.Events, Event{Tick: abs, Message: msg})
	}
	return t, nil
}

func isPortMeta(msg smf.Message) bool {
	return len(msg) == 4 && msg[0] == 0xFF && msg[1] == metaPort && msg[2] == 0x01
}

func firstTempo(t Track) float64 {
	var bpm float64
	for _, e := range t.Events {
		if e.Message.GetMetaTempo(&bpm) {
			return bpm
		}
	}
	return 0
}
