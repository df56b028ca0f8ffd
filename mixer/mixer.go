// Package mixer keeps the live mute, solo and velocity-scale state of tracks
// and columns. It is read by the playback scheduler and the MIDI exporter
// and written by the control thread.
package mixer

import "sync"

// FullVelocity is the neutral velocity scale (100%).
const FullVelocity = 127

type columnKey struct {
	track, column int
}

type State struct {
	mu             sync.RWMutex
	trackMuted     map[int]bool
	trackSoloed    map[int]bool
	trackVelocity  map[int]uint8
	columnMuted    map[columnKey]bool
	columnSoloed   map[columnKey]bool
	columnVelocity map[columnKey]uint8
}

func New() *State {
	return &State{
		trackMuted:     map[int]bool{},
		trackSoloed:    map[int]bool{},
		trackVelocity:  map[int]uint8{},
		columnMuted:    map[columnKey]bool{},
		columnSoloed:   map[columnKey]bool{},
		columnVelocity: map[columnKey]uint8{},
	}
}

func (s *State) SetTrackMuted(track int, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setFlag(s.trackMuted, track, muted)
}

func (s *State) SetTrackSoloed(track int, soloed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setFlag(s.trackSoloed, track, soloed)
}

func (s *State) SetColumnMuted(track, column int, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setFlag(s.columnMuted, columnKey{track, column}, muted)
}

func (s *State) SetColumnSoloed(track, column int, soloed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setFlag(s.columnSoloed, columnKey{track, column}, soloed)
}

// SetTrackVelocity sets the track velocity scale, 0-127 meaning 0-100%.
func (s *State) SetTrackVelocity(track int, scale uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scale >= FullVelocity {
		delete(s.trackVelocity, track)
		return
	}
	s.trackVelocity[track] = scale
}

// SetColumnVelocity sets the column velocity scale, 0-127 meaning 0-100%.
func (s *State) SetColumnVelocity(track, column int, scale uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := columnKey{track, column}
	if scale >= FullVelocity {
		delete(s.columnVelocity, k)
		return
	}
	s.columnVelocity[k] = scale
}

func (s *State) IsTrackMuted(track int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackMuted[track]
}

func (s *State) IsTrackSoloed(track int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackSoloed[track]
}

// HasActiveState reports whether any mute or solo is set.
func (s *State) HasActiveState() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trackMuted)+len(s.trackSoloed)+len(s.columnMuted)+len(s.columnSoloed) > 0
}

// Reset clears every flag and scale.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.trackMuted)
	clear(s.trackSoloed)
	clear(s.trackVelocity)
	clear(s.columnMuted)
	clear(s.columnSoloed)
	clear(s.columnVelocity)
}

// ShouldTrackPlay: a track plays iff no track is soloed or it is soloed, and
// it is not muted.
func (s *State) ShouldTrackPlay(track int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shouldTrackPlay(track)
}

func (s *State) shouldTrackPlay(track int) bool {
	if s.trackMuted[track] {
		return false
	}
	return len(s.trackSoloed) == 0 || s.trackSoloed[track]
}

// ShouldColumnPlay: a column plays iff its track plays, no sibling column is
// soloed or it is soloed, and it is not muted.
func (s *State) ShouldColumnPlay(track, column int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.shouldTrackPlay(track) {
		return false
	}
	k := columnKey{track, column}
	if s.columnMuted[k] {
		return false
	}
	if s.columnSoloed[k] {
		return true
	}
	for other := range s.columnSoloed {
		if other.track == track {
			return false
		}
	}
	return true
}

// EffectiveVelocity scales a raw velocity by the column and track scales.
func (s *State) EffectiveVelocity(track, column int, velocity uint8) uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scale := func(v uint8, ok bool) float64 {
		if !ok {
			return 1
		}
		return float64(v) / FullVelocity
	}
	tv, tok := s.trackVelocity[track]
	cv, cok := s.columnVelocity[columnKey{track, column}]
	v := float64(velocity) * scale(tv, tok) * scale(cv, cok)
	if v > 127 {
		v = 127
	}
	return uint8(v + 0.5)
}

func setFlag[K comparable](m map[K]bool, k K, on bool) {
	if on {
		m[k] = true
	} else {
		delete(m, k)
	}
}
