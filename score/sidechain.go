package score

type (
	// SideChainSettings makes note-ons of a source column drive controller
	// changes on the owning track.
	SideChainSettings struct {
		Enabled      bool
		SourceTrack  int
		SourceColumn int
		LookaheadMs  float64
		ReleaseMs    float64
		Targets      []SideChainTarget
	}

	SideChainTarget struct {
		Enabled      bool
		Controller   uint8
		TargetValue  uint8
		ReleaseValue uint8
	}
)

// IsSource reports whether events of (track, column) trigger this side-chain.
// A negative SourceColumn listens to every column of the source track.
func (s SideChainSettings) IsSource(track, column int) bool {
	if !s.Enabled || s.SourceTrack != track {
		return false
	}
	return s.SourceColumn < 0 || s.SourceColumn == column
}
