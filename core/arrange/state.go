package arrange

import "sync"

// State bundles every entity store for one session. Each participant holds
// its own State instance; the reconciler and the local editing surface are
// the only writers.
type State struct {
	Tracks   *Store[Track]
	Regions  *Store[Region]
	Notes    *Store[Note]
	Chains   *Store[EffectChain]
	Previews *Store[Preview]

	mu        sync.RWMutex
	transport Transport
}

// DefaultBPM is the transport tempo for a fresh session.
const DefaultBPM = 120

// NewState returns an empty session state with default transport settings.
func NewState() *State {
	return &State{
		Tracks:   NewStore[Track](),
		Regions:  NewStore[Region](),
		Notes:    NewStore[Note](),
		Chains:   NewStore[EffectChain](),
		Previews: NewStore[Preview](),
		transport: Transport{
			BPM:          DefaultBPM,
			TimeSigBeats: 4,
			TimeSigUnit:  4,
		},
	}
}

// Transport returns the current transport parameters.
func (s *State) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// SetBPM updates the session tempo. Non-positive values are ignored.
func (s *State) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.BPM = bpm
}

// SetTimeSignature updates the session time signature. Non-positive values
// are ignored.
func (s *State) SetTimeSignature(beats, unit int) {
	if beats <= 0 || unit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.TimeSigBeats = beats
	s.transport.TimeSigUnit = unit
}
