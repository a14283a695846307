// Package arrange holds the shared arrangement entities (tracks, regions,
// notes, effect chains, transport) and the stores that own them during a
// collaborative session. Entities are mutated only through the update
// contracts in this package; lock enforcement happens in the layers above.
package arrange

// Track is a single instrument or audio lane in the arrangement.
type Track struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Instrument string  `json:"instrument"`
	Volume     float64 `json:"volume"`
	Pan        float64 `json:"pan"`
	Muted      bool    `json:"muted"`
	Soloed     bool    `json:"soloed"`
	Color      string  `json:"color"`

	// SynthParams holds the instrument's parameter values, merged key-by-key
	// as synth_params_update events arrive.
	SynthParams map[string]float64 `json:"synthParams,omitempty"`
}

// Region is a clip placed on a track's timeline. Start and Duration are
// measured in beats.
type Region struct {
	ID             string  `json:"id"`
	TrackID        string  `json:"trackId"`
	Name           string  `json:"name"`
	Start          float64 `json:"start"`
	Duration       float64 `json:"duration"`
	LoopIterations int     `json:"loopIterations"`
	Color          string  `json:"color"`
}

// Note is a single MIDI note inside a region. Start is relative to the
// region's start, in beats.
type Note struct {
	ID       string  `json:"id"`
	RegionID string  `json:"regionId"`
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Effect is one processor in a track's effect chain.
type Effect struct {
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params"`
}

// EffectChain is the ordered list of effects applied to a track.
type EffectChain struct {
	ID      string   `json:"id"`
	TrackID string   `json:"trackId"`
	Effects []Effect `json:"effects"`
}

// Preview is the in-flight recording preview for one track: the notes a user
// is currently playing before the take is committed. Cleared when the
// recording ends.
type Preview struct {
	TrackID string `json:"trackId"`
	UserID  string `json:"userId"`
	Notes   []Note `json:"notes"`
}

// Transport carries the broadcast-only session parameters. These are not
// lockable: the last received change wins.
type Transport struct {
	BPM            float64 `json:"bpm"`
	TimeSigBeats   int     `json:"timeSigBeats"`
	TimeSigUnit    int     `json:"timeSigUnit"`
}
