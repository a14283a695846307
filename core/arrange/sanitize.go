package arrange

import "math"

// Bounds applied to inbound values at the reconciliation boundary. Remote
// payloads are never trusted as received: a negative start or zero-length
// duration would corrupt the timeline for every participant.
const (
	// MinBeatLength is the smallest allowed region or note duration, in beats.
	MinBeatLength = 0.25

	// MinLoopIterations is the smallest allowed loop count.
	MinLoopIterations = 1
)

// ClampStart clamps a timeline position to be non-negative.
func ClampStart(start float64) float64 {
	if start < 0 || math.IsNaN(start) {
		return 0
	}
	return start
}

// ClampDuration clamps a duration to at least MinBeatLength.
func ClampDuration(d float64) float64 {
	if d < MinBeatLength || math.IsNaN(d) {
		return MinBeatLength
	}
	return d
}

// ClampLoopIterations rounds a loop count to the nearest integer and clamps
// it to at least MinLoopIterations.
func ClampLoopIterations(n float64) float64 {
	if math.IsNaN(n) {
		return MinLoopIterations
	}
	rounded := math.Round(n)
	if rounded < MinLoopIterations {
		return MinLoopIterations
	}
	return rounded
}

// SanitizeRegionUpdates clamps the set fields of a region update in place.
func SanitizeRegionUpdates(u *RegionUpdates) {
	if u.Start != nil {
		*u.Start = ClampStart(*u.Start)
	}
	if u.Duration != nil {
		*u.Duration = ClampDuration(*u.Duration)
	}
	if u.LoopIterations != nil {
		*u.LoopIterations = ClampLoopIterations(*u.LoopIterations)
	}
}

// SanitizeNoteUpdates clamps the set fields of a note update in place.
func SanitizeNoteUpdates(u *NoteUpdates) {
	if u.Start != nil {
		*u.Start = ClampStart(*u.Start)
	}
	if u.Duration != nil {
		*u.Duration = ClampDuration(*u.Duration)
	}
}

// SanitizeRegion clamps a full region record, used when a new region arrives.
func SanitizeRegion(r *Region) {
	r.Start = ClampStart(r.Start)
	r.Duration = ClampDuration(r.Duration)
	r.LoopIterations = int(ClampLoopIterations(float64(r.LoopIterations)))
}

// SanitizeNote clamps a full note record, used when a new note arrives.
func SanitizeNote(n *Note) {
	n.Start = ClampStart(n.Start)
	n.Duration = ClampDuration(n.Duration)
}
