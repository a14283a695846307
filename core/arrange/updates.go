package arrange

// Partial-field update types. A nil field means "leave unchanged"; updates
// apply field-by-field so concurrent editors touching different fields of the
// same entity do not clobber each other's values.

// TrackUpdates is a partial update for a Track.
type TrackUpdates struct {
	Name       *string  `json:"name,omitempty"`
	Instrument *string  `json:"instrument,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	Pan        *float64 `json:"pan,omitempty"`
	Muted      *bool    `json:"muted,omitempty"`
	Soloed     *bool    `json:"soloed,omitempty"`
	Color      *string  `json:"color,omitempty"`
}

// ApplyTo copies the set fields onto t.
func (u TrackUpdates) ApplyTo(t *Track) {
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Instrument != nil {
		t.Instrument = *u.Instrument
	}
	if u.Volume != nil {
		t.Volume = *u.Volume
	}
	if u.Pan != nil {
		t.Pan = *u.Pan
	}
	if u.Muted != nil {
		t.Muted = *u.Muted
	}
	if u.Soloed != nil {
		t.Soloed = *u.Soloed
	}
	if u.Color != nil {
		t.Color = *u.Color
	}
}

// IsEmpty reports whether no fields are set.
func (u TrackUpdates) IsEmpty() bool {
	return u.Name == nil && u.Instrument == nil && u.Volume == nil &&
		u.Pan == nil && u.Muted == nil && u.Soloed == nil && u.Color == nil
}

// RegionUpdates is a partial update for a Region.
type RegionUpdates struct {
	TrackID        *string  `json:"trackId,omitempty"`
	Name           *string  `json:"name,omitempty"`
	Start          *float64 `json:"start,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	LoopIterations *float64 `json:"loopIterations,omitempty"`
	Color          *string  `json:"color,omitempty"`
}

// ApplyTo copies the set fields onto r. LoopIterations arrives as a float
// from the wire and is rounded during sanitization.
func (u RegionUpdates) ApplyTo(r *Region) {
	if u.TrackID != nil {
		r.TrackID = *u.TrackID
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Start != nil {
		r.Start = *u.Start
	}
	if u.Duration != nil {
		r.Duration = *u.Duration
	}
	if u.LoopIterations != nil {
		r.LoopIterations = int(*u.LoopIterations)
	}
	if u.Color != nil {
		r.Color = *u.Color
	}
}

// IsEmpty reports whether no fields are set.
func (u RegionUpdates) IsEmpty() bool {
	return u.TrackID == nil && u.Name == nil && u.Start == nil &&
		u.Duration == nil && u.LoopIterations == nil && u.Color == nil
}

// NoteUpdates is a partial update for a Note.
type NoteUpdates struct {
	Pitch    *int     `json:"pitch,omitempty"`
	Velocity *int     `json:"velocity,omitempty"`
	Start    *float64 `json:"start,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// ApplyTo copies the set fields onto n.
func (u NoteUpdates) ApplyTo(n *Note) {
	if u.Pitch != nil {
		n.Pitch = *u.Pitch
	}
	if u.Velocity != nil {
		n.Velocity = *u.Velocity
	}
	if u.Start != nil {
		n.Start = *u.Start
	}
	if u.Duration != nil {
		n.Duration = *u.Duration
	}
}

// IsEmpty reports whether no fields are set.
func (u NoteUpdates) IsEmpty() bool {
	return u.Pitch == nil && u.Velocity == nil && u.Start == nil && u.Duration == nil
}
