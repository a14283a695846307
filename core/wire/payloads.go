package wire

import (
	"errors"
	"fmt"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/locks"
)

// ErrInvalidPayload indicates a malformed inbound payload. Callers drop the
// event and log it; one bad event never interrupts processing of the rest.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the decoded, typed body of an envelope. The concrete type is
// determined by the envelope's event name.
type Payload interface {
	// Validate checks required fields and value ranges before any field is
	// trusted.
	Validate() error
}

// TrackAddPayload carries a new track.
type TrackAddPayload struct {
	RoomID string        `json:"roomId"`
	Track  arrange.Track `json:"track"`
}

func (p *TrackAddPayload) Validate() error {
	if p.RoomID == "" || p.Track.ID == "" {
		return fmt.Errorf("%w: track_add requires roomId and track.id", ErrInvalidPayload)
	}
	return nil
}

// TrackUpdatePayload carries a partial track update. ElementID names the
// property lock element for fader and knob gestures ("track:<id>:<prop>");
// empty means the update addresses the whole track.
type TrackUpdatePayload struct {
	RoomID    string               `json:"roomId"`
	TrackID   string               `json:"trackId"`
	ElementID string               `json:"elementId,omitempty"`
	Updates   arrange.TrackUpdates `json:"updates"`
}

func (p *TrackUpdatePayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" {
		return fmt.Errorf("%w: track_update requires roomId and trackId", ErrInvalidPayload)
	}
	return nil
}

// TrackDeletePayload removes a track.
type TrackDeletePayload struct {
	RoomID  string `json:"roomId"`
	TrackID string `json:"trackId"`
}

func (p *TrackDeletePayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" {
		return fmt.Errorf("%w: track_delete requires roomId and trackId", ErrInvalidPayload)
	}
	return nil
}

// RegionAddPayload carries a new region.
type RegionAddPayload struct {
	RoomID string         `json:"roomId"`
	Region arrange.Region `json:"region"`
}

func (p *RegionAddPayload) Validate() error {
	if p.RoomID == "" || p.Region.ID == "" {
		return fmt.Errorf("%w: region_add requires roomId and region.id", ErrInvalidPayload)
	}
	return nil
}

// RegionUpdatePayload carries a partial region update. The same shape is
// used for both region_update and region_drag.
type RegionUpdatePayload struct {
	RoomID   string                `json:"roomId"`
	RegionID string                `json:"regionId"`
	Updates  arrange.RegionUpdates `json:"updates"`
}

func (p *RegionUpdatePayload) Validate() error {
	if p.RoomID == "" || p.RegionID == "" {
		return fmt.Errorf("%w: region update requires roomId and regionId", ErrInvalidPayload)
	}
	return nil
}

// RegionDeletePayload removes a region.
type RegionDeletePayload struct {
	RoomID   string `json:"roomId"`
	RegionID string `json:"regionId"`
}

func (p *RegionDeletePayload) Validate() error {
	if p.RoomID == "" || p.RegionID == "" {
		return fmt.Errorf("%w: region_delete requires roomId and regionId", ErrInvalidPayload)
	}
	return nil
}

// NoteAddPayload carries a new note.
type NoteAddPayload struct {
	RoomID string       `json:"roomId"`
	Note   arrange.Note `json:"note"`
}

func (p *NoteAddPayload) Validate() error {
	if p.RoomID == "" || p.Note.ID == "" {
		return fmt.Errorf("%w: note_add requires roomId and note.id", ErrInvalidPayload)
	}
	return nil
}

// NoteUpdatePayload carries a partial note update.
type NoteUpdatePayload struct {
	RoomID  string              `json:"roomId"`
	NoteID  string              `json:"noteId"`
	Updates arrange.NoteUpdates `json:"updates"`
}

func (p *NoteUpdatePayload) Validate() error {
	if p.RoomID == "" || p.NoteID == "" {
		return fmt.Errorf("%w: note_update requires roomId and noteId", ErrInvalidPayload)
	}
	return nil
}

// NoteDeletePayload removes a note.
type NoteDeletePayload struct {
	RoomID string `json:"roomId"`
	NoteID string `json:"noteId"`
}

func (p *NoteDeletePayload) Validate() error {
	if p.RoomID == "" || p.NoteID == "" {
		return fmt.Errorf("%w: note_delete requires roomId and noteId", ErrInvalidPayload)
	}
	return nil
}

// LockPayload carries lock acquisition and release traffic.
type LockPayload struct {
	RoomID    string         `json:"roomId"`
	ElementID string         `json:"elementId"`
	LockType  locks.LockType `json:"lockType"`
	UserID    string         `json:"userId"`
	Username  string         `json:"username"`
}

func (p *LockPayload) Validate() error {
	if p.RoomID == "" || p.ElementID == "" || p.UserID == "" {
		return fmt.Errorf("%w: lock events require roomId, elementId and userId", ErrInvalidPayload)
	}
	if p.LockType != "" && !p.LockType.IsValid() {
		return fmt.Errorf("%w: unknown lock type %q", ErrInvalidPayload, p.LockType)
	}
	return nil
}

// SynthParamsPayload carries instrument parameter changes for a track.
type SynthParamsPayload struct {
	RoomID  string             `json:"roomId"`
	TrackID string             `json:"trackId"`
	Params  map[string]float64 `json:"params"`
}

func (p *SynthParamsPayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" {
		return fmt.Errorf("%w: synth_params_update requires roomId and trackId", ErrInvalidPayload)
	}
	return nil
}

// EffectChainPayload replaces a track's effect chain.
type EffectChainPayload struct {
	RoomID  string           `json:"roomId"`
	TrackID string           `json:"trackId"`
	Effects []arrange.Effect `json:"effects"`
}

func (p *EffectChainPayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" {
		return fmt.Errorf("%w: effect_chain_update requires roomId and trackId", ErrInvalidPayload)
	}
	return nil
}

// BPMChangePayload carries a tempo change. Broadcast-only, not lockable.
type BPMChangePayload struct {
	RoomID string  `json:"roomId"`
	BPM    float64 `json:"bpm"`
}

func (p *BPMChangePayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("%w: bpm_change requires roomId", ErrInvalidPayload)
	}
	if p.BPM <= 0 {
		return fmt.Errorf("%w: bpm must be positive, got %v", ErrInvalidPayload, p.BPM)
	}
	return nil
}

// TimeSignaturePayload carries a time-signature change. Broadcast-only.
type TimeSignaturePayload struct {
	RoomID string `json:"roomId"`
	Beats  int    `json:"beats"`
	Unit   int    `json:"unit"`
}

func (p *TimeSignaturePayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("%w: time_signature_change requires roomId", ErrInvalidPayload)
	}
	if p.Beats <= 0 || p.Unit <= 0 {
		return fmt.Errorf("%w: time signature must be positive, got %d/%d", ErrInvalidPayload, p.Beats, p.Unit)
	}
	return nil
}

// RecordingPreviewPayload streams the notes a user is currently recording so
// peers can render them before the take is committed.
type RecordingPreviewPayload struct {
	RoomID  string         `json:"roomId"`
	TrackID string         `json:"trackId"`
	UserID  string         `json:"userId"`
	Notes   []arrange.Note `json:"notes"`
}

func (p *RecordingPreviewPayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" || p.UserID == "" {
		return fmt.Errorf("%w: recording_preview requires roomId, trackId and userId", ErrInvalidPayload)
	}
	return nil
}

// RecordingPreviewEndPayload clears a user's recording preview.
type RecordingPreviewEndPayload struct {
	RoomID  string `json:"roomId"`
	TrackID string `json:"trackId"`
	UserID  string `json:"userId"`
}

func (p *RecordingPreviewEndPayload) Validate() error {
	if p.RoomID == "" || p.TrackID == "" || p.UserID == "" {
		return fmt.Errorf("%w: recording_preview_end requires roomId, trackId and userId", ErrInvalidPayload)
	}
	return nil
}
