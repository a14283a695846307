package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownEvent indicates an event name outside the contract.
	ErrUnknownEvent = errors.New("unknown event name")
)

// Envelope wraps every event on the wire with identity, routing and ordering
// metadata. Payload stays raw until the receiver decodes it against the
// event name.
type Envelope struct {
	// ID is the unique event identifier, used to suppress duplicates on the
	// at-least-once transport.
	ID string `json:"id"`

	// Name selects the payload type.
	Name EventName `json:"name"`

	// Room is the session the event belongs to.
	Room string `json:"room"`

	// UserID and Username identify the originating user.
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	// Seq is a per-element sequence number assigned by the relay for
	// mutation events. Zero means unsequenced (client-originated, not yet
	// through the relay).
	Seq uint64 `json:"seq,omitempty"`

	// Sent is when the envelope was created.
	Sent time.Time `json:"sent"`

	// Payload is the JSON-encoded event body.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around payload with a fresh event ID.
func NewEnvelope(name EventName, room, userID, username string, payload Payload) (*Envelope, error) {
	if !name.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &Envelope{
		ID:       uuid.NewString(),
		Name:     name,
		Room:     room,
		UserID:   userID,
		Username: username,
		Sent:     time.Now().UTC(),
		Payload:  raw,
	}, nil
}

// Encode serializes the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates an envelope's framing. The payload is
// left raw; call DecodePayload to type and validate it.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !env.Name.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Name)
	}
	if env.ID == "" || env.Room == "" {
		return nil, fmt.Errorf("%w: envelope requires id and room", ErrInvalidPayload)
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope body into the payload type for its
// event name and validates it.
func (e *Envelope) DecodePayload() (Payload, error) {
	var p Payload
	switch e.Name {
	case EventTrackAdd:
		p = &TrackAddPayload{}
	case EventTrackUpdate:
		p = &TrackUpdatePayload{}
	case EventTrackDelete:
		p = &TrackDeletePayload{}
	case EventRegionAdd:
		p = &RegionAddPayload{}
	case EventRegionUpdate, EventRegionDrag:
		p = &RegionUpdatePayload{}
	case EventRegionDelete:
		p = &RegionDeletePayload{}
	case EventNoteAdd:
		p = &NoteAddPayload{}
	case EventNoteUpdate:
		p = &NoteUpdatePayload{}
	case EventNoteDelete:
		p = &NoteDeletePayload{}
	case EventLockAcquire, EventLockRelease:
		p = &LockPayload{}
	case EventSynthParamsUpdate:
		p = &SynthParamsPayload{}
	case EventEffectChainUpdate:
		p = &EffectChainPayload{}
	case EventBPMChange:
		p = &BPMChangePayload{}
	case EventTimeSignatureChange:
		p = &TimeSignaturePayload{}
	case EventRecordingPreview:
		p = &RecordingPreviewPayload{}
	case EventRecordingPreviewEnd:
		p = &RecordingPreviewEndPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Name)
	}

	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Name, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ElementID returns the lockable element a mutation event targets, or empty
// for events that do not address a single element.
func (e *Envelope) ElementID() (string, error) {
	p, err := e.DecodePayload()
	if err != nil {
		return "", err
	}
	switch v := p.(type) {
	case *TrackUpdatePayload:
		if v.ElementID != "" {
			return v.ElementID, nil
		}
		return v.TrackID, nil
	case *RegionUpdatePayload:
		return v.RegionID, nil
	case *NoteUpdatePayload:
		return v.NoteID, nil
	case *SynthParamsPayload:
		return v.TrackID, nil
	case *EffectChainPayload:
		return v.TrackID, nil
	case *LockPayload:
		return v.ElementID, nil
	default:
		return "", nil
	}
}
