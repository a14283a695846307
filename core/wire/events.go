// Package wire defines the event contract shared by every participant in a
// collaborative arrangement session: the namespaced event names, the message
// envelope, and the typed payload for each event. The names and payload
// shapes are a compatibility contract: renaming or reshaping any of them is
// a breaking change for deployed clients.
package wire

// EventName identifies one kind of session event on the wire.
type EventName string

const (
	EventTrackAdd    EventName = "arrange:track_add"
	EventTrackUpdate EventName = "arrange:track_update"
	EventTrackDelete EventName = "arrange:track_delete"

	EventRegionAdd    EventName = "arrange:region_add"
	EventRegionUpdate EventName = "arrange:region_update"
	EventRegionDelete EventName = "arrange:region_delete"
	EventRegionDrag   EventName = "arrange:region_drag"

	EventNoteAdd    EventName = "arrange:note_add"
	EventNoteUpdate EventName = "arrange:note_update"
	EventNoteDelete EventName = "arrange:note_delete"

	EventLockAcquire EventName = "arrange:lock_acquire"
	EventLockRelease EventName = "arrange:lock_release"

	EventSynthParamsUpdate EventName = "arrange:synth_params_update"
	EventEffectChainUpdate EventName = "arrange:effect_chain_update"

	EventBPMChange           EventName = "arrange:bpm_change"
	EventTimeSignatureChange EventName = "arrange:time_signature_change"

	EventRecordingPreview    EventName = "arrange:recording_preview"
	EventRecordingPreviewEnd EventName = "arrange:recording_preview_end"
)

// ValidEventNames returns every event name in the contract.
func ValidEventNames() []EventName {
	return []EventName{
		EventTrackAdd,
		EventTrackUpdate,
		EventTrackDelete,
		EventRegionAdd,
		EventRegionUpdate,
		EventRegionDelete,
		EventRegionDrag,
		EventNoteAdd,
		EventNoteUpdate,
		EventNoteDelete,
		EventLockAcquire,
		EventLockRelease,
		EventSynthParamsUpdate,
		EventEffectChainUpdate,
		EventBPMChange,
		EventTimeSignatureChange,
		EventRecordingPreview,
		EventRecordingPreviewEnd,
	}
}

// IsValid reports whether the name is part of the contract.
func (n EventName) IsValid() bool {
	for _, valid := range ValidEventNames() {
		if n == valid {
			return true
		}
	}
	return false
}

func (n EventName) String() string { return string(n) }

// IsMutation reports whether the event mutates entity state, as opposed to
// lock traffic.
func (n EventName) IsMutation() bool {
	switch n {
	case EventLockAcquire, EventLockRelease:
		return false
	default:
		return n.IsValid()
	}
}
