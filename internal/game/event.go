package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary
	EventTypeSpawn
	EventTypeDespawn
	EventTypeActionAdmitted
	EventTypeLunge
	EventTypeFollowUp
	EventTypeUnknownAction
	EventTypeLateInput
	EventTypeGrab
	EventTypeChargeReleased
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	Tick      Tick            `json:"tick"`
	Actor     ActorID         `json:"actor"` // Source actor (for rate limiting), 0 for engine events
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeSpawn:
		return "spawn"
	case EventTypeDespawn:
		return "despawn"
	case EventTypeActionAdmitted:
		return "action_admitted"
	case EventTypeLunge:
		return "lunge"
	case EventTypeFollowUp:
		return "follow_up"
	case EventTypeUnknownAction:
		return "unknown_action"
	case EventTypeLateInput:
		return "late_input"
	case EventTypeGrab:
		return "grab"
	case EventTypeChargeReleased:
		return "charge_released"
	default:
		return "unknown"
	}
}

// MarshalText writes the event type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TickPayload contains tick boundary information
type TickPayload struct {
	ActorCount  int   `json:"actorCount"`
	DeltaTimeNs int64 `json:"deltaTimeNs"`
}

// SpawnPayload contains spawn details
type SpawnPayload struct {
	Name       string `json:"name"`
	Controlled bool   `json:"controlled"`
	Position   Vec3   `json:"position"`
}

// ActionPayload describes an admitted action
type ActionPayload struct {
	Action      string  `json:"action"`
	Alternate   bool    `json:"alternate,omitempty"`
	Stamina     float32 `json:"stamina"`
	Rage        float32 `json:"rage"`
	LungeTarget ActorID `json:"lungeTarget,omitempty"`
}

// GrabPayload records a grab window catching a target
type GrabPayload struct {
	Action string  `json:"action"`
	Victim ActorID `json:"victim"`
	Landed bool    `json:"landed"`
}

// LateInputPayload records an input processed after its tick
type LateInputPayload struct {
	InputTick Tick   `json:"inputTick"`
	LateBy    uint32 `json:"lateBy"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tick Tick, actor ActorID, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		Actor:     actor,
		Payload:   EncodePayload(payload),
	}
}
