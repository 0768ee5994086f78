package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roomrelay/roomrelay/internal/rooms"
)

// MessageType enumerates the client-to-server message kinds.
type MessageType string

const (
	MessageTypeJoin        MessageType = "join"
	MessageTypeLeave       MessageType = "leave"
	MessageTypeOffer       MessageType = "offer"
	MessageTypeAnswer      MessageType = "answer"
	MessageTypeCandidate   MessageType = "ice-candidate"
	MessageTypeStateUpdate MessageType = "state-update"
)

// Server-originated event kinds. Targeted negotiation messages are relayed
// under their original type with From set.
const (
	EventTypeMemberList         = "member-list"
	EventTypeParticipantJoined  = "participant-joined"
	EventTypeParticipantLeft    = "participant-left"
	EventTypeParticipantUpdated = "participant-updated"
	EventTypeError              = "error"
)

// Protocol error codes sent in error events. None of these close the
// connection; only transport failures do.
const (
	ErrCodeBadMessage    = "bad_message"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeAlreadyJoined = "already_joined"
	ErrCodeUnknownTarget = "unknown_target"
	ErrCodeRoomFull      = "room_full"
	ErrCodeInternalError = "internal_error"
)

// Message is a single inbound signaling message.
//
// The negotiation Payload is opaque: the relay forwards it byte-for-byte and
// never parses it, since negotiation semantics belong to the peers.
type Message struct {
	Type MessageType `json:"type"`

	// join fields.
	RoomID        string `json:"roomId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	AvatarRef     string `json:"avatarRef,omitempty"`

	// Targeted negotiation fields (offer / answer / ice-candidate).
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// state-update fields.
	State *rooms.StateUpdate `json:"state,omitempty"`
}

// Event is a single outbound server event.
type Event struct {
	Type string `json:"type"`

	// member-list fields. Participants excludes the joiner, which already
	// knows its own state; Self carries the identity the registry assigned.
	Self         *rooms.Participant  `json:"self,omitempty"`
	Participants []rooms.Participant `json:"participants,omitempty"`

	// Presence fields.
	Participant   *rooms.Participant `json:"participant,omitempty"`
	ParticipantID string             `json:"participantId,omitempty"`

	// Relayed negotiation fields.
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// error fields.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorEvent(code, message string) Event {
	return Event{Type: EventTypeError, Code: code, Message: message}
}

// ParseMessage decodes and validates one inbound message. Decoding is strict:
// unknown and trailing fields are rejected, so client bugs surface as error
// events instead of being silently ignored.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageTypeJoin:
		if strings.TrimSpace(m.RoomID) == "" {
			return fmt.Errorf("join message missing roomId")
		}
		if strings.TrimSpace(m.DisplayName) == "" {
			return fmt.Errorf("join message missing displayName")
		}
		if m.Target != "" || m.Payload != nil || m.State != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
	case MessageTypeLeave:
		if m.hasJoinFields() || m.Target != "" || m.Payload != nil || m.State != nil {
			return fmt.Errorf("leave message has unexpected fields")
		}
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
		if strings.TrimSpace(m.Target) == "" {
			return fmt.Errorf("%s message missing target", m.Type)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
		if m.hasJoinFields() || m.State != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeStateUpdate:
		if m.State == nil {
			return fmt.Errorf("state-update message missing state")
		}
		if m.hasJoinFields() || m.Target != "" || m.Payload != nil {
			return fmt.Errorf("state-update message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (m Message) hasJoinFields() bool {
	return m.RoomID != "" || m.ParticipantID != "" || m.DisplayName != "" || m.AvatarRef != ""
}
