package rooms

// MediaState is a participant's self-reported media state.
type MediaState struct {
	MicrophoneOn bool `json:"microphoneOn"`
	CameraOn     bool `json:"cameraOn"`
	Speaking     bool `json:"speaking"`
}

// StateUpdate is a partial MediaState. Nil fields are left unchanged.
type StateUpdate struct {
	MicrophoneOn *bool `json:"microphoneOn,omitempty"`
	CameraOn     *bool `json:"cameraOn,omitempty"`
	Speaking     *bool `json:"speaking,omitempty"`
}

func (u StateUpdate) apply(s MediaState) MediaState {
	if u.MicrophoneOn != nil {
		s.MicrophoneOn = *u.MicrophoneOn
	}
	if u.CameraOn != nil {
		s.CameraOn = *u.CameraOn
	}
	if u.Speaking != nil {
		s.Speaking = *u.Speaking
	}
	return s
}

// Profile is the identity tuple a client presents when joining. The relay
// trusts it as-is; validating it against the host platform is the embedding
// application's concern.
type Profile struct {
	// ParticipantID is the caller's requested identifier. It is honored only
	// when it is not already in use in the room; otherwise the registry mints
	// a fresh one.
	ParticipantID string
	DisplayName   string
	AvatarRef     string
}

// Participant is the public snapshot of one room member.
type Participant struct {
	ID          string     `json:"participantId"`
	DisplayName string     `json:"displayName"`
	AvatarRef   string     `json:"avatarRef,omitempty"`
	State       MediaState `json:"state"`
}

// Conn is a member's live outbound message channel.
//
// Deliver must not block; it reports false when the peer's queue is full or
// the connection is gone. The registry itself never calls Deliver: it only
// hands Conns back to callers, which send after releasing room locks.
type Conn interface {
	Deliver(event any) bool
}

// Member pairs a participant snapshot with its live channel handle.
type Member struct {
	Participant
	Conn Conn
}
