package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/ratelimit"
	"github.com/roomrelay/roomrelay/internal/rooms"
)

const writeWait = 1 * time.Second

// client owns one participant's websocket connection: a read loop that
// dispatches inbound messages and a write loop that drains the bounded send
// queue. The write loop is the only goroutine that writes data frames, which
// gives each recipient per-sender FIFO delivery.
type client struct {
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	// mu guards the join state. The read loop is the only writer, but
	// teardown may run from the write loop or a Deliver caller. closed is
	// set by teardown so a join committing concurrently can tell the
	// connection is already gone.
	mu            sync.Mutex
	roomID        string
	participantID string
	closed        bool
}

// Deliver implements rooms.Conn. It never blocks: when the peer's queue is
// full the peer is dropped, so one slow consumer cannot stall the room.
func (c *client) Deliver(event any) bool {
	data, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to encode event", "err", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.srv.metrics.Inc(metrics.DropReasonSlowConsumer)
		c.log.Warn("dropping slow consumer", "queue_size", cap(c.send))
		go c.teardown()
		return false
	}
}

func (c *client) deliverEvent(ev Event) { _ = c.Deliver(ev) }

// run is the connection's read loop. It returns on any transport failure,
// and teardown then removes the participant from its room exactly once.
func (c *client) run() {
	defer c.teardown()

	idle := c.srv.idleTimeout()
	c.conn.SetReadLimit(c.srv.maxMessageBytes())
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))

		// The rate limit is applied after reading so bytes already in the TCP
		// receive buffer are consumed; closing with unread data can turn into
		// an abortive close that hides the close code from the client.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.ProtocolError)
			c.deliverEvent(errorEvent(ErrCodeBadMessage, err.Error()))
			continue
		}

		c.dispatch(msg)
	}
}

func (c *client) dispatch(msg Message) {
	switch msg.Type {
	case MessageTypeJoin:
		c.handleJoin(msg)
	case MessageTypeLeave:
		c.handleLeave()
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
		c.handleSignal(msg)
	case MessageTypeStateUpdate:
		c.handleStateUpdate(msg)
	}
}

func (c *client) handleJoin(msg Message) {
	if _, id := c.joinState(); id != "" {
		c.protocolError(ErrCodeAlreadyJoined, "already in a room")
		return
	}

	joined, err := c.srv.registry.Join(msg.RoomID, rooms.Profile{
		ParticipantID: msg.ParticipantID,
		DisplayName:   msg.DisplayName,
		AvatarRef:     msg.AvatarRef,
	}, c)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrEmptyRoomID):
			c.protocolError(ErrCodeBadMessage, "roomId must not be empty")
		case errors.Is(err, rooms.ErrRoomFull):
			c.protocolError(ErrCodeRoomFull, "room is full")
		default:
			c.protocolError(ErrCodeInternalError, "join failed")
		}
		return
	}

	c.srv.metrics.Inc(metrics.ParticipantJoined)
	if joined.CreatedRoom {
		c.srv.metrics.Inc(metrics.RoomCreated)
	}

	// Teardown may have run from the write loop or a Deliver caller while
	// Join was committing. In that case the membership must be removed here:
	// teardown saw an empty join state and will not do it.
	if !c.commitJoin(msg.RoomID, joined.Self.ID) {
		c.leaveRoom(msg.RoomID, joined.Self.ID)
		return
	}

	c.log = c.log.With("room_id", msg.RoomID, "participant_id", joined.Self.ID)
	c.log.Info("participant joined", "members", len(joined.Others)+1)

	// Point-to-point reply to the joiner with the pre-join member list, then
	// a presence broadcast to everyone who was already there.
	self := joined.Self
	c.deliverEvent(Event{
		Type:         EventTypeMemberList,
		Self:         &self,
		Participants: participants(joined.Others),
	})
	broadcast(joined.Others, Event{Type: EventTypeParticipantJoined, Participant: &self})

	if c.srv.onJoin != nil {
		go c.srv.onJoin(msg.RoomID, self)
	}
}

func (c *client) handleLeave() {
	roomID, id := c.joinState()
	if id == "" {
		c.protocolError(ErrCodeNotInRoom, "join a room first")
		return
	}
	c.setJoinState("", "")
	c.leaveRoom(roomID, id)
}

func (c *client) handleSignal(msg Message) {
	roomID, id := c.joinState()
	if id == "" {
		c.protocolError(ErrCodeNotInRoom, "join a room first")
		return
	}

	target, ok := c.srv.registry.Member(roomID, msg.Target)
	if !ok {
		c.protocolError(ErrCodeUnknownTarget, "no such participant in your room")
		return
	}

	// Relayed verbatim to exactly the named target. The payload stays opaque.
	c.srv.metrics.Inc(metrics.SignalRelayed)
	target.Conn.Deliver(Event{
		Type:    string(msg.Type),
		From:    id,
		Payload: msg.Payload,
	})
}

func (c *client) handleStateUpdate(msg Message) {
	roomID, id := c.joinState()
	if id == "" {
		c.protocolError(ErrCodeNotInRoom, "join a room first")
		return
	}

	upd, err := c.srv.registry.UpdateState(roomID, id, *msg.State)
	if err != nil {
		c.protocolError(ErrCodeNotInRoom, "not a member of this room")
		return
	}

	c.srv.metrics.Inc(metrics.StateUpdated)
	self := upd.Self
	broadcast(upd.Others, Event{Type: EventTypeParticipantUpdated, Participant: &self})
}

// leaveRoom removes the participant and announces the departure to the
// survivors. Callers must have cleared or be about to clear the join state.
func (c *client) leaveRoom(roomID, participantID string) {
	left := c.srv.registry.Leave(roomID, participantID)
	if !left.Removed {
		return
	}

	c.srv.metrics.Inc(metrics.ParticipantLeft)
	if left.RoomDeleted {
		c.srv.metrics.Inc(metrics.RoomDeleted)
		c.log.Info("room deleted")
	}
	broadcast(left.Others, Event{Type: EventTypeParticipantLeft, ParticipantID: participantID})
	c.log.Info("participant left")
}

// teardown deregisters the connection exactly once: the room removal and
// departure broadcast complete before the write loop is stopped.
func (c *client) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		roomID, id := c.roomID, c.participantID
		c.roomID, c.participantID = "", ""
		c.closed = true
		c.mu.Unlock()

		if id != "" {
			c.leaveRoom(roomID, id)
		}
		close(c.done)
		_ = c.conn.Close()
		c.srv.untrack(c)
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.srv.pingInterval())
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) protocolError(code, message string) {
	c.srv.metrics.Inc(metrics.ProtocolError)
	c.deliverEvent(errorEvent(code, message))
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (c *client) joinState() (roomID, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.participantID
}

func (c *client) setJoinState(roomID, participantID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.participantID = participantID
	c.mu.Unlock()
}

// commitJoin records a freshly committed room membership. It reports false
// when teardown already ran, in which case the caller owns undoing the join.
func (c *client) commitJoin(roomID, participantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.roomID = roomID
	c.participantID = participantID
	return true
}

// broadcast fans an event out to a member snapshot. The snapshot was taken
// under the room lock; the sends happen here, outside it.
func broadcast(members []rooms.Member, ev Event) {
	for _, m := range members {
		m.Conn.Deliver(ev)
	}
}

func participants(members []rooms.Member) []rooms.Participant {
	out := make([]rooms.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, m.Participant)
	}
	return out
}
