package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
)

// Conn is the transport of a session. Push must not block: it returns false when the event
// cannot be queued (connection closed or too slow).
type Conn interface {
	Push(ev OutEvent) bool
	Close() error
}

// Session is one live connection bound to one authenticated identity.
// Its joined rooms start empty on every connection.
type Session struct {
	ID        string
	Identity  chat.Identity
	CreatedAt time.Time

	hub     *Hub
	conn    Conn
	limiter *rate.Limiter // nil means unlimited

	mu     sync.RWMutex
	rooms  map[string]chat.Room
	closed bool
}

func newSession(hub *Hub, identity chat.Identity, conn Conn) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
		hub:       hub,
		conn:      conn,
		rooms:     make(map[string]chat.Room),
	}
	if hub.sendRate > 0 {
		s.limiter = rate.NewLimiter(hub.sendRate, hub.sendBurst)
	}
	return s
}

func (s *Session) Joined(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for key := range s.rooms {
		rooms = append(rooms, key)
	}
	sort.Strings(rooms)
	return rooms
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) join(room chat.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.rooms[room.String()] = room
	}
}

func (s *Session) leave(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
}

func (s *Session) push(ev OutEvent) bool {
	if s.Closed() {
		return false
	}
	return s.conn.Push(ev)
}

// close tears the session down; only the first call returns true.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.rooms = make(map[string]chat.Room)
	s.mu.Unlock()

	_ = s.conn.Close()
	return true
}

func (s *Session) reply(in InEvent, ev OutEvent) {
	ev.Ref = in.Ref
	if !s.push(ev) {
		s.hub.observer.Dropped(ev.Event)
	}
}

// Handle runs one client event. Failures are answered to this session only, with an error event.
func (s *Session) Handle(ctx context.Context, ev InEvent) {
	err := s.handle(ctx, ev)

	var code string
	if err != nil {
		data := s.hub.errorData(err)
		code = data.Code
		if code == CodeInternal {
			s.hub.logger.Error(fmt.Sprintf("handling %s event", ev.Event), errors.Wrap(err, ev.Event), s.Identity)
		}
		s.reply(ev, OutEvent{Event: EventError, Data: data})
	}
	s.hub.observer.EventHandled(eventLabel(ev.Event), code)
}

// HandleFrame decodes then runs one raw client frame. Malformed frames are answered with an error event.
func (s *Session) HandleFrame(ctx context.Context, frame []byte) {
	ev, err := DecodeEvent(frame)
	if err != nil {
		s.reply(InEvent{}, OutEvent{Event: EventError, Data: s.hub.errorData(err)})
		s.hub.observer.EventHandled("malformed", CodeValidation)
		return
	}
	s.Handle(ctx, ev)
}

func (s *Session) handle(ctx context.Context, ev InEvent) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return errRateLimited
	}

	switch ev.Event {
	case EventJoinRoom:
		return s.joinRoom(ev)
	case EventLeaveRoom:
		return s.leaveRoom(ev)
	case EventChatMessage:
		return s.send(ctx, ev)
	case EventTyping:
		return s.typing(ev)
	case EventDeleteMessageForMe:
		return s.softDelete(ctx, ev)
	case EventDeleteMessage:
		return s.hardDelete(ctx, ev)
	}
	return core.NewFieldError("event", errUnknownEvent.Error()+": "+ev.Event)
}

func (s *Session) validate() *validator.Validate {
	return s.hub.validate
}

func (s *Session) joinRoom(ev InEvent) error {
	var cmd chat.JoinRoomCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}
	room, err := chat.ParseRoom(cmd.Room)
	if err != nil {
		return core.NewFieldError("room", err.Error())
	}
	if err = s.hub.chat.Authorize(room, s.Identity); err != nil {
		return err
	}

	s.join(room)
	s.reply(ev, OutEvent{Event: EventRoomJoined, Data: roomData{Room: room.String()}})
	return nil
}

func (s *Session) leaveRoom(ev InEvent) error {
	var cmd chat.LeaveRoomCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}
	room, err := chat.ParseRoom(cmd.Room)
	if err != nil {
		return core.NewFieldError("room", err.Error())
	}

	s.leave(room.String())
	s.reply(ev, OutEvent{Event: EventRoomLeft, Data: roomData{Room: room.String()}})
	return nil
}

func (s *Session) send(ctx context.Context, ev InEvent) error {
	var cmd chat.SendMessageCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}

	ctx, cancel := s.hub.StorageContext(ctx)
	defer cancel()

	msg, err := s.hub.chat.Append(ctx, s.Identity, cmd)
	if err != nil {
		return err
	}
	s.hub.router.DeliverMessage(msg, s, ev.Ref)
	return nil
}

func (s *Session) typing(ev InEvent) error {
	var cmd chat.TypingCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}
	room, err := chat.ParseRoom(cmd.Room)
	if err != nil {
		return core.NewFieldError("room", err.Error())
	}
	if err = s.hub.chat.Authorize(room, s.Identity); err != nil {
		return err
	}

	if cmd.Typing() {
		s.hub.router.DeliverTyping(room, s.Identity)
	}
	return nil
}

func (s *Session) softDelete(ctx context.Context, ev InEvent) error {
	var cmd chat.DeleteMessageCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}

	ctx, cancel := s.hub.StorageContext(ctx)
	defer cancel()

	if err := s.hub.chat.SoftDeleteFor(ctx, cmd.MessageID, s.Identity); err != nil {
		return err
	}
	s.reply(ev, OutEvent{Event: EventMessageHidden, Data: messageRef{ID: cmd.MessageID}})
	return nil
}

func (s *Session) hardDelete(ctx context.Context, ev InEvent) error {
	var cmd chat.DeleteMessageCommand
	if err := decodeData(ev, &cmd); err != nil {
		return err
	}
	if err := cmd.Validate(s.validate()); err != nil {
		return err
	}

	ctx, cancel := s.hub.StorageContext(ctx)
	defer cancel()

	msg, err := s.hub.chat.HardDelete(ctx, cmd.MessageID, s.Identity)
	if err != nil {
		return err
	}
	s.hub.router.DeliverDeletion(msg, s, ev.Ref)
	return nil
}
