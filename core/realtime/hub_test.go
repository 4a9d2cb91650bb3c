package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
	"github.com/mpkschool/backend/services/logger"
	"github.com/mpkschool/backend/storage/database/inmem"
	"github.com/mpkschool/backend/tests"
)

// fakeConn records pushed events; it refuses pushes once full or closed.
type fakeConn struct {
	mu     sync.Mutex
	events []OutEvent
	max    int
	closed bool
}

func (c *fakeConn) Push(ev OutEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (c.max > 0 && len(c.events) >= c.max) {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) take() []OutEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

func (c *fakeConn) names() []string {
	var names []string
	for _, ev := range c.take() {
		names = append(names, ev.Event)
	}
	return names
}

type hubFixture struct {
	hub  *Hub
	svc  *chat.Service
	repo chat.Repository

	ann, bob, eve, tom chat.Identity
}

func setupHub(t *testing.T, confs ...func(*core.Config)) *hubFixture {
	conf := core.NewTestConfig()
	for _, fn := range confs {
		fn(conf)
	}

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	f := &hubFixture{repo: inmemdb.NewMessageRepository(db)}
	f.svc = chat.NewService(f.repo, conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)

	f.hub = NewHub(HubDeps{
		Conf:       conf,
		Logger:     logsvc.NewDiscardLogger(conf),
		ChatSvc:    f.svc,
		Validate:   validate,
		Translator: translator,
	})

	f.ann = chat.IdentityOf(testutil.CreateUser(t, usrRepo, "Ann", "ann@test.test", "", []string{user.RoleStudent}, true))
	f.bob = chat.IdentityOf(testutil.CreateUser(t, usrRepo, "Bob", "bob@test.test", "", []string{user.RoleStudent}, true))
	f.eve = chat.IdentityOf(testutil.CreateUser(t, usrRepo, "Eve", "eve@test.test", "", []string{user.RoleParent}, true))
	f.tom = chat.IdentityOf(testutil.CreateUser(t, usrRepo, "Tom", "tom@test.test", "", []string{user.RoleTeacher}, true))
	return f
}

func (f *hubFixture) connect(id chat.Identity) (*Session, *fakeConn) {
	conn := new(fakeConn)
	return f.hub.Connect(id, conn), conn
}

func event(t *testing.T, name string, data interface{}, ref ...string) InEvent {
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("event() failed: %v", err)
	}
	ev := InEvent{Event: name, Data: raw}
	if len(ref) > 0 {
		ev.Ref = ref[0]
	}
	return ev
}

func errorCode(t *testing.T, events []OutEvent) string {
	for _, ev := range events {
		if ev.Event == EventError {
			return ev.Data.(ErrorData).Code
		}
	}
	t.Fatalf("no error event in %+v", events)
	return ""
}

func TestHub_JoinAndPublicDelivery(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	annS, annC := f.connect(f.ann)
	bobS, bobC := f.connect(f.bob)
	_, eveC := f.connect(f.eve) // never joins

	annS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}, "j1"))
	bobS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	joined := annC.take()
	if assert.Len(t, joined, 1) {
		assert.Equal(t, EventRoomJoined, joined[0].Event)
		assert.Equal(t, "j1", joined[0].Ref)
	}
	bobC.take()

	annS.Handle(ctx, event(t, EventChatMessage, map[string]interface{}{
		"content": "hello", "room": "public", "sender": "spoofed", "timestamp": 1,
	}, "m1"))

	echo := annC.take()
	if assert.Len(t, echo, 1) {
		assert.Equal(t, EventChatMessage, echo[0].Event)
		assert.Equal(t, "m1", echo[0].Ref)
		msg := echo[0].Data.(chat.Message)
		assert.Equal(t, f.ann.ID, msg.Sender.ID)
		assert.NotEmpty(t, msg.ID)
	}
	got := bobC.take()
	if assert.Len(t, got, 1) {
		assert.Equal(t, "", got[0].Ref)
	}
	assert.Empty(t, eveC.take(), "sessions outside the public room get nothing")

	// leaving stops the pushes
	bobS.Handle(ctx, event(t, EventLeaveRoom, map[string]string{"room": "public"}))
	assert.Equal(t, []string{EventRoomLeft}, bobC.names())
	annS.Handle(ctx, event(t, EventChatMessage, map[string]string{"content": "again", "room": "public"}))
	assert.Empty(t, bobC.take())
	assert.Len(t, annC.take(), 1)
}

func TestHub_PrivateDelivery(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	annS, annC := f.connect(f.ann)
	_, bobC := f.connect(f.bob) // recipients get private messages without joining
	eveS, eveC := f.connect(f.eve)
	eveS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	eveC.take()

	annS.Handle(ctx, event(t, EventChatMessage, map[string]interface{}{
		"content": "psst", "room": "private", "recipients": []string{f.bob.ID},
	}))
	assert.Equal(t, []string{EventChatMessage}, annC.names())
	got := bobC.take()
	if assert.Len(t, got, 1) {
		msg := got[0].Data.(chat.Message)
		assert.True(t, msg.IsPrivate)
		assert.Equal(t, chat.NewPrivateRoom(f.ann.ID, f.bob.ID).String(), msg.Room)
	}
	assert.Empty(t, eveC.take())

	// outsiders cannot join, type in or post to the room
	room := chat.NewPrivateRoom(f.ann.ID, f.bob.ID).String()
	eveS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": room}))
	assert.Equal(t, CodeForbidden, errorCode(t, eveC.take()))
	eveS.Handle(ctx, event(t, EventChatMessage, map[string]string{"content": "hi", "room": room}))
	assert.Equal(t, CodeForbidden, errorCode(t, eveC.take()))
	eveS.Handle(ctx, event(t, EventTyping, map[string]string{"room": room}))
	assert.Equal(t, CodeForbidden, errorCode(t, eveC.take()))
	assert.Empty(t, bobC.take())
}

func TestHub_Typing(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	annS, annC := f.connect(f.ann)
	bobS, bobC := f.connect(f.bob)
	annS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	bobS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	annC.take()
	bobC.take()

	annS.Handle(ctx, event(t, EventTyping, map[string]string{"room": "public"}))
	assert.Empty(t, annC.take(), "typists do not hear themselves")
	got := bobC.take()
	if assert.Len(t, got, 1) {
		assert.Equal(t, EventUserTyping, got[0].Event)
		assert.Equal(t, f.ann.ID, got[0].Data)
	}

	annS.Handle(ctx, event(t, EventTyping, map[string]interface{}{"room": "public", "is_typing": false}))
	assert.Empty(t, bobC.take())
}

func TestHub_Deletes(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	annS, annC := f.connect(f.ann)
	bobS, bobC := f.connect(f.bob)
	tomS, tomC := f.connect(f.tom)
	for _, s := range []*Session{annS, bobS, tomS} {
		s.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	}
	annS.Handle(ctx, event(t, EventChatMessage, map[string]string{"content": "one", "room": "public"}))
	annS.Handle(ctx, event(t, EventChatMessage, map[string]string{"content": "two", "room": "public"}))
	annC.take()
	bobC.take()
	tomC.take()

	page, err := f.svc.History(ctx, f.ann, chat.HistoryQuery{Room: "public"})
	assert.NoError(t, err)
	one, two := page.Messages[0], page.Messages[1]

	// soft delete: only the sender hears back, nobody else
	annS.Handle(ctx, event(t, EventDeleteMessageForMe, map[string]string{"message_id": one.ID}, "d1"))
	hidden := annC.take()
	if assert.Len(t, hidden, 1) {
		assert.Equal(t, EventMessageHidden, hidden[0].Event)
		assert.Equal(t, "d1", hidden[0].Ref)
	}
	assert.Empty(t, bobC.take())

	bobS.Handle(ctx, event(t, EventDeleteMessageForMe, map[string]string{"message_id": one.ID}))
	assert.Equal(t, CodeForbidden, errorCode(t, bobC.take()))

	// hard delete: the whole audience is told
	bobS.Handle(ctx, event(t, EventDeleteMessage, map[string]string{"message_id": two.ID}))
	assert.Equal(t, CodeForbidden, errorCode(t, bobC.take()))

	tomS.Handle(ctx, event(t, EventDeleteMessage, map[string]string{"message_id": two.ID}))
	for _, c := range []*fakeConn{annC, bobC, tomC} {
		got := c.take()
		if assert.Len(t, got, 1) {
			assert.Equal(t, EventMessageDeleted, got[0].Event)
			assert.Equal(t, two.ID, got[0].Data)
		}
	}

	tomS.Handle(ctx, event(t, EventDeleteMessage, map[string]string{"message_id": two.ID}))
	assert.Equal(t, CodeNotFound, errorCode(t, tomC.take()))
}

func TestHub_Errors(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	s, c := f.connect(f.ann)

	tests := []struct {
		name string
		ev   InEvent
		want string
	}{
		{name: "unknown event", ev: InEvent{Event: "dance", Data: json.RawMessage(`{}`)}, want: CodeValidation},
		{name: "missing data", ev: InEvent{Event: EventJoinRoom}, want: CodeValidation},
		{name: "unknown field", ev: event(t, EventJoinRoom, map[string]string{"room": "public", "x": "y"}), want: CodeValidation},
		{name: "bad room", ev: event(t, EventJoinRoom, map[string]string{"room": "lobby"}), want: CodeValidation},
		{name: "blank content", ev: event(t, EventChatMessage, map[string]string{"content": "  ", "room": "public"}), want: CodeValidation},
		{name: "unknown message", ev: event(t, EventDeleteMessage, map[string]string{"message_id": "nope"}), want: CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Handle(ctx, tt.ev)
			assert.Equal(t, tt.want, errorCode(t, c.take()))
		})
	}
}

func TestHub_RateLimit(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t, func(conf *core.Config) {
		conf.Chat.SendRate = 0.001
		conf.Chat.SendBurst = 2
	})
	s, c := f.connect(f.ann)

	for i := 0; i < 3; i++ {
		s.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	}
	events := c.take()
	if assert.Len(t, events, 3) {
		data := events[2].Data.(ErrorData)
		assert.Equal(t, CodeRateLimited, data.Code)
		assert.True(t, data.Retryable)
	}
}

func TestHub_SessionReplaced(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	old, oldC := f.connect(f.ann)
	old.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	oldC.take()

	fresh, freshC := f.connect(f.ann)
	assert.Equal(t, []string{EventSessionReplaced}, oldC.names())
	assert.True(t, old.Closed())
	assert.Empty(t, old.Rooms())
	assert.Empty(t, fresh.Rooms(), "joined rooms are not inherited")

	got, ok := f.hub.Registry().Get(f.ann.ID)
	assert.True(t, ok)
	assert.Equal(t, fresh, got)

	// the old session going away does not evict the new one
	f.hub.Disconnect(old)
	_, ok = f.hub.Registry().Get(f.ann.ID)
	assert.True(t, ok)

	f.hub.Shutdown()
	assert.Equal(t, 0, f.hub.Registry().Len())
	assert.True(t, fresh.Closed())
	assert.Empty(t, freshC.take())
}

func TestRouter_DropsSlowSessions(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	annS, annC := f.connect(f.ann)
	bobS := f.hub.Connect(f.bob, &fakeConn{max: 1})
	annS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	bobS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"})) // fills bob's buffer
	annC.take()

	msg, err := f.svc.Append(ctx, f.ann, chat.SendMessageCommand{Room: "public", Content: "hi"})
	assert.NoError(t, err)
	n := f.hub.Router().DeliverMessage(msg, nil, "")
	assert.Equal(t, 1, n)
	assert.Len(t, annC.take(), 1)
}

// countingObserver records the handled events by label.
type countingObserver struct {
	nopObserver
	mu     sync.Mutex
	events map[string]int
}

func (o *countingObserver) EventHandled(event, errCode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[event+"/"+errCode]++
}

func TestHub_EventLabels(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	observer := &countingObserver{events: make(map[string]int)}
	f.hub.observer = observer
	s, c := f.connect(f.ann)

	for i := 0; i < 50; i++ {
		s.Handle(ctx, InEvent{Event: fmt.Sprintf("junk%d", i), Data: json.RawMessage(`{}`)})
	}
	s.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	s.HandleFrame(ctx, []byte(`{"event": "junk", "data": {}, "extra": 1}`))
	c.take()

	assert.Equal(t, map[string]int{
		"unknown/" + CodeValidation:   50,
		EventJoinRoom + "/":           1,
		"malformed/" + CodeValidation: 1,
	}, observer.events)
}

// failingRepo is a message store whose backend is unreachable.
type failingRepo struct {
	chat.Repository
}

var errBackendDown = errors.New("dial tcp: connection refused")

func (failingRepo) CreateMessage(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, errBackendDown
}

func (failingRepo) GetMessage(context.Context, string) (chat.Message, error) {
	return chat.Message{}, errBackendDown
}

func TestHub_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	hub := NewHub(HubDeps{
		Logger:     f.hub.logger,
		ChatSvc:    chat.NewService(failingRepo{Repository: f.repo}, nil),
		Validate:   f.hub.validate,
		Translator: f.hub.translator,
	})
	annC, bobC := new(fakeConn), new(fakeConn)
	annS := hub.Connect(f.ann, annC)
	bobS := hub.Connect(f.bob, bobC)
	annS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	bobS.Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
	annC.take()
	bobC.take()

	tests := []struct {
		name string
		ev   InEvent
	}{
		{name: "send", ev: event(t, EventChatMessage, map[string]string{"content": "hi", "room": "public"}, "m1")},
		{name: "hard delete", ev: event(t, EventDeleteMessage, map[string]string{"message_id": "some-id"}, "m2")},
		{name: "soft delete", ev: event(t, EventDeleteMessageForMe, map[string]string{"message_id": "some-id"}, "m3")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annS.Handle(ctx, tt.ev)
			got := annC.take()
			if assert.Len(t, got, 1) {
				assert.Equal(t, EventError, got[0].Event)
				assert.Equal(t, tt.ev.Ref, got[0].Ref)
				data := got[0].Data.(ErrorData)
				assert.Equal(t, CodeStorageUnavailable, data.Code)
				assert.True(t, data.Retryable)
			}
			assert.Empty(t, bobC.take(), "failures are not fanned out")
		})
	}
}

func TestHub_ConcurrentSends(t *testing.T) {
	ctx := context.Background()
	f := setupHub(t)
	ids := []chat.Identity{f.ann, f.bob, f.eve, f.tom}
	sessions := make([]*Session, len(ids))
	conns := make([]*fakeConn, len(ids))
	for i, id := range ids {
		sessions[i], conns[i] = f.connect(id)
		sessions[i].Handle(ctx, event(t, EventJoinRoom, map[string]string{"room": "public"}))
		conns[i].take()
	}

	const perSession = 20
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for n := 0; n < perSession; n++ {
				s.Handle(ctx, event(t, EventChatMessage, map[string]string{"content": "race", "room": "public"}))
			}
		}(sessions[i])
	}
	wg.Wait()

	total := len(ids) * perSession
	page, err := f.svc.History(ctx, f.ann, chat.HistoryQuery{Room: "public", Limit: 100})
	if !assert.NoError(t, err) {
		return
	}
	if assert.Len(t, page.Messages, total) {
		for i := 1; i < total; i++ {
			assert.True(t, page.Messages[i].CreatedAt.After(page.Messages[i-1].CreatedAt), "history follows createdAt")
		}
	}

	// every session got every message exactly once
	for i, c := range conns {
		got := make(map[string]int)
		for _, ev := range c.take() {
			if assert.Equal(t, EventChatMessage, ev.Event) {
				got[ev.Data.(chat.Message).ID]++
			}
		}
		assert.Len(t, got, total, "session %d", i)
		for id, n := range got {
			assert.Equal(t, 1, n, "message %s", id)
		}
	}
}
