package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
	"github.com/mpkschool/backend/storage/database/inmem"
	"github.com/mpkschool/backend/tests"
)

type fixture struct {
	svc     *chat.Service
	repo    chat.Repository
	usrRepo user.Repository

	ann, bob, eve, tom chat.Identity
}

func setup(t *testing.T) *fixture {
	db := inmemdb.Open()
	f := &fixture{
		repo:    inmemdb.NewMessageRepository(db),
		usrRepo: inmemdb.NewUserRepository(db),
	}
	f.svc = chat.NewService(f.repo, core.NewTestConfig())

	f.ann = chat.IdentityOf(testutil.CreateUser(t, f.usrRepo, "Ann", "ann@test.test", "", []string{user.RoleStudent}, true))
	f.bob = chat.IdentityOf(testutil.CreateUser(t, f.usrRepo, "Bob", "bob@test.test", "", []string{user.RoleStudent}, true))
	f.eve = chat.IdentityOf(testutil.CreateUser(t, f.usrRepo, "Eve", "eve@test.test", "", []string{user.RoleParent}, true))
	f.tom = chat.IdentityOf(testutil.CreateUser(t, f.usrRepo, "Tom", "tom@test.test", "", []string{user.RoleTeacher}, true))
	return f
}

func (f *fixture) send(t *testing.T, from chat.Identity, room, content string, recipients ...string) chat.Message {
	msg, err := f.svc.Append(context.Background(), from, chat.SendMessageCommand{Room: room, Content: content, Recipients: recipients})
	if err != nil {
		t.Fatalf("send() failed: %v", err)
	}
	return msg
}

func fieldOf(err error) string {
	var vErr *core.ValidationError
	if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
		return vErr.Fields[0].Field
	}
	return ""
}

func TestService_Append(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	orig := f.send(t, f.ann, "public", "first")
	secret := f.send(t, f.ann, "private", "secret", f.bob.ID)

	tests := []struct {
		name      string
		from      chat.Identity
		cmd       chat.SendMessageCommand
		wantErr   error
		wantField string
		check     func(t *testing.T, msg chat.Message)
	}{
		{
			name: "public",
			from: f.bob,
			cmd:  chat.SendMessageCommand{Room: "public", Content: "  hello  "},
			check: func(t *testing.T, msg chat.Message) {
				assert.NotEmpty(t, msg.ID)
				assert.Equal(t, "hello", msg.Content)
				assert.Equal(t, f.bob.ID, msg.Sender.ID)
				assert.Equal(t, "Bob", msg.Sender.Name)
				assert.False(t, msg.IsPrivate)
				assert.Empty(t, msg.Recipients)
				assert.Equal(t, time.UTC, msg.CreatedAt.Location())
			},
		},
		{
			name: "private keyword",
			from: f.bob,
			cmd:  chat.SendMessageCommand{Room: "private", Content: "hey", Recipients: []string{f.ann.ID}},
			check: func(t *testing.T, msg chat.Message) {
				assert.True(t, msg.IsPrivate)
				assert.Equal(t, chat.NewPrivateRoom(f.ann.ID, f.bob.ID).String(), msg.Room)
				assert.Equal(t, []string{f.ann.ID}, msg.Recipients)
			},
		},
		{
			name: "reply",
			from: f.bob,
			cmd:  chat.SendMessageCommand{Room: "public", Content: "re", ReplyTo: orig.ID},
			check: func(t *testing.T, msg chat.Message) {
				assert.Equal(t, orig.ID, msg.ReplyToID)
				if assert.NotNil(t, msg.ReplyTo) {
					assert.Equal(t, "first", msg.ReplyTo.Content)
					assert.False(t, msg.ReplyTo.Unavailable)
				}
			},
		},
		{name: "blank content", from: f.bob, cmd: chat.SendMessageCommand{Room: "public", Content: "   "}, wantField: "content"},
		{name: "no sender", cmd: chat.SendMessageCommand{Room: "public", Content: "x"}, wantField: "sender"},
		{name: "unknown reply", from: f.bob, cmd: chat.SendMessageCommand{Room: "public", Content: "x", ReplyTo: "nope"}, wantField: "reply_to"},
		{name: "reply across rooms", from: f.bob, cmd: chat.SendMessageCommand{Room: "public", Content: "x", ReplyTo: secret.ID}, wantField: "reply_to"},
		{name: "outsider in private room", from: f.eve, cmd: chat.SendMessageCommand{Room: secret.Room, Content: "x"}, wantErr: core.ErrForbidden},
		{name: "public with recipients", from: f.bob, cmd: chat.SendMessageCommand{Room: "public", Content: "x", Recipients: []string{f.ann.ID}}, wantField: "recipients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.svc.Append(ctx, tt.from, tt.cmd)
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantField != "":
				assert.Equal(t, tt.wantField, fieldOf(err), "got %v", err)
			default:
				if assert.NoError(t, err) {
					tt.check(t, msg)
				}
			}
		})
	}
}

func TestService_Append_ordering(t *testing.T) {
	f := setup(t)
	var last time.Time
	for i := 0; i < 20; i++ {
		msg := f.send(t, f.ann, "public", "burst")
		assert.True(t, msg.CreatedAt.After(last), "timestamps must strictly increase")
		last = msg.CreatedAt
	}
}

func TestService_Append_concurrent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	senders := []chat.Identity{f.ann, f.bob, f.eve, f.tom}
	const perSender = 20

	var wg sync.WaitGroup
	errs := make(chan error, len(senders)*perSender)
	for _, sender := range senders {
		wg.Add(1)
		go func(sender chat.Identity) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := f.svc.Append(ctx, sender, chat.SendMessageCommand{Room: "public", Content: "race"}); err != nil {
					errs <- err
				}
			}
		}(sender)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Append() failed: %v", err)
	}

	page, err := f.svc.History(ctx, f.ann, chat.HistoryQuery{Room: "public", Limit: 100})
	if !assert.NoError(t, err) {
		return
	}
	assert.Len(t, page.Messages, len(senders)*perSender)
	assert.False(t, page.HasMore)
	for i := 1; i < len(page.Messages); i++ {
		assert.True(t, page.Messages[i].CreatedAt.After(page.Messages[i-1].CreatedAt), "history follows createdAt")
	}
}

func TestService_ListByRoom(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	m1 := f.send(t, f.ann, "public", "one")
	m2 := f.send(t, f.bob, "public", "two")
	m3 := f.send(t, f.ann, "public", "three")
	priv := f.send(t, f.ann, "private", "psst", f.bob.ID)

	msgs, err := f.svc.ListByRoom(ctx, chat.PublicRoom, time.Time{}, 2, f.eve)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, m3.ID, msgs[0].ID)
		assert.Equal(t, m2.ID, msgs[1].ID)
	}

	msgs, err = f.svc.ListByRoom(ctx, chat.PublicRoom, m2.CreatedAt, 0, f.eve)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, m1.ID, msgs[0].ID)
	}

	room, _ := chat.ParseRoom(priv.Room)
	_, err = f.svc.ListByRoom(ctx, room, time.Time{}, 0, f.eve)
	assert.Equal(t, core.ErrForbidden, err)

	msgs, err = f.svc.ListByRoom(ctx, room, time.Time{}, 0, f.bob)
	assert.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestService_SoftDeleteFor(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	msg := f.send(t, f.ann, "public", "oops")

	assert.Equal(t, core.ErrForbidden, f.svc.SoftDeleteFor(ctx, msg.ID, f.bob))
	assert.NoError(t, f.svc.SoftDeleteFor(ctx, msg.ID, f.ann))
	assert.NoError(t, f.svc.SoftDeleteFor(ctx, msg.ID, f.ann), "hiding twice is a no-op")
	assert.True(t, core.IsNotFound(f.svc.SoftDeleteFor(ctx, "nope", f.ann)))

	annMsgs, err := f.svc.ListByRoom(ctx, chat.PublicRoom, time.Time{}, 0, f.ann)
	assert.NoError(t, err)
	assert.Empty(t, annMsgs)

	bobMsgs, err := f.svc.ListByRoom(ctx, chat.PublicRoom, time.Time{}, 0, f.bob)
	assert.NoError(t, err)
	assert.Len(t, bobMsgs, 1)

	stored, err := f.repo.GetMessage(ctx, msg.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{f.ann.ID}, stored.DeletedFor)
}

func TestService_HardDelete(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	m1 := f.send(t, f.ann, "public", "one")
	m2 := f.send(t, f.ann, "public", "two")

	_, err := f.svc.HardDelete(ctx, m1.ID, f.bob)
	assert.Equal(t, core.ErrForbidden, err)

	deleted, err := f.svc.HardDelete(ctx, m1.ID, f.ann)
	assert.NoError(t, err)
	assert.Equal(t, m1.ID, deleted.ID)

	_, err = f.svc.HardDelete(ctx, m2.ID, f.tom) // teachers moderate
	assert.NoError(t, err)

	_, err = f.svc.HardDelete(ctx, m1.ID, f.ann)
	assert.True(t, core.IsNotFound(err))
}

func TestService_ResolveReply(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	orig := f.send(t, f.ann, "public", "orig")

	preview := f.svc.ResolveReply(ctx, orig.ID, f.bob)
	assert.False(t, preview.Unavailable)
	assert.Equal(t, "orig", preview.Content)

	assert.NoError(t, f.svc.SoftDeleteFor(ctx, orig.ID, f.ann))
	assert.True(t, f.svc.ResolveReply(ctx, orig.ID, f.ann).Unavailable)
	assert.False(t, f.svc.ResolveReply(ctx, orig.ID, f.bob).Unavailable)

	_, err := f.svc.HardDelete(ctx, orig.ID, f.ann)
	assert.NoError(t, err)
	preview = f.svc.ResolveReply(ctx, orig.ID, f.bob)
	assert.True(t, preview.Unavailable)
	assert.Equal(t, orig.ID, preview.ID)
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	chat.InitValidators(validate, core.NewTranslator())

	var sent []chat.Message
	for _, content := range []string{"a", "b", "c", "d", "e"} {
		sent = append(sent, f.send(t, f.ann, "public", content))
	}
	reply, err := f.svc.Append(ctx, f.bob, chat.SendMessageCommand{Room: "public", Content: "re a", ReplyTo: sent[0].ID})
	assert.NoError(t, err)
	_, err = f.svc.HardDelete(ctx, sent[0].ID, f.ann)
	assert.NoError(t, err)

	q := chat.HistoryQuery{Room: "public", Limit: 2}
	assert.NoError(t, q.Validate(validate))
	page, err := f.svc.History(ctx, f.eve, q)
	assert.NoError(t, err)
	assert.True(t, page.HasMore)
	if assert.Len(t, page.Messages, 2) {
		assert.Equal(t, "e", page.Messages[0].Content, "oldest first")
		assert.Equal(t, reply.ID, page.Messages[1].ID)
		if assert.NotNil(t, page.Messages[1].ReplyTo) {
			assert.True(t, page.Messages[1].ReplyTo.Unavailable)
		}
	}

	var contents []string
	for page.HasMore {
		page, err = f.svc.History(ctx, f.eve, chat.HistoryQuery{Room: "public", Limit: 2, Before: page.Cursor})
		assert.NoError(t, err)
		for _, msg := range page.Messages {
			contents = append(contents, msg.Content)
		}
	}
	assert.ElementsMatch(t, []string{"b", "c", "d"}, contents)

	_, err = f.svc.History(ctx, f.eve, chat.HistoryQuery{Room: "public", Before: "not a date"})
	assert.Equal(t, "before", fieldOf(err))

	bad := chat.HistoryQuery{Room: "public", Limit: -1}
	assert.Error(t, bad.Validate(validate))
}

func TestService_Unread(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.send(t, f.ann, "public", "one")
	f.send(t, f.ann, "public", "two")
	priv := f.send(t, f.ann, "private", "psst", f.bob.ID)

	counts, err := f.svc.UnreadCounts(ctx, f.bob)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"public": 2, priv.Room: 1}, counts)

	n, err := f.svc.MarkRead(ctx, f.bob, chat.MarkReadCommand{Room: "public"})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err = f.svc.UnreadCounts(ctx, f.bob)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{priv.Room: 1}, counts)

	_, err = f.svc.MarkRead(ctx, f.eve, chat.MarkReadCommand{Room: priv.Room})
	assert.Equal(t, core.ErrForbidden, err)

	_, err = f.svc.UnreadCounts(ctx, chat.Identity{})
	assert.Equal(t, core.ErrUnauthenticated, err)
}
