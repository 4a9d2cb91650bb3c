package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateMessage stores a message of `from` in `room`, straight through the repository.
func CreateMessage(
	t *testing.T,
	repo chat.Repository,
	from user.User,
	room chat.Room,
	content string,
	createdAt time.Time,
	replyTo ...string,
) chat.Message {
	sender := chat.IdentityOf(from)
	msg := chat.Message{
		Sender:     chat.Sender{ID: sender.ID, Name: sender.Name, Email: sender.Email, Avatar: sender.Avatar},
		Content:    content,
		Room:       room.String(),
		IsPrivate:  room.IsPrivate(),
		Recipients: room.Others(from.ID),
		CreatedAt:  createdAt.UTC().Truncate(time.Millisecond),
		DeletedFor: []string{},
		ReadBy:     []string{},
	}
	if msg.Recipients == nil {
		msg.Recipients = []string{}
	}
	if len(replyTo) > 0 {
		msg.ReplyToID = replyTo[0]
	}
	msg, err := repo.CreateMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("createMessage() failed: %v", err)
	}
	return msg
}
