package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
)

// Limits of a room listing.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var ErrNotFound = core.NewNotFoundError("message")

type (
	// QueryFilter selects the messages of one room, newest first.
	QueryFilter struct {
		Room     string
		ViewerID string    // when set, drops messages hidden for or not addressed to the viewer
		Before   time.Time // strictly older than; zero means no bound
		Limit    int
	}

	Repository interface {
		// CreateMessage persists `msg` and returns it with its assigned ID.
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		GetMessage(ctx context.Context, id string) (Message, error)
		// GetMessagesByID returns the existing messages among `ids`, in no particular order.
		GetMessagesByID(ctx context.Context, ids []string) ([]Message, error)
		// QueryMessages returns the messages matching `filter`, sorted by CreatedAt descending.
		QueryMessages(ctx context.Context, filter QueryFilter) ([]Message, error)
		// AddDeletedFor adds `identityID` to the message's DeletedFor set. Adding twice is a no-op.
		AddDeletedFor(ctx context.Context, id, identityID string) error
		DeleteMessage(ctx context.Context, id string) error
		// MarkRead marks every message of `room` created up to `upTo` as read by `viewerID`
		// and returns how many messages changed.
		MarkRead(ctx context.Context, viewerID, room string, upTo time.Time) (int, error)
		// CountUnread returns, per room, the messages visible to `viewerID` that they neither sent nor read.
		CountUnread(ctx context.Context, viewerID string) (map[string]int, error)
	}

	ServiceInterface interface {
		Append(ctx context.Context, sender Identity, cmd SendMessageCommand) (Message, error)
		ListByRoom(ctx context.Context, room Room, before time.Time, limit int, viewer Identity) ([]Message, error)
		History(ctx context.Context, viewer Identity, q HistoryQuery) (HistoryPage, error)
		SoftDeleteFor(ctx context.Context, messageID string, identity Identity) error
		HardDelete(ctx context.Context, messageID string, requester Identity) (Message, error)
		ResolveReply(ctx context.Context, messageID string, viewer Identity) *ReplyPreview
		Authorize(room Room, identity Identity) error
		UnreadCounts(ctx context.Context, viewer Identity) (map[string]int, error)
		MarkRead(ctx context.Context, viewer Identity, cmd MarkReadCommand) (int, error)
	}

	Service struct {
		repo         Repository
		clock        *roomClock
		defaultLimit int
		maxLimit     int
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(repo Repository, conf *core.Config) *Service {
	svc := &Service{
		repo:         repo,
		clock:        newRoomClock(),
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	if conf != nil {
		if conf.Chat.HistoryLimit > 0 {
			svc.defaultLimit = conf.Chat.HistoryLimit
		}
		if conf.Chat.HistoryMaxLimit > 0 && conf.Chat.HistoryMaxLimit < MaxLimit {
			svc.maxLimit = conf.Chat.HistoryMaxLimit
		}
	}
	return svc
}

// storageErr keeps domain errors as they are and flags everything else as a retryable storage failure.
func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if core.IsNotFound(err) || core.IsStorageError(err) {
		return errors.Wrap(err, op)
	}
	return core.NewStorageError(op, err)
}

func (svc *Service) limit(limit int) int {
	if limit <= 0 {
		return svc.defaultLimit
	}
	if limit > svc.maxLimit {
		return svc.maxLimit
	}
	return limit
}

// Authorize checks that `identity` may join, read and write in `room`.
func (svc *Service) Authorize(room Room, identity Identity) error {
	if identity.ID == "" {
		return core.ErrUnauthenticated
	}
	if !room.Has(identity.ID) {
		return core.ErrForbidden
	}
	return nil
}

// Append persists a new message from `sender`. The sender, room, recipients and timestamp are all
// server side decisions: whatever the client put in the command for them is ignored.
func (svc *Service) Append(ctx context.Context, sender Identity, cmd SendMessageCommand) (Message, error) {
	if sender.ID == "" {
		return Message{}, core.NewFieldError("sender", errTextRequired)
	}
	cmd.Content = core.CleanString(cmd.Content)
	if cmd.Content == "" {
		return Message{}, core.NewFieldError("content", errTextRequired)
	}

	room, recipients, err := cmd.resolve(sender.ID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		Sender:     sender.sender(),
		Content:    cmd.Content,
		Room:       room.String(),
		IsPrivate:  room.IsPrivate(),
		Recipients: recipients,
		DeletedFor: []string{},
		ReadBy:     []string{},
	}

	if replyTo := core.CleanString(cmd.ReplyTo); replyTo != "" {
		orig, err := svc.repo.GetMessage(ctx, replyTo)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Message{}, core.NewFieldError("reply_to", errTextReplyNotInRoom)
			}
			return Message{}, storageErr(err, "getting replied message")
		}
		if orig.Room != msg.Room {
			return Message{}, core.NewFieldError("reply_to", errTextReplyNotInRoom)
		}
		msg.ReplyToID = orig.ID
		msg.ReplyTo = orig.preview()
	}

	msg.CreatedAt = svc.clock.next(msg.Room)
	created, err := svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, storageErr(err, "creating message")
	}
	created.ReplyTo = msg.ReplyTo
	return created, nil
}

// ListByRoom returns up to `limit` messages of `room` older than `before` that `viewer` can see, newest first.
func (svc *Service) ListByRoom(ctx context.Context, room Room, before time.Time, limit int, viewer Identity) ([]Message, error) {
	if err := svc.Authorize(room, viewer); err != nil {
		return nil, err
	}
	return svc.list(ctx, room, before, svc.limit(limit), viewer)
}

func (svc *Service) list(ctx context.Context, room Room, before time.Time, limit int, viewer Identity) ([]Message, error) {
	msgs, err := svc.repo.QueryMessages(ctx, QueryFilter{
		Room:     room.String(),
		ViewerID: viewer.ID,
		Before:   before,
		Limit:    limit,
	})
	if err != nil {
		return nil, storageErr(err, "querying messages")
	}

	// repositories filter too; the message model has the final word
	visible := msgs[:0]
	for _, msg := range msgs {
		if msg.VisibleTo(viewer.ID) {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// SoftDeleteFor hides a message from its own sender's reads. Hiding twice is a no-op.
func (svc *Service) SoftDeleteFor(ctx context.Context, messageID string, identity Identity) error {
	msg, err := svc.repo.GetMessage(ctx, core.CleanString(messageID))
	if err != nil {
		return storageErr(err, "getting message")
	}
	if msg.Sender.ID != identity.ID {
		return core.ErrForbidden
	}
	if msg.HiddenFor(identity.ID) {
		return nil
	}
	if err = svc.repo.AddDeletedFor(ctx, msg.ID, identity.ID); err != nil {
		return storageErr(err, "hiding message")
	}
	return nil
}

// HardDelete removes a message for everybody. Only its sender or an elevated identity may do so.
// The deleted message is returned so that callers can notify its audience.
func (svc *Service) HardDelete(ctx context.Context, messageID string, requester Identity) (Message, error) {
	msg, err := svc.repo.GetMessage(ctx, core.CleanString(messageID))
	if err != nil {
		return Message{}, storageErr(err, "getting message")
	}
	if msg.Sender.ID != requester.ID && !requester.IsElevated() {
		return Message{}, core.ErrForbidden
	}
	if err = svc.repo.DeleteMessage(ctx, msg.ID); err != nil {
		return Message{}, storageErr(err, "deleting message")
	}
	return msg, nil
}

// ResolveReply never fails: anything but a visible message resolves to an unavailable preview.
func (svc *Service) ResolveReply(ctx context.Context, messageID string, viewer Identity) *ReplyPreview {
	orig, err := svc.repo.GetMessage(ctx, messageID)
	if err != nil || !orig.VisibleTo(viewer.ID) {
		return unavailableReply(messageID)
	}
	return orig.preview()
}

func (svc *Service) UnreadCounts(ctx context.Context, viewer Identity) (map[string]int, error) {
	if viewer.ID == "" {
		return nil, core.ErrUnauthenticated
	}
	counts, err := svc.repo.CountUnread(ctx, viewer.ID)
	if err != nil {
		return nil, storageErr(err, "counting unread messages")
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

func (svc *Service) MarkRead(ctx context.Context, viewer Identity, cmd MarkReadCommand) (int, error) {
	room, err := ParseRoom(cmd.Room)
	if err != nil {
		return 0, core.NewFieldError("room", err.Error())
	}
	if err = svc.Authorize(room, viewer); err != nil {
		return 0, err
	}
	upTo := nowFunc().UTC()
	if last, ok := svc.clock.latest(room.String()); ok && last.After(upTo) {
		upTo = last
	}
	if cmd.UpTo != nil && !cmd.UpTo.IsZero() {
		upTo = cmd.UpTo.UTC()
	}
	n, err := svc.repo.MarkRead(ctx, viewer.ID, room.String(), upTo)
	if err != nil {
		return 0, storageErr(err, "marking messages as read")
	}
	return n, nil
}
