package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mpkschool/backend/core/chat"
)

type messageRepository struct {
	db *messageTable
}

var _ chat.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(db *DB) *messageRepository {
	return &messageRepository{db: db.message}
}

func copyMessage(msg chat.Message) chat.Message {
	msg.Recipients = clone(msg.Recipients)
	msg.DeletedFor = clone(msg.DeletedFor)
	msg.ReadBy = clone(msg.ReadBy)
	msg.ReplyTo = nil
	return msg
}

func (repo *messageRepository) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	msg.ID = uuid.New().String()
	msg.CreatedAt = msg.CreatedAt.UTC()
	stored := copyMessage(msg)
	repo.db.table[msg.ID] = &stored
	return copyMessage(stored), nil
}

func (repo *messageRepository) GetMessage(_ context.Context, id string) (chat.Message, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if msg, ok := repo.db.table[id]; ok {
		return copyMessage(*msg), nil
	}
	return chat.Message{}, chat.ErrNotFound
}

func (repo *messageRepository) GetMessagesByID(_ context.Context, ids []string) ([]chat.Message, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	msgs := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := repo.db.table[id]; ok {
			msgs = append(msgs, copyMessage(*msg))
		}
	}
	return msgs, nil
}

func (repo *messageRepository) QueryMessages(_ context.Context, filter chat.QueryFilter) ([]chat.Message, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var msgs []chat.Message
	for _, msg := range repo.db.table {
		if msg.Room != filter.Room {
			continue
		}
		if filter.ViewerID != "" && !msg.VisibleTo(filter.ViewerID) {
			continue
		}
		if !filter.Before.IsZero() && !msg.CreatedAt.Before(filter.Before) {
			continue
		}
		msgs = append(msgs, copyMessage(*msg))
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(msgs) > filter.Limit {
		msgs = msgs[:filter.Limit]
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

func (repo *messageRepository) AddDeletedFor(_ context.Context, id, identityID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	msg, ok := repo.db.table[id]
	if !ok {
		return chat.ErrNotFound
	}
	if !msg.HiddenFor(identityID) {
		msg.DeletedFor = append(msg.DeletedFor, identityID)
	}
	return nil
}

func (repo *messageRepository) DeleteMessage(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return chat.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}

// unread reports whether `msg` counts as unread for `viewerID`.
func unread(msg *chat.Message, viewerID string) bool {
	return msg.Sender.ID != viewerID && msg.VisibleTo(viewerID) && !msg.ReadByViewer(viewerID)
}

func (repo *messageRepository) MarkRead(_ context.Context, viewerID, room string, upTo time.Time) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, msg := range repo.db.table {
		if msg.Room == room && !msg.CreatedAt.After(upTo) && unread(msg, viewerID) {
			msg.ReadBy = append(msg.ReadBy, viewerID)
			n++
		}
	}
	return n, nil
}

func (repo *messageRepository) CountUnread(_ context.Context, viewerID string) (map[string]int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	counts := make(map[string]int)
	for _, msg := range repo.db.table {
		if unread(msg, viewerID) {
			counts[msg.Room]++
		}
	}
	return counts, nil
}
