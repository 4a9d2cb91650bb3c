package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
)

const messageColumns = "id, sender_id, sender_name, sender_email, sender_avatar, content, room, is_private, " +
	"recipients, reply_to_id, deleted_for, read_by, created_at"

// visibleTo is the SQL twin of chat.Message.VisibleTo; `%[1]s` is the viewer placeholder.
const visibleTo = "NOT (%[1]s = ANY(deleted_for)) AND (NOT is_private OR sender_id::text = %[1]s OR %[1]s = ANY(recipients))"

// messageRow is the "message" table row.
type messageRow struct {
	ID           string         `db:"id"`
	SenderID     string         `db:"sender_id"`
	SenderName   string         `db:"sender_name"`
	SenderEmail  string         `db:"sender_email"`
	SenderAvatar null.String    `db:"sender_avatar"`
	Content      string         `db:"content"`
	Room         string         `db:"room"`
	IsPrivate    bool           `db:"is_private"`
	Recipients   pq.StringArray `db:"recipients"`
	ReplyToID    null.String    `db:"reply_to_id"`
	DeletedFor   pq.StringArray `db:"deleted_for"`
	ReadBy       pq.StringArray `db:"read_by"`
	CreatedAt    time.Time      `db:"created_at"`
}

func stringArray(ss []string) pq.StringArray {
	if ss == nil {
		return pq.StringArray{}
	}
	return ss
}

func toMessageRow(msg chat.Message) messageRow {
	return messageRow{
		ID:           msg.ID,
		SenderID:     msg.Sender.ID,
		SenderName:   msg.Sender.Name,
		SenderEmail:  msg.Sender.Email,
		SenderAvatar: null.NewString(msg.Sender.Avatar, msg.Sender.Avatar != ""),
		Content:      msg.Content,
		Room:         msg.Room,
		IsPrivate:    msg.IsPrivate,
		Recipients:   stringArray(msg.Recipients),
		ReplyToID:    null.NewString(msg.ReplyToID, msg.ReplyToID != ""),
		DeletedFor:   stringArray(msg.DeletedFor),
		ReadBy:       stringArray(msg.ReadBy),
		CreatedAt:    msg.CreatedAt.UTC(),
	}
}

func (row messageRow) message() chat.Message {
	return chat.Message{
		ID: row.ID,
		Sender: chat.Sender{
			ID:     row.SenderID,
			Name:   row.SenderName,
			Email:  row.SenderEmail,
			Avatar: row.SenderAvatar.String,
		},
		Content:    row.Content,
		Room:       row.Room,
		IsPrivate:  row.IsPrivate,
		Recipients: []string(stringArray(row.Recipients)),
		ReplyToID:  row.ReplyToID.String,
		DeletedFor: []string(stringArray(row.DeletedFor)),
		ReadBy:     []string(stringArray(row.ReadBy)),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func messagesOf(rows []messageRow) []chat.Message {
	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.message())
	}
	return msgs
}

type messageRepository struct {
	exec core.DBExecutor
}

var _ chat.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(exec core.DBExecutor) *messageRepository {
	return &messageRepository{exec: exec}
}

// trapNoRowsErr maps psql "no rows" err to chat.ErrNotFound
func (repo *messageRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return chat.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *messageRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.New().String()
	q := `INSERT INTO message (` + messageColumns + `) VALUES (:id, :sender_id, :sender_name, :sender_email, :sender_avatar,
		:content, :room, :is_private, :recipients, :reply_to_id, :deleted_for, :read_by, :created_at)`
	row := toMessageRow(msg)
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, q, row); err != nil {
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}
	return row.message(), nil
}

func (repo *messageRepository) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Message{}, chat.ErrNotFound
	}
	var row messageRow
	q := `SELECT ` + messageColumns + ` FROM message WHERE id = $1`
	if err := repo.exec.GetContext(ctx, &row, q, id); err != nil {
		return chat.Message{}, repo.trapNoRowsErr(err, "finding message")
	}
	return row.message(), nil
}

func (repo *messageRepository) GetMessagesByID(ctx context.Context, ids []string) ([]chat.Message, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []chat.Message{}, nil
	}

	var rows []messageRow
	q := `SELECT ` + messageColumns + ` FROM message WHERE id::text = ANY($1)`
	if err := repo.exec.SelectContext(ctx, &rows, q, pq.StringArray(valid)); err != nil {
		return nil, errors.Wrap(err, "finding messages")
	}
	return messagesOf(rows), nil
}

func (repo *messageRepository) QueryMessages(ctx context.Context, filter chat.QueryFilter) ([]chat.Message, error) {
	conds := []string{"room = $1"}
	args := []interface{}{filter.Room}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ViewerID != "" {
		conds = append(conds, fmt.Sprintf(visibleTo, arg(filter.ViewerID)))
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "created_at < "+arg(filter.Before.UTC()))
	}

	q := `SELECT ` + messageColumns + ` FROM message WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		q += " LIMIT " + arg(filter.Limit)
	}

	var rows []messageRow
	if err := repo.exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return messagesOf(rows), nil
}

func (repo *messageRepository) AddDeletedFor(ctx context.Context, id, identityID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return chat.ErrNotFound
	}
	q := `UPDATE message SET deleted_for = array_append(deleted_for, $2) WHERE id = $1 AND NOT ($2 = ANY(deleted_for))`
	res, err := repo.exec.ExecContext(ctx, q, id, identityID)
	if err != nil {
		return errors.Wrap(err, "hiding message")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// already hidden, or gone
		_, err = repo.GetMessage(ctx, id)
		return err
	}
	return nil
}

func (repo *messageRepository) DeleteMessage(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return chat.ErrNotFound
	}
	res, err := repo.exec.ExecContext(ctx, `DELETE FROM message WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting message")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (repo *messageRepository) MarkRead(ctx context.Context, viewerID, room string, upTo time.Time) (int, error) {
	q := `UPDATE message SET read_by = array_append(read_by, $1)
		WHERE room = $2 AND created_at <= $3 AND sender_id::text <> $1 AND NOT ($1 = ANY(read_by)) AND ` +
		fmt.Sprintf(visibleTo, "$1")
	res, err := repo.exec.ExecContext(ctx, q, viewerID, room, upTo.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "marking messages as read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "marking messages as read")
	}
	return int(n), nil
}

func (repo *messageRepository) CountUnread(ctx context.Context, viewerID string) (map[string]int, error) {
	var rows []struct {
		Room  string `db:"room"`
		Count int    `db:"count"`
	}
	q := `SELECT room, COUNT(*) AS count FROM message
		WHERE sender_id::text <> $1 AND NOT ($1 = ANY(read_by)) AND ` + fmt.Sprintf(visibleTo, "$1") + `
		GROUP BY room`
	if err := repo.exec.SelectContext(ctx, &rows, q, viewerID); err != nil {
		return nil, errors.Wrap(err, "counting unread messages")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Room] = row.Count
	}
	return counts, nil
}
