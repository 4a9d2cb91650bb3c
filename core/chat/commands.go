package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mpkschool/backend/core"
)

const (
	MaxContentLength = 5000

	privateKeyword = string(KindPrivate)
)

var (
	errTextRecipientsPublic   = "the public room takes no recipients"
	errTextRecipientsRequired = "at least one recipient other than the sender is required"
	errTextRecipientsMismatch = "recipients do not match the room participants"
	errTextReplyNotInRoom     = "the replied message does not exist in this room"
	errTextRequired           = "this field is required"
	errTextInvalidCursor      = "must be an RFC 3339 timestamp or unix milliseconds"
)

type (
	// SendMessageCommand posts a new message.
	// Room is "public", a canonical private room, or "private" together with Recipients.
	SendMessageCommand struct {
		Content    string   `json:"content" validate:"required,notblank,max=5000"`
		Room       string   `json:"room" validate:"required,sendroom"`
		Recipients []string `json:"recipients" validate:"omitempty,dive,required"`
		ReplyTo    string   `json:"reply_to"`

		// accepted for client compatibility, always overridden by the server
		Sender    json.RawMessage `json:"sender,omitempty" validate:"-"`
		Timestamp json.RawMessage `json:"timestamp,omitempty" validate:"-"`
	}

	JoinRoomCommand struct {
		Room string `json:"room" validate:"required,room"`
	}

	LeaveRoomCommand struct {
		Room string `json:"room" validate:"required,room"`
	}

	TypingCommand struct {
		Room     string `json:"room" validate:"required,room"`
		IsTyping *bool  `json:"is_typing"`
	}

	DeleteMessageCommand struct {
		MessageID string `json:"message_id" validate:"required"`
	}

	MarkReadCommand struct {
		Room string     `json:"room" validate:"required,room"`
		UpTo *time.Time `json:"up_to"`
	}

	HistoryQuery struct {
		Room   string `query:"room" validate:"required,room"`
		Limit  int    `query:"limit" validate:"min=0"`
		Before string `query:"before"`
	}
)

func (cmd *SendMessageCommand) Validate(validate *validator.Validate) error {
	cmd.Content = core.CleanString(cmd.Content)
	cmd.Room = core.CleanString(cmd.Room)
	cmd.Recipients = core.CleanStrings(cmd.Recipients)
	cmd.ReplyTo = core.CleanString(cmd.ReplyTo)
	return validate.Struct(cmd)
}

// resolve derives the room and the recipients of the message sent by `senderID`.
// The sender is always a participant of the resulting room.
func (cmd *SendMessageCommand) resolve(senderID string) (Room, []string, error) {
	switch {
	case cmd.Room == string(KindPublic):
		if len(cmd.Recipients) > 0 {
			return Room{}, nil, core.NewFieldError("recipients", errTextRecipientsPublic)
		}
		return PublicRoom, []string{}, nil

	case cmd.Room == privateKeyword:
		room := NewPrivateRoom(append([]string{senderID}, cmd.Recipients...)...)
		if err := room.valid(); err != nil {
			return Room{}, nil, core.NewFieldError("recipients", errTextRecipientsRequired)
		}
		return room, room.Others(senderID), nil
	}

	room, err := ParseRoom(cmd.Room)
	if err != nil {
		return Room{}, nil, core.NewFieldError("room", err.Error())
	}
	if !room.Has(senderID) {
		return Room{}, nil, core.ErrForbidden
	}
	if len(cmd.Recipients) > 0 {
		if !NewPrivateRoom(append([]string{senderID}, cmd.Recipients...)...).Equal(room) {
			return Room{}, nil, core.NewFieldError("recipients", errTextRecipientsMismatch)
		}
	}
	return room, room.Others(senderID), nil
}

func (cmd *JoinRoomCommand) Validate(validate *validator.Validate) error {
	cmd.Room = core.CleanString(cmd.Room)
	return validate.Struct(cmd)
}

func (cmd *LeaveRoomCommand) Validate(validate *validator.Validate) error {
	cmd.Room = core.CleanString(cmd.Room)
	return validate.Struct(cmd)
}

func (cmd *TypingCommand) Validate(validate *validator.Validate) error {
	cmd.Room = core.CleanString(cmd.Room)
	return validate.Struct(cmd)
}

// Typing reports the typing state; a missing flag means the user is typing.
func (cmd TypingCommand) Typing() bool {
	return cmd.IsTyping == nil || *cmd.IsTyping
}

func (cmd *DeleteMessageCommand) Validate(validate *validator.Validate) error {
	cmd.MessageID = core.CleanString(cmd.MessageID)
	return validate.Struct(cmd)
}

func (cmd *MarkReadCommand) Validate(validate *validator.Validate) error {
	cmd.Room = core.CleanString(cmd.Room)
	return validate.Struct(cmd)
}

func (q *HistoryQuery) Validate(validate *validator.Validate) error {
	q.Room = core.CleanString(q.Room)
	q.Before = core.CleanString(q.Before)
	if err := validate.Struct(q); err != nil {
		return err
	}
	if _, err := ParseCursor(q.Before); err != nil {
		return core.NewFieldError("before", errTextInvalidCursor)
	}
	return nil
}

// ParseCursor reads a history cursor: RFC 3339 (with or without fractional seconds) or unix milliseconds.
// An empty cursor is the zero time, meaning "from the newest message".
func ParseCursor(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatCursor is the inverse of ParseCursor.
func FormatCursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Custom Validators

// roomValidation accepts the canonical form of a room.
func roomValidation(fl validator.FieldLevel) bool {
	_, err := ParseRoom(fl.Field().String())
	return err == nil
}

// sendRoomValidation also accepts the bare "private" keyword, resolved from the recipients.
func sendRoomValidation(fl validator.FieldLevel) bool {
	if strings.TrimSpace(fl.Field().String()) == privateKeyword {
		return true
	}
	return roomValidation(fl)
}
