package realtime

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
)

// Inbound events
const (
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventChatMessage        = "chatMessage"
	EventTyping             = "typing"
	EventDeleteMessage      = "deleteMessage"
	EventDeleteMessageForMe = "deleteMessageForMe"
)

// eventUnknown stands for any client event name outside the inbound ones when reporting.
const eventUnknown = "unknown"

// eventLabel keeps observer labels to a fixed set whatever clients send.
func eventLabel(name string) string {
	switch name {
	case EventJoinRoom, EventLeaveRoom, EventChatMessage, EventTyping, EventDeleteMessage, EventDeleteMessageForMe:
		return name
	}
	return eventUnknown
}

// Outbound events
const (
	// EventChatMessage is echoed back with the persisted message.
	EventMessageDeleted  = "messageDeleted"
	EventUserTyping      = "userTyping"
	EventRoomJoined      = "roomJoined"
	EventRoomLeft        = "roomLeft"
	EventMessageHidden   = "messageHidden"
	EventError           = "error"
	EventSessionReplaced = "sessionReplaced"
)

// Error codes carried by EventError.
const (
	CodeValidation         = "validation_error"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeStorageUnavailable = "storage_unavailable"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

var (
	errUnknownEvent   = errors.New("unknown event")
	errMissingPayload = errors.New("missing event data")
	errRateLimited    = errors.New("too many events, slow down")
)

// InEvent is a client frame. Ref is echoed on the direct answer so clients can match replies.
type InEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ref   string          `json:"ref,omitempty"`
}

type OutEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Ref   string      `json:"ref,omitempty"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

type roomData struct {
	Room string `json:"room"`
}

type messageRef struct {
	ID string `json:"id"`
}

// DecodeEvent reads a client frame, rejecting unknown fields.
func DecodeEvent(frame []byte) (InEvent, error) {
	var ev InEvent
	if err := strictUnmarshal(frame, &ev); err != nil {
		return InEvent{}, core.NewValidationError(errors.Wrap(err, "malformed event"))
	}
	if ev.Event == "" {
		return InEvent{}, core.NewFieldError("event", "this field is required")
	}
	return ev, nil
}

// decodeData reads the event payload into the command `dst`, rejecting unknown fields.
func decodeData(ev InEvent, dst interface{}) error {
	if len(ev.Data) == 0 || string(ev.Data) == "null" {
		return core.NewValidationError(errMissingPayload)
	}
	if err := strictUnmarshal(ev.Data, dst); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed "+ev.Event+" data"))
	}
	return nil
}

func strictUnmarshal(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
