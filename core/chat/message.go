package chat

import "time"

// Sender is the denormalized author of a Message, frozen at send time.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar_url"`
}

type Message struct {
	ID         string        `json:"id"`
	Sender     Sender        `json:"sender"`
	Content    string        `json:"content"`
	Room       string        `json:"room"`
	IsPrivate  bool          `json:"is_private"`
	Recipients []string      `json:"recipients"`
	ReplyToID  string        `json:"reply_to_id,omitempty"`
	ReplyTo    *ReplyPreview `json:"reply_to,omitempty"`
	CreatedAt  time.Time     `json:"created_at"` // UTC, millisecond precision
	DeletedFor []string      `json:"-"`
	ReadBy     []string      `json:"-"`
}

// ReplyPreview is what a reply shows of the message it answers.
// Unavailable is set when the original is gone or hidden from the viewer.
type ReplyPreview struct {
	ID          string     `json:"id"`
	Sender      *Sender    `json:"sender,omitempty"`
	Content     string     `json:"content,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Unavailable bool       `json:"unavailable,omitempty"`
}

func unavailableReply(id string) *ReplyPreview {
	return &ReplyPreview{ID: id, Unavailable: true}
}

func (m Message) preview() *ReplyPreview {
	sender := m.Sender
	createdAt := m.CreatedAt
	return &ReplyPreview{ID: m.ID, Sender: &sender, Content: m.Content, CreatedAt: &createdAt}
}

// Audience returns every identity allowed to see the message: nil for a public message,
// recipients plus the sender otherwise.
func (m Message) Audience() []string {
	if !m.IsPrivate {
		return nil
	}
	return NewPrivateRoom(append([]string{m.Sender.ID}, m.Recipients...)...).Participants
}

// VisibleTo reports whether `viewerID` may read the message: a participant who did not hide it.
func (m Message) VisibleTo(viewerID string) bool {
	if viewerID == "" {
		return false
	}
	if m.IsPrivate && m.Sender.ID != viewerID && !contains(m.Recipients, viewerID) {
		return false
	}
	return !contains(m.DeletedFor, viewerID)
}

func (m Message) HiddenFor(id string) bool {
	return contains(m.DeletedFor, id)
}

func (m Message) ReadByViewer(id string) bool {
	return contains(m.ReadBy, id)
}

func contains(ss []string, s string) bool {
	for _, item := range ss {
		if item == s {
			return true
		}
	}
	return false
}
