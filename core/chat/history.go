package chat

import (
	"context"

	"github.com/mpkschool/backend/core"
)

// HistoryPage is one page of a room's backlog, oldest message first.
// Cursor is the `before` value that fetches the previous page.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	Cursor   string    `json:"cursor"`
	HasMore  bool      `json:"has_more"`
}

// History pages backwards through a room with the same authorization as joining it.
func (svc *Service) History(ctx context.Context, viewer Identity, q HistoryQuery) (HistoryPage, error) {
	room, err := ParseRoom(q.Room)
	if err != nil {
		return HistoryPage{}, core.NewFieldError("room", err.Error())
	}
	before, err := ParseCursor(core.CleanString(q.Before))
	if err != nil {
		return HistoryPage{}, core.NewFieldError("before", errTextInvalidCursor)
	}
	if err = svc.Authorize(room, viewer); err != nil {
		return HistoryPage{}, err
	}

	limit := svc.limit(q.Limit)
	msgs, err := svc.list(ctx, room, before, limit+1, viewer) // one extra tells if there is more
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Messages: make([]Message, 0, len(msgs))}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		page.Messages = append(page.Messages, msgs[i])
	}
	if len(page.Messages) > 0 {
		page.Cursor = FormatCursor(page.Messages[0].CreatedAt)
	}

	svc.resolveReplies(ctx, page.Messages, viewer)
	return page, nil
}

// resolveReplies fills in the reply previews of `msgs` with one batched lookup.
func (svc *Service) resolveReplies(ctx context.Context, msgs []Message, viewer Identity) {
	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, msg := range msgs {
		if msg.ReplyToID == "" {
			continue
		}
		if _, ok := seen[msg.ReplyToID]; !ok {
			seen[msg.ReplyToID] = struct{}{}
			ids = append(ids, msg.ReplyToID)
		}
	}
	if len(ids) == 0 {
		return
	}

	found := make(map[string]Message, len(ids))
	if origs, err := svc.repo.GetMessagesByID(ctx, ids); err == nil {
		for _, orig := range origs {
			found[orig.ID] = orig
		}
	}

	for i := range msgs {
		id := msgs[i].ReplyToID
		if id == "" {
			continue
		}
		if orig, ok := found[id]; ok && orig.VisibleTo(viewer.ID) {
			msgs[i].ReplyTo = orig.preview()
		} else {
			msgs[i].ReplyTo = unavailableReply(id)
		}
	}
}
