package realtime

import (
	"fmt"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
)

// Observer is notified of the realtime traffic, e.g. to export metrics.
type Observer interface {
	SessionOpened()
	SessionClosed()
	EventHandled(event string, errCode string)
	Delivered(event string, sessions int)
	Dropped(event string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()              {}
func (nopObserver) SessionClosed()              {}
func (nopObserver) EventHandled(string, string) {}
func (nopObserver) Delivered(string, int)       {}
func (nopObserver) Dropped(string)              {}

// Router computes who must receive a push, then pushes it.
// Delivery is at most once: sessions that are gone or too slow simply miss the push
// and catch up through the message history.
type Router struct {
	registry Registry
	logger   core.Logger
	observer Observer
}

func NewRouter(registry Registry, logger core.Logger, observer Observer) *Router {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Router{registry: registry, logger: logger, observer: observer}
}

// PublicAudience returns the sessions joined to the public room.
func (r *Router) PublicAudience() []*Session {
	public := chat.PublicRoom.String()
	var audience []*Session
	for _, s := range r.registry.Sessions() {
		if s.Joined(public) {
			audience = append(audience, s)
		}
	}
	return audience
}

// PrivateAudience returns the live sessions of `participants`, joined to the room or not.
func (r *Router) PrivateAudience(participants []string) []*Session {
	audience := make([]*Session, 0, len(participants))
	for _, id := range participants {
		if s, ok := r.registry.Get(id); ok {
			audience = append(audience, s)
		}
	}
	return audience
}

func (r *Router) AudienceFor(room chat.Room) []*Session {
	if room.IsPrivate() {
		return r.PrivateAudience(room.Participants)
	}
	return r.PublicAudience()
}

// MessageAudience returns the sessions that must see `msg` live: the public room's listeners,
// or every connected participant (recipients and sender) of a private message.
func (r *Router) MessageAudience(msg chat.Message) []*Session {
	if msg.IsPrivate {
		return r.PrivateAudience(msg.Audience())
	}
	return r.PublicAudience()
}

// Deliver pushes `ev` once to each distinct session of `audience`, skipping `exclude`,
// and returns how many sessions accepted it.
func (r *Router) Deliver(audience []*Session, ev OutEvent, exclude ...*Session) int {
	seen := make(map[*Session]struct{}, len(audience)+len(exclude))
	for _, s := range exclude {
		seen[s] = struct{}{}
	}

	var delivered int
	for _, s := range audience {
		if s == nil {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}

		if s.push(ev) {
			delivered++
		} else {
			r.observer.Dropped(ev.Event)
			r.logger.Debug(fmt.Sprintf("push dropped: %s -> session %s", ev.Event, s.ID), s.Identity)
		}
	}
	r.observer.Delivered(ev.Event, delivered)
	return delivered
}

// deliverWithEcho sends `ev` to `audience` and the origin session, which gets it tagged with its `ref`.
func (r *Router) deliverWithEcho(audience []*Session, ev OutEvent, origin *Session, ref string) int {
	if origin == nil {
		return r.Deliver(audience, ev)
	}
	delivered := r.Deliver(audience, ev, origin)

	echo := ev
	echo.Ref = ref
	if origin.push(echo) {
		delivered++
	} else {
		r.observer.Dropped(ev.Event)
	}
	return delivered
}

// DeliverMessage fans a persisted message out. `origin` is the sending session, if any:
// it always gets the canonical copy back so its client can reconcile its optimistic one.
func (r *Router) DeliverMessage(msg chat.Message, origin *Session, ref string) int {
	ev := OutEvent{Event: EventChatMessage, Data: msg}
	return r.deliverWithEcho(r.MessageAudience(msg), ev, origin, ref)
}

// DeliverDeletion tells the audience of a hard deleted message to drop it. The notice only carries the id.
func (r *Router) DeliverDeletion(msg chat.Message, origin *Session, ref string) int {
	ev := OutEvent{Event: EventMessageDeleted, Data: msg.ID}
	return r.deliverWithEcho(r.MessageAudience(msg), ev, origin, ref)
}

// DeliverTyping forwards a typing notice to the room's audience, minus the typist's own sessions.
func (r *Router) DeliverTyping(room chat.Room, typist chat.Identity) int {
	audience := r.AudienceFor(room)
	var exclude []*Session
	for _, s := range audience {
		if s.Identity.ID == typist.ID {
			exclude = append(exclude, s)
		}
	}
	return r.Deliver(audience, OutEvent{Event: EventUserTyping, Data: typist.ID}, exclude...)
}

// DeliverHidden tells the live session of `identityID` that it hid a message, e.g. from the REST API.
func (r *Router) DeliverHidden(identityID, messageID string) int {
	return r.Deliver(r.PrivateAudience([]string{identityID}), OutEvent{Event: EventMessageHidden, Data: messageRef{ID: messageID}})
}
