package chat

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type RoomKind string

const (
	KindPublic  RoomKind = "public"
	KindPrivate RoomKind = "private"

	roomSep = ":"
)

var (
	PublicRoom = Room{Kind: KindPublic}

	errRoomEmpty        = errors.New("room is required")
	errRoomUnknown      = errors.New("unknown room")
	errRoomParticipants = errors.New("a private room needs at least two distinct participants")
)

// Room is either the public room or a private room with a fixed participant set.
// Its string form is canonical: "public" or "private:<id>:<id>..." with sorted, distinct ids,
// so the same participants always map to the same room whatever order they are given in.
type Room struct {
	Kind         RoomKind
	Participants []string // sorted, distinct; empty for the public room
}

// NewPrivateRoom builds the private room shared by `ids`. Blank and duplicate ids are dropped.
func NewPrivateRoom(ids ...string) Room {
	set := make(map[string]struct{}, len(ids))
	participants := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		participants = append(participants, id)
	}
	sort.Strings(participants)
	return Room{Kind: KindPrivate, Participants: participants}
}

// ParseRoom parses the canonical string form of a room.
// The bare "private" keyword is not a room: it only makes sense together with a recipients list (see SendMessageCommand).
func ParseRoom(s string) (Room, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Room{}, errRoomEmpty
	case s == string(KindPublic):
		return PublicRoom, nil
	case strings.HasPrefix(s, string(KindPrivate)+roomSep):
		ids := strings.Split(strings.TrimPrefix(s, string(KindPrivate)+roomSep), roomSep)
		for _, id := range ids {
			if strings.TrimSpace(id) == "" {
				return Room{}, errRoomUnknown
			}
		}
		room := NewPrivateRoom(ids...)
		if err := room.valid(); err != nil {
			return Room{}, err
		}
		return room, nil
	}
	return Room{}, errRoomUnknown
}

func (r Room) valid() error {
	switch r.Kind {
	case KindPublic:
		return nil
	case KindPrivate:
		if len(r.Participants) < 2 {
			return errRoomParticipants
		}
		return nil
	}
	return errRoomUnknown
}

func (r Room) IsPrivate() bool {
	return r.Kind == KindPrivate
}

func (r Room) String() string {
	if r.Kind != KindPrivate {
		return string(KindPublic)
	}
	return string(KindPrivate) + roomSep + strings.Join(r.Participants, roomSep)
}

// Has reports whether identity `id` may read and write in the room.
func (r Room) Has(id string) bool {
	if r.Kind == KindPublic {
		return id != ""
	}
	i := sort.SearchStrings(r.Participants, id)
	return i < len(r.Participants) && r.Participants[i] == id
}

// Others returns the participants except `id`.
func (r Room) Others(id string) []string {
	others := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != id {
			others = append(others, p)
		}
	}
	return others
}

func (r Room) Equal(other Room) bool {
	return r.String() == other.String()
}
