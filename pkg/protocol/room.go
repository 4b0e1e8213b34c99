// Package protocol holds the wire types shared by the relay server and its
// clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomTeam   RoomKind = "team"
)

var ErrInvalidRoomKey = errors.New("invalid room key")

// RoomKey identifies a fan-out group. Direct rooms store the two user ids
// sorted and joined by ":" so both participants resolve to the same key.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// DirectRoom returns the canonical direct room for a pair of users.
func DirectRoom(a, b string) RoomKey {
	if b < a {
		a, b = b, a
	}
	return RoomKey{Kind: RoomDirect, ID: a + ":" + b}
}

func TeamRoom(projectID string) RoomKey {
	return RoomKey{Kind: RoomTeam, ID: projectID}
}

func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, s)
	}
	key := RoomKey{Kind: RoomKind(kind), ID: id}
	if err := key.Validate(); err != nil {
		return RoomKey{}, err
	}
	return key, nil
}

func (k RoomKey) Validate() error {
	switch k.Kind {
	case RoomTeam:
		if k.ID == "" || strings.Contains(k.ID, ":") {
			return fmt.Errorf("%w: bad team id %q", ErrInvalidRoomKey, k.ID)
		}
	case RoomDirect:
		a, b, ok := strings.Cut(k.ID, ":")
		if !ok || a == "" || b == "" || strings.Contains(b, ":") {
			return fmt.Errorf("%w: bad direct pair %q", ErrInvalidRoomKey, k.ID)
		}
		if b < a {
			return fmt.Errorf("%w: direct pair %q is not canonical", ErrInvalidRoomKey, k.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRoomKey, k.Kind)
	}
	return nil
}

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

func (k RoomKey) IsZero() bool {
	return k.Kind == "" && k.ID == ""
}

// Participants returns both user ids of a direct room, nil otherwise.
func (k RoomKey) Participants() []string {
	if k.Kind != RoomDirect {
		return nil
	}
	a, b, ok := strings.Cut(k.ID, ":")
	if !ok {
		return nil
	}
	return []string{a, b}
}

func (k RoomKey) Includes(userID string) bool {
	for _, p := range k.Participants() {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a direct room.
func (k RoomKey) Peer(self string) string {
	ps := k.Participants()
	if len(ps) != 2 {
		return ""
	}
	if ps[0] == self {
		return ps[1]
	}
	return ps[0]
}

func (k RoomKey) MarshalJSON() ([]byte, error) {
	if k.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(k.String())
}

func (k *RoomKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*k = RoomKey{}
		return nil
	}
	parsed, err := ParseRoomKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
