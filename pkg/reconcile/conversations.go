package reconcile

import (
	"sync"
	"time"

	"collab-relay/pkg/protocol"
)

type Summary struct {
	RoomKey            protocol.RoomKey `json:"roomKey"`
	LastEventID        string           `json:"lastEventId"`
	LastMessageAt      time.Time        `json:"lastMessageAt"`
	LastMessageContent string           `json:"lastMessageContent"`
	Unread             int              `json:"unread"`
}

// ConversationList keeps one summary per room, most recently active first.
type ConversationList struct {
	mu      sync.Mutex
	self    string
	entries []Summary
	seen    map[string]struct{}
	open    map[protocol.RoomKey]struct{}
}

func NewConversationList(localUserID string) *ConversationList {
	return &ConversationList{
		self: localUserID,
		seen: make(map[string]struct{}),
		open: make(map[protocol.RoomKey]struct{}),
	}
}

// ApplyUpdate moves the affected room to the front and bumps its unread
// counter unless the update came from the local user or the room is open.
// A repeated event id is ignored; the return value reports whether the
// update was applied.
func (c *ConversationList) ApplyUpdate(u protocol.ConversationUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.EventID != "" {
		if _, ok := c.seen[u.EventID]; ok {
			return false
		}
		c.seen[u.EventID] = struct{}{}
	}

	summary := Summary{RoomKey: u.RoomKey}
	if idx := c.indexLocked(u.RoomKey); idx >= 0 {
		summary = c.entries[idx]
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	}

	summary.LastEventID = u.EventID
	summary.LastMessageAt = u.LastMessageAt
	summary.LastMessageContent = u.LastMessageContent
	if _, open := c.open[u.RoomKey]; !open && u.OriginUserID != c.self {
		delta := u.UnreadDelta
		if delta < 1 {
			delta = 1
		}
		summary.Unread += delta
	}

	c.entries = append([]Summary{summary}, c.entries...)
	return true
}

func (c *ConversationList) indexLocked(key protocol.RoomKey) int {
	for i := range c.entries {
		if c.entries[i].RoomKey == key {
			return i
		}
	}
	return -1
}

// Open marks key as on screen and clears its unread counter. Several rooms
// may be open at once.
func (c *ConversationList) Open(key protocol.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open[key] = struct{}{}
	if idx := c.indexLocked(key); idx >= 0 {
		c.entries[idx].Unread = 0
	}
}

// Close marks key as no longer on screen; other open rooms are unaffected.
func (c *ConversationList) Close(key protocol.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, key)
}

func (c *ConversationList) IsOpen(key protocol.RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[key]
	return ok
}

// Reset replaces the list with a full fetch. The order given is kept, and
// rooms that are open start at zero unread.
func (c *ConversationList) Reset(summaries []Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append([]Summary(nil), summaries...)
	c.seen = make(map[string]struct{}, len(summaries))
	for i := range c.entries {
		if _, open := c.open[c.entries[i].RoomKey]; open {
			c.entries[i].Unread = 0
		}
	}
	for _, s := range summaries {
		if s.LastEventID != "" {
			c.seen[s.LastEventID] = struct{}{}
		}
	}
}

func (c *ConversationList) Entries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Summary(nil), c.entries...)
}

func (c *ConversationList) Unread(key protocol.RoomKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(key); idx >= 0 {
		return c.entries[idx].Unread
	}
	return 0
}
