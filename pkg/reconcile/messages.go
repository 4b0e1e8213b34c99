// Package reconcile merges server-confirmed events into client-side state
// without duplicating entries or losing optimistic placeholders.
package reconcile

import (
	"strings"
	"sync"
	"time"

	"collab-relay/pkg/protocol"
)

type Outcome int

const (
	Duplicate Outcome = iota
	Confirmed
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Confirmed:
		return "confirmed"
	case Appended:
		return "appended"
	}
	return "unknown"
}

// Entry is one visible message. Pending entries have TempID set and no ID.
type Entry struct {
	ID           string
	TempID       string
	Content      string
	OriginUserID string
	CreatedAt    time.Time
	Pending      bool
}

// MessageList is the ordered message state of a single room view.
type MessageList struct {
	mu      sync.Mutex
	self    string
	entries []Entry
	seen    map[string]struct{}
	// pending maps a content key to temp ids, oldest first.
	pending map[string][]string
}

func NewMessageList(localUserID string) *MessageList {
	return &MessageList{
		self:    localUserID,
		seen:    make(map[string]struct{}),
		pending: make(map[string][]string),
	}
}

func contentKey(content string) string {
	return strings.TrimSpace(content)
}

// ApplyOptimistic appends a placeholder for a message the local user just
// sent. tempID doubles as the correlation id sent along with the request.
func (l *MessageList) ApplyOptimistic(tempID, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		TempID:       tempID,
		Content:      content,
		OriginUserID: l.self,
		CreatedAt:    time.Now(),
		Pending:      true,
	})
	key := contentKey(content)
	l.pending[key] = append(l.pending[key], tempID)
}

// ApplyServerEvent merges a confirmed event. A local-origin event replaces
// its pending placeholder in place; it is matched on the echoed client id
// when present and on content otherwise.
func (l *MessageList) ApplyServerEvent(ev protocol.Event) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[ev.ID]; ok {
		return Duplicate
	}
	l.seen[ev.ID] = struct{}{}

	confirmed := Entry{
		ID:           ev.ID,
		Content:      ev.Content,
		OriginUserID: ev.OriginUserID,
		CreatedAt:    ev.CreatedAt,
	}

	if ev.OriginUserID == l.self {
		if idx := l.matchPendingLocked(ev); idx >= 0 {
			l.entries[idx] = confirmed
			return Confirmed
		}
	}

	l.entries = append(l.entries, confirmed)
	return Appended
}

// matchPendingLocked finds the placeholder ev confirms, clears its pending
// marker and returns its index, or -1.
func (l *MessageList) matchPendingLocked(ev protocol.Event) int {
	// An echoed client id is authoritative: when it names no local
	// placeholder the send came from another connection of the same user.
	tempID := ev.ClientID
	if tempID == "" {
		ids := l.pending[contentKey(ev.Content)]
		if len(ids) == 0 {
			return -1
		}
		tempID = ids[0]
	}

	idx := l.indexOfTempLocked(tempID)
	if idx < 0 {
		return -1
	}
	l.clearPendingLocked(l.entries[idx].Content, tempID)
	return idx
}

func (l *MessageList) indexOfTempLocked(tempID string) int {
	for i := range l.entries {
		if l.entries[i].Pending && l.entries[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (l *MessageList) clearPendingLocked(content, tempID string) {
	key := contentKey(content)
	ids := l.pending[key]
	for i, id := range ids {
		if id == tempID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(l.pending, key)
	} else {
		l.pending[key] = ids
	}
}

// Fail rolls back a placeholder whose send failed. It reports whether a
// pending entry was removed.
func (l *MessageList) Fail(tempID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfTempLocked(tempID)
	if idx < 0 {
		return false
	}
	l.clearPendingLocked(l.entries[idx].Content, tempID)
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	return true
}

// Reset replaces all state with a full fetch, establishing a new baseline.
// Pending placeholders and the seen-set are discarded.
func (l *MessageList) Reset(events []protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make([]Entry, 0, len(events))
	l.seen = make(map[string]struct{}, len(events))
	l.pending = make(map[string][]string)
	for _, ev := range events {
		if _, dup := l.seen[ev.ID]; dup {
			continue
		}
		l.seen[ev.ID] = struct{}{}
		l.entries = append(l.entries, Entry{
			ID:           ev.ID,
			Content:      ev.Content,
			OriginUserID: ev.OriginUserID,
			CreatedAt:    ev.CreatedAt,
		})
	}
}

func (l *MessageList) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MessageList) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ids := range l.pending {
		n += len(ids)
	}
	return n
}
