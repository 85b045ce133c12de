package simulation

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
)

// EventLog is the lab's append-only log window. Once capacity entries are
// held the oldest is dropped; a capacity of 0 keeps everything.
type EventLog struct {
	capacity int
	entries  []models.LogEntry
}

// NewEventLog creates an empty log
func NewEventLog(capacity int) *EventLog {
	if capacity < 0 {
		capacity = 0
	}
	return &EventLog{capacity: capacity}
}

// Append records a new entry and returns it
func (l *EventLog) Append(at time.Time, typ models.EventType, level models.EventLevel, msg string, details models.Variables) models.LogEntry {
	entry := models.LogEntry{
		ID:        uuid.New(),
		Timestamp: at,
		Type:      typ,
		Level:     level,
		Message:   msg,
		Details:   details,
	}

	if l.capacity > 0 && len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.capacity-1]
	}
	l.entries = append(l.entries, entry)

	return entry
}

// Entries returns the retained entries, oldest first
func (l *EventLog) Entries() []models.LogEntry {
	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries
func (l *EventLog) Len() int { return len(l.entries) }

// Clear drops every entry
func (l *EventLog) Clear() {
	l.entries = nil
}
