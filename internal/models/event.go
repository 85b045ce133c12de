package models

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one line of the lab's event log
type LogEntry struct {
	ID        uuid.UUID  `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      EventType  `json:"type"`
	Level     EventLevel `json:"severity"`
	Message   string     `json:"message"`
	Details   Variables  `json:"details,omitempty"`
}

// Variables represents a JSON object for storing arbitrary data
type Variables map[string]interface{}

// EventType represents event types
type EventType string

const (
	// Device events
	EventTypeActivation EventType = "ACTIVATION"
	EventTypeJoin       EventType = "JOIN"
	EventTypeUplink     EventType = "UPLINK"
	EventTypeRelay      EventType = "RELAY"
	EventTypeError      EventType = "ERROR"

	// Link events
	EventTypeGatewayUp   EventType = "GATEWAY_UP"
	EventTypeGatewayDown EventType = "GATEWAY_DOWN"
	EventTypeServerUp    EventType = "SERVER_UP"
	EventTypeServerDown  EventType = "SERVER_DOWN"

	// Lab events
	EventTypeConfig EventType = "CONFIG"
	EventTypeSystem EventType = "SYSTEM"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelSuccess EventLevel = "success"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)
