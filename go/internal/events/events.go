// Package events defines the room change events published to the message
// bus. The room document itself stays the source of truth; events only tell
// other instances that a new state exists.
package events

import (
	"time"

	"github.com/unmaskgame/unmask/go/internal/models"
)

// EventType represents the type of room event.
type EventType string

const (
	EventTypeRoomUpdated EventType = "RoomUpdated"
	EventTypeRoomDeleted EventType = "RoomDeleted"
)

// RoomEvent is the envelope for one committed room mutation. Room carries
// the post-change snapshot and is empty for deletions.
type RoomEvent struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"roomId"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Room      *models.Room `json:"room,omitempty"`
}

const subjectPrefix = "rooms.events."

// SubjectWildcard matches every room's event subject.
const SubjectWildcard = subjectPrefix + ">"

// Subject returns the per-room event subject.
func Subject(roomID string) string {
	return subjectPrefix + roomID
}
