package models

import "strings"

// Real-time channel message types.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventRoomJoined    = "room-joined"
	EventAssetVerified = "asset-verified"
	EventAssetUpdated  = "asset-updated"
)

const roomPrefix = "office:"

// RoomFor returns the pub/sub room key for an office.
func RoomFor(office string) string {
	return roomPrefix + office
}

// OfficeOf is the inverse of RoomFor. ok is false for keys that are not office rooms.
func OfficeOf(room string) (string, bool) {
	if !strings.HasPrefix(room, roomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, roomPrefix), true
}

// Envelope is the single frame shape exchanged over the real-time channel.
// Previous carries the asset as it was before the mutation, so listeners
// that do not hold the row can still compute counter deltas.
type Envelope struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	MsgID    string `json:"msgId,omitempty"`
	Asset    *Asset `json:"asset,omitempty"`
	Previous *Asset `json:"previous,omitempty"`
}
