package protocol

import "encoding/json"

// Server to client frame types
const (
	TypeRoomAssignment = "room_assignment"
	TypeError          = "error"
	TypeRateLimit      = "rate_limit"
)

// Canned messages
const (
	MsgBusy            = "All servers are busy, please try again later"
	MsgNoBackend       = "No backend servers available"
	MsgSessionNotFound = "Room not found"
	MsgRoomFull        = "Room is full"
	MsgAssignFailed    = "Failed to assign to room"
	MsgBackendLost     = "Connection to game server lost"
	MsgBackendDown     = "Selected backend became unavailable. Please reconnect."
	MsgRateLimited     = "Too many inputs, slow down"
)

// RoomAssignment is sent once after a connection is placed in a room.
type RoomAssignment struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// ErrorFrame reports a routing or capacity failure before the connection closes.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RateLimitFrame advises a client that inputs are being dropped.
type RateLimitFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PlayerState is one player inside a snapshot.
type PlayerState struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Score     int     `json:"score"`
	Dead      bool    `json:"dead"`
	Power     int     `json:"power"`
	Name      string  `json:"name"`
	Direction *string `json:"direction"`
}

// GhostState is one ghost inside a snapshot.
type GhostState struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Behavior string  `json:"behavior"`
	Color    string  `json:"color"`
	Mode     string  `json:"mode"`
}

// GameStats summarises a room for the client HUD.
type GameStats struct {
	TotalPellets int  `json:"total_pellets"`
	AlivePlayers int  `json:"alive_players"`
	TotalPlayers int  `json:"total_players"`
	Victory      bool `json:"victory"`
	GameTick     int  `json:"game_tick"`
	MaxPlayers   int  `json:"max_players"`
}

// Snapshot is the per-tick room state broadcast to every client.
type Snapshot struct {
	RoomID    string                 `json:"room_id"`
	Players   map[string]PlayerState `json:"players"`
	Ghosts    []GhostState           `json:"ghosts"`
	Maze      [][]int                `json:"maze"`
	GameStats GameStats              `json:"game_stats"`
}

// NewRoomAssignment builds the assignment frame for roomID.
func NewRoomAssignment(roomID string) RoomAssignment {
	return RoomAssignment{
		Type:    TypeRoomAssignment,
		RoomID:  roomID,
		Message: "Assigned to room " + roomID,
	}
}

// NewError builds an error frame.
func NewError(msg string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: msg}
}

// NewRateLimit builds a rate limit advisory.
func NewRateLimit() RateLimitFrame {
	return RateLimitFrame{Type: TypeRateLimit, Message: MsgRateLimited}
}

// Encode marshals a frame. Every frame type in this package is marshalable,
// so a failure here is a programming error.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("protocol: encode " + err.Error())
	}
	return data
}
