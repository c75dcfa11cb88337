// Package protocol defines every JSON message exchanged over the game
// connections and validates inbound frames at the boundary.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
)

// Key is a client input key.
type Key string

const (
	KeyUp      Key = "UP"
	KeyDown    Key = "DOWN"
	KeyLeft    Key = "LEFT"
	KeyRight   Key = "RIGHT"
	KeyRestart Key = "RESTART"
)

// Valid reports whether k is one of the known keys.
func (k Key) Valid() bool {
	switch k {
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyRestart:
		return true
	}
	return false
}

// Action is press or release.
type Action string

const (
	ActionPress   Action = "press"
	ActionRelease Action = "release"
)

// Intent is the routing intent carried by a connection.
type Intent string

const (
	IntentNone   Intent = ""
	IntentCreate Intent = "create"
	IntentJoin   Intent = "join"
)

// MaxTokenLength bounds client-chosen room tokens.
const MaxTokenLength = 64

var (
	ErrMalformed     = errors.New("malformed message")
	ErrUnknownKey    = errors.New("unknown key")
	ErrUnknownAction = errors.New("unknown action")
	ErrNotHello      = errors.New("not a hello frame")
	ErrInvalidIntent = errors.New("invalid routing intent")
	ErrInvalidToken  = errors.New("invalid room token")
)

// Input is a key press or release.
type Input struct {
	Key    Key    `json:"key"`
	Action Action `json:"action"`
}

// Hello is the optional first frame announcing routing intent.
type Hello struct {
	Type   string `json:"type"`
	Action Intent `json:"action"`
	Room   string `json:"room"`
}

// DecodeInput parses and validates an input frame. A missing action means press.
func DecodeInput(data []byte) (Input, error) {
	var in Input
	if err := decodeStrict(data, &in); err != nil {
		return in, err
	}
	if !in.Key.Valid() {
		return in, fmt.Errorf("%w: %q", ErrUnknownKey, in.Key)
	}
	switch in.Action {
	case "":
		in.Action = ActionPress
	case ActionPress, ActionRelease:
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	return in, nil
}

// DecodeHello parses a hello frame. Frames of any other shape return ErrNotHello.
func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	if err := decodeStrict(data, &h); err != nil {
		return h, ErrNotHello
	}
	if h.Type != "hello" {
		return h, ErrNotHello
	}
	intent, token, err := ParseIntent(string(h.Action), h.Room)
	if err != nil {
		return h, err
	}
	h.Action, h.Room = intent, token
	return h, nil
}

// ParseIntent validates an (action, room) pair from a query, header or hello
// frame. Both empty means no intent.
func ParseIntent(action, room string) (Intent, string, error) {
	if action == "" && room == "" {
		return IntentNone, "", nil
	}
	intent := Intent(action)
	if intent == IntentNone {
		// A bare room token is a join, matching how shared links behave.
		intent = IntentJoin
	}
	if intent != IntentCreate && intent != IntentJoin {
		return IntentNone, "", fmt.Errorf("%w: %q", ErrInvalidIntent, action)
	}
	if !ValidToken(room) {
		return IntentNone, "", fmt.Errorf("%w: %q", ErrInvalidToken, room)
	}
	return intent, room, nil
}

// ValidToken reports whether s can be used as a room token.
func ValidToken(s string) bool {
	if s == "" || len(s) > MaxTokenLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return nil
}
