/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package router

import (
	"encoding/json"
	"fmt"
)

// MessageType is the value of the Type field carried by every frame.
type MessageType string

// Sent by the client.
const (
	TypePair     MessageType = "pair"
	TypeAuthPair MessageType = "authPair"
	TypeTalk     MessageType = "talk"
	TypeReady    MessageType = "ready"
	TypeFinish   MessageType = "finish"
)

// Sent by the server. TypeReady, TypeTalk and TypeProgress travel in both
// directions.
const (
	TypePairing       MessageType = "pairing"
	TypePaired        MessageType = "paired"
	TypeStart         MessageType = "start"
	TypeProgress      MessageType = "progress"
	TypeEnd           MessageType = "end"
	TypeErr           MessageType = "err"
	TypeFoeDisconnect MessageType = "foeDisconnect"
)

// Frame is one inbound message. The payload stays raw until a handler decodes it.
type Frame struct {
	Type MessageType
	Raw  []byte
}

// Decode unmarshals the whole frame into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Raw, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return nil
}

// PairMessage asks the server to pair with any waiting player.
type PairMessage struct {
	Token string `json:"Token"`
}

// AuthPairMessage asks the server to pair inside a named room.
type AuthPairMessage struct {
	Token    string `json:"Token"`
	RoomName string `json:"RoomName"`
}

// TalkMessage is relayed to the opponent.
type TalkMessage struct {
	Text string `json:"Text"`
}

// FinishMessage reports the time taken to finish a round.
type FinishMessage struct {
	Msec int `json:"Msec"`
}

// ProgressMessage reports how far a player is into the current round.
type ProgressMessage struct {
	CompleteNum int `json:"CompleteNum"`
}

// PairedMessage is sent to both players once a pair is formed.
type PairedMessage struct {
	FoeName   string          `json:"FoeName"`
	SliderNum int             `json:"SliderNum,omitempty"`
	Pack      json.RawMessage `json:"Pack,omitempty"`
}

// EndMessage closes a round.
type EndMessage struct {
	Msec    int  `json:"Msec"`
	FoeMsec int  `json:"FoeMsec"`
	Win     bool `json:"Win"`
}

// ErrMessage carries a server-side complaint about the last frame.
type ErrMessage struct {
	String string `json:"String"`
}
