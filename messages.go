/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType names a message on the wire. The names match the existing
// browser client.
type EventType string

const (
	EventSetUserColor EventType = "setUserColor" // Color
	EventScoreUpdate  EventType = "scoreUpdate"  // int
	EventTimerUpdate  EventType = "timerUpdate"  // float64 seconds
	EventIntermission EventType = "intermission" // ScoreSnapshot
	EventGameStart    EventType = "gameStart"    // struct{}
	EventNewStar      EventType = "newStar"      // json.RawMessage out, StarSubmission in
)

// Message is the envelope for everything sent to clients.
type Message struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ClientMessage is the envelope for everything received from clients.
type ClientMessage struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StarSubmission is the payload of an inbound "newStar".
type StarSubmission struct {
	Star  json.RawMessage `json:"star"`
	Score *int            `json:"score"`
}

// decodeSubmission parses one inbound frame into a star submission. The star
// itself is opaque to the server; it only has to be present.
func decodeSubmission(frame []byte) (json.RawMessage, int, error) {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, 0, fmt.Errorf("decode envelope: %w", err)
	}

	if msg.Type != EventNewStar {
		return nil, 0, fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}

	var sub StarSubmission
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
	}

	if len(sub.Star) == 0 || bytes.Equal(sub.Star, []byte("null")) {
		return nil, 0, errMissingStar
	}
	if sub.Score == nil {
		return nil, 0, errMissingScore
	}

	return sub.Star, *sub.Score, nil
}
