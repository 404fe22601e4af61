package protocol

import (
	"encoding/json"
	"fmt"
)

// ServerMessage is the decoded form of one inbound JSON text frame.
// Concrete types: *TranscriptMessage, *TranslationMessage, *InfoMessage,
// *ErrorMessage.
type ServerMessage interface {
	serverMessage()
}

func (*TranscriptMessage) serverMessage()  {}
func (*TranslationMessage) serverMessage() {}
func (*InfoMessage) serverMessage()        {}
func (*ErrorMessage) serverMessage()       {}

type envelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Decode parses one inbound text frame and classifies it by its type tag.
// A malformed translation (empty translated text) is reported as an error so
// the caller can drop it with a warning instead of crashing.
func Decode(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed server message: %w", err)
	}

	switch env.Type {
	case "transcript":
		var msg TranscriptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed transcript message: %w", err)
		}
		return &msg, nil

	case "translation":
		var msg TranslationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed translation message: %w", err)
		}
		if msg.Translated == "" {
			return nil, fmt.Errorf("translation message with empty translated text")
		}
		return &msg, nil

	case "info", "ready", "stopped", "ping", "pong":
		return &InfoMessage{Kind: env.Type, Message: env.Message, Raw: data}, nil

	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed error message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown server message type %q", env.Type)
	}
}
