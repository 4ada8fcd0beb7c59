package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeMute        = "mute"
	TypeUnmute      = "unmute"
	TypeTextMessage = "text_message"
	TypeAudio       = "audio"
	TypeAttachment  = "attachment"
	TypeCancel      = "cancel"
	TypeSetLanguage = "set_language"
	TypeClear       = "clear"
)

// KnownType reports whether t is one of the declared client message types.
// Anything client-supplied must pass through here before being used as a
// metric label or similar bounded value.
func KnownType(t string) bool {
	switch t {
	case TypeMute, TypeUnmute, TypeTextMessage, TypeAudio,
		TypeAttachment, TypeCancel, TypeSetLanguage, TypeClear:
		return true
	}
	return false
}

// FileAttachment is a file sent alongside a text message. Content carries
// already-extracted text; non-text files arrive with Content empty.
type FileAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ClientMessage represents a message from the frontend client
type ClientMessage struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`     // text_message
	Files    []FileAttachment `json:"files,omitempty"`    // text_message
	Data     string           `json:"data,omitempty"`     // audio: base64 payload
	Filename string           `json:"filename,omitempty"` // attachment
	Content  string           `json:"content,omitempty"`  // attachment: extracted text
	URL      string           `json:"url,omitempty"`      // attachment
	Language string           `json:"language,omitempty"` // set_language
}

// DecodeClientMessage parses a JSON text frame from the client
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type field")
	}
	return &msg, nil
}
