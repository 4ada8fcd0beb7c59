package messages

import "github.com/bytedance/sonic"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeCredentialFailed = "CREDENTIAL_FAILED"
	ErrCodeUpstreamError    = "UPSTREAM_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeAttachmentEmpty  = "ATTACHMENT_EMPTY"
)

// Notification types sent to the client
const (
	NotifyConnected           = "connected"
	NotifyVADStart            = "vad_start"
	NotifyVADStop             = "vad_stop"
	NotifyAudio               = "audio"
	NotifyTranscript          = "transcript"
	NotifyMuted               = "muted"
	NotifyError               = "error"
	NotifyWarning             = "warning"
	NotifyAttachmentReceived  = "attachment_received"
	NotifyLanguageSet         = "language_set"
	NotifyConversationCleared = "conversation_cleared"
)

// Transcript roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Notification is a message sent to the frontend client. Frames are flat:
// {type: string, ...fields}, with only the fields relevant to the type set.
type Notification struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`    // audio: base64 payload
	Text      string `json:"text,omitempty"`    // transcript
	Role      string `json:"role,omitempty"`    // transcript: user|assistant
	Final     bool   `json:"final,omitempty"`   // transcript: true when complete
	Muted     *bool  `json:"muted,omitempty"`   // muted
	Code      string `json:"code,omitempty"`    // error|warning
	Message   string `json:"message,omitempty"` // error|warning|connected
	Language  string `json:"language,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// Encode serializes the notification for the wire
func (n *Notification) Encode() ([]byte, error) {
	return sonic.Marshal(n)
}

// NewConnectedNotification signals that the session is ready for traffic
func NewConnectedNotification(sessionID string) *Notification {
	return &Notification{
		Type:      NotifyConnected,
		SessionID: sessionID,
		Message:   "Session established",
	}
}

// NewVADNotification reports upstream speech start/stop detection
func NewVADNotification(sessionID string, started bool) *Notification {
	t := NotifyVADStop
	if started {
		t = NotifyVADStart
	}
	return &Notification{Type: t, SessionID: sessionID}
}

// NewAudioNotification carries a base64 audio chunk from the assistant
func NewAudioNotification(sessionID, data string) *Notification {
	return &Notification{
		Type:      NotifyAudio,
		SessionID: sessionID,
		Data:      data,
	}
}

// NewTranscriptNotification carries transcript text for either role
func NewTranscriptNotification(sessionID, role, text string, final bool) *Notification {
	return &Notification{
		Type:      NotifyTranscript,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Final:     final,
	}
}

// NewMutedNotification reports the current mute flag
func NewMutedNotification(sessionID string, muted bool) *Notification {
	return &Notification{
		Type:      NotifyMuted,
		SessionID: sessionID,
		Muted:     &muted,
	}
}

// NewErrorNotification creates an error message
func NewErrorNotification(sessionID, code, message string) *Notification {
	return &Notification{
		Type:      NotifyError,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	}
}

// NewWarningNotification creates a non-fatal warning message
func NewWarningNotification(sessionID, message string) *Notification {
	return &Notification{
		Type:      NotifyWarning,
		SessionID: sessionID,
		Message:   message,
	}
}

// NewAttachmentReceivedNotification acknowledges an accepted attachment
func NewAttachmentReceivedNotification(sessionID, filename string) *Notification {
	return &Notification{
		Type:      NotifyAttachmentReceived,
		SessionID: sessionID,
		Filename:  filename,
	}
}

// NewLanguageSetNotification confirms a transcription language change
func NewLanguageSetNotification(sessionID, language string) *Notification {
	return &Notification{
		Type:      NotifyLanguageSet,
		SessionID: sessionID,
		Language:  language,
	}
}

// NewConversationClearedNotification confirms a conversation reset
func NewConversationClearedNotification(sessionID string) *Notification {
	return &Notification{
		Type:      NotifyConversationCleared,
		SessionID: sessionID,
	}
}
