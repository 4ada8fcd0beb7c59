package upstream

import "github.com/bytedance/sonic"

// EventKind classifies normalized upstream events
type EventKind int

const (
	EventSessionCreated EventKind = iota
	EventSessionUpdated
	EventSpeechStarted
	EventSpeechStopped
	EventAudioDelta
	EventTranscriptDelta
	EventTranscriptDone
	EventInputTranscript
	EventResponseCreated
	EventResponseDone
	EventResponseCancelled
	EventToolCall
	EventError
	EventClosed

	// eventItemCreated is consumed inside the peer for item tracking and
	// never forwarded to the session.
	eventItemCreated
)

func (k EventKind) String() string {
	switch k {
	case EventSessionCreated:
		return "session_created"
	case EventSessionUpdated:
		return "session_updated"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventAudioDelta:
		return "audio_delta"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventTranscriptDone:
		return "transcript_done"
	case EventInputTranscript:
		return "input_transcript"
	case EventResponseCreated:
		return "response_created"
	case EventResponseDone:
		return "response_done"
	case EventResponseCancelled:
		return "response_cancelled"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a normalized upstream event. Only the fields relevant to the
// Kind are populated; raw protocol fields never pass through untranslated.
type Event struct {
	Kind     EventKind
	Audio    string // AudioDelta: base64 chunk
	Text     string // transcripts, error message
	ItemID   string
	CallID   string // ToolCall
	ToolName string // ToolCall
	ToolArgs string // ToolCall: raw JSON arguments
	Code     string // Error
}

// serverFrame covers the superset of fields across upstream event frames
type serverFrame struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Audio      string `json:"audio"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Item *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"item"`
}

// parseEvent classifies a raw upstream frame. Unrecognized event tags return
// ok=false and are skipped; the upstream protocol grows vocabulary over time
// and an unknown tag is not an error.
func parseEvent(data []byte) (Event, bool) {
	var frame serverFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		return Event{}, false
	}

	switch frame.Type {
	case "session.created":
		return Event{Kind: EventSessionCreated}, true

	case "session.updated":
		return Event{Kind: EventSessionUpdated}, true

	case "input_audio_buffer.speech_started":
		return Event{Kind: EventSpeechStarted}, true

	case "input_audio_buffer.speech_stopped":
		return Event{Kind: EventSpeechStopped}, true

	case "response.audio.delta", "response.output_audio.delta":
		return Event{Kind: EventAudioDelta, Audio: frame.Delta}, true

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return Event{Kind: EventTranscriptDelta, Text: frame.Delta}, true

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return Event{Kind: EventTranscriptDone, Text: frame.Transcript}, true

	case "conversation.item.input_audio_transcription.completed":
		return Event{Kind: EventInputTranscript, Text: frame.Transcript, ItemID: frame.ItemID}, true

	case "response.created":
		return Event{Kind: EventResponseCreated}, true

	case "response.done":
		ev := Event{Kind: EventResponseDone}
		if frame.Response != nil && frame.Response.Status == "cancelled" {
			ev.Kind = EventResponseCancelled
		}
		return ev, true

	case "response.function_call_arguments.done":
		return Event{
			Kind:     EventToolCall,
			CallID:   frame.CallID,
			ToolName: frame.Name,
			ToolArgs: frame.Arguments,
			ItemID:   frame.ItemID,
		}, true

	case "conversation.item.created":
		ev := Event{Kind: eventItemCreated}
		if frame.Item != nil {
			ev.ItemID = frame.Item.ID
		}
		return ev, true

	case "error":
		ev := Event{Kind: EventError}
		if frame.Error != nil {
			ev.Text = frame.Error.Message
			ev.Code = frame.Error.Code
		}
		return ev, true

	default:
		return Event{}, false
	}
}
