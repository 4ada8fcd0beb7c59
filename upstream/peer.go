package upstream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	eventChanSize    = 256
	writeTimeout     = 10 * time.Second
	eventSendTimeout = 5 * time.Second
	maxFrameSize     = 4 * 1024 * 1024
	inputFormat      = "pcm16"
	outputFormat     = "pcm16"
	serverVADType    = "server_vad"
	handshakeBeta    = "OpenAI-Beta"
	handshakeValue   = "realtime=v1"
)

// ToolDeclaration describes one callable tool advertised to the upstream model
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionConfig is the configuration frame sent once after connecting
type SessionConfig struct {
	Voice              string
	Instructions       string
	Temperature        float64
	TranscriptionModel string
	Language           string
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilence         time.Duration
	Tools              []ToolDeclaration
}

// Peer owns the upstream WebSocket connection for one relay session. It
// translates outbound intents into protocol frames and normalizes inbound
// frames into Events consumed by the relay session.
type Peer struct {
	conn   *websocket.Conn
	events chan Event

	mu      sync.Mutex
	closed  bool
	itemIDs []string
}

// EndpointURL builds the realtime WebSocket URL for a host and model
func EndpointURL(host, model string) string {
	return fmt.Sprintf("wss://%s/v1/realtime?model=%s", host, url.QueryEscape(model))
}

// Dial connects to the upstream realtime endpoint with an ephemeral
// credential, sends the session configuration frame, and starts the
// receive loop.
func Dial(ctx context.Context, wsURL, token string, cfg SessionConfig) (*Peer, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set(handshakeBeta, handshakeValue)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to upstream: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	p := &Peer{
		conn:   conn,
		events: make(chan Event, eventChanSize),
	}

	if err := p.configure(cfg); err != nil {
		conn.Close()
		return nil, err
	}

	go p.readLoop()
	return p, nil
}

// Events returns the normalized upstream event stream. The channel is
// closed after the connection ends, following a final Closed event.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// configure sends the single session.update frame encoding voice,
// instructions, audio formats, transcription, VAD parameters, temperature
// and tool declarations
func (p *Peer) configure(cfg SessionConfig) error {
	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"voice":               cfg.Voice,
		"instructions":        cfg.Instructions,
		"input_audio_format":  inputFormat,
		"output_audio_format": outputFormat,
		"temperature":         cfg.Temperature,
		"input_audio_transcription": map[string]any{
			"model":    cfg.TranscriptionModel,
			"language": cfg.Language,
		},
		"turn_detection": map[string]any{
			"type":                serverVADType,
			"threshold":           cfg.VADThreshold,
			"prefix_padding_ms":   cfg.VADPrefixPadding.Milliseconds(),
			"silence_duration_ms": cfg.VADSilence.Milliseconds(),
		},
	}

	if len(cfg.Tools) > 0 {
		tools := make([]map[string]any, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}

	return p.sendFrame(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (p *Peer) readLoop() {
	defer close(p.events)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				log.Printf("❌ Upstream read error: %v", err)
			}
			p.deliver(Event{Kind: EventClosed})
			return
		}

		ev, ok := parseEvent(data)
		if !ok {
			continue
		}

		// Item tracking stays inside the peer; sessions never see raw ids
		if ev.Kind == eventItemCreated {
			if ev.ItemID != "" {
				p.mu.Lock()
				p.itemIDs = append(p.itemIDs, ev.ItemID)
				p.mu.Unlock()
			}
			continue
		}

		p.deliver(ev)
	}
}

// deliver hands one event to the session. Audio and transcript deltas are
// droppable under backpressure; state-bearing events (response lifecycle,
// errors, session confirmation) must arrive or the session flags wedge, so
// those block up to a deadline.
func (p *Peer) deliver(ev Event) {
	switch ev.Kind {
	case EventAudioDelta, EventTranscriptDelta:
		select {
		case p.events <- ev:
		default:
			log.Printf("⚠️ Upstream %s dropped: session not draining", ev.Kind)
		}
	default:
		select {
		case p.events <- ev:
		case <-time.After(eventSendTimeout):
			log.Printf("❌ Upstream %s lost after %v: session stalled", ev.Kind, eventSendTimeout)
		}
	}
}

// AppendAudio forwards one base64 audio chunk to the upstream input buffer.
// No response is triggered; upstream VAD decides turn boundaries.
func (p *Peer) AppendAudio(b64 string) error {
	return p.sendFrame(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": b64,
	})
}

// ClearInputAudio discards any audio pending in the upstream input buffer
func (p *Peer) ClearInputAudio() error {
	return p.sendFrame(map[string]any{"type": "input_audio_buffer.clear"})
}

// CreateUserItem submits one user text turn into the conversation history
func (p *Peer) CreateUserItem(text string) error {
	return p.sendFrame(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// CreateResponse asks the upstream to generate the next assistant turn
func (p *Peer) CreateResponse() error {
	return p.sendFrame(map[string]any{"type": "response.create"})
}

// CancelResponse aborts the in-flight assistant response
func (p *Peer) CancelResponse() error {
	return p.sendFrame(map[string]any{"type": "response.cancel"})
}

// SetLanguage updates the transcription language for subsequent audio
func (p *Peer) SetLanguage(model, language string) error {
	return p.sendFrame(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"input_audio_transcription": map[string]any{
				"model":    model,
				"language": language,
			},
		},
	})
}

// ClearConversation deletes every conversation item observed so far. The
// protocol has no bulk clear; deletion is per item.
func (p *Peer) ClearConversation() error {
	p.mu.Lock()
	ids := p.itemIDs
	p.itemIDs = nil
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.sendFrame(map[string]any{
			"type":    "conversation.item.delete",
			"item_id": id,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SubmitToolResult writes a tool invocation result into the conversation
func (p *Peer) SubmitToolResult(callID, output string) error {
	return p.sendFrame(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (p *Peer) sendFrame(frame map[string]any) error {
	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode upstream frame: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("upstream peer is closed")
	}

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send upstream frame: %w", err)
	}
	return nil
}

// Close terminates the upstream connection
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
