package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// fakeUpstream is a scripted realtime endpoint: it records every received
// frame and lets tests push raw protocol frames down to the peer
type fakeUpstream struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan map[string]any
	conns  chan *websocket.Conn
	auth   chan http.Header
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{
		t:      t,
		frames: make(chan map[string]any, 64),
		conns:  make(chan *websocket.Conn, 1),
		auth:   make(chan http.Header, 1),
	}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		f.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := sonic.Unmarshal(data, &frame); err != nil {
				t.Errorf("unparseable frame from peer: %s", data)
				continue
			}
			f.frames <- frame
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeUpstream) nextFrame() map[string]any {
	f.t.Helper()
	select {
	case frame := <-f.frames:
		return frame
	case <-time.After(2 * time.Second):
		f.t.Fatal("no frame received from peer")
		return nil
	}
}

func (f *fakeUpstream) push(raw string) {
	f.t.Helper()
	select {
	case conn := <-f.conns:
		f.conns <- conn
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			f.t.Fatalf("push failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		f.t.Fatal("no upstream connection")
	}
}

func dialTestPeer(t *testing.T, f *fakeUpstream, cfg SessionConfig) *Peer {
	t.Helper()
	peer, err := Dial(context.Background(), f.url(), "eph_token", cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestDialSendsHandshakeAndConfiguration(t *testing.T) {
	f := newFakeUpstream(t)
	dialTestPeer(t, f, SessionConfig{
		Voice:              "alloy",
		Instructions:       "be helpful",
		Temperature:        0.8,
		TranscriptionModel: "whisper-1",
		Language:           "en",
		VADThreshold:       0.5,
		VADPrefixPadding:   300 * time.Millisecond,
		VADSilence:         2 * time.Second,
		Tools: []ToolDeclaration{
			{Name: "search_web", Description: "search", Parameters: map[string]any{"type": "object"}},
		},
	})

	headers := <-f.auth
	if got := headers.Get("Authorization"); got != "Bearer eph_token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := headers.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", got)
	}

	frame := f.nextFrame()
	if frame["type"] != "session.update" {
		t.Fatalf("first frame type = %v, want session.update", frame["type"])
	}
	session, ok := frame["session"].(map[string]any)
	if !ok {
		t.Fatal("session.update carries no session object")
	}
	if session["voice"] != "alloy" || session["instructions"] != "be helpful" {
		t.Errorf("session = %v", session)
	}
	if session["input_audio_format"] != "pcm16" || session["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", session["input_audio_format"], session["output_audio_format"])
	}
	td, ok := session["turn_detection"].(map[string]any)
	if !ok {
		t.Fatal("no turn_detection in session.update")
	}
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection type = %v", td["type"])
	}
	if td["silence_duration_ms"].(float64) != 2000 {
		t.Errorf("silence_duration_ms = %v, want 2000", td["silence_duration_ms"])
	}
	tools, ok := session["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v, want one declaration", session["tools"])
	}
	if session["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", session["tool_choice"])
	}
}

func TestPeerOutboundFrames(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	peer.AppendAudio("QUJD")
	frame := f.nextFrame()
	if frame["type"] != "input_audio_buffer.append" || frame["audio"] != "QUJD" {
		t.Errorf("append frame = %v", frame)
	}

	peer.ClearInputAudio()
	if frame = f.nextFrame(); frame["type"] != "input_audio_buffer.clear" {
		t.Errorf("clear frame = %v", frame)
	}

	peer.CreateUserItem("hello")
	frame = f.nextFrame()
	if frame["type"] != "conversation.item.create" {
		t.Fatalf("item frame = %v", frame)
	}
	item := frame["item"].(map[string]any)
	if item["role"] != "user" {
		t.Errorf("item role = %v", item["role"])
	}
	content := item["content"].([]any)[0].(map[string]any)
	if content["type"] != "input_text" || content["text"] != "hello" {
		t.Errorf("item content = %v", content)
	}

	peer.CreateResponse()
	if frame = f.nextFrame(); frame["type"] != "response.create" {
		t.Errorf("response frame = %v", frame)
	}

	peer.CancelResponse()
	if frame = f.nextFrame(); frame["type"] != "response.cancel" {
		t.Errorf("cancel frame = %v", frame)
	}

	peer.SubmitToolResult("call_1", "42 degrees")
	frame = f.nextFrame()
	item = frame["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" || item["output"] != "42 degrees" {
		t.Errorf("tool result item = %v", item)
	}

	peer.SetLanguage("whisper-1", "de")
	frame = f.nextFrame()
	if frame["type"] != "session.update" {
		t.Fatalf("language frame = %v", frame)
	}
	transc := frame["session"].(map[string]any)["input_audio_transcription"].(map[string]any)
	if transc["language"] != "de" || transc["model"] != "whisper-1" {
		t.Errorf("transcription update = %v", transc)
	}
}

func TestPeerNormalizesInboundEvents(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	f.push(`{"type":"session.updated"}`)
	f.push(`{"type":"rate_limits.updated"}`) // unknown, skipped
	f.push(`{"type":"response.audio.delta","delta":"UENN"}`)

	ev := <-peer.Events()
	if ev.Kind != EventSessionUpdated {
		t.Errorf("first event = %+v", ev)
	}
	ev = <-peer.Events()
	if ev.Kind != EventAudioDelta || ev.Audio != "UENN" {
		t.Errorf("second event = %+v", ev)
	}
}

func TestClearConversationDeletesTrackedItems(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	f.push(`{"type":"conversation.item.created","item":{"id":"item_1","type":"message"}}`)
	f.push(`{"type":"conversation.item.created","item":{"id":"item_2","type":"message"}}`)
	// Fence: a forwarded event proves the created frames were processed
	f.push(`{"type":"session.updated"}`)
	<-peer.Events()

	if err := peer.ClearConversation(); err != nil {
		t.Fatalf("ClearConversation failed: %v", err)
	}

	for _, want := range []string{"item_1", "item_2"} {
		frame := f.nextFrame()
		if frame["type"] != "conversation.item.delete" || frame["item_id"] != want {
			t.Errorf("delete frame = %v, want item_id %q", frame, want)
		}
	}

	// Idempotent: nothing left to delete
	if err := peer.ClearConversation(); err != nil {
		t.Fatalf("second ClearConversation failed: %v", err)
	}
	select {
	case frame := <-f.frames:
		t.Errorf("unexpected frame after empty clear: %v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeerClosedEventOnDisconnect(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	conn := <-f.conns
	conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-peer.Events():
			if !ok {
				t.Fatal("events channel closed without a Closed event")
			}
			if ev.Kind == EventClosed {
				return
			}
		case <-deadline:
			t.Fatal("no Closed event after disconnect")
		}
	}
}

func TestStateEventsSurviveBackpressure(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	// Flood the undrained event channel past capacity with droppable
	// deltas, then send a state-bearing frame
	for i := 0; i < 300; i++ {
		f.push(`{"type":"response.audio.delta","delta":"QQ=="}`)
	}
	f.push(`{"type":"response.done","response":{"id":"r1","status":"completed"}}`)

	deadline := time.After(8 * time.Second)
	for {
		select {
		case ev, ok := <-peer.Events():
			if !ok {
				t.Fatal("events channel closed before response.done arrived")
			}
			if ev.Kind == EventResponseDone {
				return
			}
		case <-deadline:
			t.Fatal("response.done never delivered under backpressure")
		}
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	f := newFakeUpstream(t)
	peer := dialTestPeer(t, f, SessionConfig{Voice: "alloy"})
	f.nextFrame() // session.update

	peer.Close()
	if err := peer.AppendAudio("QUJD"); err == nil {
		t.Error("AppendAudio after Close should fail")
	}
}

func TestEndpointURL(t *testing.T) {
	got := EndpointURL("api.openai.com", "gpt-4o-realtime-preview-2024-12-17")
	want := "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"
	if got != want {
		t.Errorf("EndpointURL = %q, want %q", got, want)
	}
}
