package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfunding123/openai-web/functions"
	"github.com/bfunding123/openai-web/messages"
	"github.com/bfunding123/openai-web/metrics"
	"github.com/bfunding123/openai-web/upstream"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxReadSize     = 512 * 1024 // 512KB max client message
)

// State is the relay session lifecycle
type State int

const (
	StateInitializing State = iota // waiting for credential + upstream connection
	StateNegotiating               // configuration sent, waiting for upstream confirmation
	StateReady                     // steady state, routing client messages
	StateClosed                    // terminal
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// UpstreamPeer is what the relay session needs from the upstream leg
type UpstreamPeer interface {
	Events() <-chan upstream.Event
	AppendAudio(b64 string) error
	ClearInputAudio() error
	CreateUserItem(text string) error
	CreateResponse() error
	CancelResponse() error
	SetLanguage(model, language string) error
	ClearConversation() error
	SubmitToolResult(callID, output string) error
	Close() error
}

// UpstreamDialer acquires a credential and opens the upstream connection
type UpstreamDialer func(ctx context.Context) (UpstreamPeer, error)

type connectResult struct {
	peer UpstreamPeer
	err  error
}

type triggerKind int

const (
	triggerGreeting   triggerKind = iota // initial generation after ready
	triggerResponse                      // generation after a settle delay
	triggerToolResult                    // tool invocation resolved
)

type trigger struct {
	kind   triggerKind
	callID string
	output string
}

// Options configures one relay session
type Options struct {
	ID                 string
	ClientConn         *websocket.Conn
	Dial               UpstreamDialer
	Registry           *functions.Registry
	Metrics            *metrics.Metrics
	SettleDelay        time.Duration
	TranscriptionModel string
	MaxBufferSize      int
}

// RelaySession bridges one client connection to one upstream session.
//
// All session state below the channel fields is owned by the run loop:
// events from the client socket, the upstream socket, the connect attempt
// and the settle timers are merged into one stream and handled
// sequentially. No other goroutine touches it.
//
// Legal flag combinations:
//
//	state=initializing|negotiating  responding=false, messages queue up
//	state=ready                     responding and muted vary independently
//	state=closed                    terminal
//
// muted only gates inbound audio; responding only gates generation triggers.
type RelaySession struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time

	dial        UpstreamDialer
	registry    *functions.Registry
	metrics     *metrics.Metrics
	settleDelay time.Duration
	transcModel string

	writeChan   chan *messages.Notification
	clientChan  chan *messages.ClientMessage
	connectChan chan connectResult
	triggerChan chan trigger

	// Run-loop owned state
	state               State
	muted               bool
	responding          bool
	responseQueued      bool // CreateResponse sent, response.created not yet seen
	continuationPending bool // tool result submitted while a response was in flight
	pending             []*messages.ClientMessage
	audioBuffer         *AudioBuffer
	peer                UpstreamPeer
	toolQueue           []upstream.Event
	toolRunning         bool

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewRelaySession creates a session; Start begins processing
func NewRelaySession(opts Options) *RelaySession {
	ctx, cancel := context.WithCancel(context.Background())

	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 250 * time.Millisecond
	}
	bufSize := opts.MaxBufferSize
	if bufSize <= 0 {
		bufSize = 5 * 1024 * 1024
	}

	if opts.ClientConn != nil {
		opts.ClientConn.SetReadLimit(maxReadSize)
	}

	return &RelaySession{
		ID:           opts.ID,
		ClientConn:   opts.ClientConn,
		CreatedAt:    time.Now(),
		dial:         opts.Dial,
		registry:     opts.Registry,
		metrics:      opts.Metrics,
		settleDelay:  settle,
		transcModel:  opts.TranscriptionModel,
		state:        StateInitializing,
		audioBuffer:  NewAudioBuffer(bufSize),
		writeChan:    make(chan *messages.Notification, writeBufferSize),
		clientChan:   make(chan *messages.ClientMessage, 64),
		connectChan:  make(chan connectResult, 1),
		triggerChan:  make(chan trigger, 16),
		lastActivity: time.Now(),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling
func (s *RelaySession) Start() {
	go s.writePump()
	go s.readPump()
	go s.connect()
	go s.run()
}

// connect acquires the credential and opens the upstream leg off the run
// loop, so client messages queue up meanwhile
func (s *RelaySession) connect() {
	peer, err := s.dial(s.ctx)

	select {
	case s.connectChan <- connectResult{peer: peer, err: err}:
		// The send can win the race against cancellation. If the run loop
		// is already gone, the result would sit in the buffer with a live
		// peer nobody owns; reclaim it here.
		if s.ctx.Err() != nil {
			s.drainConnectChan()
		}
	case <-s.ctx.Done():
		if peer != nil {
			peer.Close()
		}
	}
}

// drainConnectChan closes any peer parked in the connect buffer after the
// run loop has exited
func (s *RelaySession) drainConnectChan() {
	select {
	case res := <-s.connectChan:
		if res.peer != nil {
			res.peer.Close()
		}
	default:
	}
}

// run is the single event loop serializing both inbound streams
func (s *RelaySession) run() {
	defer s.Close()

	var events <-chan upstream.Event

	for {
		select {
		case <-s.ctx.Done():
			return

		case res := <-s.connectChan:
			if !s.handleConnectResult(res) {
				return
			}
			events = s.peer.Events()

		case msg := <-s.clientChan:
			s.handleClientMessage(msg)

		case ev, ok := <-events:
			if !ok {
				return
			}
			if !s.handleUpstreamEvent(ev) {
				return
			}

		case trg := <-s.triggerChan:
			s.handleTrigger(trg)
		}
	}
}

// handleConnectResult finishes INITIALIZING. Returns false when the
// session must terminate.
func (s *RelaySession) handleConnectResult(res connectResult) bool {
	if res.err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(res.err, upstream.ErrCredential) {
			code = messages.ErrCodeCredentialFailed
			if s.metrics != nil {
				s.metrics.CredentialFailures.Inc()
			}
		}
		log.Printf("❌ [%s] Upstream connect failed: %v", s.shortID(), res.err)
		s.notify(messages.NewErrorNotification(s.ID, code, res.err.Error()))
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		res.peer.Close()
		return false
	}
	s.peer = res.peer
	s.mu.Unlock()
	s.state = StateNegotiating
	log.Printf("🔗 [%s] Upstream connected, negotiating", s.shortID())
	return true
}

// becomeReady transitions NEGOTIATING → READY: flush pre-ready audio,
// replay queued messages in FIFO order, then schedule the greeting
func (s *RelaySession) becomeReady() {
	s.state = StateReady
	s.notify(messages.NewConnectedNotification(s.ID))
	log.Printf("✅ [%s] Session ready", s.shortID())

	// Buffered audio goes first: appends have no generation side effect
	for _, chunk := range s.audioBuffer.Flush() {
		if err := s.peer.AppendAudio(chunk); err != nil {
			log.Printf("❌ [%s] Failed to flush buffered audio: %v", s.shortID(), err)
			break
		}
	}

	pending := s.pending
	s.pending = nil
	for _, msg := range pending {
		if s.metrics != nil {
			s.metrics.QueuedReplays.Inc()
		}
		s.route(msg)
	}

	// Let the replayed writes settle before triggering the greeting
	s.scheduleTrigger(trigger{kind: triggerGreeting})
}

func (s *RelaySession) handleClientMessage(msg *messages.ClientMessage) {
	if s.metrics != nil {
		// Client input must not mint label values
		label := msg.Type
		if !messages.KnownType(label) {
			label = "unknown"
		}
		s.metrics.ClientMessages.WithLabelValues(label).Inc()
	}

	if s.state == StateReady {
		s.route(msg)
		return
	}

	// Not ready yet: audio is buffered (cheap to lose, never queued),
	// everything else queues for FIFO replay
	if msg.Type == messages.TypeAudio {
		s.audioBuffer.Append(msg.Data)
		return
	}
	s.pending = append(s.pending, msg)
}

// route dispatches one client message in READY state (or during replay)
func (s *RelaySession) route(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeMute:
		s.muted = true
		s.notify(messages.NewMutedNotification(s.ID, true))

	case messages.TypeUnmute:
		s.muted = false
		s.notify(messages.NewMutedNotification(s.ID, false))

	case messages.TypeTextMessage:
		s.handleTextMessage(msg)

	case messages.TypeAttachment:
		s.handleAttachment(msg)

	case messages.TypeAudio:
		if s.muted {
			// Silent drop: no upstream frame, no notification
			if s.metrics != nil {
				s.metrics.DroppedWhileMuted.Inc()
			}
			return
		}
		if msg.Data == "" {
			return
		}
		if err := s.peer.AppendAudio(msg.Data); err != nil {
			log.Printf("❌ [%s] Failed to forward audio: %v", s.shortID(), err)
		}

	case messages.TypeCancel:
		if !s.responding {
			return // nothing in flight, no-op
		}
		if err := s.peer.CancelResponse(); err != nil {
			log.Printf("❌ [%s] Failed to cancel response: %v", s.shortID(), err)
		}

	case messages.TypeSetLanguage:
		if msg.Language == "" {
			s.notify(messages.NewWarningNotification(s.ID, "set_language requires a language"))
			return
		}
		if err := s.peer.SetLanguage(s.transcModel, msg.Language); err != nil {
			log.Printf("❌ [%s] Failed to set language: %v", s.shortID(), err)
			s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, err.Error()))
			return
		}
		s.notify(messages.NewLanguageSetNotification(s.ID, msg.Language))

	case messages.TypeClear:
		if err := s.peer.ClearConversation(); err != nil {
			log.Printf("❌ [%s] Failed to clear conversation: %v", s.shortID(), err)
			s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, err.Error()))
			return
		}
		s.notify(messages.NewConversationClearedNotification(s.ID))

	default:
		log.Printf("⚠️ [%s] Unknown message type dropped: %s", s.shortID(), msg.Type)
	}
}

// handleTextMessage runs the composite-text flow: clear the upstream audio
// buffer, create one conversation item carrying the message text and every
// attachment, echo the transcript, and trigger generation after the settle
// delay
func (s *RelaySession) handleTextMessage(msg *messages.ClientMessage) {
	if s.responding {
		s.rejectWhileResponding()
		return
	}

	composite := buildCompositeText(msg.Text, msg.Files)
	if strings.TrimSpace(composite) == "" {
		s.notify(messages.NewWarningNotification(s.ID, "empty message"))
		return
	}

	if err := s.peer.ClearInputAudio(); err != nil {
		log.Printf("❌ [%s] Failed to clear input audio: %v", s.shortID(), err)
	}
	if err := s.peer.CreateUserItem(composite); err != nil {
		log.Printf("❌ [%s] Failed to create conversation item: %v", s.shortID(), err)
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, err.Error()))
		return
	}

	s.notify(messages.NewTranscriptNotification(s.ID, messages.RoleUser, msg.Text, true))
	s.scheduleTrigger(trigger{kind: triggerResponse})
}

// handleAttachment runs the same flow for a single standalone file
func (s *RelaySession) handleAttachment(msg *messages.ClientMessage) {
	if s.responding {
		s.rejectWhileResponding()
		return
	}

	if msg.Content == "" && msg.URL == "" {
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeAttachmentEmpty,
			fmt.Sprintf("attachment %q has no extractable content", msg.Filename)))
		return
	}

	file := messages.FileAttachment{
		Filename: msg.Filename,
		Content:  msg.Content,
		URL:      msg.URL,
	}
	composite := buildCompositeText("", []messages.FileAttachment{file})

	if err := s.peer.ClearInputAudio(); err != nil {
		log.Printf("❌ [%s] Failed to clear input audio: %v", s.shortID(), err)
	}
	if err := s.peer.CreateUserItem(composite); err != nil {
		log.Printf("❌ [%s] Failed to create conversation item: %v", s.shortID(), err)
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, err.Error()))
		return
	}

	s.notify(messages.NewAttachmentReceivedNotification(s.ID, msg.Filename))
	s.scheduleTrigger(trigger{kind: triggerResponse})
}

// rejectWhileResponding refuses a generation request while a response is
// in flight. The upstream does not support concurrent generation per
// session; queueing instead would produce stale or duplicated replies.
func (s *RelaySession) rejectWhileResponding() {
	if s.metrics != nil {
		s.metrics.RejectedWhileBusy.Inc()
	}
	s.notify(messages.NewWarningNotification(s.ID,
		"a response is already in progress; wait for it to finish"))
}

// buildCompositeText joins the message text and every attachment into one
// conversation item, each attachment delimited distinctly. Files without
// extractable text degrade to a placeholder describing what could not be
// processed.
func buildCompositeText(text string, files []messages.FileAttachment) string {
	var b strings.Builder
	b.WriteString(text)

	for _, f := range files {
		name := f.Filename
		if name == "" {
			name = "untitled"
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch {
		case f.Content != "":
			fmt.Fprintf(&b, "--- Attachment: %s ---\n%s\n--- End of %s ---", name, f.Content, name)
		case f.URL != "":
			fmt.Fprintf(&b, "[Attachment %s is available at %s but its content could not be extracted as text]", name, f.URL)
		default:
			kind := f.ContentType
			if kind == "" {
				kind = "unknown type"
			}
			fmt.Fprintf(&b, "[Attachment %s (%s) could not be processed as text]", name, kind)
		}
	}
	return b.String()
}

// handleUpstreamEvent translates normalized upstream events into client
// notifications and state changes. Returns false when the session must
// terminate.
func (s *RelaySession) handleUpstreamEvent(ev upstream.Event) bool {
	if s.metrics != nil {
		s.metrics.UpstreamEvents.WithLabelValues(ev.Kind.String()).Inc()
	}

	switch ev.Kind {
	case upstream.EventSessionCreated:
		// Configuration confirmation is session.updated

	case upstream.EventSessionUpdated:
		if s.state == StateNegotiating {
			s.becomeReady()
		}

	case upstream.EventSpeechStarted:
		s.notify(messages.NewVADNotification(s.ID, true))

	case upstream.EventSpeechStopped:
		s.notify(messages.NewVADNotification(s.ID, false))

	case upstream.EventAudioDelta:
		s.notify(messages.NewAudioNotification(s.ID, ev.Audio))

	case upstream.EventTranscriptDelta:
		s.notify(messages.NewTranscriptNotification(s.ID, messages.RoleAssistant, ev.Text, false))

	case upstream.EventTranscriptDone:
		s.notify(messages.NewTranscriptNotification(s.ID, messages.RoleAssistant, ev.Text, true))

	case upstream.EventInputTranscript:
		s.notify(messages.NewTranscriptNotification(s.ID, messages.RoleUser, ev.Text, true))

	case upstream.EventResponseCreated:
		s.responding = true
		s.responseQueued = false

	case upstream.EventResponseDone, upstream.EventResponseCancelled:
		s.responding = false
		s.responseQueued = false
		if s.continuationPending {
			s.continuationPending = false
			s.scheduleTrigger(trigger{kind: triggerResponse})
		}

	case upstream.EventToolCall:
		s.handleToolCall(ev)

	case upstream.EventError:
		// Upstream-reported errors are not fatal; forward and keep going
		if s.metrics != nil {
			s.metrics.UpstreamErrors.Inc()
		}
		log.Printf("❌ [%s] Upstream error: %s (%s)", s.shortID(), ev.Text, ev.Code)
		s.responding = false
		s.responseQueued = false
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, ev.Text))

	case upstream.EventClosed:
		log.Printf("🔌 [%s] Upstream connection closed", s.shortID())
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeConnectionClosed,
			"upstream connection closed"))
		return false
	}
	return true
}

// handleToolCall bridges one tool invocation. Concurrent invocations for
// the same response are queued FIFO, never interleaved: conversation item
// order must match invocation order.
func (s *RelaySession) handleToolCall(ev upstream.Event) {
	if s.metrics != nil {
		s.metrics.ToolInvocations.Inc()
	}
	log.Printf("🔧 [%s] Tool call: %s (call %s)", s.shortID(), ev.ToolName, ev.CallID)

	s.toolQueue = append(s.toolQueue, ev)
	if !s.toolRunning {
		s.startNextTool()
	}
}

func (s *RelaySession) startNextTool() {
	ev := s.toolQueue[0]
	s.toolQueue = s.toolQueue[1:]
	s.toolRunning = true

	go func() {
		var output string
		if s.registry != nil {
			output = s.registry.Invoke(s.ctx, ev.ToolName, ev.ToolArgs)
		} else {
			output = fmt.Sprintf("The tool %q is not available.", ev.ToolName)
		}

		select {
		case s.triggerChan <- trigger{kind: triggerToolResult, callID: ev.CallID, output: output}:
		case <-s.ctx.Done():
		}
	}()
}

// scheduleTrigger fires a trigger into the run loop after the settle
// delay, letting prior upstream writes apply before generation
func (s *RelaySession) scheduleTrigger(trg trigger) {
	time.AfterFunc(s.settleDelay, func() {
		select {
		case s.triggerChan <- trg:
		case <-s.ctx.Done():
		}
	})
}

func (s *RelaySession) handleTrigger(trg trigger) {
	switch trg.kind {
	case triggerGreeting, triggerResponse:
		if s.state != StateReady || s.responding || s.responseQueued {
			// A generation is already queued or in flight (for the
			// greeting: a replayed message beat us to it; for settle
			// triggers: upstream VAD won the race)
			return
		}
		s.createResponse()

	case triggerToolResult:
		if err := s.peer.SubmitToolResult(trg.callID, trg.output); err != nil {
			log.Printf("❌ [%s] Failed to submit tool result: %v", s.shortID(), err)
		}
		if len(s.toolQueue) > 0 {
			s.startNextTool()
			return
		}
		s.toolRunning = false
		// Continuation only after every queued tool resolved
		if s.responding {
			s.continuationPending = true
			return
		}
		s.scheduleTrigger(trigger{kind: triggerResponse})
	}
}

func (s *RelaySession) createResponse() {
	if err := s.peer.CreateResponse(); err != nil {
		log.Printf("❌ [%s] Failed to trigger response: %v", s.shortID(), err)
		s.notify(messages.NewErrorNotification(s.ID, messages.ErrCodeUpstreamError, err.Error()))
		return
	}
	s.responseQueued = true
}

// readPump reads client frames and feeds the run loop. Malformed messages
// are logged and dropped; the session continues.
func (s *RelaySession) readPump() {
	defer s.Close()

	for {
		_, data, err := s.ClientConn.ReadMessage()
		if err != nil {
			if !s.IsClosed() {
				log.Printf("🔌 [%s] Client read ended: %v", s.shortID(), err)
			}
			return
		}
		s.touch()

		msg, err := messages.DecodeClientMessage(data)
		if err != nil {
			log.Printf("⚠️ [%s] Malformed client message dropped: %v", s.shortID(), err)
			continue
		}

		select {
		case s.clientChan <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// writePump handles all outgoing client writes in a single goroutine
func (s *RelaySession) writePump() {
	defer func() {
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		s.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-s.CloseChan:
			return
		case n := <-s.writeChan:
			if !s.writeNotification(n) {
				return
			}
		}
	}
}

func (s *RelaySession) writeNotification(n *messages.Notification) bool {
	data, err := n.Encode()
	if err != nil {
		log.Printf("❌ [%s] Failed to encode notification: %v", s.shortID(), err)
		return true
	}
	s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ClientConn.WriteMessage(websocket.TextMessage, data) == nil
}

// notify queues a notification for the client (non-blocking)
func (s *RelaySession) notify(n *messages.Notification) {
	if s.IsClosed() {
		return
	}
	if s.metrics != nil {
		s.metrics.Notifications.WithLabelValues(n.Type).Inc()
	}
	select {
	case s.writeChan <- n:
		s.touch()
	default:
		// Queue full, drop (shouldn't happen with proper sizing)
	}
}

func (s *RelaySession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last client interaction
func (s *RelaySession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsClosed returns whether the session is closed
func (s *RelaySession) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *RelaySession) shortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Close terminates the session and cleans up both legs. Closing either leg
// lands here; the other leg is torn down with it.
func (s *RelaySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peer := s.peer
	s.mu.Unlock()

	s.cancel()
	close(s.CloseChan)

	s.drainConnectChan()
	s.audioBuffer.Clear()

	if peer != nil {
		peer.Close()
	}
	if s.ClientConn != nil {
		s.ClientConn.Close()
	}

	return nil
}
