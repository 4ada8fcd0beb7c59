// Command relay-client is an interactive text client for the relay.
// It connects to the /ws endpoint, sends each stdin line as a text
// message, and prints every notification the relay emits.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/bfunding123/openai-web/messages"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "relay websocket endpoint")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			printNotification(data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		msg := messages.ClientMessage{Type: messages.TypeTextMessage, Text: line}
		if cmd, ok := strings.CutPrefix(line, "/lang "); ok {
			msg = messages.ClientMessage{Type: messages.TypeSetLanguage, Language: strings.TrimSpace(cmd)}
		} else if line == "/mute" {
			msg = messages.ClientMessage{Type: messages.TypeMute}
		} else if line == "/unmute" {
			msg = messages.ClientMessage{Type: messages.TypeUnmute}
		} else if line == "/clear" {
			msg = messages.ClientMessage{Type: messages.TypeClear}
		} else if line == "/cancel" {
			msg = messages.ClientMessage{Type: messages.TypeCancel}
		}

		data, err := sonic.Marshal(msg)
		if err != nil {
			log.Printf("Failed to encode message: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Failed to send: %v", err)
			break
		}
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func printNotification(data []byte) {
	var n messages.Notification
	if err := sonic.Unmarshal(data, &n); err != nil {
		log.Printf("⚠️ Unparseable frame: %s", data)
		return
	}

	switch n.Type {
	case messages.NotifyConnected:
		log.Printf("✅ Session ready: %s", n.SessionID)
	case messages.NotifyTranscript:
		marker := ""
		if n.Final {
			marker = " (final)"
		}
		log.Printf("💬 [%s]%s %s", n.Role, marker, n.Text)
	case messages.NotifyAudio:
		log.Printf("🔊 Audio chunk: %d base64 bytes", len(n.Data))
	case messages.NotifyVADStart:
		log.Println("🎤 Speech started")
	case messages.NotifyVADStop:
		log.Println("🎤 Speech stopped")
	case messages.NotifyMuted:
		log.Printf("🔇 Muted: %v", n.Muted != nil && *n.Muted)
	case messages.NotifyError:
		log.Printf("❌ Error [%s]: %s", n.Code, n.Message)
	case messages.NotifyWarning:
		log.Printf("⚠️ Warning: %s", n.Message)
	case messages.NotifyLanguageSet:
		log.Printf("🌐 Language set: %s", n.Language)
	case messages.NotifyConversationCleared:
		log.Println("🧹 Conversation cleared")
	case messages.NotifyAttachmentReceived:
		log.Printf("📎 Attachment received: %s", n.Filename)
	default:
		log.Printf("Notification: %s", data)
	}
}
