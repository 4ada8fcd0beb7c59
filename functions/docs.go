package functions

import (
	"context"

	"github.com/bfunding123/openai-web/upstream"
)

// assistantDocs is the static knowledge text served by the lookup_docs
// tool. Deployments replace this with their own material.
const assistantDocs = `This assistant relays voice and text conversations to a realtime AI service.
Users can speak freely, send text messages with file attachments, mute the
microphone, switch the transcription language, and clear the conversation at
any time. Audio attachments and other non-text files are described rather
than processed.`

// DocsDeclaration describes the lookup_docs tool
func DocsDeclaration() upstream.ToolDeclaration {
	return upstream.ToolDeclaration{
		Name:        "lookup_docs",
		Description: "Look up reference documentation about this assistant and its capabilities.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// DocsHandler returns the reference documentation text
func DocsHandler(ctx context.Context, args map[string]any) (string, error) {
	return assistantDocs, nil
}

// DefaultRegistry builds the registry with all built-in capabilities
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(WebSearchDeclaration(), NewWebSearchHandler(""))
	r.Register(DocsDeclaration(), DocsHandler)
	return r
}
