package functions

import (
	"context"
	"fmt"
	"log"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bfunding123/openai-web/upstream"
)

// Handler executes one tool invocation. Args are the decoded JSON arguments
// from the model. Handlers return plain text for the model to verbalize.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type capability struct {
	decl    upstream.ToolDeclaration
	handler Handler
}

// Registry maps tool names to capabilities. Invocation failures degrade to
// a textual fallback so the model can report the failure to the user
// instead of the session hard-erroring.
type Registry struct {
	capabilities map[string]capability
	failures     prometheus.Counter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]capability)}
}

// SetFailureCounter wires a counter incremented whenever an invocation
// falls back instead of returning handler output
func (r *Registry) SetFailureCounter(c prometheus.Counter) {
	r.failures = c
}

func (r *Registry) countFailure() {
	if r.failures != nil {
		r.failures.Inc()
	}
}

// Register adds a capability under its declared name
func (r *Registry) Register(decl upstream.ToolDeclaration, handler Handler) {
	r.capabilities[decl.Name] = capability{decl: decl, handler: handler}
}

// Declarations returns the tool declarations to advertise upstream
func (r *Registry) Declarations() []upstream.ToolDeclaration {
	decls := make([]upstream.ToolDeclaration, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		decls = append(decls, c.decl)
	}
	return decls
}

// Invoke runs the named capability with raw JSON arguments. It always
// returns usable output text: unknown tools, bad arguments and handler
// failures all produce a graceful textual fallback.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) string {
	c, exists := r.capabilities[name]
	if !exists {
		log.Printf("⚠️ Unknown tool called: %s", name)
		r.countFailure()
		return fmt.Sprintf("The tool %q is not available.", name)
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := sonic.Unmarshal([]byte(rawArgs), &args); err != nil {
			log.Printf("⚠️ Tool %s received bad arguments: %v", name, err)
			r.countFailure()
			return fmt.Sprintf("The tool %q could not parse its arguments.", name)
		}
	}

	output, err := c.handler(ctx, args)
	if err != nil {
		log.Printf("❌ Tool %s failed: %v", name, err)
		r.countFailure()
		return fmt.Sprintf("The tool %q failed: %v. Let the user know and offer to try again.", name, err)
	}
	return output
}
