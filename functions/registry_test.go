package functions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bfunding123/openai-web/upstream"
)

func echoDeclaration() upstream.ToolDeclaration {
	return upstream.ToolDeclaration{
		Name:        "echo",
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
	}
}

func TestInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDeclaration(), func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return "echo: " + text, nil
	})

	got := r.Invoke(context.Background(), "echo", `{"text":"hello"}`)
	if got != "echo: hello" {
		t.Errorf("Invoke = %q", got)
	}
}

func TestInvokeFallbacks(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDeclaration(), func(ctx context.Context, args map[string]any) (string, error) {
		return "", fmt.Errorf("backend down")
	})

	cases := []struct {
		name    string
		tool    string
		args    string
		needles []string
	}{
		{"unknown tool", "teleport", `{}`, []string{"teleport", "not available"}},
		{"bad arguments", "echo", `{broken`, []string{"echo", "arguments"}},
		{"handler failure", "echo", `{}`, []string{"echo", "backend down"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Invoke(context.Background(), tc.tool, tc.args)
			if got == "" {
				t.Fatal("fallback output is empty")
			}
			for _, needle := range tc.needles {
				if !strings.Contains(got, needle) {
					t.Errorf("output %q missing %q", got, needle)
				}
			}
		})
	}
}

func TestInvokeCountsFailures(t *testing.T) {
	r := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_tool_failures_total"})
	r.SetFailureCounter(counter)

	r.Invoke(context.Background(), "missing", `{}`)
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("failure counter = %v, want 1", got)
	}
}

func TestInvokeEmptyArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDeclaration(), func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("args=%d", len(args)), nil
	})

	if got := r.Invoke(context.Background(), "echo", ""); got != "args=0" {
		t.Errorf("Invoke with empty args = %q", got)
	}
}

func TestDeclarations(t *testing.T) {
	r := DefaultRegistry()
	decls := r.Declarations()
	if len(decls) != 2 {
		t.Fatalf("got %d declarations, want 2", len(decls))
	}
	names := map[string]bool{}
	for _, d := range decls {
		names[d.Name] = true
	}
	if !names["search_web"] || !names["lookup_docs"] {
		t.Errorf("declarations = %v", names)
	}
}

func TestWebSearchHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "capital of france" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{"AbstractText":"Paris is the capital of France."}`))
	}))
	defer srv.Close()

	h := NewWebSearchHandler(srv.URL)
	got, err := h(context.Background(), map[string]any{"query": "capital of france"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if got != "Paris is the capital of France." {
		t.Errorf("result = %q", got)
	}
}

func TestWebSearchHandlerPrefersDirectAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Answer":"42","AbstractText":"longer abstract"}`))
	}))
	defer srv.Close()

	h := NewWebSearchHandler(srv.URL)
	got, err := h(context.Background(), map[string]any{"query": "meaning of life"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if got != "42" {
		t.Errorf("result = %q, want the direct answer", got)
	}
}

func TestWebSearchHandlerNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h := NewWebSearchHandler(srv.URL)
	got, err := h(context.Background(), map[string]any{"query": "xyzzy"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !strings.Contains(got, "No results") {
		t.Errorf("result = %q", got)
	}
}

func TestWebSearchHandlerRejectsEmptyQuery(t *testing.T) {
	h := NewWebSearchHandler("http://localhost:0")
	if _, err := h(context.Background(), map[string]any{}); err == nil {
		t.Error("expected an error for a missing query")
	}
}
