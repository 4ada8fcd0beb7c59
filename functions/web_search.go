package functions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bfunding123/openai-web/upstream"
)

const searchTimeout = 15 * time.Second

// WebSearchDeclaration describes the search_web tool
func WebSearchDeclaration() upstream.ToolDeclaration {
	return upstream.ToolDeclaration{
		Name:        "search_web",
		Description: "Search the web for current factual information and return a short text summary.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
	}
}

type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// NewWebSearchHandler returns a handler backed by the DuckDuckGo instant
// answer API. The endpoint is injectable for tests.
func NewWebSearchHandler(endpoint string) Handler {
	if endpoint == "" {
		endpoint = "https://api.duckduckgo.com/"
	}
	client := &http.Client{Timeout: searchTimeout}

	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("empty search query")
		}

		reqURL := endpoint + "?q=" + url.QueryEscape(query) + "&format=json&no_html=1"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return "", err
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("search request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("search returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", err
		}

		var answer instantAnswer
		if err := sonic.Unmarshal(body, &answer); err != nil {
			return "", fmt.Errorf("malformed search response: %w", err)
		}

		switch {
		case answer.Answer != "":
			return answer.Answer, nil
		case answer.AbstractText != "":
			return answer.AbstractText, nil
		}
		for _, topic := range answer.RelatedTopics {
			if topic.Text != "" {
				return topic.Text, nil
			}
		}
		return fmt.Sprintf("No results found for %q.", query), nil
	}
}
