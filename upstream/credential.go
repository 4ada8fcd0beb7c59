package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const credentialTimeout = 10 * time.Second

// ErrCredential marks failures to mint an ephemeral session credential
var ErrCredential = errors.New("credential acquisition failed")

// Credential is a short-lived token authorizing one upstream connection.
// It is never persisted and never logged.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// CredentialProvider mints ephemeral session credentials with a single
// authenticated request per session.
type CredentialProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCredentialProvider creates a provider against the given API base URL
// (e.g. "https://api.openai.com")
func NewCredentialProvider(baseURL, apiKey string) *CredentialProvider {
	return &CredentialProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: credentialTimeout},
	}
}

type credentialRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type credentialResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Acquire requests one ephemeral credential for the given model and voice
func (p *CredentialProvider) Acquire(ctx context.Context, model, voice string) (*Credential, error) {
	body, err := sonic.Marshal(credentialRequest{Model: model, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build credential request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read credential response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("credential request returned status %d", resp.StatusCode)
	}

	var parsed credentialResponse
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed credential response: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return nil, fmt.Errorf("malformed credential response: missing client secret")
	}

	return &Credential{
		Token:     parsed.ClientSecret.Value,
		ExpiresAt: time.Unix(parsed.ClientSecret.ExpiresAt, 0),
	}, nil
}
