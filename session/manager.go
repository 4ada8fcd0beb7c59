package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/bfunding123/openai-web/config"
	"github.com/bfunding123/openai-web/functions"
	"github.com/bfunding123/openai-web/metrics"
	"github.com/bfunding123/openai-web/upstream"
)

// Manager owns all relay sessions for the process
type Manager struct {
	sessions map[string]*RelaySession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	registry *functions.Registry
	metrics  *metrics.Metrics
}

// NewManager creates a session manager with an optional Redis connection
func NewManager(cfg *config.Config, registry *functions.Registry, m *metrics.Metrics) *Manager {
	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		redisClient = nil
	}

	return &Manager{
		sessions: make(map[string]*RelaySession),
		redis:    redisClient,
		config:   cfg,
		registry: registry,
		metrics:  m,
	}
}

// dialer builds the per-session upstream connect function: acquire one
// ephemeral credential, then open and configure the upstream leg
func (sm *Manager) dialer() UpstreamDialer {
	cfg := sm.config
	provider := upstream.NewCredentialProvider("https://"+cfg.UpstreamHost, cfg.OpenAIAPIKey)

	instructions := cfg.Instructions
	if instructions == "" {
		instructions = DefaultSystemPrompt
	}

	var tools []upstream.ToolDeclaration
	if cfg.ToolsEnabled && sm.registry != nil {
		tools = sm.registry.Declarations()
	}

	sessionCfg := upstream.SessionConfig{
		Voice:              cfg.Voice,
		Instructions:       instructions,
		Temperature:        cfg.Temperature,
		TranscriptionModel: cfg.TranscriptionModel,
		Language:           cfg.Language,
		VADThreshold:       cfg.VADThreshold,
		VADPrefixPadding:   cfg.VADPrefixPadding,
		VADSilence:         cfg.VADSilence,
		Tools:              tools,
	}

	return func(ctx context.Context) (UpstreamPeer, error) {
		cred, err := provider.Acquire(ctx, cfg.Model, cfg.Voice)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", upstream.ErrCredential, err)
		}

		peer, err := upstream.Dial(ctx, upstream.EndpointURL(cfg.UpstreamHost, cfg.Model), cred.Token, sessionCfg)
		if err != nil {
			return nil, err
		}
		return peer, nil
	}
}

// CreateSession creates a new relay session for a client connection
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*RelaySession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()

	var registry *functions.Registry
	if sm.config.ToolsEnabled {
		registry = sm.registry
	}

	s := NewRelaySession(Options{
		ID:                 sessionID,
		ClientConn:         clientConn,
		Dial:               sm.dialer(),
		Registry:           registry,
		Metrics:            sm.metrics,
		SettleDelay:        sm.config.SettleDelay,
		TranscriptionModel: sm.config.TranscriptionModel,
		MaxBufferSize:      sm.config.MaxBufferSize,
	})

	sm.sessions[sessionID] = s
	if sm.metrics != nil {
		sm.metrics.SessionsCreated.Inc()
		sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
	}
	sm.storeSession(ctx, sessionID, s)
	return s, nil
}

// storeSession records session bookkeeping in Redis when available
func (sm *Manager) storeSession(ctx context.Context, sessionID string, s *RelaySession) {
	if sm.redis == nil {
		return
	}
	sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
		"created_at":    s.CreatedAt.Format(time.RFC3339),
		"last_activity": s.LastActivity().Format(time.RFC3339),
		"status":        "active",
	})
	sm.redis.SAdd(ctx, "active_sessions", sessionID)
	sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*RelaySession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	s, exists := sm.sessions[sessionID]
	return s, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	s.Close()
	delete(sm.sessions, sessionID)
	if sm.metrics != nil {
		sm.metrics.SessionsClosed.Inc()
		sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
	}

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}

	return nil
}

// ActiveSessionCount returns the current session count
func (sm *Manager) ActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions idle past the timeout
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, s := range sm.sessions {
		if now.Sub(s.LastActivity()) > sm.config.SessionTimeout {
			s.Close()
			delete(sm.sessions, id)
			if sm.metrics != nil {
				sm.metrics.SessionsClosed.Inc()
				sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
			}

			if sm.redis != nil {
				sm.redis.Del(ctx, "session:"+id)
				sm.redis.SRem(ctx, "active_sessions", id)
			}
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, s := range sm.sessions {
		s.Close()
		delete(sm.sessions, id)
	}
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Set(0)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
