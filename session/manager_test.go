package session

import (
	"context"
	"testing"
	"time"

	"github.com/bfunding123/openai-web/config"
)

func managerConfig() *config.Config {
	return &config.Config{
		OpenAIAPIKey:   "sk-test",
		UpstreamHost:   "api.openai.com",
		RedisURL:       "127.0.0.1:1", // unreachable: manager runs without Redis
		MaxSessions:    2,
		SessionTimeout: time.Minute,
		MaxBufferSize:  1 << 20,
	}
}

func TestManagerSessionLifecycle(t *testing.T) {
	mgr := NewManager(managerConfig(), nil, nil)
	t.Cleanup(mgr.Shutdown)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.ID == "" {
		t.Error("session has no ID")
	}
	if mgr.ActiveSessionCount() != 1 {
		t.Errorf("count = %d, want 1", mgr.ActiveSessionCount())
	}

	got, ok := mgr.GetSession(s.ID)
	if !ok || got != s {
		t.Error("GetSession did not return the created session")
	}

	if err := mgr.RemoveSession(ctx, s.ID); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("count = %d after removal, want 0", mgr.ActiveSessionCount())
	}
	if !s.IsClosed() {
		t.Error("removed session not closed")
	}

	// Removing twice is harmless
	if err := mgr.RemoveSession(ctx, s.ID); err != nil {
		t.Errorf("second RemoveSession failed: %v", err)
	}
}

func TestManagerEnforcesSessionCap(t *testing.T) {
	mgr := NewManager(managerConfig(), nil, nil)
	t.Cleanup(mgr.Shutdown)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := mgr.CreateSession(ctx, nil); err != nil {
			t.Fatalf("CreateSession %d failed: %v", i, err)
		}
	}
	if _, err := mgr.CreateSession(ctx, nil); err == nil {
		t.Fatal("third CreateSession should exceed the cap")
	}
}

func TestManagerCleansUpInactiveSessions(t *testing.T) {
	cfg := managerConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	mgr := NewManager(cfg, nil, nil)
	t.Cleanup(mgr.Shutdown)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mgr.CleanupInactiveSessions(ctx)

	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("count = %d after cleanup, want 0", mgr.ActiveSessionCount())
	}
	if !s.IsClosed() {
		t.Error("idle session not closed by cleanup")
	}
}
