package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/migrate"
)

func newWebhookEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, cfg)
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	var mu sync.Mutex
	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Goalline-Event"))
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	e := newWebhookEngine(t, cfg)

	d := &webhookDispatcher{
		engine:   e,
		webhooks: cfg.Webhooks,
		client:   hook.Client(),
		cursors:  make(map[int]int64),
	}
	ctx := context.Background()
	u, err := e.SignUp(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	cat, err := e.CreateCategory(ctx, u.ID, "Work")
	if err != nil {
		t.Fatalf("category: %v", err)
	}

	// First pass pins the cursor at the current tail; the backlog above is
	// not replayed.
	d.dispatchAll(ctx)
	mu.Lock()
	if len(got) != 0 {
		mu.Unlock()
		t.Fatalf("backlog should not be replayed, got %v", got)
	}
	mu.Unlock()

	if _, err := e.CreateGoal(ctx, engine.GoalCreateOptions{UserID: u.ID, CategoryID: cat.ID, Title: "Finish report"}); err != nil {
		t.Fatalf("goal: %v", err)
	}

	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "goal.create" {
		t.Fatalf("delivered = %v, want [goal.create]", got)
	}
}

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	e := newWebhookEngine(t, cfg)
	d := &webhookDispatcher{engine: e, cursors: make(map[int]int64)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher kept running after cancel")
	}
}
