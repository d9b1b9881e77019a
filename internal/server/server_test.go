package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/migrate"
	goallinesdk "goalline/sdk/go"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	srvCtx, cancel := context.WithCancel(context.Background())
	handler, err := New(srvCtx, Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		cancel()
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		close: func() {
			cancel()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func sdkStatus(err error) int {
	var apiErr *goallinesdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func TestSignupLoginAndGoalFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	client := goallinesdk.New(srv.URL)

	tok, err := client.Signup(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if tok.Token == "" || tok.User.Username != "alice" {
		t.Fatalf("token response = %+v", tok)
	}

	// A fresh client can log back in with the same credentials.
	login := goallinesdk.New(srv.URL)
	if _, err := login.Login(ctx, "alice", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := login.Login(ctx, "alice", "wrong-pass"); sdkStatus(err) != http.StatusUnauthorized {
		t.Fatalf("bad login: want 401, got %v", err)
	}

	cat, err := client.CreateCategory(ctx, "Work")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	g, err := client.CreateGoal(ctx, cat.ID, "Finish report", "Draft outline")
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if g.ID == 0 || g.Status != "to_do" || g.DueDate == "" {
		t.Fatalf("goal = %+v", g)
	}
	if _, err := time.Parse(time.RFC3339, g.DueDate); err != nil {
		t.Fatalf("due date %q not RFC3339: %v", g.DueDate, err)
	}

	if _, err := client.AddComment(ctx, g.ID, "first step done"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	updated, err := client.SetGoalStatus(ctx, g.ID, "archived")
	if err != nil || updated.Status != "archived" {
		t.Fatalf("archive: %v (%+v)", err, updated)
	}
	goals, err := client.Goals(ctx)
	if err != nil {
		t.Fatalf("list goals: %v", err)
	}
	if len(goals) != 0 {
		t.Fatalf("archived goal still listed: %+v", goals)
	}

	events, err := client.Events(ctx, 10)
	if err != nil || len(events) == 0 {
		t.Fatalf("events: %v (%d)", err, len(events))
	}
}

func TestVerifyFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	client := goallinesdk.New(srv.URL)
	if _, err := client.Signup(ctx, "alice", "hunter22"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, err := srv.Engine.FindOrCreateChatIdentity(ctx, 555); err != nil {
		t.Fatalf("identity: %v", err)
	}
	code, err := srv.Engine.IssueVerificationCode(ctx, 555)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	ci, err := client.Verify(ctx, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ci.Verified || ci.ChatID != 555 {
		t.Fatalf("identity = %+v", ci)
	}

	// Codes are single-use; reuse and garbage both fail validation.
	if _, err := client.Verify(ctx, code); sdkStatus(err) != http.StatusUnprocessableEntity {
		t.Fatalf("reused code: want 422, got %v", err)
	}
	if _, err := client.Verify(ctx, "no-such-code"); sdkStatus(err) != http.StatusUnprocessableEntity {
		t.Fatalf("bad code: want 422, got %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	client := goallinesdk.New(srv.URL)
	if _, err := client.Goals(ctx); sdkStatus(err) != http.StatusUnauthorized {
		t.Fatalf("want 401, got %v", err)
	}
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	bootstrap := goallinesdk.New(srv.URL)
	tok, err := bootstrap.Signup(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	key, _, err := srv.Engine.CreateAPIKey(ctx, tok.User.ID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	client := goallinesdk.New(srv.URL)
	client.APIKey = key
	if _, err := client.CreateCategory(ctx, "Work"); err != nil {
		t.Fatalf("create category with api key: %v", err)
	}

	client.APIKey = "not-a-key"
	if _, err := client.Categories(ctx); sdkStatus(err) != http.StatusUnauthorized {
		t.Fatalf("bad key: want 401, got %v", err)
	}
}
