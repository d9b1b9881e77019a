package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/migrate"
	"goalline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestSignUpAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "hunter22" {
		t.Fatal("password stored in plaintext")
	}
	if _, err := env.Engine.SignUp(env.Ctx, "alice", "another1"); err == nil {
		t.Fatal("expected duplicate username error")
	}
	if _, err := env.Engine.SignUp(env.Ctx, "bob", "short"); err == nil {
		t.Fatal("expected short password error")
	}
	got, err := env.Engine.Authenticate(env.Ctx, "alice", "hunter22")
	if err != nil || got.ID != u.ID {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "wrong-pass"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody", "hunter22"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestCreateGoalDefaultDueDate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	cat, err := env.Engine.CreateCategory(env.Ctx, u.ID, "Work")
	if err != nil {
		t.Fatal(err)
	}
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		UserID:     u.ID,
		CategoryID: cat.ID,
		Title:      "Finish report",
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if g.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if g.Status != "to_do" {
		t.Fatalf("status = %q", g.Status)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if g.DueDate != want {
		t.Fatalf("due date = %q, want %q", g.DueDate, want)
	}
}

func TestCreateGoalCategoryChecks(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	bob, _ := env.Engine.SignUp(env.Ctx, "bob", "hunter22")
	cat, err := env.Engine.CreateCategory(env.Ctx, alice.ID, "Work")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		UserID: bob.ID, CategoryID: cat.ID, Title: "steal",
	}); err == nil {
		t.Fatal("expected ownership error")
	}
	if err := env.Engine.DeleteCategory(env.Ctx, alice.ID, cat.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	if _, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		UserID: alice.ID, CategoryID: cat.ID, Title: "late",
	}); err == nil {
		t.Fatal("expected deleted-category error")
	}
	cats, err := env.Engine.ListCategories(env.Ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 0 {
		t.Fatalf("deleted category still listed: %+v", cats)
	}
}

func TestListGoalsExcludesArchived(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	cat, _ := env.Engine.CreateCategory(env.Ctx, u.ID, "Work")
	first, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{UserID: u.ID, CategoryID: cat.ID, Title: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{UserID: u.ID, CategoryID: cat.ID, Title: "two"}); err != nil {
		t.Fatal(err)
	}
	archived := "archived"
	if _, err := env.Engine.UpdateGoal(env.Ctx, u.ID, first.ID, engine.GoalUpdateOptions{Status: &archived}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	goals, err := env.Engine.ListGoals(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(goals) != 1 || goals[0].Title != "two" {
		t.Fatalf("unexpected listing: %+v", goals)
	}
	bogus := "nonsense"
	if _, err := env.Engine.UpdateGoal(env.Ctx, u.ID, goals[0].ID, engine.GoalUpdateOptions{Status: &bogus}); err == nil {
		t.Fatal("expected invalid status error")
	}
}

type recordingNotifier struct {
	chatID int64
	texts  []string
}

func (n *recordingNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	n.chatID = chatID
	n.texts = append(n.texts, text)
	return nil
}

func TestVerificationCodeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	notifier := &recordingNotifier{}
	env.Engine.Notifier = notifier
	u, _ := env.Engine.SignUp(env.Ctx, "alice", "hunter22")

	ci, err := env.Engine.FindOrCreateChatIdentity(env.Ctx, 555)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if ci.Linked() {
		t.Fatal("fresh identity should be unlinked")
	}
	code, err := env.Engine.IssueVerificationCode(env.Ctx, 555)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if len(code) != 24 {
		t.Fatalf("code length = %d, want 24 hex chars", len(code))
	}
	// Re-issuing overwrites; only the latest code works.
	code2, err := env.Engine.IssueVerificationCode(env.Ctx, 555)
	if err != nil {
		t.Fatal(err)
	}
	if code2 == code {
		t.Fatal("expected a fresh code")
	}
	if _, err := env.Engine.LinkChatIdentity(env.Ctx, code, u.ID); !errors.Is(err, engine.ErrCodeNotFound) {
		t.Fatalf("stale code: want ErrCodeNotFound, got %v", err)
	}

	linked, err := env.Engine.LinkChatIdentity(env.Ctx, code2, u.ID)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !linked.Linked() || *linked.UserID != u.ID {
		t.Fatalf("identity not linked: %+v", linked)
	}
	if linked.VerificationCode != nil {
		t.Fatal("code should be cleared after linking")
	}
	if notifier.chatID != 555 || len(notifier.texts) != 1 {
		t.Fatalf("expected one chat notification, got %+v", notifier.texts)
	}
	// Codes are single-use.
	if _, err := env.Engine.LinkChatIdentity(env.Ctx, code2, u.ID); !errors.Is(err, engine.ErrCodeNotFound) {
		t.Fatalf("reused code: want ErrCodeNotFound, got %v", err)
	}
}

func TestCommentsRequireOwnedGoal(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	bob, _ := env.Engine.SignUp(env.Ctx, "bob", "hunter22")
	cat, _ := env.Engine.CreateCategory(env.Ctx, alice.ID, "Work")
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{UserID: alice.ID, CategoryID: cat.ID, Title: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateComment(env.Ctx, alice.ID, g.ID, "looking good"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := env.Engine.CreateComment(env.Ctx, bob.ID, g.ID, "mine now"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign goal: want ErrNotFound, got %v", err)
	}
	comments, err := env.Engine.ListComments(env.Ctx, alice.ID, g.ID)
	if err != nil || len(comments) != 1 {
		t.Fatalf("list comments: %v (%d)", err, len(comments))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.Engine.SignUp(env.Ctx, "alice", "hunter22")
	key, rec, err := env.Engine.CreateAPIKey(env.Ctx, u.ID, "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key == "" || rec.KeyHash == key {
		t.Fatal("plaintext key must not be stored")
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(key))
	if err != nil || got.UserID != u.ID {
		t.Fatalf("lookup by hash: %v", err)
	}
}
