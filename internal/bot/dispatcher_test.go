package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/migrate"
	"goalline/internal/tg"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

// fakeGateway feeds scripted update batches and records outgoing messages.
// Scripted poll errors are consumed before the batches; drained fires once
// the script is exhausted.
type fakeGateway struct {
	batches [][]tg.Update
	errs    []error
	sendErr error
	offsets []int64
	sent    []sentMessage
	drained func()
}

func (g *fakeGateway) GetUpdates(_ context.Context, offset int64, _ int) ([]tg.Update, error) {
	g.offsets = append(g.offsets, offset)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	if len(g.batches) == 0 {
		if g.drained != nil {
			g.drained()
		}
		return nil, nil
	}
	batch := g.batches[0]
	g.batches = g.batches[1:]
	return batch, nil
}

func (g *fakeGateway) SendMessage(_ context.Context, chatID int64, text string) error {
	g.sent = append(g.sent, sentMessage{ChatID: chatID, Text: text})
	return g.sendErr
}

func (g *fakeGateway) textsFor(chatID int64) []string {
	var res []string
	for _, m := range g.sent {
		if m.ChatID == chatID {
			res = append(res, m.Text)
		}
	}
	return res
}

func message(updateID, chatID int64, text string) tg.Update {
	return tg.Update{
		UpdateID: updateID,
		Message:  &tg.Message{MessageID: updateID, Chat: tg.Chat{ID: chatID, Type: "private"}, Text: text},
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeGateway, engine.Engine) {
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
	gw := &fakeGateway{}
	d := New(gw, eng)
	d.Now = eng.Now
	return d, gw, eng
}

// linkChat creates a user and binds the chat to it so command routing kicks in.
func linkChat(t *testing.T, eng engine.Engine, chatID int64, username string) string {
	t.Helper()
	ctx := context.Background()
	u, err := eng.SignUp(ctx, username, "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := eng.FindOrCreateChatIdentity(ctx, chatID); err != nil {
		t.Fatalf("identity: %v", err)
	}
	code, err := eng.IssueVerificationCode(ctx, chatID)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if _, err := eng.LinkChatIdentity(ctx, code, u.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	return u.ID
}

func TestCursorAdvancesPastBatch(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	gw.batches = [][]tg.Update{
		{message(5, 100, "hi"), message(6, 100, "hi again")},
		{},
	}
	ctx := context.Background()
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if d.Offset() != 7 {
		t.Fatalf("offset = %d, want 7", d.Offset())
	}
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := gw.offsets[1]; got != 7 {
		t.Fatalf("second poll offset = %d, want 7", got)
	}
}

func TestUnlinkedChatGetsGreetingAndCode(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	d.dispatch(ctx, message(1, 100, "hello bot"))

	texts := gw.textsFor(100)
	if len(texts) != 2 {
		t.Fatalf("want greeting + code, got %v", texts)
	}
	if texts[0] != "Hello!" {
		t.Fatalf("greeting = %q", texts[0])
	}
	ci, err := eng.Repo.GetChatIdentity(ctx, 100)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if ci.VerificationCode == nil || !strings.Contains(texts[1], *ci.VerificationCode) {
		t.Fatalf("code message %q does not carry stored code", texts[1])
	}

	// Every further message regenerates the code.
	first := *ci.VerificationCode
	d.dispatch(ctx, message(2, 100, "still here"))
	ci, _ = eng.Repo.GetChatIdentity(ctx, 100)
	if ci.VerificationCode == nil || *ci.VerificationCode == first {
		t.Fatal("expected a fresh code on the next message")
	}
}

func TestGoalsCommandListsGoals(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")
	cat, err := eng.CreateCategory(ctx, userID, "Work")
	if err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"Finish report", "Plan retro"} {
		if _, err := eng.CreateGoal(ctx, engine.GoalCreateOptions{UserID: userID, CategoryID: cat.ID, Title: title}); err != nil {
			t.Fatal(err)
		}
	}

	d.dispatch(ctx, message(1, 555, "/goals"))
	texts := gw.textsFor(555)
	if len(texts) != 1 {
		t.Fatalf("want one listing message, got %v", texts)
	}
	if !strings.Contains(texts[0], "#1 Finish report") || !strings.Contains(texts[0], "#2 Plan retro") {
		t.Fatalf("listing = %q", texts[0])
	}
}

func TestCreateDialogue(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")
	if _, err := eng.CreateCategory(ctx, userID, "Work"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CreateCategory(ctx, userID, "Home"); err != nil {
		t.Fatal(err)
	}

	d.dispatch(ctx, message(1, 555, "/create"))
	texts := gw.textsFor(555)
	if len(texts) != 1 || !strings.Contains(texts[0], "Work") || !strings.Contains(texts[0], "Home") {
		t.Fatalf("category prompt = %v", texts)
	}

	d.dispatch(ctx, message(2, 555, "Work"))
	d.dispatch(ctx, message(3, 555, "Finish report"))
	d.dispatch(ctx, message(4, 555, "Draft outline"))

	texts = gw.textsFor(555)
	final := texts[len(texts)-1]
	if final != "Goal created: #1 Finish report" {
		t.Fatalf("confirmation = %q", final)
	}
	if _, ok := d.sessions[555]; ok {
		t.Fatal("session should be closed after commit")
	}

	goals, err := eng.ListGoals(ctx, userID)
	if err != nil || len(goals) != 1 {
		t.Fatalf("goals: %v (%d)", err, len(goals))
	}
	g := goals[0]
	if g.Title != "Finish report" || g.Description != "Draft outline" {
		t.Fatalf("goal = %+v", g)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if g.DueDate != want {
		t.Fatalf("due = %q, want %q", g.DueDate, want)
	}
}

func TestCreateDialogueUnknownCategoryRetries(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")
	if _, err := eng.CreateCategory(ctx, userID, "Work"); err != nil {
		t.Fatal(err)
	}

	d.dispatch(ctx, message(1, 555, "/create"))
	d.dispatch(ctx, message(2, 555, "work")) // case-sensitive, no match
	texts := gw.textsFor(555)
	if !strings.Contains(texts[len(texts)-1], "No such category") {
		t.Fatalf("retry prompt = %q", texts[len(texts)-1])
	}
	if _, ok := d.sessions[555]; !ok {
		t.Fatal("session should stay open after a miss")
	}

	// The exact title still works afterwards.
	d.dispatch(ctx, message(3, 555, "Work"))
	texts = gw.textsFor(555)
	if !strings.Contains(texts[len(texts)-1], "title") {
		t.Fatalf("title prompt = %q", texts[len(texts)-1])
	}
}

func TestCancelAbortsDialogue(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")
	cat, _ := eng.CreateCategory(ctx, userID, "Work")

	d.dispatch(ctx, message(1, 555, "/create"))
	d.dispatch(ctx, message(2, 555, cat.Title))
	d.dispatch(ctx, message(3, 555, "/cancel"))

	texts := gw.textsFor(555)
	if texts[len(texts)-1] != "Goal creation cancelled." {
		t.Fatalf("cancel reply = %q", texts[len(texts)-1])
	}
	if _, ok := d.sessions[555]; ok {
		t.Fatal("session should be gone after cancel")
	}
	goals, _ := eng.ListGoals(ctx, userID)
	if len(goals) != 0 {
		t.Fatalf("no goal should be created, got %+v", goals)
	}

	// The chat is back in command mode.
	d.dispatch(ctx, message(4, 555, "gibberish"))
	texts = gw.textsFor(555)
	if texts[len(texts)-1] != "Unknown command" {
		t.Fatalf("post-cancel reply = %q", texts[len(texts)-1])
	}
}

func TestSessionsAreKeyedPerChat(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	alice := linkChat(t, eng, 100, "alice")
	bob := linkChat(t, eng, 200, "bob")
	aCat, _ := eng.CreateCategory(ctx, alice, "Work")
	bCat, _ := eng.CreateCategory(ctx, bob, "Home")

	// Interleave two dialogues; each chat's answers must stay its own.
	d.dispatch(ctx, message(1, 100, "/create"))
	d.dispatch(ctx, message(2, 200, "/create"))
	d.dispatch(ctx, message(3, 100, aCat.Title))
	d.dispatch(ctx, message(4, 200, bCat.Title))
	d.dispatch(ctx, message(5, 100, "Alice goal"))
	d.dispatch(ctx, message(6, 200, "Bob goal"))
	d.dispatch(ctx, message(7, 100, "from alice"))
	d.dispatch(ctx, message(8, 200, "from bob"))

	aTexts := gw.textsFor(100)
	bTexts := gw.textsFor(200)
	if !strings.Contains(aTexts[len(aTexts)-1], "Alice goal") {
		t.Fatalf("alice confirmation = %q", aTexts[len(aTexts)-1])
	}
	if !strings.Contains(bTexts[len(bTexts)-1], "Bob goal") {
		t.Fatalf("bob confirmation = %q", bTexts[len(bTexts)-1])
	}

	aGoals, _ := eng.ListGoals(ctx, alice)
	bGoals, _ := eng.ListGoals(ctx, bob)
	if len(aGoals) != 1 || aGoals[0].Description != "from alice" {
		t.Fatalf("alice goals = %+v", aGoals)
	}
	if len(bGoals) != 1 || bGoals[0].Description != "from bob" {
		t.Fatalf("bob goals = %+v", bGoals)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")
	if _, err := eng.CreateCategory(ctx, userID, "Work"); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Now = func() time.Time { return now }
	d.dispatch(ctx, message(1, 555, "/create"))
	if _, ok := d.sessions[555]; !ok {
		t.Fatal("session should be open")
	}

	now = now.Add(11 * time.Minute)
	d.expireSessions(ctx)
	if _, ok := d.sessions[555]; ok {
		t.Fatal("session should have expired")
	}
	texts := gw.textsFor(555)
	if texts[len(texts)-1] != "Goal creation cancelled." {
		t.Fatalf("expiry notice = %q", texts[len(texts)-1])
	}
}

func TestCreateDialogueWithNoCategories(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	userID := linkChat(t, eng, 555, "alice")

	// The prompt still goes out with an empty category block.
	d.dispatch(ctx, message(1, 555, "/create"))
	texts := gw.textsFor(555)
	if len(texts) != 1 || !strings.Contains(texts[0], "Choose a category") || !strings.Contains(texts[0], "/cancel") {
		t.Fatalf("prompt = %v", texts)
	}
	if _, ok := d.sessions[555]; !ok {
		t.Fatal("session should be open")
	}

	// Nothing can match, so every answer re-prompts without advancing.
	d.dispatch(ctx, message(2, 555, "Work"))
	texts = gw.textsFor(555)
	if !strings.Contains(texts[len(texts)-1], "No such category") {
		t.Fatalf("retry prompt = %q", texts[len(texts)-1])
	}
	if _, ok := d.sessions[555]; !ok {
		t.Fatal("session should stay open")
	}

	// Only /cancel gets the chat out.
	d.dispatch(ctx, message(3, 555, "/cancel"))
	texts = gw.textsFor(555)
	if texts[len(texts)-1] != "Goal creation cancelled." {
		t.Fatalf("cancel reply = %q", texts[len(texts)-1])
	}
	if _, ok := d.sessions[555]; ok {
		t.Fatal("session should be gone after cancel")
	}
	goals, _ := eng.ListGoals(ctx, userID)
	if len(goals) != 0 {
		t.Fatalf("no goal should exist, got %+v", goals)
	}
}

func TestRunRetriesAfterPollFailure(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	linkChat(t, eng, 555, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.errs = []error{fmt.Errorf("getUpdates: %w", tg.ErrUnavailable)}
	gw.batches = [][]tg.Update{{message(5, 555, "/goals")}}
	gw.drained = cancel

	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	// The failed poll did not move the cursor; the update after it was
	// consumed on the retry.
	if len(gw.offsets) < 2 || gw.offsets[1] != 0 {
		t.Fatalf("offsets = %v, want retry from 0", gw.offsets)
	}
	if d.Offset() != 6 {
		t.Fatalf("offset = %d, want 6", d.Offset())
	}
	if len(gw.textsFor(555)) == 0 {
		t.Fatal("update after the failed poll was not handled")
	}
}

func TestSendFailureDoesNotStopDispatch(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	linkChat(t, eng, 555, "alice")

	gw.sendErr = errors.New("Bad Request: chat not found")
	d.dispatch(ctx, message(1, 555, "/goals"))
	if len(gw.textsFor(555)) != 1 {
		t.Fatalf("delivery should still be attempted, sent = %v", gw.sent)
	}

	// The failure is swallowed; the next message is handled normally.
	gw.sendErr = nil
	d.dispatch(ctx, message(2, 555, "/goals"))
	texts := gw.textsFor(555)
	if len(texts) != 2 || texts[1] != "You have no goals yet" {
		t.Fatalf("replies = %v", texts)
	}
}

func TestUnknownCommand(t *testing.T) {
	d, gw, eng := newTestDispatcher(t)
	ctx := context.Background()
	linkChat(t, eng, 555, "alice")
	d.dispatch(ctx, message(1, 555, "/help"))
	texts := gw.textsFor(555)
	if len(texts) != 1 || texts[0] != "Unknown command" {
		t.Fatalf("reply = %v", texts)
	}
}
