package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"goalline/internal/engine"
	"goalline/internal/tg"
)

const (
	cmdGoals  = "/goals"
	cmdCreate = "/create"
	cmdCancel = "/cancel"
)

const (
	DefaultPollTimeout = 60
	DefaultSessionIdle = 10 * time.Minute
)

// Gateway is the chat gateway consumed by the dispatcher. Satisfied by
// *tg.Client.
type Gateway interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]tg.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Dispatcher runs the bot loop: it long-polls the gateway, advances the
// update cursor, and routes each message to the verification handshake, the
// command set, or an active goal-creation session. Sessions are kept per
// chat, so one user's dialogue never consumes another chat's messages.
//
// The cursor is held in memory only. After a restart polling resumes from the
// gateway default, so updates delivered during the restart window are lost.
type Dispatcher struct {
	Gateway     Gateway
	Engine      engine.Engine
	Logger      *log.Logger
	PollTimeout int
	SessionIdle time.Duration
	Now         func() time.Time

	offset   int64
	sessions map[int64]*session
}

func New(gw Gateway, e engine.Engine) *Dispatcher {
	return &Dispatcher{
		Gateway:     gw,
		Engine:      e,
		PollTimeout: DefaultPollTimeout,
		SessionIdle: DefaultSessionIdle,
		sessions:    make(map[int64]*session),
	}
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Offset returns the current update cursor.
func (d *Dispatcher) Offset() int64 { return d.offset }

// Run polls until ctx is cancelled. No single update's failure stops the
// loop; transient gateway errors are logged and retried on the next
// iteration.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger().Printf("poll: %v", err)
		}
	}
}

// RunOnce performs a single poll cycle: fetch a batch, dispatch each update
// in sequence order advancing the cursor, then expire idle sessions.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	updates, err := d.Gateway.GetUpdates(ctx, d.offset, d.pollTimeout())
	if err != nil {
		return err
	}
	for _, up := range updates {
		d.offset = up.UpdateID + 1
		d.dispatch(ctx, up)
	}
	d.expireSessions(ctx)
	return nil
}

func (d *Dispatcher) pollTimeout() int {
	if d.PollTimeout > 0 {
		return d.PollTimeout
	}
	return DefaultPollTimeout
}

func (d *Dispatcher) dispatch(ctx context.Context, up tg.Update) {
	if up.Message == nil {
		return
	}
	chatID := up.Message.Chat.ID
	identity, err := d.Engine.FindOrCreateChatIdentity(ctx, chatID)
	if err != nil {
		d.logger().Printf("chat %d: resolve identity: %v", chatID, err)
		return
	}
	if !identity.Linked() {
		d.handleUnlinked(ctx, chatID)
		return
	}
	userID := *identity.UserID

	if d.sessions == nil {
		d.sessions = make(map[int64]*session)
	}
	if s, ok := d.sessions[chatID]; ok {
		s.lastActive = d.now()
		if s.handle(ctx, up.Message.Text) {
			delete(d.sessions, chatID)
		}
		return
	}

	switch up.Message.Text {
	case cmdGoals:
		d.sendGoalsList(ctx, chatID, userID)
	case cmdCreate:
		d.startCreate(ctx, chatID, userID)
	default:
		d.send(ctx, chatID, "Unknown command")
	}
}

// handleUnlinked greets the chat and issues a fresh verification code. Every
// message from an unlinked chat regenerates the code; the previous one is
// overwritten.
func (d *Dispatcher) handleUnlinked(ctx context.Context, chatID int64) {
	d.send(ctx, chatID, "Hello!")
	code, err := d.Engine.IssueVerificationCode(ctx, chatID)
	if err != nil {
		d.logger().Printf("chat %d: issue verification code: %v", chatID, err)
		return
	}
	d.send(ctx, chatID, fmt.Sprintf("Please verify your account. Enter the code %s on the site.", code))
}

func (d *Dispatcher) sendGoalsList(ctx context.Context, chatID int64, userID string) {
	goals, err := d.Engine.ListGoals(ctx, userID)
	if err != nil {
		d.logger().Printf("chat %d: list goals: %v", chatID, err)
		return
	}
	if len(goals) == 0 {
		d.send(ctx, chatID, "You have no goals yet")
		return
	}
	var b strings.Builder
	for _, g := range goals {
		fmt.Fprintf(&b, "#%d %s\n", g.ID, g.Title)
	}
	d.send(ctx, chatID, b.String())
}

func (d *Dispatcher) startCreate(ctx context.Context, chatID int64, userID string) {
	categories, err := d.Engine.ListCategories(ctx, userID)
	if err != nil {
		d.logger().Printf("chat %d: list categories: %v", chatID, err)
		return
	}
	s := newSession(d, chatID, userID, categories)
	s.lastActive = d.now()
	if d.sessions == nil {
		d.sessions = make(map[int64]*session)
	}
	d.sessions[chatID] = s

	var b strings.Builder
	b.WriteString("Choose a category:\n")
	for _, c := range categories {
		b.WriteString(c.Title)
		b.WriteString("\n")
	}
	b.WriteString("To cancel, send /cancel")
	d.send(ctx, chatID, b.String())
}

// expireSessions cancels dialogues that have been idle longer than
// SessionIdle, so one silent user cannot hold a session open forever.
func (d *Dispatcher) expireSessions(ctx context.Context) {
	idle := d.SessionIdle
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	now := d.now()
	for chatID, s := range d.sessions {
		if now.Sub(s.lastActive) >= idle {
			delete(d.sessions, chatID)
			d.send(ctx, chatID, "Goal creation cancelled.")
		}
	}
}

// send is best-effort: delivery failures are logged and the loop moves on.
func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) {
	if err := d.Gateway.SendMessage(ctx, chatID, text); err != nil {
		d.logger().Printf("chat %d: send: %v", chatID, err)
	}
}
