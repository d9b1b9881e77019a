package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/repo"
)

// DefaultGoalDue is added to the creation time when no due date is given.
const DefaultGoalDue = 14 * 24 * time.Hour

var (
	ErrCodeNotFound       = errors.New("verification code not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ChatNotifier delivers a text message to an external chat. Satisfied by
// *tg.Client.
type ChatNotifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier ChatNotifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) SignUp(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, errors.New("username is required")
	}
	if len(password) < 6 {
		return domain.User{}, errors.New("password must be at least 6 characters")
	}
	if _, err := e.Repo.GetUserByUsername(ctx, username); err == nil {
		return domain.User{}, fmt.Errorf("username %s already taken", username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, nil, "user.signup", "user", u.ID, u.ID, nil); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (e Engine) CreateCategory(ctx context.Context, userID, title string) (domain.Category, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Category{}, errors.New("title is required")
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.Category{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Category{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertCategory(ctx, c); err != nil {
		return domain.Category{}, err
	}
	if err := e.Events.Append(ctx, nil, "category.create", "category", c.ID, userID, events.EventPayload{"title": c.Title}); err != nil {
		return domain.Category{}, err
	}
	return c, nil
}

func (e Engine) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	return e.Repo.ListCategories(ctx, userID, false)
}

// DeleteCategory soft-deletes a category. Categories of other users are
// reported as not found.
func (e Engine) DeleteCategory(ctx context.Context, userID, id string) error {
	c, err := e.Repo.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID || c.IsDeleted {
		return repo.ErrNotFound
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SoftDeleteCategory(ctx, id, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, nil, "category.delete", "category", id, userID, nil)
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	UserID      string
	CategoryID  string
	Title       string
	Description string
	DueDate     time.Time
	ActorID     string
}

func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if opts.Title == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	if opts.UserID == "" {
		return domain.Goal{}, errors.New("user is required")
	}
	cat, err := e.Repo.GetCategory(ctx, opts.CategoryID)
	if err != nil {
		return domain.Goal{}, err
	}
	if cat.UserID != opts.UserID {
		return domain.Goal{}, errors.New("not owner of category")
	}
	if cat.IsDeleted {
		return domain.Goal{}, errors.New("not allowed in deleted category")
	}
	now := e.now().UTC()
	due := opts.DueDate
	if due.IsZero() {
		due = now.Add(DefaultGoalDue)
	}
	actor := opts.ActorID
	if actor == "" {
		actor = opts.UserID
	}
	g := domain.Goal{
		UserID:      opts.UserID,
		CategoryID:  cat.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "to_do",
		DueDate:     due.UTC().Format(time.RFC3339),
		CreatedAt:   now.Format(time.RFC3339),
		UpdatedAt:   now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertGoal(ctx, tx, g)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	g.ID = id
	if err := e.Events.Append(ctx, tx, "goal.create", "goal", fmt.Sprintf("%d", g.ID), actor, events.EventPayload{"title": g.Title, "category_id": g.CategoryID}); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

func (e Engine) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	return e.Repo.ListGoals(ctx, userID)
}

func (e Engine) GetGoal(ctx context.Context, userID string, id int64) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, id)
	if err != nil {
		return domain.Goal{}, err
	}
	if g.UserID != userID {
		return domain.Goal{}, repo.ErrNotFound
	}
	return g, nil
}

// GoalUpdateOptions carries partial goal updates; nil fields are untouched.
type GoalUpdateOptions struct {
	Status      *string
	Title       *string
	Description *string
}

var goalStatuses = map[string]bool{"to_do": true, "in_progress": true, "done": true, "archived": true}

func (e Engine) UpdateGoal(ctx context.Context, userID string, id int64, opts GoalUpdateOptions) (domain.Goal, error) {
	if _, err := e.GetGoal(ctx, userID, id); err != nil {
		return domain.Goal{}, err
	}
	if opts.Status != nil && !goalStatuses[*opts.Status] {
		return domain.Goal{}, fmt.Errorf("invalid status %s", *opts.Status)
	}
	if opts.Title != nil && *opts.Title == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGoal(ctx, id, opts.Status, opts.Title, opts.Description, now); err != nil {
		return domain.Goal{}, err
	}
	return e.Repo.GetGoal(ctx, id)
}

func (e Engine) CreateComment(ctx context.Context, userID string, goalID int64, text string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, errors.New("text is required")
	}
	if _, err := e.GetGoal(ctx, userID, goalID); err != nil {
		return domain.Comment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Comment{
		GoalID:    goalID,
		UserID:    userID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := e.Repo.InsertComment(ctx, c)
	if err != nil {
		return domain.Comment{}, err
	}
	c.ID = id
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, userID string, goalID int64) ([]domain.Comment, error) {
	if _, err := e.GetGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, goalID)
}

// CreateAPIKey mints a new key for the user. The plaintext key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	key := "glk_" + hex.EncodeToString(buf)
	rec := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
		return "", domain.APIKey{}, err
	}
	return key, rec, nil
}

// FindOrCreateChatIdentity returns the identity for a chat, creating an
// unlinked row on first contact.
func (e Engine) FindOrCreateChatIdentity(ctx context.Context, chatID int64) (domain.ChatIdentity, error) {
	now := e.now().UTC().Format(time.RFC3339)
	return e.Repo.EnsureChatIdentity(ctx, chatID, now)
}

// IssueVerificationCode generates a fresh one-time code for the chat,
// overwriting any previously issued code.
func (e Engine) IssueVerificationCode(ctx context.Context, chatID int64) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := hex.EncodeToString(buf)
	if err := e.Repo.SetVerificationCode(ctx, chatID, code); err != nil {
		return "", err
	}
	return code, nil
}

// LinkChatIdentity consumes a verification code: the identity holding it gets
// linked to userID and the code is cleared, so a second call with the same
// code fails with ErrCodeNotFound. The chat is notified best-effort.
func (e Engine) LinkChatIdentity(ctx context.Context, code, userID string) (domain.ChatIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return domain.ChatIdentity{}, ErrCodeNotFound
	}
	ci, err := e.Repo.GetChatIdentityByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChatIdentity{}, ErrCodeNotFound
		}
		return domain.ChatIdentity{}, err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.ChatIdentity{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChatIdentity{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.LinkChatIdentity(ctx, tx, ci.ChatID, userID); err != nil {
		return domain.ChatIdentity{}, err
	}
	if err := e.Events.Append(ctx, tx, "identity.link", "chat_identity", fmt.Sprintf("%d", ci.ChatID), userID, nil); err != nil {
		return domain.ChatIdentity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChatIdentity{}, err
	}
	if e.Notifier != nil {
		if err := e.Notifier.SendMessage(ctx, ci.ChatID, "Account verified successfully"); err != nil {
			log.Printf("notify chat %d: %v", ci.ChatID, err)
		}
	}
	return e.Repo.GetChatIdentity(ctx, ci.ChatID)
}
