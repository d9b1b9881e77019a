package goallinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Goalline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents an account.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// Token is returned by signup and login.
type Token struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Category represents a goal category.
type Category struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Goal represents the API goal model.
type Goal struct {
	ID          int64  `json:"id"`
	CategoryID  string `json:"category_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Comment represents a goal comment.
type Comment struct {
	ID        int64  `json:"id"`
	GoalID    int64  `json:"goal_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// ChatIdentity represents a chat link.
type ChatIdentity struct {
	ChatID   int64   `json:"chat_id"`
	UserID   *string `json:"user_id,omitempty"`
	Verified bool    `json:"verified"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Signup creates an account and stores the returned bearer token on the client.
func (c *Client) Signup(ctx context.Context, username, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "v0/auth/signup", map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Login authenticates and stores the returned bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "v0/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// CreateCategory creates a category.
func (c *Client) CreateCategory(ctx context.Context, title string) (Category, error) {
	var resp Category
	err := c.do(ctx, http.MethodPost, "v0/categories", map[string]any{"title": title}, &resp)
	return resp, err
}

// Categories lists the account's categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp []Category
	err := c.do(ctx, http.MethodGet, "v0/categories", nil, &resp)
	return resp, err
}

// CreateGoal creates a goal in a category.
func (c *Client) CreateGoal(ctx context.Context, categoryID, title, description string) (Goal, error) {
	body := map[string]any{
		"category_id": categoryID,
		"title":       title,
	}
	if description != "" {
		body["description"] = description
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals", body, &resp)
	return resp, err
}

// Goals lists the account's goals.
func (c *Client) Goals(ctx context.Context) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, "v0/goals", nil, &resp)
	return resp, err
}

// SetGoalStatus updates a goal's status.
func (c *Client) SetGoalStatus(ctx context.Context, id int64, status string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/goals/%d", id), map[string]any{"status": status}, &resp)
	return resp, err
}

// AddComment comments on a goal.
func (c *Client) AddComment(ctx context.Context, goalID int64, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/goals/%d/comments", goalID), map[string]any{"text": text}, &resp)
	return resp, err
}

// Verify links a chat to the authenticated account using a code from the bot.
func (c *Client) Verify(ctx context.Context, code string) (ChatIdentity, error) {
	var resp ChatIdentity
	err := c.do(ctx, http.MethodPatch, "v0/bot/verify", map[string]any{"verification_code": code}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
