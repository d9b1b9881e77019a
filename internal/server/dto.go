package server

import (
	"goalline/internal/domain"
)

// Request payloads

type SignupRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateCategoryRequest struct {
	Title string `json:"title"`
}

type CreateGoalRequest struct {
	CategoryID  string  `json:"category_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type UpdateGoalRequest struct {
	Status      *string `json:"status,omitempty" enum:"to_do,in_progress,done,archived"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateCommentRequest struct {
	Text string `json:"text"`
}

type VerifyRequest struct {
	VerificationCode string `json:"verification_code"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type CategoryResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type GoalResponse struct {
	ID          int64  `json:"id"`
	CategoryID  string `json:"category_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"to_do,in_progress,done,archived"`
	DueDate     string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CommentResponse struct {
	ID        int64  `json:"id"`
	GoalID    int64  `json:"goal_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type ChatIdentityResponse struct {
	ChatID   int64   `json:"chat_id"`
	UserID   *string `json:"user_id,omitempty"`
	Verified bool    `json:"verified"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

func categoryResponse(c domain.Category) CategoryResponse {
	return CategoryResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func mapCategories(items []domain.Category) []CategoryResponse {
	res := make([]CategoryResponse, 0, len(items))
	for _, c := range items {
		res = append(res, categoryResponse(c))
	}
	return res
}

func goalResponse(g domain.Goal) GoalResponse {
	return GoalResponse{
		ID:          g.ID,
		CategoryID:  g.CategoryID,
		Title:       g.Title,
		Description: g.Description,
		Status:      g.Status,
		DueDate:     g.DueDate,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func mapGoals(items []domain.Goal) []GoalResponse {
	res := make([]GoalResponse, 0, len(items))
	for _, g := range items {
		res = append(res, goalResponse(g))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{ID: c.ID, GoalID: c.GoalID, UserID: c.UserID, Text: c.Text, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func identityResponse(ci domain.ChatIdentity) ChatIdentityResponse {
	return ChatIdentityResponse{ChatID: ci.ChatID, UserID: ci.UserID, Verified: ci.Linked()}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
