package domain

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Category struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Goal struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	CategoryID  string `json:"category_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"to_do,in_progress,done,archived"`
	DueDate     string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID        int64  `json:"id"`
	GoalID    int64  `json:"goal_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ChatIdentity links an external chat to an internal account. UserID stays nil
// until a verification code is confirmed through the web API; the code is
// cleared when the link is set.
type ChatIdentity struct {
	ChatID           int64   `json:"chat_id"`
	UserID           *string `json:"user_id,omitempty"`
	VerificationCode *string `json:"verification_code,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// Linked reports whether the identity has been confirmed and tied to a user.
func (c ChatIdentity) Linked() bool {
	return c.UserID != nil && *c.UserID != ""
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
