package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"goalline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,username,password_hash,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,password_hash,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,password_hash,created_at FROM users WHERE username=?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,password_hash,created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertCategory(ctx context.Context, c domain.Category) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO categories(id,user_id,title,is_deleted,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, c.IsDeleted, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,is_deleted,created_at,updated_at FROM categories WHERE id=?`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListCategories returns a user's categories, excluding soft-deleted ones
// unless includeDeleted is set.
func (r Repo) ListCategories(ctx context.Context, userID string, includeDeleted bool) ([]domain.Category, error) {
	query := `SELECT id,user_id,title,is_deleted,created_at,updated_at FROM categories WHERE user_id=?`
	if !includeDeleted {
		query += ` AND is_deleted=0`
	}
	query += ` ORDER BY title ASC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SoftDeleteCategory(ctx context.Context, id, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE categories SET is_deleted=1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO goals(user_id,category_id,title,description,status,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		g.UserID, g.CategoryID, g.Title, nullable(g.Description), g.Status, nullable(g.DueDate), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanGoal(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var description, dueDate sql.NullString
	err := scan(&g.ID, &g.UserID, &g.CategoryID, &g.Title, &description, &g.Status, &dueDate, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if description.Valid {
		g.Description = description.String
	}
	if dueDate.Valid {
		g.DueDate = dueDate.String
	}
	return g, nil
}

const goalColumns = `id,user_id,category_id,title,description,status,due_date,created_at,updated_at`

func (r Repo) GetGoal(ctx context.Context, id int64) (domain.Goal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	return scanGoal(row.Scan)
}

func (r Repo) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id=? AND status != 'archived' ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpdateGoal(ctx context.Context, id int64, status, title, description *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullableStringPtr(description))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE goals SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO comments(goal_id,user_id,text,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.GoalID, c.UserID, c.Text, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListComments(ctx context.Context, goalID int64) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,goal_id,user_id,text,created_at,updated_at FROM comments WHERE goal_id=? ORDER BY created_at DESC, id DESC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.GoalID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func scanChatIdentity(scan func(dest ...any) error) (domain.ChatIdentity, error) {
	var ci domain.ChatIdentity
	var userID, code sql.NullString
	err := scan(&ci.ChatID, &userID, &code, &ci.CreatedAt)
	if err == sql.ErrNoRows {
		return ci, ErrNotFound
	}
	if err != nil {
		return ci, err
	}
	if userID.Valid {
		ci.UserID = &userID.String
	}
	if code.Valid {
		ci.VerificationCode = &code.String
	}
	return ci, nil
}

func (r Repo) GetChatIdentity(ctx context.Context, chatID int64) (domain.ChatIdentity, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT chat_id,user_id,verification_code,created_at FROM chat_identities WHERE chat_id=?`, chatID)
	return scanChatIdentity(row.Scan)
}

// EnsureChatIdentity inserts a row for the chat if none exists and returns the
// current state. The chat id is the natural key; repeated calls never duplicate.
func (r Repo) EnsureChatIdentity(ctx context.Context, chatID int64, createdAt string) (domain.ChatIdentity, error) {
	if _, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO chat_identities(chat_id,created_at) VALUES (?,?)`, chatID, createdAt); err != nil {
		return domain.ChatIdentity{}, err
	}
	return r.GetChatIdentity(ctx, chatID)
}

// SetVerificationCode overwrites any previously issued code.
func (r Repo) SetVerificationCode(ctx context.Context, chatID int64, code string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE chat_identities SET verification_code=? WHERE chat_id=?`, code, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetChatIdentityByCode(ctx context.Context, code string) (domain.ChatIdentity, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT chat_id,user_id,verification_code,created_at FROM chat_identities WHERE verification_code=? LIMIT 1`, code)
	return scanChatIdentity(row.Scan)
}

// LinkChatIdentity sets the user link and clears the pending code in one step.
func (r Repo) LinkChatIdentity(ctx context.Context, tx *sql.Tx, chatID int64, userID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE chat_identities SET user_id=?, verification_code=NULL WHERE chat_id=?`, userID, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListChatIdentities(ctx context.Context) ([]domain.ChatIdentity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT chat_id,user_id,verification_code,created_at FROM chat_identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatIdentity
	for rows.Next() {
		ci, err := scanChatIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ci)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
