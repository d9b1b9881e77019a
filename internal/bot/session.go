package bot

import (
	"context"
	"fmt"
	"time"

	"goalline/internal/domain"
	"goalline/internal/engine"
)

type sessionState int

const (
	stateChooseCategory sessionState = iota
	stateEnterTitle
	stateEnterDescription
)

// session is one chat's goal-creation dialogue. The category list is
// snapshotted at entry; input is matched against the snapshot, not the live
// table.
type session struct {
	d          *Dispatcher
	chatID     int64
	userID     string
	state      sessionState
	categories map[string]domain.Category
	category   domain.Category
	title      string
	lastActive time.Time
}

func newSession(d *Dispatcher, chatID int64, userID string, categories []domain.Category) *session {
	byTitle := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		byTitle[c.Title] = c
	}
	return &session{
		d:          d,
		chatID:     chatID,
		userID:     userID,
		state:      stateChooseCategory,
		categories: byTitle,
	}
}

// handle consumes one inbound message for this chat and reports whether the
// session is finished.
func (s *session) handle(ctx context.Context, text string) bool {
	if text == cmdCancel {
		s.d.send(ctx, s.chatID, "Goal creation cancelled.")
		return true
	}
	switch s.state {
	case stateChooseCategory:
		cat, ok := s.categories[text]
		if !ok {
			s.d.send(ctx, s.chatID, "No such category!\nEnter the category again:")
			return false
		}
		s.category = cat
		s.state = stateEnterTitle
		s.d.send(ctx, s.chatID, "Enter the goal title\nTo cancel, send /cancel")
		return false
	case stateEnterTitle:
		s.title = text
		s.state = stateEnterDescription
		s.d.send(ctx, s.chatID, "Enter the goal description\nTo cancel, send /cancel")
		return false
	case stateEnterDescription:
		s.commit(ctx, text)
		return true
	}
	return true
}

func (s *session) commit(ctx context.Context, description string) {
	g, err := s.d.Engine.CreateGoal(ctx, engine.GoalCreateOptions{
		UserID:      s.userID,
		CategoryID:  s.category.ID,
		Title:       s.title,
		Description: description,
		ActorID:     "bot",
	})
	if err != nil {
		s.d.logger().Printf("chat %d: create goal: %v", s.chatID, err)
		s.d.send(ctx, s.chatID, "Could not create the goal, try again later.")
		return
	}
	s.d.send(ctx, s.chatID, fmt.Sprintf("Goal created: #%d %s", g.ID, g.Title))
}
