package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) CreateChatSession(ctx context.Context, userID int64, title string) (ChatSession, error) {
	now := s.now()
	sqlStr, args, err := s.sql.Insert("chat_sessions").
		Columns("user_id", "title", "created_at", "updated_at").
		Values(userID, title, now, now).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return ChatSession{}, fmt.Errorf("build create chat session query: %w", err)
	}
	out := ChatSession{UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID); err != nil {
		return ChatSession{}, fmt.Errorf("create chat session: %w", err)
	}
	return out, nil
}

func (s *Store) GetChatSession(ctx context.Context, id int64) (ChatSession, error) {
	sqlStr, args, err := s.sql.Select("id", "user_id", "title", "created_at", "updated_at").
		From("chat_sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return ChatSession{}, fmt.Errorf("build get chat session query: %w", err)
	}
	var c ChatSession
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatSession{}, ErrNotFound
		}
		return ChatSession{}, fmt.Errorf("get chat session: %w", err)
	}
	return c, nil
}

func (s *Store) ListChatSessions(ctx context.Context, userID int64) ([]ChatSession, error) {
	sqlStr, args, err := s.sql.Select("id", "user_id", "title", "created_at", "updated_at").
		From("chat_sessions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("updated_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chat sessions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	out := make([]ChatSession, 0)
	for rows.Next() {
		var c ChatSession
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat session rows: %w", err)
	}
	return out, nil
}

// AppendMessage inserts a message and bumps the parent session's updated_at
// in one transaction.
func (s *Store) AppendMessage(ctx context.Context, chatID int64, role, content string) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}
	var out Message
	err := s.withTx(ctx, func(q queryer) error {
		var err error
		out, err = s.insertMessage(ctx, q, chatID, role, content, s.now())
		return err
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}

// StartChatSession creates a session together with its first user message,
// so a failed insert never leaves an empty conversation behind.
func (s *Store) StartChatSession(ctx context.Context, userID int64, title, content string) (ChatSession, Message, error) {
	now := s.now()
	session := ChatSession{UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	var msg Message

	err := s.withTx(ctx, func(q queryer) error {
		sqlStr, args, err := s.sql.Insert("chat_sessions").
			Columns("user_id", "title", "created_at", "updated_at").
			Values(userID, title, now, now).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build create chat session query: %w", err)
		}
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&session.ID); err != nil {
			return fmt.Errorf("create chat session: %w", err)
		}
		msg, err = s.insertMessage(ctx, q, session.ID, RoleUser, content, now)
		return err
	})
	if err != nil {
		return ChatSession{}, Message{}, err
	}
	return session, msg, nil
}

func (s *Store) insertMessage(ctx context.Context, q queryer, chatID int64, role, content string, now time.Time) (Message, error) {
	sqlStr, args, err := s.sql.Update("chat_sessions").
		Set("updated_at", now).
		Where(sq.Eq{"id": chatID}).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build touch chat session query: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Message{}, fmt.Errorf("touch chat session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Message{}, ErrNotFound
	}

	out := Message{ChatID: chatID, Role: role, Content: content, CreatedAt: now}
	sqlStr, args, err = s.sql.Insert("chat_messages").
		Columns("chat_id", "content", "role", "created_at").
		Values(chatID, content, role, now).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build insert message query: %w", err)
	}
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	sqlStr, args, err := s.sql.Select("id", "chat_id", "content", "role", "created_at").
		From("chat_messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
