package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrMemoryLimit = errors.New("memory limit reached")
)

func (s *Store) CreateFeedback(ctx context.Context, f Feedback) (Feedback, error) {
	f.CreatedAt = s.now()
	sqlStr, args, err := s.sql.Insert("feedback").
		Columns("user_id", "chat_id", "feedback_type", "message", "created_at").
		Values(f.UserID, f.ChatID, f.FeedbackType, f.Message, f.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return Feedback{}, fmt.Errorf("build create feedback query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&f.ID); err != nil {
		return Feedback{}, fmt.Errorf("create feedback: %w", err)
	}
	return f, nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("user_id", "action", "meta_json", "created_at").
		Values(e.UserID, e.Action, e.MetaJSON, s.now())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAuditActions(ctx context.Context, userID int64) ([]string, error) {
	sqlStr, args, err := s.sql.Select("action").
		From("audit_log").
		Where("user_id = ?", userID).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list audit query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit actions: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}
