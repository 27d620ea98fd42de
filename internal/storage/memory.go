package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) CountMemoryItems(ctx context.Context, userID int64) (int, error) {
	return s.countMemoryItems(ctx, s.db, userID)
}

func (s *Store) countMemoryItems(ctx context.Context, q queryer, userID int64) (int, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").From("memory_items").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count memory items query: %w", err)
	}
	var n int
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memory items: %w", err)
	}
	return n, nil
}

// lockUser serializes per-user count-then-insert sequences on postgres. The
// sqlite pool has a single connection, so transactions there never overlap.
func (s *Store) lockUser(ctx context.Context, q queryer, userID int64) error {
	sqlStr, args, ok, err := s.lockUserQuery(userID)
	if err != nil || !ok {
		return err
	}
	var id int64
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

func (s *Store) lockUserQuery(userID int64) (string, []any, bool, error) {
	if s.driver != "postgres" {
		return "", nil, false, nil
	}
	sqlStr, args, err := s.sql.Select("id").From("users").Where(sq.Eq{"id": userID}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return "", nil, false, fmt.Errorf("build lock user query: %w", err)
	}
	return sqlStr, args, true, nil
}

// AddMemoryItem inserts a note unless the user already holds limit notes, in
// which case ErrMemoryLimit is returned.
func (s *Store) AddMemoryItem(ctx context.Context, userID int64, content string, limit int) (MemoryItem, error) {
	now := s.now()
	out := MemoryItem{UserID: userID, Content: content, CreatedAt: now}

	err := s.withTx(ctx, func(q queryer) error {
		if err := s.lockUser(ctx, q, userID); err != nil {
			return err
		}
		n, err := s.countMemoryItems(ctx, q, userID)
		if err != nil {
			return err
		}
		if n >= limit {
			return ErrMemoryLimit
		}
		sqlStr, args, err := s.sql.Insert("memory_items").
			Columns("user_id", "content", "created_at").
			Values(userID, content, now).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert memory item query: %w", err)
		}
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID); err != nil {
			return fmt.Errorf("insert memory item: %w", err)
		}
		return nil
	})
	if err != nil {
		return MemoryItem{}, err
	}
	return out, nil
}

func (s *Store) ListMemoryItems(ctx context.Context, userID int64) ([]MemoryItem, error) {
	sqlStr, args, err := s.sql.Select("id", "user_id", "content", "created_at").
		From("memory_items").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list memory items query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	defer rows.Close()

	out := make([]MemoryItem, 0)
	for rows.Next() {
		var m MemoryItem
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory item row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory item rows: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteMemoryItem(ctx context.Context, userID, id int64) error {
	sqlStr, args, err := s.sql.Delete("memory_items").Where(sq.Eq{"id": id, "user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete memory item query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete memory item: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
