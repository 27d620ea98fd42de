package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) CreateFileUpload(ctx context.Context, f FileUpload) (FileUpload, error) {
	f.CreatedAt = s.now()
	sqlStr, args, err := s.sql.Insert("file_uploads").
		Columns("user_id", "filename", "file_type", "file_path", "created_at").
		Values(f.UserID, f.Filename, f.FileType, f.FilePath, f.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return FileUpload{}, fmt.Errorf("build create file upload query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&f.ID); err != nil {
		return FileUpload{}, fmt.Errorf("create file upload: %w", err)
	}
	return f, nil
}

func (s *Store) ListFileUploads(ctx context.Context, userID int64) ([]FileUpload, error) {
	sqlStr, args, err := s.sql.Select("id", "user_id", "filename", "file_type", "file_path", "created_at").
		From("file_uploads").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list file uploads query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list file uploads: %w", err)
	}
	defer rows.Close()

	out := make([]FileUpload, 0)
	for rows.Next() {
		var f FileUpload
		if err := rows.Scan(&f.ID, &f.UserID, &f.Filename, &f.FileType, &f.FilePath, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file upload row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file upload rows: %w", err)
	}
	return out, nil
}

// DeleteFileUpload removes the row owned by userID and returns it so the
// caller can schedule removal of the stored object.
func (s *Store) DeleteFileUpload(ctx context.Context, userID, id int64) (FileUpload, error) {
	var f FileUpload
	err := s.withTx(ctx, func(q queryer) error {
		sqlStr, args, err := s.sql.Select("id", "user_id", "filename", "file_type", "file_path", "created_at").
			From("file_uploads").
			Where(sq.Eq{"id": id, "user_id": userID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build get file upload query: %w", err)
		}
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&f.ID, &f.UserID, &f.Filename, &f.FileType, &f.FilePath, &f.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get file upload: %w", err)
		}

		sqlStr, args, err = s.sql.Delete("file_uploads").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete file upload query: %w", err)
		}
		if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("delete file upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return FileUpload{}, err
	}
	return f, nil
}
