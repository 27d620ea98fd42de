package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) CreateGeneratedImage(ctx context.Context, img GeneratedImage) (GeneratedImage, error) {
	img.CreatedAt = s.now()
	sqlStr, args, err := s.sql.Insert("generated_images").
		Columns("user_id", "prompt", "image_url", "created_at").
		Values(img.UserID, img.Prompt, img.ImageURL, img.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("build create generated image query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&img.ID); err != nil {
		return GeneratedImage{}, fmt.Errorf("create generated image: %w", err)
	}
	return img, nil
}

func (s *Store) ListGeneratedImages(ctx context.Context, userID int64) ([]GeneratedImage, error) {
	sqlStr, args, err := s.sql.Select("id", "user_id", "prompt", "image_url", "created_at").
		From("generated_images").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list generated images query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	defer rows.Close()

	out := make([]GeneratedImage, 0)
	for rows.Next() {
		var img GeneratedImage
		if err := rows.Scan(&img.ID, &img.UserID, &img.Prompt, &img.ImageURL, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image row: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated image rows: %w", err)
	}
	return out, nil
}

var gameColumns = []string{"id", "user_id", "prompt", "title", "description", "game_code", "game_url", "thumbnail_url", "created_at"}

func (s *Store) CreateGeneratedGame(ctx context.Context, g GeneratedGame) (GeneratedGame, error) {
	g.CreatedAt = s.now()
	sqlStr, args, err := s.sql.Insert("generated_games").
		Columns(gameColumns[1:]...).
		Values(g.UserID, g.Prompt, g.Title, g.Description, g.GameCode, g.GameURL, g.ThumbnailURL, g.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return GeneratedGame{}, fmt.Errorf("build create generated game query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&g.ID); err != nil {
		return GeneratedGame{}, fmt.Errorf("create generated game: %w", err)
	}
	return g, nil
}

func (s *Store) GetGeneratedGame(ctx context.Context, id int64) (GeneratedGame, error) {
	sqlStr, args, err := s.sql.Select(gameColumns...).From("generated_games").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return GeneratedGame{}, fmt.Errorf("build get generated game query: %w", err)
	}
	var g GeneratedGame
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&g.ID, &g.UserID, &g.Prompt, &g.Title, &g.Description, &g.GameCode, &g.GameURL, &g.ThumbnailURL, &g.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GeneratedGame{}, ErrNotFound
		}
		return GeneratedGame{}, fmt.Errorf("get generated game: %w", err)
	}
	return g, nil
}

func (s *Store) ListGeneratedGames(ctx context.Context, userID int64) ([]GeneratedGame, error) {
	sqlStr, args, err := s.sql.Select(gameColumns...).
		From("generated_games").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list generated games query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list generated games: %w", err)
	}
	defer rows.Close()

	out := make([]GeneratedGame, 0)
	for rows.Next() {
		var g GeneratedGame
		if err := rows.Scan(&g.ID, &g.UserID, &g.Prompt, &g.Title, &g.Description, &g.GameCode, &g.GameURL, &g.ThumbnailURL, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated game row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated game rows: %w", err)
	}
	return out, nil
}

var musicColumns = []string{"id", "user_id", "prompt", "title", "description", "music_url", "duration", "created_at"}

func (s *Store) CreateGeneratedMusic(ctx context.Context, m GeneratedMusic) (GeneratedMusic, error) {
	m.CreatedAt = s.now()
	sqlStr, args, err := s.sql.Insert("generated_music").
		Columns(musicColumns[1:]...).
		Values(m.UserID, m.Prompt, m.Title, m.Description, m.MusicURL, m.Duration, m.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return GeneratedMusic{}, fmt.Errorf("build create generated music query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&m.ID); err != nil {
		return GeneratedMusic{}, fmt.Errorf("create generated music: %w", err)
	}
	return m, nil
}

func (s *Store) GetGeneratedMusic(ctx context.Context, id int64) (GeneratedMusic, error) {
	sqlStr, args, err := s.sql.Select(musicColumns...).From("generated_music").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return GeneratedMusic{}, fmt.Errorf("build get generated music query: %w", err)
	}
	var m GeneratedMusic
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&m.ID, &m.UserID, &m.Prompt, &m.Title, &m.Description, &m.MusicURL, &m.Duration, &m.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GeneratedMusic{}, ErrNotFound
		}
		return GeneratedMusic{}, fmt.Errorf("get generated music: %w", err)
	}
	return m, nil
}

func (s *Store) ListGeneratedMusic(ctx context.Context, userID int64) ([]GeneratedMusic, error) {
	sqlStr, args, err := s.sql.Select(musicColumns...).
		From("generated_music").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list generated music query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list generated music: %w", err)
	}
	defer rows.Close()

	out := make([]GeneratedMusic, 0)
	for rows.Next() {
		var m GeneratedMusic
		if err := rows.Scan(&m.ID, &m.UserID, &m.Prompt, &m.Title, &m.Description, &m.MusicURL, &m.Duration, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated music row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated music rows: %w", err)
	}
	return out, nil
}
