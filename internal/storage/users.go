package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var userColumns = []string{
	"id", "firebase_id", "email", "username", "display_name", "bot_name",
	"is_premium", "premium_expires_at", "image_generation_count", "last_image_generation_reset",
	"preferred_language", "is_owner", "paypal_email", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var expiresAt, lastReset sql.NullTime
	var paypal sql.NullString
	if err := row.Scan(
		&u.ID,
		&u.FirebaseID,
		&u.Email,
		&u.Username,
		&u.DisplayName,
		&u.BotName,
		&u.IsPremium,
		&expiresAt,
		&u.ImageGenerationCount,
		&lastReset,
		&u.PreferredLanguage,
		&u.IsOwner,
		&paypal,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		u.PremiumExpiresAt = &t
	}
	if lastReset.Valid {
		t := lastReset.Time.UTC()
		u.LastImageGenerationReset = &t
	}
	if paypal.Valid {
		u.EncPaypalEmail = &paypal.String
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (User, error) {
	return s.getUser(ctx, s.db, sq.Eq{"id": id})
}

func (s *Store) GetUserByFirebaseID(ctx context.Context, firebaseID string) (User, error) {
	return s.getUser(ctx, s.db, sq.Eq{"firebase_id": firebaseID})
}

func (s *Store) getUser(ctx context.Context, q queryer, where sq.Sqlizer) (User, error) {
	sqlStr, args, err := s.sql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}
	u, err := scanUser(q.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts u unless a row with the same firebase id exists. The
// returned bool reports whether a new row was written.
func (s *Store) CreateUser(ctx context.Context, u User) (User, bool, error) {
	if strings.TrimSpace(u.FirebaseID) == "" {
		return User{}, false, fmt.Errorf("firebase id is empty")
	}
	if u.BotName == "" {
		u.BotName = DefaultBotName
	}
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = LanguageEnglish
	}
	now := s.now()

	q := s.sql.Insert("users").
		Columns("firebase_id", "email", "username", "display_name", "bot_name", "is_premium",
			"image_generation_count", "preferred_language", "is_owner", "created_at", "updated_at").
		Values(u.FirebaseID, u.Email, u.Username, u.DisplayName, u.BotName, false,
			0, u.PreferredLanguage, u.IsOwner, now, now).
		Suffix("ON CONFLICT(firebase_id) DO NOTHING RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, false, fmt.Errorf("build create user query: %w", err)
	}
	var id int64
	created := true
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return User{}, false, fmt.Errorf("create user: %w", err)
		}
		created = false
	}

	out, err := s.GetUserByFirebaseID(ctx, u.FirebaseID)
	if err != nil {
		return User{}, false, err
	}
	return out, created, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, patch UserPatch) (User, error) {
	set := map[string]any{"updated_at": s.now()}
	if patch.DisplayName != nil {
		set["display_name"] = *patch.DisplayName
	}
	if patch.BotName != nil {
		set["bot_name"] = *patch.BotName
	}
	if patch.PreferredLanguage != nil {
		set["preferred_language"] = *patch.PreferredLanguage
	}
	if patch.EncPaypalEmail != nil {
		set["paypal_email"] = *patch.EncPaypalEmail
	}
	if err := s.updateUser(ctx, s.db, id, set); err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, id)
}

// SetPremium flips the premium flag on. A nil expiresAt means the plan never
// expires.
func (s *Store) SetPremium(ctx context.Context, id int64, expiresAt *time.Time) (User, error) {
	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}
	if err := s.updateUser(ctx, s.db, id, map[string]any{
		"is_premium":         true,
		"premium_expires_at": expires,
		"updated_at":         s.now(),
	}); err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, id)
}

// MarkOwner sets is_owner and reports whether the flag changed.
func (s *Store) MarkOwner(ctx context.Context, id int64) (bool, error) {
	sqlStr, args, err := s.sql.Update("users").
		Set("is_owner", true).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "is_owner": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark owner query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("mark owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark owner rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) updateUser(ctx context.Context, q queryer, id int64, set map[string]any) error {
	sqlStr, args, err := s.sql.Update("users").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update user query: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeImageQuota takes one unit of the user's daily image allowance.
//
// When reset is true the counter is zeroed first, but only if the stored reset
// stamp is still missing or older than the start of now's day, so concurrent
// callers reset at most once. The increment is a conditional UPDATE guarded by
// limit; zero affected rows means the allowance is exhausted and nothing was
// written by this step.
func (s *Store) ConsumeImageQuota(ctx context.Context, userID int64, limit int, reset bool, now time.Time) (count int, allowed bool, err error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	err = s.withTx(ctx, func(q queryer) error {
		if reset {
			sqlStr, args, err := s.sql.Update("users").
				Set("image_generation_count", 0).
				Set("last_image_generation_reset", now).
				Set("updated_at", now).
				Where(sq.Eq{"id": userID}).
				Where(sq.Or{
					sq.Eq{"last_image_generation_reset": nil},
					sq.Lt{"last_image_generation_reset": dayStart},
				}).
				ToSql()
			if err != nil {
				return fmt.Errorf("build quota reset query: %w", err)
			}
			if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
				return fmt.Errorf("reset image quota: %w", err)
			}
		}

		sqlStr, args, err := s.sql.Update("users").
			Set("image_generation_count", sq.Expr("image_generation_count + 1")).
			Where(sq.Eq{"id": userID}).
			Where(sq.Lt{"image_generation_count": limit}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build quota consume query: %w", err)
		}
		res, err := q.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return fmt.Errorf("consume image quota: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume image quota rows: %w", err)
		}
		allowed = n > 0

		sqlStr, args, err = s.sql.Select("image_generation_count").From("users").Where(sq.Eq{"id": userID}).ToSql()
		if err != nil {
			return fmt.Errorf("build quota count query: %w", err)
		}
		if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read image quota: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, allowed, nil
}

// RefundImageQuota gives back one unit taken by ConsumeImageQuota.
func (s *Store) RefundImageQuota(ctx context.Context, userID int64) error {
	sqlStr, args, err := s.sql.Update("users").
		Set("image_generation_count", sq.Expr("image_generation_count - 1")).
		Where(sq.Eq{"id": userID}).
		Where(sq.Gt{"image_generation_count": 0}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build quota refund query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("refund image quota: %w", err)
	}
	return nil
}
