package postgres

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const userColumns = `id, username, password_hash, bio, nickname, avatar, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := new(models.User)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Bio, &u.Nickname, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	now := s.clock.Now()
	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+userColumns,
		uuid.NewString(), username, passwordHash, now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.ErrUsernameTaken
		}
		return nil, fail("store.CreateUser", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, fail("store.GetUser", err)
	}
	return u, nil
}

func (s *Store) UpdateProfile(ctx context.Context, username string, update models.ProfileUpdate) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users
		SET bio = COALESCE($2, bio), nickname = COALESCE($3, nickname), updated_at = $4
		WHERE username = $1
		RETURNING `+userColumns,
		username, update.Bio, update.Nickname, s.clock.Now()))
	if err != nil {
		return nil, fail("store.UpdateProfile", err)
	}
	return u, nil
}

func (s *Store) SetAvatar(ctx context.Context, username, path string) (string, error) {
	var prev string
	err := s.inTx(ctx, "store.SetAvatar", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT avatar FROM users WHERE username = $1 FOR UPDATE`, username).Scan(&prev)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET avatar = $2, updated_at = $3 WHERE username = $1`,
			username, path, s.clock.Now())
		return err
	})
	return prev, err
}

// DeleteUser settles every group the user belongs to, then relies on the
// ON DELETE CASCADE foreign keys for friendships, requests, messages, posts
// and memberships.
func (s *Store) DeleteUser(ctx context.Context, username string) (*models.User, error) {
	var deleted *models.User
	err := s.inTx(ctx, "store.DeleteUser", func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE username = $1 FOR UPDATE`, username))
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT g.id, g.owner FROM groups g
			JOIN group_members gm ON gm.group_id = g.id
			WHERE gm.username = $1
			FOR UPDATE OF g`, username)
		if err != nil {
			return err
		}
		type membership struct{ id, owner string }
		groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (membership, error) {
			var m membership
			err := row.Scan(&m.id, &m.owner)
			return m, err
		})
		if err != nil {
			return err
		}
		for _, g := range groups {
			if err := removeMember(ctx, tx, g.id, g.owner, username); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE username = $1`, username); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
