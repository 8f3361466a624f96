package postgres

import (
	"context"
	"time"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friendships WHERE user_a = $1 AND user_b = $2)`, a, b).Scan(&ok)
	if err != nil {
		return false, fail("store.AreFriends", err)
	}
	return ok, nil
}

func insertFriendship(ctx context.Context, tx pgx.Tx, a, b string, at time.Time) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	tag, err := tx.Exec(ctx, `
		INSERT INTO friendships (user_a, user_b, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_a, user_b) DO NOTHING`, a, b, at)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM friend_requests
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)`, a, b); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AddFriend(ctx context.Context, a, b string) error {
	if a == b {
		return apperr.ErrSelfFriend
	}
	return s.inTx(ctx, "store.AddFriend", func(tx pgx.Tx) error {
		if err := usersExist(ctx, tx, a, b); err != nil {
			return err
		}
		created, err := insertFriendship(ctx, tx, a, b, s.clock.Now())
		if err != nil {
			return err
		}
		if !created {
			return apperr.ErrAlreadyFriends
		}
		return nil
	})
}

func (s *Store) RemoveFriend(ctx context.Context, a, b string) error {
	a, b = models.CanonicalPair(a, b)
	tag, err := s.pool.Exec(ctx, `DELETE FROM friendships WHERE user_a = $1 AND user_b = $2`, a, b)
	if err != nil {
		return fail("store.RemoveFriend", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFriends
	}
	return nil
}

func (s *Store) ListFriends(ctx context.Context, username string) ([]models.Friend, error) {
	if err := usersExist(ctx, s.pool, username); err != nil {
		return nil, fail("store.ListFriends", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.bio, u.nickname, u.avatar, u.created_at,
			(SELECT MAX(m.created_at) FROM direct_messages m
			 WHERE (m.sender = $1 AND m.receiver = u.username)
			    OR (m.sender = u.username AND m.receiver = $1)) AS last_message_at
		FROM friendships f
		JOIN users u ON u.username = CASE WHEN f.user_a = $1 THEN f.user_b ELSE f.user_a END
		WHERE f.user_a = $1 OR f.user_b = $1
		ORDER BY f.created_at, u.username`, username)
	if err != nil {
		return nil, fail("store.ListFriends", err)
	}
	friends, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Friend, error) {
		var (
			u    models.User
			last *time.Time
		)
		err := row.Scan(&u.ID, &u.Username, &u.Bio, &u.Nickname, &u.Avatar, &u.CreatedAt, &last)
		return models.Friend{UserResponse: u.ToResponse(), LastMessageTimestamp: last}, err
	})
	if err != nil {
		return nil, fail("store.ListFriends", err)
	}
	return friends, nil
}

func (s *Store) SendFriendRequest(ctx context.Context, sender, receiver string) error {
	if sender == receiver {
		return apperr.ErrSelfFriend
	}
	return s.inTx(ctx, "store.SendFriendRequest", func(tx pgx.Tx) error {
		if err := usersExist(ctx, tx, sender, receiver); err != nil {
			return err
		}

		a, b := models.CanonicalPair(sender, receiver)
		var friends, duplicate, reverse bool
		err := tx.QueryRow(ctx, `
			SELECT
				EXISTS(SELECT 1 FROM friendships WHERE user_a = $1 AND user_b = $2),
				EXISTS(SELECT 1 FROM friend_requests WHERE sender = $3 AND receiver = $4),
				EXISTS(SELECT 1 FROM friend_requests WHERE sender = $4 AND receiver = $3)`,
			a, b, sender, receiver).Scan(&friends, &duplicate, &reverse)
		if err != nil {
			return err
		}
		switch {
		case friends:
			return apperr.ErrAlreadyFriends
		case duplicate:
			return apperr.ErrDuplicateRequest
		case reverse:
			return apperr.ErrReverseRequestExists
		}

		_, err = tx.Exec(ctx, `INSERT INTO friend_requests (sender, receiver, created_at) VALUES ($1, $2, $3)`,
			sender, receiver, s.clock.Now())
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateRequest
		}
		return err
	})
}

func (s *Store) AcceptFriendRequest(ctx context.Context, sender, receiver string) error {
	return s.inTx(ctx, "store.AcceptFriendRequest", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE sender = $1 AND receiver = $2`, sender, receiver)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrFriendRequestNotFound
		}
		_, err = insertFriendship(ctx, tx, sender, receiver, s.clock.Now())
		return err
	})
}

func (s *Store) RejectFriendRequest(ctx context.Context, sender, receiver string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM friend_requests WHERE sender = $1 AND receiver = $2`, sender, receiver)
	if err != nil {
		return fail("store.RejectFriendRequest", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrFriendRequestNotFound
	}
	return nil
}

func (s *Store) ListFriendRequests(ctx context.Context, username string) ([]models.FriendRequest, error) {
	if err := usersExist(ctx, s.pool, username); err != nil {
		return nil, fail("store.ListFriendRequests", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sender, receiver, created_at FROM friend_requests
		WHERE receiver = $1 ORDER BY created_at`, username)
	if err != nil {
		return nil, fail("store.ListFriendRequests", err)
	}
	reqs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.FriendRequest])
	if err != nil {
		return nil, fail("store.ListFriendRequests", err)
	}
	return reqs, nil
}
