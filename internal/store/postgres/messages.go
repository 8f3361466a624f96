package postgres

import (
	"context"
	"strings"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Store) CreateDirectMessage(ctx context.Context, sender, receiver, content string) (*models.DirectMessage, error) {
	m := &models.DirectMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: s.clock.Now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO direct_messages (id, sender, receiver, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, m.ID, m.Sender, m.Receiver, m.Content, m.Timestamp)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fail("store.CreateDirectMessage", err)
	}
	return m, nil
}

func scanDirect(row pgx.Row) (models.DirectMessage, error) {
	var m models.DirectMessage
	err := row.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Timestamp)
	return m, err
}

func (s *Store) GetDirectMessage(ctx context.Context, id string) (*models.DirectMessage, error) {
	m, err := scanDirect(s.pool.QueryRow(ctx,
		`SELECT id, sender, receiver, content, created_at FROM direct_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrMessageNotFound
		}
		return nil, fail("store.GetDirectMessage", err)
	}
	return &m, nil
}

func (s *Store) DeleteDirectMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM direct_messages WHERE id = $1`, id)
	if err != nil {
		return fail("store.DeleteDirectMessage", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

func (s *Store) ListDirectMessages(ctx context.Context, a, b string) ([]models.DirectMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, receiver, content, created_at FROM direct_messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY created_at, id`, a, b)
	if err != nil {
		return nil, fail("store.ListDirectMessages", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DirectMessage, error) {
		return scanDirect(row)
	})
	if err != nil {
		return nil, fail("store.ListDirectMessages", err)
	}
	return msgs, nil
}

func (s *Store) CreateGroupMessage(ctx context.Context, groupID, sender, content string) (*models.GroupMessage, error) {
	m := &models.GroupMessage{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Sender:    sender,
		Content:   content,
		Timestamp: s.clock.Now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_messages (id, group_id, sender, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, m.ID, m.GroupID, m.Sender, m.Content, m.Timestamp)
	if err != nil {
		if isForeignKeyViolation(err) {
			if _, constraint := pgCode(err); strings.Contains(constraint, "group_id") {
				return nil, apperr.ErrGroupNotFound
			}
			return nil, apperr.ErrUserNotFound
		}
		return nil, fail("store.CreateGroupMessage", err)
	}
	return m, nil
}

func (s *Store) ListGroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	if err := groupExists(ctx, s.pool, groupID); err != nil {
		return nil, fail("store.ListGroupMessages", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, sender, content, created_at FROM group_messages
		WHERE group_id = $1 ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fail("store.ListGroupMessages", err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.GroupMessage])
	if err != nil {
		return nil, fail("store.ListGroupMessages", err)
	}
	return msgs, nil
}
