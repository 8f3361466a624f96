package postgres

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const groupSelect = `
	SELECT g.id, g.name, g.owner, g.created_at,
		ARRAY(SELECT m.username FROM group_members m
		      WHERE m.group_id = g.id ORDER BY m.joined_at, m.username) AS members
	FROM groups g`

func scanGroup(row pgx.Row) (models.Group, error) {
	var g models.Group
	err := row.Scan(&g.ID, &g.Name, &g.Owner, &g.CreatedAt, &g.Members)
	return g, err
}

func (s *Store) CreateGroup(ctx context.Context, name, owner string, members []string) (*models.Group, error) {
	id := uuid.NewString()
	err := s.inTx(ctx, "store.CreateGroup", func(tx pgx.Tx) error {
		all := append([]string{owner}, members...)
		if err := usersExist(ctx, tx, all...); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO groups (id, name, owner, created_at) VALUES ($1, $2, $3, $4)`,
			id, name, owner, s.clock.Now()); err != nil {
			return err
		}
		// Each member gets its own tick so join order is stable for ownership handover.
		for _, m := range all {
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_members (group_id, username, joined_at) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, id, m, s.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetGroup(ctx, id)
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrGroupNotFound
		}
		return nil, fail("store.GetGroup", err)
	}
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context, username string) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx, groupSelect+`
		WHERE EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = g.id AND gm.username = $1)
		ORDER BY g.created_at`, username)
	if err != nil {
		return nil, fail("store.ListGroups", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Group, error) {
		return scanGroup(row)
	})
	if err != nil {
		return nil, fail("store.ListGroups", err)
	}
	return groups, nil
}

func groupExists(ctx context.Context, q querier, groupID string) error {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return apperr.ErrGroupNotFound
	}
	return nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, username string) error {
	if err := groupExists(ctx, s.pool, groupID); err != nil {
		return fail("store.AddGroupMember", err)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO group_members (group_id, username, joined_at) VALUES ($1, $2, $3)`,
		groupID, username, s.clock.Now())
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return apperr.ErrAlreadyMember
	case isForeignKeyViolation(err):
		return apperr.ErrUserNotFound
	default:
		return fail("store.AddGroupMember", err)
	}
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, username string) error {
	return s.inTx(ctx, "store.RemoveGroupMember", func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT owner FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		return removeMember(ctx, tx, groupID, owner, username)
	})
}

// removeMember drops username from the group. A departing owner hands the
// group to the longest-standing remaining member; an emptied group is
// deleted along with its messages.
func removeMember(ctx context.Context, tx pgx.Tx, groupID, owner, username string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND username = $2`, groupID, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrMemberNotFound
	}

	var next string
	err = tx.QueryRow(ctx, `
		SELECT username FROM group_members WHERE group_id = $1
		ORDER BY joined_at, username LIMIT 1`, groupID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
		return err
	}
	if err != nil {
		return err
	}
	if owner == username {
		_, err = tx.Exec(ctx, `UPDATE groups SET owner = $2 WHERE id = $1`, groupID, next)
	}
	return err
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, username string) (bool, error) {
	var exists, member bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1),
		       EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND username = $2)`,
		groupID, username).Scan(&exists, &member)
	if err != nil {
		return false, fail("store.IsGroupMember", err)
	}
	if !exists {
		return false, apperr.ErrGroupNotFound
	}
	return member, nil
}
