package postgres

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreatePost(ctx context.Context, author, content string) (*models.Post, error) {
	p := &models.Post{ID: uuid.NewString(), Author: author, Content: content, CreatedAt: s.clock.Now()}
	_, err := s.pool.Exec(ctx, `INSERT INTO posts (id, author, content, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Author, p.Content, p.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fail("store.CreatePost", err)
	}
	return p, nil
}

func (s *Store) ListFeed(ctx context.Context, username string) ([]models.Post, error) {
	if err := usersExist(ctx, s.pool, username); err != nil {
		return nil, fail("store.ListFeed", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.author, p.content, p.created_at FROM posts p
		WHERE p.author = $1
		   OR EXISTS (SELECT 1 FROM friendships f
		              WHERE (f.user_a = $1 AND f.user_b = p.author)
		                 OR (f.user_b = $1 AND f.user_a = p.author))
		ORDER BY p.created_at DESC`, username)
	if err != nil {
		return nil, fail("store.ListFeed", err)
	}
	posts, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Post])
	if err != nil {
		return nil, fail("store.ListFeed", err)
	}
	return posts, nil
}
