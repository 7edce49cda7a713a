package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRefreshTokenNotFound = user.ErrTokenNotFound

type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) Create(ctx context.Context, row user.RefreshToken) error {
	return r.prom.ObserveDB("refresh_tokens.create", func() error {
		return insertRefreshToken(ctx, r.pool, row)
	})
}

// Rotate locks the presented token row, lets check veto the rotation, then
// revokes it and inserts next in a single transaction. Locking prevents two
// concurrent refreshes from both succeeding with the same token.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, oldID string, next user.RefreshToken, check func(user.RefreshToken) error) error {
	return r.prom.ObserveDB("refresh_tokens.rotate", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}

		defer func() { _ = tx.Rollback(ctx) }()

		old, err := getForUpdate(ctx, tx, oldID)
		if err != nil {
			return err
		}

		if err := check(old); err != nil {
			return err
		}

		if err := revoke(ctx, tx, old.ID, &next.ID); err != nil {
			return err
		}

		if err := insertRefreshToken(ctx, tx, next); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// Revoke is idempotent: revoking a revoked or unknown token is not an error.
func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return r.prom.ObserveDB("refresh_tokens.revoke", func() error {
		return revoke(ctx, r.pool, id, nil)
	})
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.prom.ObserveDB("refresh_tokens.revoke_all", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)

		return err
	})
}

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertRefreshToken(ctx context.Context, db dbtx, row user.RefreshToken) error {
	_, err := db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
		row.ID, row.UserID, row.TokenHash, row.ExpiresAt, row.RevokedAt, row.ReplacedBy, row.CreatedAt,
	)
	return err
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (user.RefreshToken, error) {
	var row user.RefreshToken

	err := tx.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_tokens
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&row.ID,
		&row.UserID,
		&row.TokenHash,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBy,
		&row.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.RefreshToken{}, ErrRefreshTokenNotFound
		}

		return user.RefreshToken{}, err
	}

	return row, nil
}

func revoke(ctx context.Context, db dbtx, id string, replacedBy *string) error {
	_, err := db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = COALESCE(revoked_at, NOW()), replaced_by = COALESCE($2, replaced_by)
		WHERE id = $1
	`, id, replacedBy)

	return err
}
