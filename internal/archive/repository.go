package archive

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/watchparty/backend/internal/models"
)

// ErrNotFound is returned for unknown archive ids.
var ErrNotFound = errors.New("archive not found")

// Repository handles party_archives.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an archive index repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records an archive. Re-inserting the same id is a no-op.
func (r *Repository) Insert(ctx context.Context, a *models.PartyArchive) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO party_archives (id, party_id, party_name, started_at, ended_at, message_count, s3_key, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.PartyID, a.PartyName, a.StartedAt, a.EndedAt, a.MessageCount, a.S3Key, a.SizeBytes)
	return err
}

const selectArchive = `SELECT id, party_id, party_name, started_at, ended_at, message_count, s3_key, size_bytes, archived_at FROM party_archives`

func scanArchive(row pgx.Row) (*models.PartyArchive, error) {
	var a models.PartyArchive
	if err := row.Scan(&a.ID, &a.PartyID, &a.PartyName, &a.StartedAt, &a.EndedAt,
		&a.MessageCount, &a.S3Key, &a.SizeBytes, &a.ArchivedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID returns one archive.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PartyArchive, error) {
	a, err := scanArchive(r.pool.QueryRow(ctx, selectArchive+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// List returns the most recently ended archives, optionally filtered by party name.
func (r *Repository) List(ctx context.Context, partyName string, limit int) ([]models.PartyArchive, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if partyName != "" {
		rows, err = r.pool.Query(ctx, selectArchive+` WHERE LOWER(party_name) = LOWER($1) ORDER BY ended_at DESC LIMIT $2`, partyName, limit)
	} else {
		rows, err = r.pool.Query(ctx, selectArchive+` ORDER BY ended_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PartyArchive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}
