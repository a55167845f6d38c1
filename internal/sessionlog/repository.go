package sessionlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/watchparty/backend/internal/models"
)

// Repository handles party_attendance.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a session joins a party.
func (r *Repository) LogJoin(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO party_attendance (party_id, party_name, session_id, user_id, display_name, joined_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		e.PartyID, e.PartyName, e.SessionID, e.UserID, e.DisplayName)
	return err
}

// LogLeave closes the most recent open row for this session in this party.
func (r *Repository) LogLeave(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE party_attendance a SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - a.joined_at))::BIGINT)
		 FROM (SELECT id FROM party_attendance WHERE party_id = $1 AND session_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		e.PartyID, e.SessionID)
	return err
}

// CloseOpen marks every open row as left. Live parties do not survive a restart.
func (r *Repository) CloseOpen(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE party_attendance SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - joined_at))::BIGINT)
		 WHERE left_at IS NULL`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByParty returns attendance rows for a party, newest first.
func (r *Repository) ListByParty(ctx context.Context, partyID int64, limit int) ([]models.Attendance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, party_id, party_name, session_id, user_id, display_name, joined_at, left_at, watch_seconds
		 FROM party_attendance WHERE party_id = $1 ORDER BY joined_at DESC LIMIT $2`,
		partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attendance
	for rows.Next() {
		var row models.Attendance
		if err := rows.Scan(&row.ID, &row.PartyID, &row.PartyName, &row.SessionID, &row.UserID,
			&row.DisplayName, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
