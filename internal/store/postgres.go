package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/DemoSouls393/learnhub-connect-da0ede4f-sub000/internal/domain"
)

// Postgres is the production Store, backed by the classroom database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var s domain.Session
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, host_id, status, created_at, started_at, ended_at
		FROM live_sessions WHERE id = $1`, string(id))
	err := row.Scan(&s.ID, &s.Title, &s.HostID, &s.Status, &s.CreatedAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

func (p *Postgres) UpdateSessionStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus, ts Timestamps) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE live_sessions
		SET status = $2,
		    started_at = COALESCE($3, started_at),
		    ended_at   = COALESCE($4, ended_at)
		WHERE id = $1`, string(id), string(status), ts.StartedAt, ts.EndedAt)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *Postgres) ListParticipants(ctx context.Context, id domain.SessionID) ([]domain.Participant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, display_name, avatar_url, role
		FROM session_participants
		WHERE session_id = $1 AND left_at IS NULL`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var pt domain.Participant
		var avatar *string
		if err := rows.Scan(&pt.ID, &pt.Name, &avatar, &pt.Role); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if avatar != nil {
			pt.AvatarURL = *avatar
		}
		pt.Conn = domain.ConnConnected
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordParticipantJoin(ctx context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_participants (session_id, user_id, joined_at, left_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET joined_at = $3, left_at = NULL`, string(id), string(user), at)
	if err != nil {
		return fmt.Errorf("record join %s/%s: %w", id, user, err)
	}
	return nil
}

func (p *Postgres) RecordParticipantLeave(ctx context.Context, id domain.SessionID, user domain.ParticipantID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE session_participants SET left_at = $3
		WHERE session_id = $1 AND user_id = $2`, string(id), string(user), at)
	if err != nil {
		return fmt.Errorf("record leave %s/%s: %w", id, user, err)
	}
	return nil
}
