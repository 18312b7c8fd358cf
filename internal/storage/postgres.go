package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"drowsyguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/drowsyguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS status_mirror (
			instance_id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL,
			status TEXT NOT NULL,
			alert_active BOOLEAN NOT NULL,
			ear DOUBLE PRECISION NOT NULL,
			closed_frames INTEGER NOT NULL,
			missing_faces INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	})
}

func (s *postgresStore) SaveStatus(ctx context.Context, rec StatusRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_mirror (instance_id, seq, status, alert_active, ear, closed_frames, missing_faces, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id) DO UPDATE SET
			seq = EXCLUDED.seq,
			status = EXCLUDED.status,
			alert_active = EXCLUDED.alert_active,
			ear = EXCLUDED.ear,
			closed_frames = EXCLUDED.closed_frames,
			missing_faces = EXCLUDED.missing_faces,
			updated_at = EXCLUDED.updated_at`,
		rec.InstanceID,
		int64(rec.Seq),
		string(rec.Status),
		rec.AlertActive,
		rec.EAR,
		rec.ClosedFrames,
		rec.MissingFaces,
		rec.UpdatedAt.UTC(),
	)
	return err
}

func (s *postgresStore) LoadStatus(ctx context.Context, instanceID string) (StatusRecord, bool, error) {
	if s.db == nil {
		return StatusRecord{}, false, nil
	}
	var (
		rec    StatusRecord
		seq    int64
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT instance_id, seq, status, alert_active, ear, closed_frames, missing_faces, updated_at
		FROM status_mirror WHERE instance_id = $1`, instanceID,
	).Scan(&rec.InstanceID, &seq, &status, &rec.AlertActive, &rec.EAR, &rec.ClosedFrames, &rec.MissingFaces, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusRecord{}, false, nil
	}
	if err != nil {
		return StatusRecord{}, false, err
	}
	rec.Seq = uint64(seq)
	rec.Status = model.Status(status)
	return rec, true, nil
}
