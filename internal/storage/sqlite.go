package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"drowsyguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:drowsyguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS status_mirror (
			instance_id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			alert_active INTEGER NOT NULL,
			ear REAL NOT NULL,
			closed_frames INTEGER NOT NULL,
			missing_faces INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	})
}

func (s *sqliteStore) SaveStatus(ctx context.Context, rec StatusRecord) error {
	if s.db == nil {
		return nil
	}
	alert := 0
	if rec.AlertActive {
		alert = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_mirror (instance_id, seq, status, alert_active, ear, closed_frames, missing_faces, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			seq = excluded.seq,
			status = excluded.status,
			alert_active = excluded.alert_active,
			ear = excluded.ear,
			closed_frames = excluded.closed_frames,
			missing_faces = excluded.missing_faces,
			updated_at = excluded.updated_at`,
		rec.InstanceID,
		int64(rec.Seq),
		string(rec.Status),
		alert,
		rec.EAR,
		rec.ClosedFrames,
		rec.MissingFaces,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadStatus(ctx context.Context, instanceID string) (StatusRecord, bool, error) {
	if s.db == nil {
		return StatusRecord{}, false, nil
	}
	var (
		rec     StatusRecord
		seq     int64
		status  string
		alert   int
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT instance_id, seq, status, alert_active, ear, closed_frames, missing_faces, updated_at
		FROM status_mirror WHERE instance_id = ?`, instanceID,
	).Scan(&rec.InstanceID, &seq, &status, &alert, &rec.EAR, &rec.ClosedFrames, &rec.MissingFaces, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusRecord{}, false, nil
	}
	if err != nil {
		return StatusRecord{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return StatusRecord{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	rec.Seq = uint64(seq)
	rec.Status = model.Status(status)
	rec.AlertActive = alert != 0
	rec.UpdatedAt = ts
	return rec, true, nil
}
