package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"drowsyguard/internal/config"
	"drowsyguard/internal/model"
)

// StatusRecord mirrors the latest published status of one instance. Saving
// overwrites the previous row; no history is kept.
type StatusRecord struct {
	InstanceID   string
	Seq          uint64
	Status       model.Status
	AlertActive  bool
	EAR          float64
	ClosedFrames int
	MissingFaces int
	UpdatedAt    time.Time
}

func RecordFromSnapshot(snap model.StatusSnapshot) StatusRecord {
	return StatusRecord{
		InstanceID:   snap.InstanceID,
		Seq:          snap.Seq,
		Status:       snap.Status,
		AlertActive:  snap.AlertActive,
		EAR:          snap.EAR,
		ClosedFrames: snap.ClosedFrames,
		MissingFaces: snap.MissingFaces,
		UpdatedAt:    snap.PublishedAt,
	}
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveStatus(ctx context.Context, rec StatusRecord) error
	LoadStatus(ctx context.Context, instanceID string) (StatusRecord, bool, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
