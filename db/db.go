// Package db provides the Postgres connection, embedded schema migrations,
// the credential blob table and the archive run log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/obs-relay/archive"
	"github.com/onnwee/obs-relay/oauth"
)

// Connect opens a Postgres connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DB_DSN is empty")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

// CredentialStore keeps one named credential blob in credential_blobs.
// It satisfies oauth.BlobStore; wrap it in oauth.SealedStore to encrypt.
type CredentialStore struct {
	DB   *sql.DB
	Name string
}

// NewCredentialStore returns a store for the named credential.
func NewCredentialStore(database *sql.DB, name string) *CredentialStore {
	return &CredentialStore{DB: database, Name: name}
}

// Load returns the blob, or oauth.ErrNoBlob when no row exists.
func (s *CredentialStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.DB.QueryRowContext(ctx, `SELECT blob FROM credential_blobs WHERE name=$1`, s.Name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNoBlob
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %q: %w", s.Name, err)
	}
	return blob, nil
}

// Save upserts the blob.
func (s *CredentialStore) Save(ctx context.Context, blob []byte) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO credential_blobs (name, blob, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET blob=EXCLUDED.blob, updated_at=NOW()`,
		s.Name, blob)
	if err != nil {
		return fmt.Errorf("save credential %q: %w", s.Name, err)
	}
	return nil
}

// RunRecord is one finished save-and-archive run.
type RunRecord struct {
	ID           int64     `json:"id"`
	RequestedAt  time.Time `json:"requested_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Outcome      string    `json:"outcome"`
	ArtifactPath string    `json:"artifact_path"`
	ArtifactSize int64     `json:"artifact_size"`
	UploadID     string    `json:"upload_id,omitempty"`
	UploadLink   string    `json:"upload_link,omitempty"`
	Deleted      bool      `json:"deleted"`
	Error        string    `json:"error,omitempty"`
}

// RecordFromRun flattens a finished pipeline run.
func RecordFromRun(r *archive.Run) RunRecord {
	rec := RunRecord{
		RequestedAt:  r.RequestedAt,
		FinishedAt:   r.FinishedAt,
		Outcome:      r.Outcome.String(),
		ArtifactPath: r.ArtifactPath,
		ArtifactSize: r.ArtifactSize,
		UploadID:     r.UploadID,
		UploadLink:   r.UploadLink,
		Deleted:      r.Deleted,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	} else if r.DeleteErr != nil {
		rec.Error = "cleanup: " + r.DeleteErr.Error()
	}
	return rec
}

// RunLog appends archive runs to archive_runs.
type RunLog struct {
	DB *sql.DB
}

// Record inserts a run.
func (l *RunLog) Record(ctx context.Context, r RunRecord) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	_, err := l.DB.ExecContext(ctx, `
		INSERT INTO archive_runs (requested_at, finished_at, outcome, artifact_path, artifact_size, upload_id, upload_link, deleted, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.RequestedAt, r.FinishedAt, r.Outcome, r.ArtifactPath, r.ArtifactSize, r.UploadID, r.UploadLink, r.Deleted, r.Error)
	if err != nil {
		return fmt.Errorf("record archive run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.DB.QueryContext(ctx, `
		SELECT id, requested_at, finished_at, outcome, artifact_path, artifact_size, upload_id, upload_link, deleted, error
		FROM archive_runs ORDER BY requested_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.RequestedAt, &r.FinishedAt, &r.Outcome, &r.ArtifactPath, &r.ArtifactSize,
			&r.UploadID, &r.UploadLink, &r.Deleted, &r.Error); err != nil {
			return nil, fmt.Errorf("scan archive run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
