// Package keychain stores per-source upstream credentials. Adapters read
// it at call time and treat an empty credential as "source disabled"; only
// the credential-acquisition flow writes to it.
package keychain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"soyosaki-backend/internal/novel"

	_ "modernc.org/sqlite"
)

// Credential is everything a source client may need to authenticate.
// Which fields are populated depends on the source: Lofter uses Cookie and
// CaptToken, Pixiv uses RefreshToken, Bilibili optionally uses Sessdata.
type Credential struct {
	Cookie       string
	RefreshToken string
	Sessdata     string
	CaptToken    string
	UpdatedAt    time.Time
}

// Empty reports whether no credential material is present at all.
func (c Credential) Empty() bool {
	return c.Cookie == "" && c.RefreshToken == "" && c.Sessdata == "" && c.CaptToken == ""
}

// Store is the read surface adapters depend on.
type Store interface {
	Get(ctx context.Context, source novel.Source) (Credential, error)
}

// Writer is the mutation surface used by the credential-acquisition flow.
type Writer interface {
	Set(ctx context.Context, source novel.Source, cred Credential) error
	Clear(ctx context.Context, source novel.Source) error
}

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	source TEXT PRIMARY KEY,
	cookie TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	sessdata TEXT NOT NULL DEFAULT '',
	capt_token TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

type SqliteStore struct {
	db *sql.DB
}

var _ Store = (*SqliteStore)(nil)
var _ Writer = (*SqliteStore)(nil)

// Open opens (and migrates) the credential database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open keychain db: %w", err)
	}
	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate keychain db: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored credential for source. A missing row is not an
// error; it comes back as an empty Credential so callers can uniformly
// short-circuit on Empty().
func (s *SqliteStore) Get(ctx context.Context, source novel.Source) (Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cookie, refresh_token, sessdata, capt_token, updated_at
		FROM credentials WHERE source = ?
	`, string(source))

	var cred Credential
	var updatedAt int64
	err := row.Scan(&cred.Cookie, &cred.RefreshToken, &cred.Sessdata, &cred.CaptToken, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credential for %s: %w", source, err)
	}
	cred.UpdatedAt = time.Unix(updatedAt, 0)
	return cred, nil
}

func (s *SqliteStore) Set(ctx context.Context, source novel.Source, cred Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (source, cookie, refresh_token, sessdata, capt_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			cookie = excluded.cookie,
			refresh_token = excluded.refresh_token,
			sessdata = excluded.sessdata,
			capt_token = excluded.capt_token,
			updated_at = excluded.updated_at
	`, string(source), cred.Cookie, cred.RefreshToken, cred.Sessdata, cred.CaptToken, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write credential for %s: %w", source, err)
	}
	return nil
}

func (s *SqliteStore) Clear(ctx context.Context, source novel.Source) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE source = ?`, string(source))
	if err != nil {
		return fmt.Errorf("clear credential for %s: %w", source, err)
	}
	return nil
}

// StaticStore serves fixed credentials from memory. Test use, and for
// wiring credentials straight from environment configuration.
type StaticStore map[novel.Source]Credential

var _ Store = StaticStore{}

func (s StaticStore) Get(_ context.Context, source novel.Source) (Credential, error) {
	return s[source], nil
}
