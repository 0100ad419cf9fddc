package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/space-symphony/credentials"
	"github.com/jrsteele09/space-symphony/credentials/sqlitestore/migrations"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

var _ credentials.Store = (*Store)(nil)

// NowTimeFunc stamps updated_at. It can be overridden in tests.
var NowTimeFunc = time.Now

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// Store keeps records in a single SQLite table, one row per application id.
// Save is a single upsert statement, which SQLite applies atomically.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, credentials.StoreError("open sqlite", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return credentials.StoreError("set goose dialect", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return credentials.StoreError("migrate", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, appID string) (*token.Record, error) {
	if err := credentials.ValidateAppID(appID); err != nil {
		return nil, err
	}

	var (
		rec          token.Record
		expiresIn    int64
		expiresAt    sql.NullString
		refreshToken sql.NullString
		scopes       string
		loginState   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, expires_in, expires_at, refresh_token, scopes, login_state
		FROM credentials WHERE app_id = ?`, appID,
	).Scan(&rec.AccessToken, &expiresIn, &expiresAt, &refreshToken, &scopes, &loginState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, credentials.StoreError("select credentials", err)
	}

	rec.ExpiresIn = token.Seconds(expiresIn)
	rec.LoginState = token.LoginState(loginState)
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, credentials.StoreError("parse expires_at", err)
		}
		rec.ExpiresAt = &t
	}
	if refreshToken.Valid {
		rt := refreshToken.String
		rec.RefreshToken = &rt
	}
	if err := json.Unmarshal([]byte(scopes), &rec.Scopes); err != nil {
		return nil, credentials.StoreError("decode scopes", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, credentials.StoreError("decode credentials", err)
	}
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, appID string, record token.Record) error {
	if err := credentials.ValidateAppID(appID); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	scopes, err := json.Marshal(record.Scopes)
	if err != nil {
		return credentials.StoreError("encode scopes", err)
	}

	var expiresAt, refreshToken sql.NullString
	if record.ExpiresAt != nil {
		expiresAt = sql.NullString{String: record.ExpiresAt.Format(time.RFC3339Nano), Valid: true}
	}
	if record.RefreshToken != nil {
		refreshToken = sql.NullString{String: *record.RefreshToken, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (app_id, access_token, expires_in, expires_at, refresh_token, scopes, login_state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			access_token  = excluded.access_token,
			expires_in    = excluded.expires_in,
			expires_at    = excluded.expires_at,
			refresh_token = excluded.refresh_token,
			scopes        = excluded.scopes,
			login_state   = excluded.login_state,
			updated_at    = excluded.updated_at
	`, appID, record.AccessToken, int64(record.ExpiresIn), expiresAt, refreshToken, string(scopes),
		string(record.LoginState), NowTimeFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return credentials.StoreError("upsert credentials", err)
	}
	return nil
}
