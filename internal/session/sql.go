package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type sessionRow struct {
	ID           string `db:"id"`
	State        string `db:"state"`
	CodeVerifier string `db:"code_verifier"`
	RedirectURI  string `db:"redirect_uri"`
	Provider     string `db:"provider"`
	CreatedAt    int64  `db:"created_at"`
	ExpiresAt    int64  `db:"expires_at"`
	Used         int    `db:"used"`
}

func (r sessionRow) toSession() *Session {
	return &Session{
		ID:           r.ID,
		State:        r.State,
		CodeVerifier: r.CodeVerifier,
		RedirectURI:  r.RedirectURI,
		Provider:     r.Provider,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt:    time.UnixMilli(r.ExpiresAt).UTC(),
		Used:         r.Used != 0,
	}
}

const (
	insertSessionSQL = `INSERT INTO oauth_sessions
		(id, state, code_verifier, redirect_uri, provider, created_at, expires_at, used)
		VALUES (:id, :state, :code_verifier, :redirect_uri, :provider, :created_at, :expires_at, :used)`
	selectSessionSQL = `SELECT id, state, code_verifier, redirect_uri, provider, created_at, expires_at, used
		FROM oauth_sessions WHERE state = ?`
	markUsedSQL      = `UPDATE oauth_sessions SET used = 1 WHERE state = ? AND used = 0 AND expires_at > ?`
	deleteSessionSQL = `DELETE FROM oauth_sessions WHERE state = ?`
	deleteExpiredSQL = `DELETE FROM oauth_sessions WHERE expires_at <= ?`
	deleteUsedSQL    = `DELETE FROM oauth_sessions WHERE used = 1`
)

// SQLStore keeps sessions in the oauth_sessions table. Timestamps are unix
// milliseconds so the same queries run on Postgres and SQLite.
type SQLStore struct {
	db   *sqlx.DB
	opts options
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, opts: buildOptions(opts)}
}

func (s *SQLStore) Create(ctx context.Context, provider, redirectURI, codeVerifier string) (*Session, error) {
	sess, err := s.opts.newSession(provider, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}
	row := sessionRow{
		ID:           sess.ID,
		State:        sess.State,
		CodeVerifier: sess.CodeVerifier,
		RedirectURI:  sess.RedirectURI,
		Provider:     sess.Provider,
		CreatedAt:    sess.CreatedAt.UnixMilli(),
		ExpiresAt:    sess.ExpiresAt.UnixMilli(),
	}
	if _, err := s.db.NamedExecContext(ctx, insertSessionSQL, row); err != nil {
		return nil, fmt.Errorf("insert oauth session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) Get(ctx context.Context, state string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectSessionSQL), state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select oauth session: %w", err)
	}
	sess := row.toSession()
	if sess.Expired(s.opts.now()) {
		if err := s.Remove(ctx, state); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

func (s *SQLStore) MarkUsed(ctx context.Context, state string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(markUsedSQL), state, s.opts.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark oauth session used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark oauth session used: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) Remove(ctx context.Context, state string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(deleteSessionSQL), state); err != nil {
		return fmt.Errorf("delete oauth session: %w", err)
	}
	return nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context) (int64, error) {
	return s.exec(ctx, "cleanup expired oauth sessions", deleteExpiredSQL, s.opts.now().UnixMilli())
}

func (s *SQLStore) CleanupUsed(ctx context.Context) (int64, error) {
	return s.exec(ctx, "cleanup used oauth sessions", deleteUsedSQL)
}

func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
