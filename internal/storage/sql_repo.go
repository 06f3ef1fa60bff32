package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/yourorg/badgeauth/internal/account"
)

type userRow struct {
	ID        string `db:"id"`
	Username  string `db:"username"`
	Email     string `db:"email"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	IsAdmin   int    `db:"is_admin"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r userRow) toUser() *account.User {
	return &account.User{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		IsAdmin:   r.IsAdmin != 0,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

func newUserRow(u *account.User) userRow {
	admin := 0
	if u.IsAdmin {
		admin = 1
	}
	return userRow{
		ID:        u.ID,
		Username:  u.Username,
		Email:     account.NormalizeEmail(u.Email),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsAdmin:   admin,
		CreatedAt: toMillis(u.CreatedAt),
		UpdatedAt: toMillis(u.UpdatedAt),
	}
}

type linkRow struct {
	UserID         string `db:"user_id"`
	Provider       string `db:"provider"`
	ProviderUserID string `db:"provider_user_id"`
	AccessToken    string `db:"access_token"`
	RefreshToken   string `db:"refresh_token"`
	TokenExpiresAt int64  `db:"token_expires_at"`
	ProfileData    string `db:"profile_data"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r linkRow) toLink() *account.ProviderLink {
	l := &account.ProviderLink{
		UserID:         r.UserID,
		Provider:       r.Provider,
		ProviderUserID: r.ProviderUserID,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		TokenExpiresAt: fromMillis(r.TokenExpiresAt),
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
	if r.ProfileData != "" {
		l.ProfileData = []byte(r.ProfileData)
	}
	return l
}

func newLinkRow(l *account.ProviderLink) linkRow {
	return linkRow{
		UserID:         l.UserID,
		Provider:       l.Provider,
		ProviderUserID: l.ProviderUserID,
		AccessToken:    l.AccessToken,
		RefreshToken:   l.RefreshToken,
		TokenExpiresAt: toMillis(l.TokenExpiresAt),
		ProfileData:    string(l.ProfileData),
		CreatedAt:      toMillis(l.CreatedAt),
		UpdatedAt:      toMillis(l.UpdatedAt),
	}
}

const (
	userColumns = `id, username, email, first_name, last_name, is_admin, created_at, updated_at`
	linkColumns = `user_id, provider, provider_user_id, access_token, refresh_token, token_expires_at, profile_data, created_at, updated_at`

	insertUser = `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :email, :first_name, :last_name, :is_admin, :created_at, :updated_at)`

	upsertLink = `INSERT INTO oauth_provider_links (` + linkColumns + `)
		VALUES (:user_id, :provider, :provider_user_id, :access_token, :refresh_token, :token_expires_at, :profile_data, :created_at, :updated_at)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			profile_data = excluded.profile_data,
			updated_at = excluded.updated_at`
)

// SQLRepo implements account.Repo over sqlx.
type SQLRepo struct {
	db *sqlx.DB
}

// NewSQLRepo wraps an open database. The schema must already be applied.
func NewSQLRepo(db *sqlx.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

var _ account.Repo = (*SQLRepo)(nil)

func (r *SQLRepo) CreateUser(ctx context.Context, u *account.User) error {
	if _, err := r.db.NamedExecContext(ctx, insertUser, newUserRow(u)); err != nil {
		return wrapWriteErr("create user", err)
	}
	return nil
}

func (r *SQLRepo) GetUserByID(ctx context.Context, id string) (*account.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *SQLRepo) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, account.NormalizeEmail(email))
}

func (r *SQLRepo) getUser(ctx context.Context, query string, arg string) (*account.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toUser(), nil
}

func (r *SQLRepo) CreateUserWithLink(ctx context.Context, u *account.User, l *account.ProviderLink) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx, insertUser, newUserRow(u)); err != nil {
		return wrapWriteErr("create user", err)
	}
	if _, err := tx.NamedExecContext(ctx, upsertLink, newLinkRow(l)); err != nil {
		return wrapWriteErr("create link", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLRepo) FindUserByOAuthProvider(ctx context.Context, provider, providerUserID string) (*account.User, *account.ProviderLink, error) {
	var row linkRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(
		`SELECT `+linkColumns+` FROM oauth_provider_links WHERE provider = ? AND provider_user_id = ?`),
		provider, providerUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, account.ErrNotFound
		}
		return nil, nil, fmt.Errorf("find link: %w", err)
	}
	u, err := r.GetUserByID(ctx, row.UserID)
	if err != nil {
		return nil, nil, err
	}
	return u, row.toLink(), nil
}

func (r *SQLRepo) GetLink(ctx context.Context, userID, provider string) (*account.ProviderLink, error) {
	var row linkRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(
		`SELECT `+linkColumns+` FROM oauth_provider_links WHERE user_id = ? AND provider = ?`),
		userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("get link: %w", err)
	}
	return row.toLink(), nil
}

func (r *SQLRepo) ListLinks(ctx context.Context, userID string) ([]account.ProviderLink, error) {
	var rows []linkRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT `+linkColumns+` FROM oauth_provider_links WHERE user_id = ? ORDER BY provider`), userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	links := make([]account.ProviderLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, *row.toLink())
	}
	return links, nil
}

func (r *SQLRepo) UpsertLink(ctx context.Context, l *account.ProviderLink) error {
	if _, err := r.db.NamedExecContext(ctx, upsertLink, newLinkRow(l)); err != nil {
		return wrapWriteErr("upsert link", err)
	}
	return nil
}

func (r *SQLRepo) DeleteLink(ctx context.Context, userID, provider string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM oauth_provider_links WHERE user_id = ? AND provider = ?`), userID, provider)
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	return n > 0, nil
}

// wrapWriteErr maps unique-constraint violations from either driver onto account.ErrConflict.
func wrapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, account.ErrConflict, pgErr.Detail)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, account.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
