// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/crypto"
	"helpdesk_worker/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MailboxAdapter implements out.MailboxRepository using PostgreSQL.
// OAuth tokens are encrypted at rest when an encryptor is configured.
type MailboxAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

// NewMailboxAdapter creates a new MailboxAdapter. A nil encryptor stores
// tokens in plaintext; the bootstrap logs a warning in that case.
func NewMailboxAdapter(db *sqlx.DB, enc *crypto.Encryptor) *MailboxAdapter {
	return &MailboxAdapter{db: db, enc: enc}
}

const mailboxColumns = `
	id, org_id, owner_kind, owner_id, email_address,
	access_token, refresh_token, token_expiry,
	watch_status, watch_expires_at, watch_resource_id, history_cursor,
	watch_failures, last_renewed_at, created_at, updated_at`

type mailboxRow struct {
	ID           int64     `db:"id"`
	OrgID        uuid.UUID `db:"org_id"`
	OwnerKind    string    `db:"owner_kind"`
	OwnerID      uuid.UUID `db:"owner_id"`
	EmailAddress string    `db:"email_address"`

	AccessToken  sql.NullString `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	TokenExpiry  sql.NullTime   `db:"token_expiry"`

	WatchStatus     string         `db:"watch_status"`
	WatchExpiresAt  sql.NullTime   `db:"watch_expires_at"`
	WatchResourceID sql.NullString `db:"watch_resource_id"`
	HistoryCursor   sql.NullString `db:"history_cursor"`
	WatchFailures   int            `db:"watch_failures"`
	LastRenewedAt   sql.NullTime   `db:"last_renewed_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (a *MailboxAdapter) toEntity(r *mailboxRow) *domain.Mailbox {
	mb := &domain.Mailbox{
		ID:           r.ID,
		OrgID:        r.OrgID,
		Owner:        domain.MailboxOwner{Kind: domain.OwnerKind(r.OwnerKind), ID: r.OwnerID},
		EmailAddress: r.EmailAddress,

		AccessToken:  a.decryptToken(r.AccessToken.String),
		RefreshToken: a.decryptToken(r.RefreshToken.String),

		WatchStatus:     domain.WatchStatus(r.WatchStatus),
		WatchResourceID: r.WatchResourceID.String,
		HistoryCursor:   r.HistoryCursor.String,
		WatchFailures:   r.WatchFailures,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.TokenExpiry.Valid {
		mb.TokenExpiry = r.TokenExpiry.Time
	}
	if r.WatchExpiresAt.Valid {
		t := r.WatchExpiresAt.Time
		mb.WatchExpiresAt = &t
	}
	if r.LastRenewedAt.Valid {
		t := r.LastRenewedAt.Time
		mb.LastRenewedAt = &t
	}
	return mb
}

func (a *MailboxAdapter) decryptToken(token string) string {
	if a.enc == nil || token == "" {
		return token
	}
	plain, err := a.enc.Decrypt(token)
	if err != nil {
		// Likely a row written before encryption was enabled.
		logger.Warn("Token decryption failed, using stored value: %v", err)
		return token
	}
	return plain
}

// GetByID gets a mailbox by id.
func (a *MailboxAdapter) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	var row mailboxRow
	err := a.db.QueryRowxContext(ctx,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE id = $1", id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("mailbox")
		}
		return nil, err
	}
	return a.toEntity(&row), nil
}

// GetByEmail gets a mailbox by its address.
func (a *MailboxAdapter) GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	var row mailboxRow
	err := a.db.QueryRowxContext(ctx,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE email_address = $1", email).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("mailbox")
		}
		return nil, err
	}
	return a.toEntity(&row), nil
}

// GetPrimaryForOrg returns the oldest connected mailbox with credentials.
func (a *MailboxAdapter) GetPrimaryForOrg(ctx context.Context, orgID uuid.UUID) (*domain.Mailbox, error) {
	var row mailboxRow
	err := a.db.QueryRowxContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE org_id = $1 AND refresh_token IS NOT NULL AND refresh_token != ''
		ORDER BY created_at ASC
		LIMIT 1`, orgID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("mailbox")
		}
		return nil, err
	}
	return a.toEntity(&row), nil
}

// ListRenewable lists mailboxes whose watch needs attention within the
// horizon. Rows without credentials are included so the caller can report
// them as skipped.
func (a *MailboxAdapter) ListRenewable(ctx context.Context, horizon time.Duration) ([]*domain.Mailbox, error) {
	cutoff := time.Now().Add(horizon)

	rows, err := a.db.QueryxContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes
		WHERE watch_status IN ('none', 'failed')
		   OR watch_expires_at IS NULL
		   OR watch_expires_at < $1
		ORDER BY id ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mailboxes []*domain.Mailbox
	for rows.Next() {
		var row mailboxRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, a.toEntity(&row))
	}
	return mailboxes, rows.Err()
}

// UpdateWatchStatus updates just the lease state machine field.
func (a *MailboxAdapter) UpdateWatchStatus(ctx context.Context, id int64, status domain.WatchStatus) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET watch_status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	return err
}

// UpdateWatchLease records a successful watch registration.
func (a *MailboxAdapter) UpdateWatchLease(ctx context.Context, id int64, lease *domain.WatchLease) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET
			watch_status = 'active',
			watch_expires_at = $1,
			watch_resource_id = $2,
			history_cursor = CASE WHEN history_cursor IS NULL OR history_cursor = '' THEN $3 ELSE history_cursor END,
			watch_failures = 0,
			last_renewed_at = NOW(),
			updated_at = NOW()
		WHERE id = $4`,
		lease.ExpiresAt, lease.ResourceID, lease.HistoryID, id)
	return err
}

// IncrementWatchFailures bumps the failure counter.
func (a *MailboxAdapter) IncrementWatchFailures(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET watch_failures = watch_failures + 1, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// UpdateHistoryCursor advances the incremental fetch position.
func (a *MailboxAdapter) UpdateHistoryCursor(ctx context.Context, id int64, cursor string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET history_cursor = $1, updated_at = NOW()
		WHERE id = $2`, cursor, id)
	return err
}

// ClearCredentials wipes tokens on disconnect.
func (a *MailboxAdapter) ClearCredentials(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET
			access_token = NULL,
			refresh_token = NULL,
			token_expiry = NULL,
			watch_status = 'none',
			watch_expires_at = NULL,
			watch_resource_id = NULL,
			updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// SaveCredentials stores freshly issued OAuth tokens, encrypted when an
// encryptor is configured.
func (a *MailboxAdapter) SaveCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	if a.enc != nil {
		var err error
		if accessToken, err = a.enc.Encrypt(accessToken); err != nil {
			return err
		}
		if refreshToken, err = a.enc.Encrypt(refreshToken); err != nil {
			return err
		}
	}
	_, err := a.db.ExecContext(ctx, `
		UPDATE mailboxes SET
			access_token = $1,
			refresh_token = $2,
			token_expiry = $3,
			updated_at = NOW()
		WHERE id = $4`, accessToken, refreshToken, expiry, id)
	return err
}

var _ out.MailboxRepository = (*MailboxAdapter)(nil)
