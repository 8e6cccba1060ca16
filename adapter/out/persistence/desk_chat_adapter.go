package persistence

import (
	"context"
	"database/sql"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ChatAdapter implements out.ChatRepository using PostgreSQL. The
// (org_id, message_id) unique index is the dedup anchor for the whole
// pipeline.
type ChatAdapter struct {
	db *sqlx.DB
}

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(db *sqlx.DB) *ChatAdapter {
	return &ChatAdapter{db: db}
}

const chatColumns = `
	id, ticket_id, org_id, message_id, thread_id, direction,
	from_name, from_address, to_addresses, cc_addresses, subject, body, sent_at,
	classification, confidence,
	draft_response, draft_discarded, auto_responded, draft_references, promotional,
	created_at, updated_at`

type chatRow struct {
	ID        uuid.UUID `db:"id"`
	TicketID  uuid.UUID `db:"ticket_id"`
	OrgID     uuid.UUID `db:"org_id"`
	MessageID string    `db:"message_id"`
	ThreadID  string    `db:"thread_id"`
	Direction string    `db:"direction"`

	FromName    sql.NullString `db:"from_name"`
	FromAddress string         `db:"from_address"`
	ToAddresses pq.StringArray `db:"to_addresses"`
	CcAddresses pq.StringArray `db:"cc_addresses"`
	Subject     string         `db:"subject"`
	Body        string         `db:"body"`
	SentAt      time.Time      `db:"sent_at"`

	Classification string `db:"classification"`
	Confidence     int    `db:"confidence"`

	DraftResponse   sql.NullString `db:"draft_response"`
	DraftDiscarded  bool           `db:"draft_discarded"`
	AutoResponded   bool           `db:"auto_responded"`
	DraftReferences pq.StringArray `db:"draft_references"`
	Promotional     bool           `db:"promotional"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *chatRow) toEntity() *domain.ChatRecord {
	rec := &domain.ChatRecord{
		ID:        r.ID,
		TicketID:  r.TicketID,
		OrgID:     r.OrgID,
		MessageID: r.MessageID,
		ThreadID:  r.ThreadID,
		Direction: domain.Direction(r.Direction),

		FromName:    r.FromName.String,
		FromAddress: r.FromAddress,
		ToAddresses: r.ToAddresses,
		CcAddresses: r.CcAddresses,
		Subject:     r.Subject,
		Body:        r.Body,
		SentAt:      r.SentAt,

		Classification: domain.Label(r.Classification),
		Confidence:     r.Confidence,

		DraftDiscarded: r.DraftDiscarded,
		AutoResponded:  r.AutoResponded,
		References:     r.DraftReferences,
		Promotional:    r.Promotional,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DraftResponse.Valid {
		s := r.DraftResponse.String
		rec.DraftResponse = &s
	}
	return rec
}

// Create inserts a new chat record. A unique violation on
// (org_id, message_id) maps to ALREADY_EXISTS.
func (a *ChatAdapter) Create(ctx context.Context, rec *domain.ChatRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO chat_records (
			id, ticket_id, org_id, message_id, thread_id, direction,
			from_name, from_address, to_addresses, cc_addresses, subject, body, sent_at,
			classification, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.TicketID, rec.OrgID, rec.MessageID, rec.ThreadID, string(rec.Direction),
		nullStr(rec.FromName), rec.FromAddress, pq.Array(rec.ToAddresses), pq.Array(rec.CcAddresses),
		rec.Subject, rec.Body, rec.SentAt,
		string(rec.Classification), rec.Confidence)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("chat record")
		}
		return err
	}
	return nil
}

// GetByID gets a chat record by id.
func (a *ChatAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.ChatRecord, error) {
	var row chatRow
	err := a.db.QueryRowxContext(ctx,
		"SELECT "+chatColumns+" FROM chat_records WHERE id = $1", id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("chat record")
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// GetByMessageID gets a chat record by its provider message id.
func (a *ChatAdapter) GetByMessageID(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.ChatRecord, error) {
	var row chatRow
	err := a.db.QueryRowxContext(ctx,
		"SELECT "+chatColumns+" FROM chat_records WHERE org_id = $1 AND message_id = $2",
		orgID, messageID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("chat record")
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// Exists is the dedup check: has this message already been recorded for the
// organization?
func (a *ChatAdapter) Exists(ctx context.Context, orgID uuid.UUID, messageID string) (bool, error) {
	var exists bool
	err := a.db.QueryRowxContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM chat_records WHERE org_id = $1 AND message_id = $2)",
		orgID, messageID).Scan(&exists)
	return exists, err
}

// UpdateClassification stores the classification verdict.
func (a *ChatAdapter) UpdateClassification(ctx context.Context, id uuid.UUID, result domain.ClassificationResult) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE chat_records SET classification = $1, confidence = $2, updated_at = NOW()
		WHERE id = $3`, string(result.Label), result.Confidence, id)
	return err
}

// MarkPromotional flags a record filtered out before classification.
func (a *ChatAdapter) MarkPromotional(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE chat_records SET promotional = true, classification = 'no_response', updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// UpsertDraft stores the draft text, clearing any earlier discard. The
// WHERE clause refuses rows that already auto-responded; a filtered update
// surfaces as DRAFT_CONSUMED so callers do not silently lose text.
func (a *ChatAdapter) UpsertDraft(ctx context.Context, id uuid.UUID, text string, references []string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE chat_records SET
			draft_response = $1,
			draft_references = $2,
			draft_discarded = false,
			updated_at = NOW()
		WHERE id = $3 AND auto_responded = false`,
		text, pq.Array(references), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.DraftConsumed(id.String())
	}
	return nil
}

// MarkAutoResponded transitions the record to its terminal sent state.
func (a *ChatAdapter) MarkAutoResponded(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE chat_records SET auto_responded = true, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// MarkDiscarded marks the draft as rejected by an operator.
func (a *ChatAdapter) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE chat_records SET draft_discarded = true, updated_at = NOW()
		WHERE id = $1 AND auto_responded = false`, id)
	return err
}

// ListUnclassified feeds the recovery sweep.
func (a *ChatAdapter) ListUnclassified(ctx context.Context, limit int) ([]*domain.ChatRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryxContext(ctx, `
		SELECT `+chatColumns+` FROM chat_records
		WHERE classification = 'unknown'
		  AND promotional = false
		  AND draft_response IS NULL
		  AND auto_responded = false
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ChatRecord
	for rows.Next() {
		var row chatRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		records = append(records, row.toEntity())
	}
	return records, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ out.ChatRepository = (*ChatAdapter)(nil)
