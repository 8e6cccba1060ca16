package mongodb

import (
	"context"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionArchivedMessages = "archived_messages"

// ArchiveAdapter implements out.MessageArchivePort using MongoDB. Raw
// provider payloads are kept verbatim so messages can be re-parsed after
// normalizer fixes without refetching from the provider.
type ArchiveAdapter struct {
	collection *mongo.Collection
}

// NewArchiveAdapter creates a new archive adapter.
func NewArchiveAdapter(db *mongo.Database) *ArchiveAdapter {
	return &ArchiveAdapter{collection: db.Collection(collectionArchivedMessages)}
}

// EnsureIndexes creates the collection indexes.
func (a *ArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "org_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "archived_at", Value: 1}},
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type archivedMessage struct {
	OrgID     string            `bson:"org_id"`
	MessageID string            `bson:"message_id"`
	ThreadID  string            `bson:"thread_id"`
	Headers   map[string]string `bson:"headers"`
	TextBody  string            `bson:"text_body,omitempty"`
	HTMLBody  string            `bson:"html_body,omitempty"`
	Snippet   string            `bson:"snippet,omitempty"`
	Raw       []byte            `bson:"raw,omitempty"`
	Internal  time.Time         `bson:"internal_date"`

	ArchivedAt time.Time `bson:"archived_at"`
}

// Store upserts the raw message. Replays of the same notification overwrite
// rather than duplicate.
func (a *ArchiveAdapter) Store(ctx context.Context, orgID uuid.UUID, msg *domain.InboundMessage) error {
	doc := archivedMessage{
		OrgID:      orgID.String(),
		MessageID:  msg.MessageID,
		ThreadID:   msg.ThreadID,
		Headers:    msg.Headers,
		TextBody:   msg.TextBody,
		HTMLBody:   msg.HTMLBody,
		Snippet:    msg.Snippet,
		Raw:        msg.Raw,
		Internal:   msg.Internal,
		ArchivedAt: time.Now(),
	}

	filter := bson.M{"org_id": doc.OrgID, "message_id": doc.MessageID}
	_, err := a.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// Get retrieves an archived message.
func (a *ArchiveAdapter) Get(ctx context.Context, orgID uuid.UUID, messageID string) (*domain.InboundMessage, error) {
	var doc archivedMessage
	err := a.collection.FindOne(ctx, bson.M{
		"org_id":     orgID.String(),
		"message_id": messageID,
	}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("archived message")
		}
		return nil, err
	}

	return &domain.InboundMessage{
		MessageID: doc.MessageID,
		ThreadID:  doc.ThreadID,
		Headers:   doc.Headers,
		TextBody:  doc.TextBody,
		HTMLBody:  doc.HTMLBody,
		Snippet:   doc.Snippet,
		Raw:       doc.Raw,
		Internal:  doc.Internal,
	}, nil
}

var _ out.MessageArchivePort = (*ArchiveAdapter)(nil)
