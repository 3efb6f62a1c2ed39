// Package mongodb stores messages in a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dmchat/internal/domain"
)

const (
	messagesCollection = "messages"
	countersCollection = "counters"
)

// Client bundles the driver client with the database messages live in.
type Client struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func Connect(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &Client{Client: client, Database: client.Database(database)}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

type MessageRepo struct {
	messages *mongo.Collection
	counters *mongo.Collection
}

// document is the stored shape. BSON datetimes carry millisecond precision,
// so seq keeps insertion order for messages created in the same millisecond.
type document struct {
	ID         string    `bson:"_id"`
	SenderID   int64     `bson:"sender_id"`
	ReceiverID int64     `bson:"receiver_id"`
	PairLow    int64     `bson:"pair_low"`
	PairHigh   int64     `bson:"pair_high"`
	Text       *string   `bson:"text,omitempty"`
	ImageRef   *string   `bson:"image_ref,omitempty"`
	Edited     bool      `bson:"edited"`
	CreatedAt  time.Time `bson:"created_at"`
	Seq        int64     `bson:"seq"`
}

func (d *document) toDomain() *domain.Message {
	return &domain.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		ImageRef:   d.ImageRef,
		Edited:     d.Edited,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		messages: db.Collection(messagesCollection),
		counters: db.Collection(countersCollection),
	}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

// EnsureIndexes creates the pair index used by ListByPair and the
// participant indexes used by ListConversations.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_low", Value: 1}, {Key: "pair_high", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (r *MessageRepo) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": messagesCollection},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next message seq: %w", err)
	}
	return counter.Value, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	seq, err := r.nextSeq(ctx)
	if err != nil {
		return err
	}
	key := domain.NewPairKey(m.SenderID, m.ReceiverID)
	doc := document{
		ID:         uuid.NewString(),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		PairLow:    key.Low,
		PairHigh:   key.High,
		Text:       m.Text,
		ImageRef:   m.ImageRef,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		Seq:        seq,
	}
	if _, err := r.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID = doc.ID
	m.CreatedAt = doc.CreatedAt
	m.Edited = false
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var doc document
	err := r.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MessageRepo) ListByPair(ctx context.Context, a, b int64) ([]*domain.Message, error) {
	key := domain.NewPairKey(a, b)
	cur, err := r.messages.Find(ctx,
		bson.M{"pair_low": key.Low, "pair_high": key.High},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var res []*domain.Message
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		res = append(res, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, id, text string) (*domain.Message, error) {
	var doc document
	err := r.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"text": text, "edited": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MessageRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListConversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"sender_id": userID},
			bson.M{"receiver_id": userID},
		}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$sender_id", userID}},
				"$receiver_id",
				"$sender_id",
			}},
			"last":  bson.M{"$max": "$created_at"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := r.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Peer  int64     `bson:"_id"`
		Last  time.Time `bson:"last"`
		Count int       `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	res := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.ConversationSummary{
			PeerID:        row.Peer,
			LastMessageAt: row.Last.UTC(),
			MessageCount:  row.Count,
		})
	}
	domain.SortSummaries(res)
	return res, nil
}

func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.messages.Database().Client().Ping(ctx, nil)
}
