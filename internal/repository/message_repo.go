package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"liftmates/internal/model"
)

// MessageRepo is the append-only direct-message log. Conversation state
// (unread counts, thread lists) is derived from it at read time, never
// stored alongside it.
type MessageRepo interface {
	Insert(ctx context.Context, msg *model.Message) error
	// ListInvolving returns every message sent or received by userID,
	// oldest first.
	ListInvolving(ctx context.Context, userID string) ([]model.Message, error)
	// ListBetween returns the two-way thread between a and b, oldest first.
	ListBetween(ctx context.Context, a, b string) ([]model.Message, error)
	// ListUnread returns unread messages from senderID to receiverID.
	ListUnread(ctx context.Context, receiverID, senderID string) ([]model.Message, error)
	CountUnread(ctx context.Context, receiverID, senderID string) (int64, error)
	// MarkRead flips a single message to read. Read-marking is always
	// per-message so a concurrently arriving message is never caught.
	MarkRead(ctx context.Context, messageID string) error
}

type messageRepo struct {
	collection *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepo{
		collection: db.Collection("messages"),
	}
}

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) error {
	_, err := r.collection.InsertOne(ctx, msg)
	return err
}

func (r *messageRepo) ListInvolving(ctx context.Context, userID string) ([]model.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"receiverId": userID},
	}}
	return r.list(ctx, filter)
}

func (r *messageRepo) ListBetween(ctx context.Context, a, b string) ([]model.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": a, "receiverId": b},
		bson.M{"senderId": b, "receiverId": a},
	}}
	return r.list(ctx, filter)
}

func (r *messageRepo) ListUnread(ctx context.Context, receiverID, senderID string) ([]model.Message, error) {
	return r.list(ctx, bson.M{
		"receiverId": receiverID,
		"senderId":   senderID,
		"isRead":     false,
	})
}

func (r *messageRepo) CountUnread(ctx context.Context, receiverID, senderID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{
		"receiverId": receiverID,
		"senderId":   senderID,
		"isRead":     false,
	})
}

func (r *messageRepo) MarkRead(ctx context.Context, messageID string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"isRead": true}})
	return err
}

func (r *messageRepo) list(ctx context.Context, filter bson.M) ([]model.Message, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"sentAt": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err = cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
