package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mpkschool/backend/core/chat"
)

type senderDoc struct {
	ID     string `bson:"id"`
	Name   string `bson:"name"`
	Email  string `bson:"email"`
	Avatar string `bson:"avatar_url,omitempty"`
}

type messageDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Sender     senderDoc          `bson:"sender"`
	Content    string             `bson:"content"`
	Room       string             `bson:"room"`
	IsPrivate  bool               `bson:"is_private"`
	Recipients []string           `bson:"recipients"`
	ReplyToID  string             `bson:"reply_to_id,omitempty"`
	DeletedFor []string           `bson:"deleted_for"`
	ReadBy     []string           `bson:"read_by"`
	CreatedAt  time.Time          `bson:"created_at"`
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func toMessageDoc(msg chat.Message) messageDoc {
	return messageDoc{
		Sender: senderDoc{
			ID:     msg.Sender.ID,
			Name:   msg.Sender.Name,
			Email:  msg.Sender.Email,
			Avatar: msg.Sender.Avatar,
		},
		Content:    msg.Content,
		Room:       msg.Room,
		IsPrivate:  msg.IsPrivate,
		Recipients: orEmpty(msg.Recipients),
		ReplyToID:  msg.ReplyToID,
		DeletedFor: orEmpty(msg.DeletedFor),
		ReadBy:     orEmpty(msg.ReadBy),
		CreatedAt:  msg.CreatedAt.UTC(),
	}
}

func (doc messageDoc) message() chat.Message {
	return chat.Message{
		ID: doc.ID.Hex(),
		Sender: chat.Sender{
			ID:     doc.Sender.ID,
			Name:   doc.Sender.Name,
			Email:  doc.Sender.Email,
			Avatar: doc.Sender.Avatar,
		},
		Content:    doc.Content,
		Room:       doc.Room,
		IsPrivate:  doc.IsPrivate,
		Recipients: orEmpty(doc.Recipients),
		ReplyToID:  doc.ReplyToID,
		DeletedFor: orEmpty(doc.DeletedFor),
		ReadBy:     orEmpty(doc.ReadBy),
		CreatedAt:  doc.CreatedAt.UTC(),
	}
}

// visibleTo is the query twin of chat.Message.VisibleTo.
func visibleTo(viewerID string) bson.M {
	return bson.M{
		"deleted_for": bson.M{"$ne": viewerID},
		"$or": bson.A{
			bson.M{"is_private": false},
			bson.M{"sender.id": viewerID},
			bson.M{"recipients": viewerID},
		},
	}
}

func unreadBy(viewerID string) bson.M {
	filter := visibleTo(viewerID)
	filter["sender.id"] = bson.M{"$ne": viewerID}
	filter["read_by"] = bson.M{"$ne": viewerID}
	return filter
}

type messageRepository struct {
	coll *mongo.Collection
}

var _ chat.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(db *DB) *messageRepository {
	return &messageRepository{coll: db.db.Collection(messageCollection)}
}

func (repo *messageRepository) decodeAll(ctx context.Context, cur *mongo.Cursor) ([]chat.Message, error) {
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding messages")
	}
	msgs := make([]chat.Message, 0, len(docs))
	for _, doc := range docs {
		msgs = append(msgs, doc.message())
	}
	return msgs, nil
}

func (repo *messageRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	doc := toMessageDoc(msg)
	doc.ID = primitive.NewObjectID()
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}
	return doc.message(), nil
}

func (repo *messageRepository) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.Message{}, chat.ErrNotFound
	}
	var doc messageDoc
	if err = repo.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, errors.Wrap(err, "finding message")
	}
	return doc.message(), nil
}

func (repo *messageRepository) GetMessagesByID(ctx context.Context, ids []string) ([]chat.Message, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return []chat.Message{}, nil
	}

	cur, err := repo.coll.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, errors.Wrap(err, "finding messages")
	}
	return repo.decodeAll(ctx, cur)
}

func (repo *messageRepository) QueryMessages(ctx context.Context, filter chat.QueryFilter) ([]chat.Message, error) {
	query := bson.M{}
	if filter.ViewerID != "" {
		query = visibleTo(filter.ViewerID)
	}
	query["room"] = filter.Room
	if !filter.Before.IsZero() {
		query["created_at"] = bson.M{"$lt": filter.Before.UTC()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := repo.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return repo.decodeAll(ctx, cur)
}

func (repo *messageRepository) AddDeletedFor(ctx context.Context, id, identityID string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.ErrNotFound
	}
	res, err := repo.coll.UpdateByID(ctx, oid, bson.M{"$addToSet": bson.M{"deleted_for": identityID}})
	if err != nil {
		return errors.Wrap(err, "hiding message")
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (repo *messageRepository) DeleteMessage(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.ErrNotFound
	}
	res, err := repo.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return errors.Wrap(err, "deleting message")
	}
	if res.DeletedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (repo *messageRepository) MarkRead(ctx context.Context, viewerID, room string, upTo time.Time) (int, error) {
	filter := unreadBy(viewerID)
	filter["room"] = room
	filter["created_at"] = bson.M{"$lte": upTo.UTC()}

	res, err := repo.coll.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"read_by": viewerID}})
	if err != nil {
		return 0, errors.Wrap(err, "marking messages as read")
	}
	return int(res.ModifiedCount), nil
}

func (repo *messageRepository) CountUnread(ctx context.Context, viewerID string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: unreadBy(viewerID)}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$room"}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
	}
	cur, err := repo.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "counting unread messages")
	}

	var rows []struct {
		Room  string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err = cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding unread counts")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Room] = row.Count
	}
	return counts, nil
}
