package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mpkschool/backend/core"
)

const (
	userCollection    = "users"
	messageCollection = "messages"
)

// DB is the app database of a connected client.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect connects to the configured MongoDB deployment and makes sure the indexes exist.
func Connect(ctx context.Context, conf *core.Config) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Mongo.URI).SetAppName(conf.AppName))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}

	db := &DB{client: client, db: client.Database(conf.Mongo.Database)}
	if err = db.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err = db.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return db, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return errors.Wrap(db.client.Ping(ctx, readpref.Primary()), "pinging mongodb")
}

func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

func (db *DB) ensureIndexes(ctx context.Context) error {
	_, err := db.db.Collection(userCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "creating user indexes")
	}

	_, err = db.db.Collection(messageCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender.id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return errors.Wrap(err, "creating message indexes")
}
