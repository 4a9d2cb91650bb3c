package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
	"github.com/mpkschool/backend/storage/database"
	inmemdb "github.com/mpkschool/backend/storage/database/inmem"
	sqlxrepos "github.com/mpkschool/backend/storage/database/sqlx"
	"github.com/mpkschool/backend/storage/mongodb"
)

// Storage holds the repositories of the configured engine.
type Storage struct {
	Engine   string
	Users    user.Repository
	Messages chat.Repository

	SQL   *sqlx.DB // set with the postgres engine only
	mongo *mongodb.DB
}

// Open sets up the configured storage engine: postgres (created and migrated on the fly), mongodb or memory.
func Open(ctx context.Context, conf *core.Config, logger core.Logger) (*Storage, error) {
	engine := conf.Storage.Engine
	logger.Info(fmt.Sprintf("opening %s storage", engine))

	switch engine {
	case core.EnginePostgres:
		db, err := database.Setup(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "setting up database")
		}
		return &Storage{
			Engine:   engine,
			Users:    sqlxrepos.NewUserRepository(db),
			Messages: sqlxrepos.NewMessageRepository(db),
			SQL:      db,
		}, nil

	case core.EngineMongoDB:
		db, err := mongodb.Connect(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "connecting to mongodb")
		}
		return &Storage{
			Engine:   engine,
			Users:    mongodb.NewUserRepository(db),
			Messages: mongodb.NewMessageRepository(db),
			mongo:    db,
		}, nil

	case core.EngineMemory, "":
		return NewMemory(), nil
	}
	return nil, errors.Errorf("unknown storage engine %q", engine)
}

// NewMemory returns a fresh in-memory storage.
func NewMemory() *Storage {
	db := inmemdb.Open()
	return &Storage{
		Engine:   core.EngineMemory,
		Users:    inmemdb.NewUserRepository(db),
		Messages: inmemdb.NewMessageRepository(db),
	}
}

// Ping checks that the storage is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	switch {
	case s.SQL != nil:
		return errors.Wrap(s.SQL.PingContext(ctx), "pinging database")
	case s.mongo != nil:
		return s.mongo.Ping(ctx)
	}
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	switch {
	case s.SQL != nil:
		return s.SQL.Close()
	case s.mongo != nil:
		return s.mongo.Close(ctx)
	}
	return nil
}
