package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/storage/database/inmem"
	"github.com/trezcool/lms/storage/database/mongo"
	"github.com/trezcool/lms/storage/database/sqlx"
)

const (
	EnginePostgres = "postgres"
	EngineMongo    = "mongo"
	EngineInmem    = "inmem"
)

// Stores holds one engine's repositories.
type Stores struct {
	Engine    string
	Users     user.Repository
	Courses   course.Repository
	Purchases purchase.Repository
	SQL       *sqlx.DB // postgres only

	close func(ctx context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// OpenStores connects to the configured engine & prepares its schema.
func OpenStores(ctx context.Context, conf *core.Config) (*Stores, error) {
	switch conf.Database.Engine {
	case EnginePostgres:
		if err := CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := Open(conf)
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		if err = Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Stores{
			Engine:    EnginePostgres,
			Users:     sqlxrepos.NewUserRepository(db),
			Courses:   sqlxrepos.NewCourseRepository(db),
			Purchases: sqlxrepos.NewPurchaseRepository(db),
			SQL:       db,
			close:     func(context.Context) error { return db.Close() },
		}, nil

	case EngineMongo:
		client, db, err := mongorepos.Connect(ctx, conf.Mongo)
		if err != nil {
			return nil, err
		}
		if err = mongorepos.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &Stores{
			Engine:    EngineMongo,
			Users:     mongorepos.NewUserRepository(db),
			Courses:   mongorepos.NewCourseRepository(db),
			Purchases: mongorepos.NewPurchaseRepository(db),
			close:     client.Disconnect,
		}, nil

	case EngineInmem:
		return NewInmemStores(), nil

	default:
		return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
	}
}

// NewInmemStores returns the repositories of a fresh in-memory store.
func NewInmemStores() *Stores {
	db := inmemdb.Open()
	return &Stores{
		Engine:    EngineInmem,
		Users:     inmemdb.NewUserRepository(db),
		Courses:   inmemdb.NewCourseRepository(db),
		Purchases: inmemdb.NewPurchaseRepository(db),
	}
}
