// Package stores selects a storage backend from a connection URL.
//
//	file://./data              files under ./data (a bare path works too)
//	sqlite://./secretgate.db   GORM on SQLite
//	postgres://user:pw@host/db GORM on PostgreSQL
//	mongodb://host:27017/userDB
//	datastore://project-id?namespace=ns
//
// SQL backends also keep sessions server side; the others leave session
// storage to the in-memory default.
package stores

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	gormlib "gorm.io/gorm"

	sg "github.com/panyam/secretgate"
	"github.com/panyam/secretgate/stores/fs"
	"github.com/panyam/secretgate/stores/gae"
	gormstore "github.com/panyam/secretgate/stores/gorm"
	"github.com/panyam/secretgate/stores/mongo"
)

// Backend is an opened storage backend
type Backend struct {
	// Kind is the backend name: fs, sqlite, postgres, mongodb or datastore
	Kind string

	Users sg.UserStore

	// Sessions is nil when the backend does not store sessions
	Sessions scs.Store

	migrate func(ctx context.Context) error
	cleanup func(ctx context.Context, interval time.Duration)
	close   func() error
}

// Migrate prepares tables, indexes or directories. Safe to run repeatedly.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return nil
	}
	if err := b.migrate(ctx); err != nil {
		return fmt.Errorf("%s migration failed: %w", b.Kind, err)
	}
	return nil
}

// StartCleanup periodically purges expired sessions, for backends that
// store them
func (b *Backend) StartCleanup(ctx context.Context, interval time.Duration) {
	if b.cleanup != nil {
		b.cleanup(ctx, interval)
	}
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the backend named by storageURL
func Open(ctx context.Context, storageURL string) (*Backend, error) {
	storageURL = strings.TrimSpace(storageURL)
	if storageURL == "" {
		return nil, fmt.Errorf("storage url is empty")
	}

	scheme, rest, found := strings.Cut(storageURL, "://")
	if !found {
		return openFS(storageURL), nil
	}

	log.Debug().Str("scheme", scheme).Msg("opening storage backend")
	switch scheme {
	case "file":
		return openFS(rest), nil
	case "sqlite":
		return openGORM(ctx, "sqlite", sqlite.Open(rest))
	case "postgres", "postgresql":
		return openGORM(ctx, "postgres", postgres.Open(storageURL))
	case "mongodb", "mongodb+srv":
		return openMongo(ctx, storageURL)
	case "datastore":
		return openDatastore(ctx, storageURL)
	}
	return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
}

func openFS(path string) *Backend {
	store := fs.NewUserStore(path)
	return &Backend{
		Kind:    "fs",
		Users:   store,
		migrate: store.Migrate,
	}
}

func openGORM(ctx context.Context, kind string, dialector gormlib.Dialector) (*Backend, error) {
	db, err := gormstore.Open(dialector)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if kind == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", kind, err)
	}

	sessions := gormstore.NewSessionStore(db)
	return &Backend{
		Kind:     kind,
		Users:    gormstore.NewUserStore(db),
		Sessions: sessions,
		migrate: func(ctx context.Context) error {
			return gormstore.AutoMigrate(db.WithContext(ctx))
		},
		cleanup: sessions.StartCleanup,
		close:   sqlDB.Close,
	}, nil
}

func openMongo(ctx context.Context, storageURL string) (*Backend, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodb url: %w", err)
	}
	dbName := strings.Trim(u.Path, "/")
	if dbName == "" {
		dbName = mongo.DefaultDatabase
	}

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(storageURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	store := mongo.NewUserStore(client.Database(dbName))
	return &Backend{
		Kind:    "mongodb",
		Users:   store,
		migrate: store.EnsureIndexes,
		close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}, nil
}

func openDatastore(ctx context.Context, storageURL string) (*Backend, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid datastore url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("datastore url needs a project id: %q", storageURL)
	}

	client, err := datastore.NewClient(ctx, u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return &Backend{
		Kind:  "datastore",
		Users: gae.NewUserStore(client, u.Query().Get("namespace")),
		close: client.Close,
	}, nil
}
