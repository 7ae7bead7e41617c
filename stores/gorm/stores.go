//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	sg "github.com/panyam/secretgate"
)

// Open connects with the settings every store in this package expects:
// driver errors translated to gorm errors and SQL logging routed through
// zerolog.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(zerologWriter{}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// AutoMigrate runs database migrations for all secretgate tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&SessionModel{},
	)
}

// UserStore implements secretgate.UserStore using GORM.
//
// Uniqueness comes from the unique indexes on users. Inserts use
// ON CONFLICT DO NOTHING so a lost race shows up as zero affected rows rather
// than an error.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateLocalUser(ctx context.Context, username, passwordHash, salt string) (*sg.User, error) {
	model := newModel()
	model.Username = &username
	model.PasswordHash = passwordHash
	model.Salt = salt

	inserted, err := s.insert(ctx, model)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, sg.ErrDuplicateUsername
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*sg.User, error) {
	return s.first(ctx, "id = ?", userId)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*sg.User, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *UserStore) FindOrCreateFederated(ctx context.Context, provider sg.Provider, subjectId string) (*sg.User, bool, error) {
	column, err := federatedColumn(provider)
	if err != nil {
		return nil, false, err
	}

	user, err := s.first(ctx, column+" = ?", subjectId)
	if err == nil {
		return user, false, nil
	} else if !errors.Is(err, sg.ErrUserNotFound) {
		return nil, false, err
	}

	model := newModel()
	if provider == sg.ProviderGoogle {
		model.GoogleID = &subjectId
	} else {
		model.FacebookID = &subjectId
	}
	inserted, err := s.insert(ctx, model)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return model.ToUser(), true, nil
	}

	// lost the race: the winner's row is committed by now
	user, err = s.first(ctx, column+" = ?", subjectId)
	return user, false, err
}

func (s *UserStore) SetSecret(ctx context.Context, userId, secret string) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userId).
		Updates(map[string]any{"secret": secret, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sg.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*sg.User, error) {
	var models []UserModel
	err := s.db.WithContext(ctx).
		Where("secret IS NOT NULL AND secret <> ?", "").
		Order("created_at, id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	users := make([]*sg.User, len(models))
	for i := range models {
		users[i] = models[i].ToUser()
	}
	return users, nil
}

func (s *UserStore) first(ctx context.Context, query string, args ...any) (*sg.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

// insert reports false when a unique index already holds one of model's keys
func (s *UserStore) insert(ctx context.Context, model *UserModel) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func federatedColumn(provider sg.Provider) (string, error) {
	switch provider {
	case sg.ProviderGoogle:
		return "google_id", nil
	case sg.ProviderFacebook:
		return "facebook_id", nil
	}
	return "", sg.ErrUnknownProvider
}

func newModel() *UserModel {
	now := time.Now().UTC()
	return &UserModel{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}
