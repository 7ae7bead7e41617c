//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	sg "github.com/panyam/secretgate"
)

// Kind constants for Datastore entities
const (
	KindUser          = "User"
	KindUsername      = "Username"
	KindFederatedLink = "FederatedLink"
)

// racing find-or-create calls for one subject conflict on the link entity;
// every loser is retried and then finds the winner's link
const maxTxAttempts = 10

// UserStore implements secretgate.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func linkName(provider sg.Provider, subjectId string) string {
	return string(provider) + ":" + subjectId
}

func (s *UserStore) CreateLocalUser(ctx context.Context, username, passwordHash, salt string) (*sg.User, error) {
	var entity *UserEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		reservation := s.namespacedKey(KindUsername, username)
		var existing LinkEntity
		err := tx.Get(reservation, &existing)
		if err == nil {
			return sg.ErrDuplicateUsername
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		entity = s.newEntity()
		entity.Username = username
		entity.PasswordHash = passwordHash
		entity.Salt = salt
		if _, err := tx.Put(entity.Key, entity); err != nil {
			return err
		}
		_, err = tx.Put(reservation, &LinkEntity{UserID: entity.Key.Name, CreatedAt: entity.CreatedAt})
		return err
	}, datastore.MaxAttempts(maxTxAttempts))
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*sg.User, error) {
	if userId == "" {
		return nil, sg.ErrUserNotFound
	}
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, userId), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*sg.User, error) {
	if username == "" {
		return nil, sg.ErrUserNotFound
	}
	var link LinkEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUsername, username), &link); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUserById(ctx, link.UserID)
}

func (s *UserStore) FindOrCreateFederated(ctx context.Context, provider sg.Provider, subjectId string) (*sg.User, bool, error) {
	var linked sg.User
	if err := linked.SetFederatedID(provider, subjectId); err != nil {
		return nil, false, err
	}

	var entity *UserEntity
	var created bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		// reset state from a retried attempt
		created = false
		linkKey := s.namespacedKey(KindFederatedLink, linkName(provider, subjectId))

		var link LinkEntity
		err := tx.Get(linkKey, &link)
		if err == nil {
			entity = &UserEntity{}
			return tx.Get(s.namespacedKey(KindUser, link.UserID), entity)
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		entity = s.newEntity()
		entity.GoogleID = linked.GoogleID
		entity.FacebookID = linked.FacebookID
		if _, err := tx.Put(entity.Key, entity); err != nil {
			return err
		}
		if _, err := tx.Put(linkKey, &LinkEntity{UserID: entity.Key.Name, CreatedAt: entity.CreatedAt}); err != nil {
			return err
		}
		created = true
		return nil
	}, datastore.MaxAttempts(maxTxAttempts))
	if err != nil {
		return nil, false, err
	}
	return entity.ToUser(), created, nil
}

func (s *UserStore) SetSecret(ctx context.Context, userId, secret string) error {
	if userId == "" {
		return sg.ErrUserNotFound
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := s.namespacedKey(KindUser, userId)
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return sg.ErrUserNotFound
			}
			return err
		}
		entity.Secret = secret
		entity.HasSecret = secret != ""
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// ListUsersWithSecrets filters on the indexed has_secret flag and sorts in
// memory, so no composite index is needed.
func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*sg.User, error) {
	query := datastore.NewQuery(KindUser).
		Namespace(s.namespace).
		FilterField("has_secret", "=", true)

	users := []*sg.User{}
	it := s.client.Run(ctx, query)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		users = append(users, entity.ToUser())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *UserStore) newEntity() *UserEntity {
	now := time.Now()
	return &UserEntity{
		Key:       s.namespacedKey(KindUser, uuid.NewString()),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
