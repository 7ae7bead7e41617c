package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sg "github.com/panyam/secretgate"
)

// UserStore implements secretgate.UserStore using filesystem storage.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── {user_id}.json
//	└── index/
//	    ├── username/{hex(username)}     # contains the user id
//	    ├── google/{hex(subject)}
//	    └── facebook/{hex(subject)}
//
// Keys longer than 64 bytes are stored as h-{hex(sha256(key))}.
//
// # Concurrency Model
//
// A user file is always written before the index entry that points at it.
// Index entries are claimed with an exclusive hard link, so when two requests
// race to create the same username or federated subject exactly one claim
// succeeds. The loser removes its own user file and returns the winner.
// Secret updates are serialized within the process.
type UserStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewUserStore creates a new filesystem-backed UserStore
func NewUserStore(storagePath string) *UserStore {
	return &UserStore{StoragePath: storagePath}
}

const indexUsername = "username"

// Migrate creates the directory layout
func (s *UserStore) Migrate(ctx context.Context) error {
	dirs := []string{filepath.Join(s.StoragePath, "users"), s.indexDir(indexUsername)}
	for _, p := range sg.Providers {
		dirs = append(dirs, s.indexDir(string(p)))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (s *UserStore) getUserPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", userId+".json")
}

func (s *UserStore) indexDir(kind string) string {
	return filepath.Join(s.StoragePath, "index", kind)
}

func (s *UserStore) getIndexPath(kind, key string) string {
	return filepath.Join(s.indexDir(kind), indexKey(key))
}

func (s *UserStore) CreateLocalUser(ctx context.Context, username, passwordHash, salt string) (*sg.User, error) {
	user := newUser()
	user.Username = username
	user.PasswordHash = passwordHash
	user.Salt = salt

	won, err := s.createIndexed(user, indexUsername, username)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, sg.ErrDuplicateUsername
	}
	return user, nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*sg.User, error) {
	if userId == "" || strings.ContainsAny(userId, `/\`) || userId == "." || userId == ".." {
		return nil, sg.ErrUserNotFound
	}
	data, err := os.ReadFile(s.getUserPath(userId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}

	var user sg.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("corrupt user file %s: %w", userId, err)
	}
	return &user, nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*sg.User, error) {
	return s.lookup(ctx, indexUsername, username)
}

func (s *UserStore) FindOrCreateFederated(ctx context.Context, provider sg.Provider, subjectId string) (*sg.User, bool, error) {
	kind := string(provider)
	user, err := s.lookup(ctx, kind, subjectId)
	if err == nil {
		return user, false, nil
	} else if !errors.Is(err, sg.ErrUserNotFound) {
		return nil, false, err
	}

	user = newUser()
	if err := user.SetFederatedID(provider, subjectId); err != nil {
		return nil, false, err
	}

	won, err := s.createIndexed(user, kind, subjectId)
	if err != nil {
		return nil, false, err
	}
	if won {
		return user, true, nil
	}
	// someone else linked this subject first
	user, err = s.lookup(ctx, kind, subjectId)
	return user, false, err
}

func (s *UserStore) SetSecret(ctx context.Context, userId, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUserById(ctx, userId)
	if err != nil {
		return err
	}
	user.Secret = secret
	user.UpdatedAt = time.Now()
	return s.writeUser(user)
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*sg.User, error) {
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*sg.User{}, nil
		}
		return nil, err
	}

	users := []*sg.User{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		user, err := s.GetUserById(ctx, strings.TrimSuffix(name, ".json"))
		if errors.Is(err, sg.ErrUserNotFound) {
			// removed by a losing create while we were listing
			continue
		} else if err != nil {
			return nil, err
		}
		if user.Secret != "" {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// lookup follows an index entry to its user
func (s *UserStore) lookup(ctx context.Context, kind, key string) (*sg.User, error) {
	if key == "" {
		return nil, sg.ErrUserNotFound
	}
	data, err := os.ReadFile(s.getIndexPath(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}
	user, err := s.GetUserById(ctx, strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if indexedValue(user, kind) != key {
		return nil, fmt.Errorf("index %s entry for user %s does not match its key", kind, user.ID)
	}
	return user, nil
}

func indexedValue(user *sg.User, kind string) string {
	if kind == indexUsername {
		return user.Username
	}
	return user.FederatedID(sg.Provider(kind))
}

// createIndexed writes user and then tries to claim the (kind, key) index
// entry for it. Returns false, and removes the user file, if the entry was
// already taken.
func (s *UserStore) createIndexed(user *sg.User, kind, key string) (bool, error) {
	if err := s.writeUser(user); err != nil {
		return false, err
	}
	if err := os.MkdirAll(s.indexDir(kind), 0755); err != nil {
		return false, err
	}
	won, err := claimFile(s.getIndexPath(kind, key), []byte(user.ID))
	if err != nil || !won {
		os.Remove(s.getUserPath(user.ID))
		return false, err
	}
	return true, nil
}

func (s *UserStore) writeUser(user *sg.User) error {
	path := s.getUserPath(user.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func newUser() *sg.User {
	now := time.Now()
	return &sg.User{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}
