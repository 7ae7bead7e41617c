// Package mongo stores secretgate users in MongoDB.
//
// Documents use the same field names as collections written by
// passport-local-mongoose and mongoose-findorcreate (username, hash, salt,
// googleId, facebookId, secret), so an existing userDB can be served as is.
// Uniqueness is enforced by sparse unique indexes created in EnsureIndexes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sg "github.com/panyam/secretgate"
)

const (
	DefaultDatabase   = "userDB"
	DefaultCollection = "users"

	// upserts racing on a unique index can fail with a duplicate key error
	// instead of matching; they are retried this many times
	maxUpsertAttempts = 3
)

type userDocument struct {
	ID         primitive.ObjectID `bson:"_id"`
	Username   string             `bson:"username,omitempty"`
	Hash       string             `bson:"hash,omitempty"`
	Salt       string             `bson:"salt,omitempty"`
	GoogleID   string             `bson:"googleId,omitempty"`
	FacebookID string             `bson:"facebookId,omitempty"`
	Secret     string             `bson:"secret,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

func (d *userDocument) toUser() *sg.User {
	return &sg.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		PasswordHash: d.Hash,
		Salt:         d.Salt,
		GoogleID:     d.GoogleID,
		FacebookID:   d.FacebookID,
		Secret:       d.Secret,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UserStore implements secretgate.UserStore on a MongoDB collection
type UserStore struct {
	users *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{users: db.Collection(DefaultCollection)}
}

// EnsureIndexes creates the unique indexes the store relies on
func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName(field + "_unique"),
		}
	}
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		unique("username"),
		unique("googleId"),
		unique("facebookId"),
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *UserStore) CreateLocalUser(ctx context.Context, username, passwordHash, salt string) (*sg.User, error) {
	now := time.Now().UTC()
	doc := &userDocument{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Hash:      passwordHash,
		Salt:      salt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, sg.ErrDuplicateUsername
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*sg.User, error) {
	oid, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, sg.ErrUserNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*sg.User, error) {
	if username == "" {
		return nil, sg.ErrUserNotFound
	}
	return s.findOne(ctx, bson.M{"username": username})
}

func (s *UserStore) FindOrCreateFederated(ctx context.Context, provider sg.Provider, subjectId string) (*sg.User, bool, error) {
	var field string
	switch provider {
	case sg.ProviderGoogle:
		field = "googleId"
	case sg.ProviderFacebook:
		field = "facebookId"
	default:
		return nil, false, sg.ErrUnknownProvider
	}
	filter := bson.M{field: subjectId}

	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()
		// the equality filter is copied into the inserted document
		update := bson.M{"$setOnInsert": bson.M{
			"_id":       primitive.NewObjectID(),
			"createdAt": now,
			"updatedAt": now,
		}}
		result, err := s.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) && attempt < maxUpsertAttempts {
				continue
			}
			return nil, false, err
		}
		user, err := s.findOne(ctx, filter)
		if err != nil {
			return nil, false, err
		}
		return user, result.UpsertedCount == 1, nil
	}
}

func (s *UserStore) SetSecret(ctx context.Context, userId, secret string) error {
	oid, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return sg.ErrUserNotFound
	}
	result, err := s.users.UpdateByID(ctx, oid, bson.M{"$set": bson.M{
		"secret":    secret,
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return sg.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) ListUsersWithSecrets(ctx context.Context) ([]*sg.User, error) {
	filter := bson.M{"secret": bson.M{"$nin": bson.A{nil, ""}}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*sg.User{}
	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		users = append(users, doc.toUser())
	}
	return users, cursor.Err()
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M) (*sg.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sg.ErrUserNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}
