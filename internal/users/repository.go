package users

import (
	"context"
	"sync"
	"time"

	"github.com/unilib/unilib/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserRepository defines persistence operations for users
type UserRepository interface {
	UpsertBySub(ctx context.Context, u *models.User) (*models.User, error)
	GetBySub(ctx context.Context, sub string) (*models.User, error)
	AddFavorite(ctx context.Context, sub, bookID string) error
	RemoveFavorite(ctx context.Context, sub, bookID string) error
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

func (r *MongoUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	filter := bson.M{"sub": u.Sub}
	repl := bson.M{"$set": bson.M{
		"email":     u.Email,
		"name":      u.Name,
		"role":      u.Role,
		"updatedAt": u.UpdatedAt,
		"createdAt": u.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, filter, repl, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			// Shouldn't happen because of upsert, but handle gracefully
			return u, nil
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"sub": sub}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) AddFavorite(ctx context.Context, sub, bookID string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"sub": sub},
		bson.M{"$addToSet": bson.M{"favorites": bookID}, "$set": bson.M{"updatedAt": time.Now().UTC()}})
	return err
}

func (r *MongoUserRepository) RemoveFavorite(ctx context.Context, sub, bookID string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"sub": sub},
		bson.M{"$pull": bson.M{"favorites": bookID}, "$set": bson.M{"updatedAt": time.Now().UTC()}})
	return err
}

// MemoryUserRepository is an in-memory UserRepository for unit tests.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*models.User)}
}

func (r *MemoryUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.users[u.Sub]; ok {
		existing.Email = u.Email
		existing.Name = u.Name
		existing.Role = u.Role
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	r.users[u.Sub] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sub]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Favorites = append([]string(nil), u.Favorites...)
	return &cp, nil
}

func (r *MemoryUserRepository) AddFavorite(ctx context.Context, sub, bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sub]
	if !ok {
		return nil
	}
	for _, f := range u.Favorites {
		if f == bookID {
			return nil
		}
	}
	u.Favorites = append(u.Favorites, bookID)
	return nil
}

func (r *MemoryUserRepository) RemoveFavorite(ctx context.Context, sub, bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sub]
	if !ok {
		return nil
	}
	out := u.Favorites[:0]
	for _, f := range u.Favorites {
		if f != bookID {
			out = append(out, f)
		}
	}
	u.Favorites = out
	return nil
}
