package repository

import (
	"context"
	"time"

	"github.com/unilib/unilib/internal/book"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements a MongoDB-backed repository for the book catalog.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	// fileId is the download-boundary address, keep it indexed and unique
	idx := mongo.IndexModel{Keys: bson.D{{Key: "fileId", Value: 1}}, Options: options.Index().SetUnique(true)}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Insert(ctx context.Context, b *book.Book) error {
	now := time.Now().UTC()
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err := m.col.InsertOne(ctx, b)
	return err
}

func (m *MongoRepo) GetByID(ctx context.Context, id string) (*book.Book, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var b book.Book
	if err := m.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (m *MongoRepo) GetByFileID(ctx context.Context, fileID string) (*book.Book, error) {
	var b book.Book
	if err := m.col.FindOne(ctx, bson.M{"fileId": fileID}).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (m *MongoRepo) List(ctx context.Context, departmentID string) ([]*book.Book, error) {
	filter := bson.M{}
	if departmentID != "" {
		oid, err := primitive.ObjectIDFromHex(departmentID)
		if err != nil {
			return []*book.Book{}, nil
		}
		filter["department"] = oid
	}
	cur, err := m.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*book.Book{}
	for cur.Next(ctx) {
		var b book.Book
		if err := cur.Decode(&b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, cur.Err()
}

func (m *MongoRepo) UpdateMeta(ctx context.Context, id string, upd MetaUpdate) (*book.Book, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Author != nil {
		set["author"] = *upd.Author
	}
	if upd.Year != nil {
		set["year"] = *upd.Year
	}
	if upd.Semester != nil {
		set["semester"] = *upd.Semester
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var b book.Book
	if err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleStar flips the user's membership in the star set with a conditional
// update, so concurrent toggles serialize on the document and no update is
// lost. The filter pins the pre-state (member / not member); when a
// concurrent toggle changes that state between our attempts, both
// conditional updates miss and we retry against the fresh state.
func (m *MongoRepo) ToggleStar(ctx context.Context, id, userSub string) (bool, int, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, 0, ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	for attempt := 0; attempt < 5; attempt++ {
		// try remove first: matches only when the user is currently a member
		var b book.Book
		err := m.col.FindOneAndUpdate(ctx,
			bson.M{"_id": oid, "stars": userSub},
			bson.M{"$pull": bson.M{"stars": userSub}, "$set": bson.M{"updatedAt": time.Now().UTC()}},
			opts).Decode(&b)
		if err == nil {
			return false, len(b.Stars), nil
		}
		if err != mongo.ErrNoDocuments {
			return false, 0, err
		}

		// not a member: try add, matching only the non-member state
		err = m.col.FindOneAndUpdate(ctx,
			bson.M{"_id": oid, "stars": bson.M{"$ne": userSub}},
			bson.M{"$addToSet": bson.M{"stars": userSub}, "$set": bson.M{"updatedAt": time.Now().UTC()}},
			opts).Decode(&b)
		if err == nil {
			return true, len(b.Stars), nil
		}
		if err != mongo.ErrNoDocuments {
			return false, 0, err
		}

		// both misses: either the book is gone or we raced another toggle
		if _, gerr := m.GetByID(ctx, id); gerr != nil {
			return false, 0, gerr
		}
	}
	return false, 0, context.DeadlineExceeded
}

func (m *MongoRepo) AppendComment(ctx context.Context, id string, c book.Comment) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := m.col.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$push": bson.M{"comments": c}, "$set": bson.M{"updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
