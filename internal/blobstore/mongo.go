package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on two collections laid out like a GridFS
// bucket: "<prefix>.files" holds object metadata, "<prefix>.chunks" holds the
// raw chunks keyed (files_id, n). The metadata document is inserted last, so
// an object is only resolvable once its final chunk is on disk.
type MongoStore struct {
	files     *mongo.Collection
	chunks    *mongo.Collection
	chunkSize int
}

type mongoFileDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Length      int64              `bson:"length"`
	ChunkSize   int                `bson:"chunkSize"`
	UploadDate  time.Time          `bson:"uploadDate"`
	Filename    string             `bson:"filename"`
	ContentType string             `bson:"contentType"`
}

type mongoChunkDoc struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	FilesID primitive.ObjectID `bson:"files_id"`
	N       int                `bson:"n"`
	Data    primitive.Binary   `bson:"data"`
}

// NewMongoStore creates a chunk store over the given database using the
// bucket name as collection prefix (the original deployment used "uploads").
func NewMongoStore(db *mongo.Database, bucket string) *MongoStore {
	if bucket == "" {
		bucket = "uploads"
	}
	chunks := db.Collection(bucket + ".chunks")
	// unique (files_id, n) index keeps chunk sequences free of duplicates
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	chunks.Indexes().CreateOne(context.Background(), idx)
	return &MongoStore{
		files:     db.Collection(bucket + ".files"),
		chunks:    chunks,
		chunkSize: DefaultChunkSize,
	}
}

func (s *MongoStore) BeginWrite(ctx context.Context, contentType, filename string) (Writer, error) {
	return &mongoWriter{
		store:       s,
		ctx:         ctx,
		id:          primitive.NewObjectID(),
		contentType: contentType,
		filename:    filename,
		buf:         make([]byte, 0, s.chunkSize),
	}, nil
}

type mongoWriter struct {
	store       *MongoStore
	ctx         context.Context
	id          primitive.ObjectID
	contentType string
	filename    string
	buf         []byte
	n           int   // next chunk sequence number
	length      int64 // bytes flushed + buffered
	done        bool
}

func (w *mongoWriter) ID() string { return w.id.Hex() }

func (w *mongoWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("%w: writer already finalized", ErrWriteFailed)
	}
	w.length += int64(len(p))
	w.buf = append(w.buf, p...)
	for len(w.buf) >= w.store.chunkSize {
		if err := w.flushChunk(w.buf[:w.store.chunkSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[w.store.chunkSize:]
	}
	return len(p), nil
}

func (w *mongoWriter) flushChunk(data []byte) error {
	doc := mongoChunkDoc{
		FilesID: w.id,
		N:       w.n,
		Data:    primitive.Binary{Data: data},
	}
	if _, err := w.store.chunks.InsertOne(w.ctx, doc); err != nil {
		return fmt.Errorf("%w: chunk %d: %v", ErrWriteFailed, w.n, err)
	}
	w.n++
	return nil
}

func (w *mongoWriter) Commit(ctx context.Context) (*Object, error) {
	if w.done {
		return nil, fmt.Errorf("%w: writer already finalized", ErrWriteFailed)
	}
	if len(w.buf) > 0 {
		data := w.buf
		w.buf = nil
		if err := w.flushChunk(data); err != nil {
			return nil, err
		}
	}
	doc := mongoFileDoc{
		ID:          w.id,
		Length:      w.length,
		ChunkSize:   w.store.chunkSize,
		UploadDate:  time.Now().UTC(),
		Filename:    w.filename,
		ContentType: w.contentType,
	}
	if _, err := w.store.files.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}
	w.done = true
	return fileDocToObject(&doc), nil
}

func (w *mongoWriter) Abort(ctx context.Context) error {
	w.done = true
	if _, err := w.store.chunks.DeleteMany(ctx, bson.M{"files_id": w.id}); err != nil {
		return fmt.Errorf("abort %s: %w", w.id.Hex(), err)
	}
	return nil
}

func (s *MongoStore) Stat(ctx context.Context, id string) (*Object, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc mongoFileDoc
	if err := s.files.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: stat: %v", ErrReadFailed, err)
	}
	return fileDocToObject(&doc), nil
}

func (s *MongoStore) OpenRead(ctx context.Context, id string) (*Object, io.ReadCloser, error) {
	obj, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	oid, _ := primitive.ObjectIDFromHex(id)
	cur, err := s.chunks.Find(ctx, bson.M{"files_id": oid},
		options.Find().SetSort(bson.D{{Key: "n", Value: 1}}))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open: %v", ErrReadFailed, err)
	}
	return obj, &mongoReader{ctx: ctx, cur: cur, remaining: obj.Length}, nil
}

// mongoReader streams chunk documents in sequence order without buffering
// the whole object. It checks the sequence numbers for gaps as it goes.
type mongoReader struct {
	ctx       context.Context
	cur       *mongo.Cursor
	buf       []byte
	next      int
	remaining int64
	err       error
}

func (r *mongoReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.buf) == 0 {
		if r.remaining <= 0 {
			r.err = io.EOF
			return 0, io.EOF
		}
		if !r.cur.Next(r.ctx) {
			if err := r.cur.Err(); err != nil {
				r.err = fmt.Errorf("%w: %v", ErrReadFailed, err)
			} else {
				r.err = fmt.Errorf("%w: missing chunk %d", ErrReadFailed, r.next)
			}
			return 0, r.err
		}
		var doc mongoChunkDoc
		if err := r.cur.Decode(&doc); err != nil {
			r.err = fmt.Errorf("%w: decode chunk: %v", ErrReadFailed, err)
			return 0, r.err
		}
		if doc.N != r.next {
			r.err = fmt.Errorf("%w: chunk gap, want %d got %d", ErrReadFailed, r.next, doc.N)
			return 0, r.err
		}
		r.next++
		r.buf = doc.Data.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	r.remaining -= int64(n)
	return n, nil
}

func (r *mongoReader) Close() error {
	return r.cur.Close(r.ctx)
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// unknown ids are not an error: delete is idempotent
		return nil
	}
	if _, err := s.files.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"files_id": oid}); err != nil {
		return fmt.Errorf("delete chunks %s: %w", id, err)
	}
	return nil
}

func fileDocToObject(doc *mongoFileDoc) *Object {
	return &Object{
		ID:          doc.ID.Hex(),
		Length:      doc.Length,
		ChunkSize:   doc.ChunkSize,
		ContentType: doc.ContentType,
		Filename:    doc.Filename,
		UploadDate:  doc.UploadDate,
	}
}
