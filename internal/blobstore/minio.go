package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIOStore implements Store on a MinIO bucket. Each chunk is stored as its
// own object "<id>/<n>"; the metadata object "<id>/meta" is written last and
// acts as the commit point, so readers never observe a half-written object.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	chunkSize int
}

// NewMinIOStore creates a MinIO-backed chunk store and ensures the bucket exists.
func NewMinIOStore(cfg *MinIOConfig) (*MinIOStore, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &MinIOStore{client: mc, bucket: cfg.Bucket, chunkSize: DefaultChunkSize}
	// ensure bucket exists (idempotent)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

func chunkKey(id string, n int) string { return fmt.Sprintf("%s/%d", id, n) }
func metaKey(id string) string         { return id + "/meta" }

func (s *MinIOStore) BeginWrite(ctx context.Context, contentType, filename string) (Writer, error) {
	return &minioWriter{
		store:       s,
		ctx:         ctx,
		id:          primitive.NewObjectID().Hex(),
		contentType: contentType,
		filename:    filename,
	}, nil
}

type minioWriter struct {
	store       *MinIOStore
	ctx         context.Context
	id          string
	contentType string
	filename    string
	buf         []byte
	n           int
	length      int64
	done        bool
}

func (w *minioWriter) ID() string { return w.id }

func (w *minioWriter) Write(p []byte) (int, error) {
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

func (w *minioWriter) flushChunk(data []byte) error {
	_, err := w.store.client.PutObject(w.ctx, w.store.bucket, chunkKey(w.id, w.n),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("%w: chunk %d: %v", ErrWriteFailed, w.n, err)
	}
	w.n++
	return nil
}

func (w *minioWriter) Commit(ctx context.Context) (*Object, error) {
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
	obj := &Object{
		ID:          w.id,
		Length:      w.length,
		ChunkSize:   w.store.chunkSize,
		ContentType: w.contentType,
		Filename:    w.filename,
		UploadDate:  time.Now().UTC(),
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal meta: %v", ErrWriteFailed, err)
	}
	_, err = w.store.client.PutObject(ctx, w.store.bucket, metaKey(w.id),
		bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}
	w.done = true
	return obj, nil
}

func (w *minioWriter) Abort(ctx context.Context) error {
	w.done = true
	return w.store.Delete(ctx, w.id)
}

func (s *MinIOStore) Stat(ctx context.Context, id string) (*Object, error) {
	r, err := s.client.GetObject(ctx, s.bucket, metaKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", ErrReadFailed, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: stat: %v", ErrReadFailed, err)
	}
	var obj Object
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("%w: meta decode: %v", ErrReadFailed, err)
	}
	return &obj, nil
}

func (s *MinIOStore) OpenRead(ctx context.Context, id string) (*Object, io.ReadCloser, error) {
	obj, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return obj, &minioReader{store: s, ctx: ctx, id: id, remaining: obj.Length}, nil
}

// minioReader streams one chunk object at a time.
type minioReader struct {
	store     *MinIOStore
	ctx       context.Context
	id        string
	cur       io.ReadCloser
	n         int
	remaining int64
	err       error
}

func (r *minioReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for {
		if r.remaining <= 0 {
			r.err = io.EOF
			return 0, io.EOF
		}
		if r.cur == nil {
			obj, err := r.store.client.GetObject(r.ctx, r.store.bucket, chunkKey(r.id, r.n), minio.GetObjectOptions{})
			if err != nil {
				r.err = fmt.Errorf("%w: chunk %d: %v", ErrReadFailed, r.n, err)
				return 0, r.err
			}
			r.cur = obj
			r.n++
		}
		n, err := r.cur.Read(p)
		if n > 0 {
			r.remaining -= int64(n)
			return n, nil
		}
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			continue
		}
		if err != nil {
			r.err = fmt.Errorf("%w: chunk %d: %v", ErrReadFailed, r.n-1, err)
			return 0, r.err
		}
	}
}

func (r *minioReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

func (s *MinIOStore) Delete(ctx context.Context, id string) error {
	prefix := id + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("delete %s: %w", id, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}
