package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-memory Store used for unit tests and local runs
// without a database. Chunk handling mirrors the Mongo backend: fixed-size
// chunks, metadata published only at Commit.
type MemoryStore struct {
	mu        sync.RWMutex
	objects   map[string]*memObject
	chunkSize int
}

type memObject struct {
	meta      Object
	chunks    [][]byte
	committed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memObject), chunkSize: DefaultChunkSize}
}

// NewMemoryStoreWithChunkSize is a test hook for exercising chunk boundaries
// without multi-hundred-KiB fixtures.
func NewMemoryStoreWithChunkSize(size int) *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memObject), chunkSize: size}
}

func (s *MemoryStore) BeginWrite(ctx context.Context, contentType, filename string) (Writer, error) {
	id := primitive.NewObjectID().Hex()
	obj := &memObject{meta: Object{
		ID:          id,
		ChunkSize:   s.chunkSize,
		ContentType: contentType,
		Filename:    filename,
	}}
	s.mu.Lock()
	s.objects[id] = obj
	s.mu.Unlock()
	return &memWriter{store: s, obj: obj, id: id}, nil
}

type memWriter struct {
	store *MemoryStore
	obj   *memObject
	id    string
	buf   []byte
	done  bool
}

func (w *memWriter) ID() string { return w.id }

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("%w: writer already finalized", ErrWriteFailed)
	}
	w.buf = append(w.buf, p...)
	w.store.mu.Lock()
	for len(w.buf) >= w.store.chunkSize {
		chunk := append([]byte(nil), w.buf[:w.store.chunkSize]...)
		w.obj.chunks = append(w.obj.chunks, chunk)
		w.obj.meta.Length += int64(len(chunk))
		w.buf = w.buf[w.store.chunkSize:]
	}
	w.store.mu.Unlock()
	return len(p), nil
}

func (w *memWriter) Commit(ctx context.Context) (*Object, error) {
	if w.done {
		return nil, fmt.Errorf("%w: writer already finalized", ErrWriteFailed)
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if len(w.buf) > 0 {
		chunk := append([]byte(nil), w.buf...)
		w.obj.chunks = append(w.obj.chunks, chunk)
		w.obj.meta.Length += int64(len(chunk))
		w.buf = nil
	}
	w.obj.meta.UploadDate = time.Now().UTC()
	w.obj.committed = true
	meta := w.obj.meta
	return &meta, nil
}

func (w *memWriter) Abort(ctx context.Context) error {
	w.done = true
	w.store.mu.Lock()
	delete(w.store.objects, w.id)
	w.store.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stat(ctx context.Context, id string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok || !obj.committed {
		return nil, ErrNotFound
	}
	meta := obj.meta
	return &meta, nil
}

func (s *MemoryStore) OpenRead(ctx context.Context, id string) (*Object, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok || !obj.committed {
		return nil, nil, ErrNotFound
	}
	meta := obj.meta
	var all []byte
	for _, c := range obj.chunks {
		all = append(all, c...)
	}
	return &meta, io.NopCloser(bytes.NewReader(all)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	return nil
}
