package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unilib/unilib/internal/book"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryRepo is an in-memory catalog repository used in unit tests. All
// mutations run under the lock, which gives the same per-record serialization
// the Mongo backend gets from conditional updates.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*book.Book
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*book.Book)}
}

func (m *MemoryRepo) Insert(ctx context.Context, b *book.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	cp := *b
	m.store[b.ID.Hex()] = &cp
	return nil
}

func (m *MemoryRepo) GetByID(ctx context.Context, id string) (*book.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBook(b), nil
}

func (m *MemoryRepo) GetByFileID(ctx context.Context, fileID string) (*book.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.store {
		if b.FileID == fileID {
			return copyBook(b), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) List(ctx context.Context, departmentID string) ([]*book.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*book.Book{}
	for _, b := range m.store {
		if departmentID != "" && b.Department.Hex() != departmentID {
			continue
		}
		out = append(out, copyBook(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) UpdateMeta(ctx context.Context, id string, upd MetaUpdate) (*book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = *upd.Author
	}
	if upd.Year != nil {
		b.Year = *upd.Year
	}
	if upd.Semester != nil {
		b.Semester = *upd.Semester
	}
	b.UpdatedAt = time.Now().UTC()
	return copyBook(b), nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *MemoryRepo) ToggleStar(ctx context.Context, id, userSub string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[id]
	if !ok {
		return false, 0, ErrNotFound
	}
	for i, s := range b.Stars {
		if s == userSub {
			b.Stars = append(b.Stars[:i], b.Stars[i+1:]...)
			b.UpdatedAt = time.Now().UTC()
			return false, len(b.Stars), nil
		}
	}
	b.Stars = append(b.Stars, userSub)
	b.UpdatedAt = time.Now().UTC()
	return true, len(b.Stars), nil
}

func (m *MemoryRepo) AppendComment(ctx context.Context, id string, c book.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	b.Comments = append(b.Comments, c)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func copyBook(b *book.Book) *book.Book {
	cp := *b
	cp.Stars = append([]string(nil), b.Stars...)
	cp.Comments = append([]book.Comment(nil), b.Comments...)
	return &cp
}
