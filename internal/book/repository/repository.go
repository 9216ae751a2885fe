package repository

import (
	"context"
	"errors"

	"github.com/unilib/unilib/internal/book"
)

var (
	ErrNotFound = errors.New("book not found")
)

// MetaUpdate carries the editable catalog fields. Nil pointers leave the
// field untouched.
type MetaUpdate struct {
	Title    *string
	Author   *string
	Year     *int
	Semester *int
}

// Repository defines persistence operations for the book catalog.
// ToggleStar must be applied against current persisted state so concurrent
// toggles on one book never lose updates.
type Repository interface {
	Insert(ctx context.Context, b *book.Book) error
	GetByID(ctx context.Context, id string) (*book.Book, error)
	GetByFileID(ctx context.Context, fileID string) (*book.Book, error)
	// List returns books newest-first, optionally filtered by department id.
	List(ctx context.Context, departmentID string) ([]*book.Book, error)
	UpdateMeta(ctx context.Context, id string, upd MetaUpdate) (*book.Book, error)
	Delete(ctx context.Context, id string) error
	// ToggleStar adds the user to the star set if absent, removes it if
	// present, and returns the membership change plus the new count.
	ToggleStar(ctx context.Context, id, userSub string) (added bool, count int, err error)
	AppendComment(ctx context.Context, id string, c book.Comment) error
}
