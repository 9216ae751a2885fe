package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/unilib/unilib/internal/blobstore"
	"github.com/unilib/unilib/internal/book"
	"github.com/unilib/unilib/internal/book/repository"
	"github.com/unilib/unilib/pkg/logger"
	"github.com/unilib/unilib/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	// ErrObjectMissing marks a catalog record whose stored object is gone.
	// Kept distinct from ErrNotFound so corruption is never reported as an
	// ordinary unknown id.
	ErrObjectMissing = errors.New("stored object missing for catalog record")
)

// DefaultMaxFileSize is the upload ceiling applied when none is configured.
const DefaultMaxFileSize = 50 * 1024 * 1024

// allowedMimeTypes is the document-type allow-list for uploads.
var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// Principal identifies the authenticated caller of a mutating operation.
type Principal struct {
	Sub  string
	Name string
	Role string
}

// DepartmentChecker is the department collaborator boundary consumed by
// upload validation.
type DepartmentChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// UserDirectory resolves display names and maintains the per-user favorites
// mirror of the star relation.
type UserDirectory interface {
	DisplayName(ctx context.Context, sub string) string
	AddFavorite(ctx context.Context, sub, bookID string) error
	RemoveFavorite(ctx context.Context, sub, bookID string) error
}

// Service implements the upload and download pipelines plus the catalog
// mutations around them.
type Service struct {
	repo        repository.Repository
	store       blobstore.Store
	departments DepartmentChecker
	users       UserDirectory
	maxFileSize int64
}

func New(repo repository.Repository, store blobstore.Store, departments DepartmentChecker, users UserDirectory, maxFileSize int64) *Service {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Service{repo: repo, store: store, departments: departments, users: users, maxFileSize: maxFileSize}
}

// UploadRequest carries the multipart fields and the file stream. Size is
// the declared length when the transport knows it, -1 otherwise; the ceiling
// is enforced on the actual stream either way.
type UploadRequest struct {
	Title        string
	Author       string
	DepartmentID string
	Year         int
	Semester     int
	Filename     string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// Upload runs the ingestion pipeline: validate, stream chunks, commit the
// object, then link the catalog record. A failure after chunks were flushed
// triggers a compensating delete so no orphaned object survives.
func (s *Service) Upload(ctx context.Context, p Principal, req UploadRequest) (*book.Book, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)

	if req.Title == "" || req.Author == "" || req.DepartmentID == "" {
		return nil, fmt.Errorf("%w: title, author and department are required", ErrValidation)
	}
	if req.Year != 0 && (req.Year < 1 || req.Year > 8) {
		return nil, fmt.Errorf("%w: year must be between 1 and 8", ErrValidation)
	}
	if req.Semester != 0 && (req.Semester < 1 || req.Semester > 2) {
		return nil, fmt.Errorf("%w: semester must be 1 or 2", ErrValidation)
	}
	if !allowedMimeTypes[req.ContentType] {
		return nil, fmt.Errorf("%w: invalid file type, only PDFs and Office documents are allowed", ErrValidation)
	}
	if req.Size >= 0 && req.Size > s.maxFileSize {
		return nil, fmt.Errorf("%w: file exceeds the %d byte limit", ErrValidation, s.maxFileSize)
	}
	deptOID, err := primitive.ObjectIDFromHex(req.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid department id", ErrValidation)
	}
	ok, err := s.departments.Exists(ctx, req.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("department lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: department %s", ErrNotFound, req.DepartmentID)
	}

	w, err := s.store.BeginWrite(ctx, req.ContentType, req.Filename)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("begin write: %w", err)
	}

	// LimitReader caps the copy one byte past the ceiling, so an oversized
	// stream is cut off mid-transfer instead of being ingested whole.
	copied, err := io.Copy(w, io.LimitReader(req.Body, s.maxFileSize+1))
	if err != nil {
		s.rollbackWrite(ctx, w)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("streaming upload: %w", err)
	}
	if copied > s.maxFileSize {
		s.rollbackWrite(ctx, w)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: file exceeds the %d byte limit", ErrValidation, s.maxFileSize)
	}

	obj, err := w.Commit(ctx)
	if err != nil {
		s.rollbackWrite(ctx, w)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("commit object: %w", err)
	}

	b := &book.Book{
		Title:      req.Title,
		Author:     req.Author,
		Year:       req.Year,
		Semester:   req.Semester,
		Department: deptOID,
		UploadedBy: p.Sub,
		FileID:     obj.ID,
		FileName:   obj.Filename,
		FileSize:   obj.Length,
		MimeType:   obj.ContentType,
	}
	if err := s.repo.Insert(ctx, b); err != nil {
		// catalog link failed after the object committed: compensate
		s.compensateObject(ctx, obj.ID)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("link catalog record: %w", err)
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	return b, nil
}

const compensationTimeout = 30 * time.Second

// compensationContext detaches cleanup from the request context: the most
// common trigger for a rollback is the client dropping the connection, which
// cancels the request context before the compensating delete runs.
func compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func (s *Service) rollbackWrite(ctx context.Context, w blobstore.Writer) {
	metrics.UploadRollbacks.Inc()
	cctx, cancel := compensationContext(ctx)
	defer cancel()
	if err := w.Abort(cctx); err != nil {
		// compensation failure must not mask the original error
		logger.Errorf("upload rollback failed for object %s: %v", w.ID(), err)
	}
}

func (s *Service) compensateObject(ctx context.Context, id string) {
	metrics.UploadRollbacks.Inc()
	cctx, cancel := compensationContext(ctx)
	defer cancel()
	if err := s.store.Delete(cctx, id); err != nil {
		logger.Errorf("compensating delete failed for object %s: %v", id, err)
	}
}

// Download resolves a catalog record by its stored-object id and opens the
// chunk stream. The returned book carries the authoritative filename for
// response framing.
func (s *Service) Download(ctx context.Context, fileID string) (*book.Book, *blobstore.Object, io.ReadCloser, error) {
	b, err := s.repo.GetByFileID(ctx, fileID)
	if err != nil {
		if err == repository.ErrNotFound {
			metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
			return nil, nil, nil, ErrNotFound
		}
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, nil, nil, err
	}
	obj, rc, err := s.store.OpenRead(ctx, b.FileID)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// the record exists but its object is gone: corrupt record
			logger.Errorf("catalog record %s references missing object %s", b.ID.Hex(), b.FileID)
			metrics.DownloadsTotal.WithLabelValues("corrupt").Inc()
			return nil, nil, nil, ErrObjectMissing
		}
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, nil, nil, err
	}
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	return b, obj, rc, nil
}

// Get returns a single catalog record.
func (s *Service) Get(ctx context.Context, id string) (*book.Book, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err == repository.ErrNotFound {
		return nil, ErrNotFound
	}
	return b, err
}

// List returns catalog records, optionally filtered by department.
func (s *Service) List(ctx context.Context, departmentID string) ([]*book.Book, error) {
	return s.repo.List(ctx, departmentID)
}

// Edit updates title/author/classification. Only the uploader may edit.
func (s *Service) Edit(ctx context.Context, p Principal, id string, upd repository.MetaUpdate) (*book.Book, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if upd.Author != nil && strings.TrimSpace(*upd.Author) == "" {
		return nil, fmt.Errorf("%w: author must not be empty", ErrValidation)
	}
	if upd.Year != nil && *upd.Year != 0 && (*upd.Year < 1 || *upd.Year > 8) {
		return nil, fmt.Errorf("%w: year must be between 1 and 8", ErrValidation)
	}
	if upd.Semester != nil && *upd.Semester != 0 && (*upd.Semester < 1 || *upd.Semester > 2) {
		return nil, fmt.Errorf("%w: semester must be 1 or 2", ErrValidation)
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if b.UploadedBy != p.Sub {
		return nil, ErrForbidden
	}
	return s.repo.UpdateMeta(ctx, id, upd)
}

// Delete removes the catalog record and then deletes the owned object.
// Object deletion is best-effort: the record removal stands even when chunk
// cleanup fails, but the failure is logged.
func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if b.UploadedBy != p.Sub {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == repository.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if err := s.store.Delete(ctx, b.FileID); err != nil {
		logger.Errorf("deleting object %s for book %s failed: %v", b.FileID, id, err)
	}
	return nil
}

// StarResult reports a toggle outcome.
type StarResult struct {
	Added     bool `json:"added"`
	StarCount int  `json:"starCount"`
}

// ToggleStar flips the caller's star on a book. The book's star set is the
// authoritative side; the user's favorites list is a mirror updated
// best-effort afterwards, so a mirror failure still returns success.
func (s *Service) ToggleStar(ctx context.Context, p Principal, id string) (*StarResult, error) {
	added, count, err := s.repo.ToggleStar(ctx, id, p.Sub)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var mirrorErr error
	if added {
		mirrorErr = s.users.AddFavorite(ctx, p.Sub, id)
	} else {
		mirrorErr = s.users.RemoveFavorite(ctx, p.Sub, id)
	}
	if mirrorErr != nil {
		logger.Warnf("favorites mirror update failed for user %s book %s: %v", p.Sub, id, mirrorErr)
	}
	return &StarResult{Added: added, StarCount: count}, nil
}

// CommentView is a persisted comment with the author's display name resolved.
type CommentView struct {
	User      string    `json:"user"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddComment appends a comment in arrival order.
func (s *Service) AddComment(ctx context.Context, p Principal, id, text string) (*CommentView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text must not be empty", ErrValidation)
	}
	c := book.Comment{User: p.Sub, Text: text, CreatedAt: time.Now().UTC()}
	if err := s.repo.AppendComment(ctx, id, c); err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &CommentView{
		User:      c.User,
		UserName:  s.users.DisplayName(ctx, p.Sub),
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}, nil
}
