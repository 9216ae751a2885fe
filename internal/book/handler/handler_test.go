package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/unilib/unilib/internal/blobstore"
	"github.com/unilib/unilib/internal/book"
	"github.com/unilib/unilib/internal/book/repository"
	"github.com/unilib/unilib/internal/book/service"
	"github.com/unilib/unilib/internal/department"
	"github.com/unilib/unilib/internal/users"
	"github.com/unilib/unilib/pkg/middleware"
)

type staticToken struct{ claims map[string]interface{} }

func (t *staticToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// subVerifier accepts any bearer token and uses the token string itself as
// the subject, so tests can act as different users via the header alone.
// Subjects prefixed "student:" get the student role, everyone else is a
// teacher.
type subVerifier struct{}

func (subVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	role := "teacher"
	if strings.HasPrefix(raw, "student:") {
		role = "student"
	}
	return &staticToken{claims: map[string]interface{}{"sub": raw, "name": "User " + raw, "role": role}}, nil
}

type env struct {
	router *gin.Engine
	deptID string
	store  blobstore.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	store := blobstore.NewMemoryStore()
	depts := department.NewService(department.NewMemoryRepository())
	d, err := depts.Create(context.Background(), "Physics", "Physics")
	require.NoError(t, err)
	userSvc := users.NewService(users.NewMemoryUserRepository())
	svc := service.New(repo, store, depts, userSvc, 1<<20)

	r := gin.New()
	authed := r.Group("/api")
	authed.Use(middleware.AuthMiddleware(subVerifier{}))
	New(svc).RegisterRoutes(authed)
	department.RegisterRoutes(authed, depts, svc)

	return &env{router: r, deptID: d.ID.Hex(), store: store}
}

func (e *env) do(t *testing.T, method, path, sub string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+sub)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, deptID string, payload []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Optics"))
	require.NoError(t, mw.WriteField("author", "Hecht"))
	require.NoError(t, mw.WriteField("department", deptID))
	require.NoError(t, mw.WriteField("year", "3"))
	require.NoError(t, mw.WriteField("semester", "2"))

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="optics.pdf"`}
	hdr["Content-Type"] = []string{"application/pdf"}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *env) uploadBook(t *testing.T, sub string, payload []byte) book.Book {
	t.Helper()
	body, ct := multipartUpload(t, e.deptID, payload)
	w := e.do(t, http.MethodPost, "/api/books", sub, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var b book.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func TestUploadAndDownload(t *testing.T) {
	e := newEnv(t)
	payload := bytes.Repeat([]byte{0x25, 0x50, 0x44, 0x46}, 2048)

	b := e.uploadBook(t, "alice", payload)
	require.Equal(t, "Optics", b.Title)
	require.Equal(t, "alice", b.UploadedBy)
	require.NotEmpty(t, b.FileID)

	w := e.do(t, http.MethodGet, "/api/files/"+b.FileID, "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Equal(t, fmt.Sprintf("%d", len(payload)), w.Header().Get("Content-Length"))
	require.Equal(t, `attachment; filename="optics.pdf"`, w.Header().Get("Content-Disposition"))
	require.True(t, bytes.Equal(payload, w.Body.Bytes()))
}

func TestUploadRequiresAuth(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartUpload(t, e.deptID, []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadRequiresTeacherRole(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartUpload(t, e.deptID, []byte("%PDF-1.4"))
	w := e.do(t, http.MethodPost, "/api/books", "student:carol", body, ct)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadMissingFilePart(t *testing.T) {
	e := newEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "No File"))
	require.NoError(t, mw.Close())
	w := e.do(t, http.MethodPost, "/api/books", "alice", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsWrongType(t *testing.T) {
	e := newEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Script"))
	require.NoError(t, mw.WriteField("author", "Nobody"))
	require.NoError(t, mw.WriteField("department", e.deptID))
	hdr := map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="evil.sh"`},
		"Content-Type":        {"application/x-sh"},
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("#!/bin/sh"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/books", "alice", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadUnknownFile(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/files/ffffffffffffffffffffffff", "alice", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditAndDelete(t *testing.T) {
	e := newEnv(t)
	b := e.uploadBook(t, "alice", []byte("%PDF-1.4 body"))

	// another user may not edit
	patch := bytes.NewBufferString(`{"title":"Hijacked"}`)
	w := e.do(t, http.MethodPatch, "/api/books/"+b.ID.Hex(), "mallory", patch, "application/json")
	require.Equal(t, http.StatusForbidden, w.Code)

	patch = bytes.NewBufferString(`{"title":"Optics, 5th ed.","year":4}`)
	w = e.do(t, http.MethodPatch, "/api/books/"+b.ID.Hex(), "alice", patch, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated book.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, "Optics, 5th ed.", updated.Title)
	require.Equal(t, 4, updated.Year)

	w = e.do(t, http.MethodDelete, "/api/books/"+b.ID.Hex(), "mallory", nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodDelete, "/api/books/"+b.ID.Hex(), "alice", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/books/"+b.ID.Hex(), "alice", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/api/files/"+b.FileID, "alice", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStarToggle(t *testing.T) {
	e := newEnv(t)
	b := e.uploadBook(t, "alice", []byte("%PDF-1.4 body"))

	w := e.do(t, http.MethodPost, "/api/books/"+b.ID.Hex()+"/star", "bob", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res service.StarResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Added)
	require.Equal(t, 1, res.StarCount)

	w = e.do(t, http.MethodPost, "/api/books/"+b.ID.Hex()+"/star", "bob", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.False(t, res.Added)
	require.Equal(t, 0, res.StarCount)
}

func TestComments(t *testing.T) {
	e := newEnv(t)
	b := e.uploadBook(t, "alice", []byte("%PDF-1.4 body"))

	body := bytes.NewBufferString(`{"text":"great scan"}`)
	w := e.do(t, http.MethodPost, "/api/books/"+b.ID.Hex()+"/comments", "bob", body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cv service.CommentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cv))
	require.Equal(t, "bob", cv.User)
	require.Equal(t, "great scan", cv.Text)

	body = bytes.NewBufferString(`{"text":"   "}`)
	w = e.do(t, http.MethodPost, "/api/books/"+b.ID.Hex()+"/comments", "bob", body, "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndDepartments(t *testing.T) {
	e := newEnv(t)
	e.uploadBook(t, "alice", []byte("%PDF-1.4 one"))
	e.uploadBook(t, "alice", []byte("%PDF-1.4 two"))

	w := e.do(t, http.MethodGet, "/api/books", "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []book.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)

	w = e.do(t, http.MethodGet, "/api/books?department="+e.deptID, "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)

	w = e.do(t, http.MethodGet, "/api/departments/"+e.deptID, "alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Department department.Department `json:"department"`
		Books      []book.Book           `json:"books"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Equal(t, "Physics", detail.Department.Name)
	require.Len(t, detail.Books, 2)
}
