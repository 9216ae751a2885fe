package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAtChunkBoundaries(t *testing.T) {
	const chunk = 64
	cases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"exactly one chunk", chunk},
		{"several chunks plus one", 3*chunk + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStoreWithChunkSize(chunk)
			input := make([]byte, tc.size)
			for i := range input {
				input[i] = byte(i % 251)
			}

			w, err := s.BeginWrite(ctx, "application/pdf", "notes.pdf")
			require.NoError(t, err)
			// write in uneven slices so chunk splitting is exercised
			for off := 0; off < len(input); {
				end := off + 17
				if end > len(input) {
					end = len(input)
				}
				n, err := w.Write(input[off:end])
				require.NoError(t, err)
				off += n
			}
			obj, err := w.Commit(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(tc.size), obj.Length)

			got, rc, err := s.OpenRead(ctx, obj.ID)
			require.NoError(t, err)
			defer rc.Close()
			assert.Equal(t, "application/pdf", got.ContentType)
			out, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.True(t, bytes.Equal(input, out), "read-back bytes differ")
		})
	}
}

func TestObjectInvisibleBeforeCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoreWithChunkSize(32)

	w, err := s.BeginWrite(ctx, "application/pdf", "draft.pdf")
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 100)) // more than one chunk flushed
	require.NoError(t, err)

	// not committed yet: no reader may observe it
	_, err = s.Stat(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.OpenRead(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = w.Commit(ctx)
	require.NoError(t, err)
	_, err = s.Stat(ctx, w.ID())
	assert.NoError(t, err)
}

func TestAbortRemovesFlushedChunks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoreWithChunkSize(16)

	w, err := s.BeginWrite(ctx, "application/pdf", "partial.pdf")
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 50))
	require.NoError(t, err)
	require.NoError(t, w.Abort(ctx))

	_, err = s.Stat(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	// a finalized writer rejects further use
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrWriteFailed)
	_, err = w.Commit(ctx)
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w, err := s.BeginWrite(ctx, "application/pdf", "gone.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	obj, err := w.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, obj.ID))
	_, _, err = s.OpenRead(ctx, obj.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// second delete and deleting an unknown id are both fine
	require.NoError(t, s.Delete(ctx, obj.ID))
	require.NoError(t, s.Delete(ctx, "000000000000000000000000"))
}

func TestWriterIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		w, err := s.BeginWrite(ctx, "application/pdf", "f.pdf")
		require.NoError(t, err)
		require.False(t, seen[w.ID()], "duplicate object id")
		seen[w.ID()] = true
	}
}
