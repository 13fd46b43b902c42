package body

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"testing"
	"time"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(p)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zlibbed(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(p)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func rawDeflated(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(p)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	return out
}

func TestOpenReadStreamMemoryEncodings(t *testing.T) {
	plain := []byte(`{"hello":"world","n":[1,2,3]}`)
	cases := map[string]*Handle{
		"identity":     {Bytes: plain},
		"unknown":      {Bytes: plain, ContentEncoding: "br"},
		"gzip":         {Bytes: gzipped(t, plain), ContentEncoding: "gzip"},
		"gzip mixed":   {Bytes: gzipped(t, plain), ContentEncoding: " GZIP "},
		"deflate zlib": {Bytes: zlibbed(t, plain), ContentEncoding: "deflate"},
		"deflate raw":  {Bytes: rawDeflated(t, plain), ContentEncoding: "deflate"},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			rc, err := OpenReadStream(nil, h)
			require.NoError(t, err)
			assert.Equal(t, plain, readAll(t, rc))
		})
	}
}

func TestOpenRawStreamKeepsEncoding(t *testing.T) {
	enc := gzipped(t, []byte("payload"))
	rc, err := OpenRawStream(nil, &Handle{Bytes: enc, ContentEncoding: "gzip"})
	require.NoError(t, err)
	assert.Equal(t, enc, readAll(t, rc))
}

func TestFileStoreLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/captures")
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("0123456789"), 100)
	enc := gzipped(t, plain)

	alloc, err := store.Allocate(Response, "req/1")
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(alloc, enc[:10]))
	require.NoError(t, store.WriteChunk(alloc, enc[10:]))

	h, err := store.Finalize(alloc, "gzip", false)
	require.NoError(t, err)
	assert.True(t, h.OnDisk())
	assert.Equal(t, int64(len(enc)), h.Size)
	assert.Equal(t, EncodingGzip, h.ContentEncoding)
	assert.NotContains(t, h.Path, "req/1")

	rc, err := OpenReadStream(store, h)
	require.NoError(t, err)
	assert.Equal(t, plain, readAll(t, rc))

	n, err := DecodedSize(store, h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plain)), n)

	require.NoError(t, store.Remove(h))
	_, err = OpenReadStream(store, h)
	assert.True(t, apperrors.Is(err, apperrors.ErrCaptureIO))
}

func TestFileStoreDiscardAndReclaim(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/captures")
	require.NoError(t, err)

	discarded, err := store.Allocate(Request, "a")
	require.NoError(t, err)
	require.NoError(t, store.Discard(discarded))
	exists, _ := afero.Exists(fs, discarded.Path())
	assert.False(t, exists)

	old, err := store.Allocate(Request, "old")
	require.NoError(t, err)
	oldHandle, err := store.Finalize(old, "", false)
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, fs.Chtimes(oldHandle.Path, past, past))

	fresh, err := store.Allocate(Request, "fresh")
	require.NoError(t, err)
	freshHandle, err := store.Finalize(fresh, "", false)
	require.NoError(t, err)

	removed, err := store.Reclaim(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, _ = afero.Exists(fs, oldHandle.Path)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, freshHandle.Path)
	assert.True(t, exists)
}

func TestFailedHandleIsNotReadable(t *testing.T) {
	_, err := OpenReadStream(nil, FailedHandle("disk full", 12))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCaptureIO))
	assert.Contains(t, err.Error(), "disk full")
}

func TestInvalidGzipIsCaptureError(t *testing.T) {
	_, err := OpenReadStream(nil, &Handle{Bytes: []byte("not gzip"), ContentEncoding: "gzip"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCaptureIO))
}
