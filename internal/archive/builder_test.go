package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

// readZip returns entry names in order and file contents by name.
func readZip(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var (
		names    = make([]string, 0, len(zr.File))
		contents = make(map[string]string, len(zr.File))
	)

	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		require.NoError(t, err)

		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		contents[f.Name] = string(body)
	}

	return names, contents
}

// TestSerialize_Tree checks nested layout, folder entries and content round trip.
func TestSerialize_Tree(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.AddFile([]string{"a.txt"}, []byte("hi")))
	require.NoError(t, b.AddFile([]string{"sub", "b.txt"}, []byte("yo")))
	require.NoError(t, b.AddFile([]string{"sub", "deep", "c.txt"}, []byte("c")))

	require.Equal(t, 3, b.Files())
	require.Equal(t, 2, b.Folders())
	require.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"}, b.Paths())

	data, err := b.Serialize()
	require.NoError(t, err)

	names, contents := readZip(t, data)
	require.Equal(t, []string{"a.txt", "sub/", "sub/b.txt", "sub/deep/", "sub/deep/c.txt"}, names)
	require.Equal(t, map[string]string{
		"a.txt":          "hi",
		"sub/b.txt":      "yo",
		"sub/deep/c.txt": "c",
	}, contents)
}

// TestAddFolder_Idempotent ensures existing folders are reused rather than replaced.
func TestAddFolder_Idempotent(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.AddFile([]string{"sub", "b.txt"}, []byte("yo")))
	require.NoError(t, b.AddFolder([]string{"sub"}))
	require.NoError(t, b.AddFolder([]string{"sub"}))
	require.NoError(t, b.AddFolder([]string{"empty"}))

	require.Equal(t, 2, b.Folders())
	require.Equal(t, []string{"sub/b.txt"}, b.Paths())

	data, err := b.Serialize()
	require.NoError(t, err)

	names, _ := readZip(t, data)
	require.Equal(t, []string{"sub/", "sub/b.txt", "empty/"}, names)
}

// TestAddFile_ReplaceAndConflicts covers overwrites and file/folder clashes.
func TestAddFile_ReplaceAndConflicts(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.AddFile([]string{"a.txt"}, []byte("old")))
	require.NoError(t, b.AddFile([]string{"a.txt"}, []byte("new")))
	require.Equal(t, 1, b.Files())

	require.ErrorIs(t, b.AddFile([]string{"a.txt", "x"}, nil), ErrConflict)
	require.NoError(t, b.AddFolder([]string{"dir"}))
	require.ErrorIs(t, b.AddFile([]string{"dir"}, nil), ErrConflict)

	require.ErrorIs(t, b.AddFile(nil, nil), ErrInvalidPath)
	require.ErrorIs(t, b.AddFile([]string{"..", "x"}, nil), ErrInvalidPath)
	require.ErrorIs(t, b.AddFolder([]string{""}), ErrInvalidPath)

	data, err := b.Serialize()
	require.NoError(t, err)

	_, contents := readZip(t, data)
	require.Equal(t, "new", contents["a.txt"])
}

// TestSerialize_Empty verifies an archive without files is refused, even with folders.
func TestSerialize_Empty(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	_, err := b.Serialize()
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, b.AddFolder([]string{"only", "folders"}))
	_, err = b.Serialize()
	require.ErrorIs(t, err, ErrEmpty)
}

// TestSerialize_Deterministic checks identical input gives identical bytes.
func TestSerialize_Deterministic(t *testing.T) {
	t.Parallel()

	build := func() []byte {
		b := NewBuilder(WithCompressionLevel(flate.BestCompression))
		require.NoError(t, b.AddFile([]string{"index.html"}, []byte("<html></html>")))
		require.NoError(t, b.AddFile([]string{"js", "app.js"}, bytes.Repeat([]byte("x"), 4096)))

		data, err := b.Serialize()
		require.NoError(t, err)

		return data
	}

	require.Equal(t, build(), build())
}

// TestSerialize_BadLevel rejects compression levels outside flate's range.
func TestSerialize_BadLevel(t *testing.T) {
	t.Parallel()

	require.True(t, ValidLevel(flate.HuffmanOnly))
	require.False(t, ValidLevel(42))

	b := NewBuilder(WithCompressionLevel(42))
	require.NoError(t, b.AddFile([]string{"a"}, []byte("a")))

	_, err := b.Serialize()
	require.ErrorIs(t, err, ErrBadLevel)
}
