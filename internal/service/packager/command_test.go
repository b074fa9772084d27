package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/dist-zipper/internal/config"
	"github.com/oshokin/dist-zipper/internal/domain/rule"
	"github.com/oshokin/dist-zipper/internal/manifest"
	"github.com/oshokin/dist-zipper/internal/readiness"
	"github.com/oshokin/dist-zipper/internal/repository/lock"
)

var testTree = map[string]string{
	"a.txt":             "hi",
	"sub/b.txt":         "yo",
	"node_modules/x.js": "module.exports = 1",
}

// writeTree creates files under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// readArchive returns the file entries of the archive at path, folders omitted.
func readArchive(t *testing.T, path string) (map[string]string, []string) {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, reader.Close())
	}()

	files := make(map[string]string)
	names := make([]string, 0, len(reader.File))

	for _, file := range reader.File {
		names = append(names, file.Name)

		if strings.HasSuffix(file.Name, "/") {
			continue
		}

		rc, err := file.Open()
		require.NoError(t, err)

		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		files[file.Name] = string(content)
	}

	return files, names
}

// newConfig returns a configuration packaging root.
func newConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.OutputDir = root

	return cfg
}

// TestRun_ExcludesNodeModules packages everything but the excluded directory.
func TestRun_ExcludesNodeModules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.Exclude = rule.MustGlob("node_modules/**")

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
	require.False(t, result.Empty)
	require.Equal(t, filepath.Join(root, "output.zip"), result.ArchivePath)
	require.Equal(t, 2, result.Files)
	require.Empty(t, result.SubtreeErrors)

	files, names := readArchive(t, result.ArchivePath)
	require.Equal(t, map[string]string{"a.txt": "hi", "sub/b.txt": "yo"}, files)
	require.NotContains(t, names, "node_modules/")
}

// TestRun_MatchEverything packages the whole tree byte for byte.
func TestRun_MatchEverything(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	result, err := Run(context.Background(), &Options{Config: newConfig(root)})
	require.NoError(t, err)

	files, _ := readArchive(t, result.ArchivePath)
	require.Equal(t, testTree, files)
}

// TestRun_IncludeReachesNestedFiles descends directories the include rule does not name.
func TestRun_IncludeReachesNestedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/b/c.log": "log",
		"a/b/d.txt": "text",
	})

	cfg := newConfig(root)
	cfg.Include = rule.MustGlob("**/*.log")

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)

	files, _ := readArchive(t, result.ArchivePath)
	require.Equal(t, map[string]string{"a/b/c.log": "log"}, files)
}

// TestRun_NothingMatched writes no archive and reports no error.
func TestRun_NothingMatched(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.Exclude = rule.MustGlob("**/*")
	cfg.Verbose = true

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
	require.True(t, result.Empty)
	require.Empty(t, result.ArchivePath)

	_, err = os.Stat(filepath.Join(root, "output.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_MissingRoot records the failure and writes nothing.
func TestRun_MissingRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "missing")

	result, err := Run(context.Background(), &Options{Config: newConfig(root)})
	require.NoError(t, err)
	require.True(t, result.Empty)
	require.Len(t, result.SubtreeErrors, 1)
	require.ErrorIs(t, result.SubtreeErrors[0], os.ErrNotExist)

	_, err = os.Stat(root)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_ManifestDescribesArchive embeds a manifest listing exactly the packaged files.
func TestRun_ManifestDescribesArchive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.html":      "<html></html>",
		"css/styles.css":  "body{}",
		"js/app.js":       "run()",
		"node_modules/x":  "skip",
		"assets/data.bin": "\x00\x01",
	})

	cfg := newConfig(root)
	cfg.Exclude = rule.MustGlob("node_modules/**")
	cfg.GenerateManifest = true
	cfg.URLPrefix = "https://cdn.example.com/app/"

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	require.Equal(t, 4, result.Files)

	files, _ := readArchive(t, result.ArchivePath)

	embedded, ok := files[manifest.DefaultFilename]
	require.True(t, ok)
	delete(files, manifest.DefaultFilename)

	packaged := make([]string, 0, len(files))
	for name := range files {
		packaged = append(packaged, name)
	}

	require.ElementsMatch(t, packaged, result.Manifest.Paths())

	var decoded manifest.Manifest
	require.NoError(t, json.Unmarshal([]byte(embedded), &decoded))
	require.Equal(t, *result.Manifest, decoded)
	require.Equal(t, filepath.Base(root), decoded.FolderName)
	require.Equal(t, "output", decoded.Name)

	mimeTypes := make(map[string]string, len(decoded.Items))
	for _, item := range decoded.Items {
		mimeTypes[item.Path] = item.MimeType
		require.Equal(t, cfg.URLPrefix+item.Path, item.URL)
		require.Equal(t, manifest.Tag([]byte(files[item.Path])), item.Tag)
	}

	require.Equal(t, map[string]string{
		"index.html":      "text/html",
		"css/styles.css":  "text/css",
		"js/app.js":       "application/javascript",
		"assets/data.bin": "application/octet-stream",
	}, mimeTypes)
}

// TestRun_CustomManifestContent embeds the supplied document instead of a generated one.
func TestRun_CustomManifestContent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.ManifestContent = map[string]any{"id": "fixed", "items": []any{}}

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
	require.Nil(t, result.Manifest)

	files, _ := readArchive(t, result.ArchivePath)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(files[manifest.DefaultFilename]), &decoded))
	require.Equal(t, "fixed", decoded["id"])
}

// TestRun_ExternalManifest writes the manifest next to the archive and never packages it.
func TestRun_ExternalManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.GenerateManifest = true
	cfg.ManifestExternal = true
	cfg.ManifestName = "assets.json"

	for i := 0; i < 2; i++ {
		result, err := Run(context.Background(), &Options{Config: cfg})
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, "assets.json"), result.ManifestPath)

		files, _ := readArchive(t, result.ArchivePath)
		require.Equal(t, testTree, files)
		require.NotContains(t, result.Manifest.Paths(), "assets.json")
	}

	data, err := os.ReadFile(filepath.Join(root, "assets.json"))
	require.NoError(t, err)

	var decoded manifest.Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Items, len(testTree))
}

// TestRun_RerunIsStable never packages its own archive and reproduces it byte for byte.
func TestRun_RerunIsStable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.GenerateManifest = true

	first, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)

	firstBytes, err := os.ReadFile(first.ArchivePath)
	require.NoError(t, err)

	second, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
	require.Equal(t, first.Files, second.Files)
	require.Equal(t, first.Manifest.ID, second.Manifest.ID)

	secondBytes, err := os.ReadFile(second.ArchivePath)
	require.NoError(t, err)
	require.True(t, bytes.Equal(firstBytes, secondBytes))

	_, names := readArchive(t, second.ArchivePath)
	require.NotContains(t, names, "output.zip")
}

// TestRun_TagsFollowContent changes a tag only for the file that changed.
func TestRun_TagsFollowContent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)
	cfg.GenerateManifest = true

	tags := func() map[string]string {
		result, err := Run(context.Background(), &Options{Config: cfg})
		require.NoError(t, err)

		out := make(map[string]string, len(result.Manifest.Items))
		for _, item := range result.Manifest.Items {
			out[item.Path] = item.Tag
		}

		return out
	}

	before := tags()

	writeTree(t, root, map[string]string{"a.txt": "changed"})

	after := tags()
	require.NotEqual(t, before["a.txt"], after["a.txt"])
	require.Equal(t, before["sub/b.txt"], after["sub/b.txt"])
}

// TestRun_KeepEmptyDirs adds accepted directories even without files.
func TestRun_KeepEmptyDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	cfg := newConfig(root)

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)

	_, names := readArchive(t, result.ArchivePath)
	require.NotContains(t, names, "empty/")

	cfg.KeepEmptyDirs = true

	result, err = Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)

	_, names = readArchive(t, result.ArchivePath)
	require.Contains(t, names, "empty/")
}

// TestRun_LiteralConfigCompresses uses the default flate level when none is set.
func TestRun_LiteralConfigCompresses(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"big.txt": strings.Repeat("a", 100000)})

	result, err := Run(context.Background(), &Options{Config: &config.Config{
		OutputDir:   root,
		ArchiveName: "output",
	}})
	require.NoError(t, err)

	reader, err := zip.OpenReader(result.ArchivePath)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, reader.Close())
	}()

	require.Len(t, reader.File, 1)
	require.Equal(t, uint64(100000), reader.File[0].UncompressedSize64)
	require.Less(t, reader.File[0].CompressedSize64, reader.File[0].UncompressedSize64/10)
}

// TestRun_SkipsReadyMarkerInsideRoot never packages the marker the run waited for.
func TestRun_SkipsReadyMarkerInsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)
	writeTree(t, root, map[string]string{"sub/.build-done": ""})

	cfg := newConfig(root)
	cfg.ReadyMarker = filepath.Join(root, "sub", ".build-done")
	cfg.GenerateManifest = true

	result, err := Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)

	files, _ := readArchive(t, result.ArchivePath)
	require.NotContains(t, files, "sub/.build-done")
	require.Contains(t, files, "sub/b.txt")
	require.NotContains(t, result.Manifest.Paths(), "sub/.build-done")
}

// TestMarkerPath reserves only markers under the root.
func TestMarkerPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	require.Equal(t, "done", markerPath(filepath.Join(root, "done"), root))
	require.Equal(t, "a/done", markerPath(filepath.Join(root, "a", "done"), root))
	require.Empty(t, markerPath(filepath.Join(filepath.Dir(root), "done"), root))
	require.Empty(t, markerPath(root, root))
	require.Empty(t, markerPath("", root))
}

// TestRun_PredicateErrorAborts propagates rule failures without writing anything.
func TestRun_PredicateErrorAborts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	errBoom := errors.New("boom")

	include, err := rule.Func(func(string) (bool, error) {
		return false, errBoom
	})
	require.NoError(t, err)

	cfg := newConfig(root)
	cfg.Include = include

	_, err = Run(context.Background(), &Options{Config: cfg})
	require.ErrorIs(t, err, errBoom)

	_, err = os.Stat(filepath.Join(root, "output.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_Locked fails fast while another run holds the destination.
func TestRun_Locked(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	cfg := newConfig(root)

	marker, err := lock.Acquire(context.Background(), cfg.ArchivePath())
	require.NoError(t, err)

	_, err = Run(context.Background(), &Options{Config: cfg})
	require.ErrorIs(t, err, lock.ErrLocked)

	require.NoError(t, marker.Release())

	_, err = Run(context.Background(), &Options{Config: cfg})
	require.NoError(t, err)
}

// TestRun_WaitsForReadiness reads the tree only after the signal fires.
func TestRun_WaitsForReadiness(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	ready := readiness.SignalFunc(func(context.Context) error {
		writeTree(t, root, map[string]string{"late.js": "late"})

		return nil
	})

	result, err := Run(context.Background(), &Options{Config: newConfig(root), Ready: ready})
	require.NoError(t, err)

	files, _ := readArchive(t, result.ArchivePath)
	require.Equal(t, map[string]string{"late.js": "late"}, files)
}

// TestRun_Canceled stops before touching the tree.
func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, &Options{Config: newConfig(root)})
	require.ErrorIs(t, err, context.Canceled)
}

// TestRun_InvalidOptions rejects missing and invalid configuration.
func TestRun_InvalidOptions(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), nil)
	require.ErrorIs(t, err, errOptionsNotSet)

	cfg := newConfig(t.TempDir())
	cfg.ArchiveName = "a/b"

	_, err = Run(context.Background(), &Options{Config: cfg})
	require.ErrorIs(t, err, config.ErrInvalidArchiveName)
}

// TestHook runs the packager as a post-build callback.
func TestHook(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, testTree)

	hook := Hook(&Options{Config: newConfig(root)})
	require.NoError(t, hook(context.Background()))

	_, err := os.Stat(filepath.Join(root, "output.zip"))
	require.NoError(t, err)
}
