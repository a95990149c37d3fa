package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPreservesLayout(t *testing.T) {
	data := buildZip(t, map[string]string{
		"imsmanifest.xml":          "<manifest/>",
		"Etiquette/Intro.html":     "<h1>intro</h1>",
		"Etiquette/img/logo.png":   "png",
		"shared/scripts/player.js": "js",
		"empty-dir/":               "",
	})
	dest := t.TempDir()

	n, err := Extract(bytes.NewReader(data), int64(len(data)), dest)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	body, err := os.ReadFile(filepath.Join(dest, "Etiquette", "Intro.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>intro</h1>", string(body))
	assert.FileExists(t, filepath.Join(dest, "Etiquette", "img", "logo.png"))
	assert.FileExists(t, filepath.Join(dest, "shared", "scripts", "player.js"))
	assert.DirExists(t, filepath.Join(dest, "empty-dir"))
}

func TestExtractRejectsNonZip(t *testing.T) {
	data := []byte("definitely not a zip file")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), t.TempDir())
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	data := buildZip(t, map[string]string{"../evil.html": "x"})
	root := t.TempDir()
	dest := filepath.Join(root, "extracted")

	_, err := Extract(bytes.NewReader(data), int64(len(data)), dest)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.NoFileExists(t, filepath.Join(root, "evil.html"))
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "pkg.zip")
	require.NoError(t, os.WriteFile(zipPath, buildZip(t, map[string]string{"a/b.html": "b"}), 0o644))

	n, err := ExtractFile(zipPath, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dir, "out", "a", "b.html"))

	_, err = ExtractFile(filepath.Join(dir, "missing.zip"), filepath.Join(dir, "out2"))
	assert.Error(t, err)
}

func TestWorkDirLifecycle(t *testing.T) {
	wd, err := NewWorkDir(t.TempDir(), "scorm-packages/c1/pkg.zip")
	require.NoError(t, err)
	assert.DirExists(t, wd.Root)
	assert.NotContains(t, filepath.Base(wd.Root), "/")

	require.NoError(t, os.WriteFile(wd.Path("file.txt"), []byte("x"), 0o644))
	require.NoError(t, wd.Release())
	assert.NoDirExists(t, wd.Root)
}
